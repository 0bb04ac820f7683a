package grab

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/slotgrab/internal/classify"
	"github.com/example/slotgrab/internal/clock"
	"github.com/example/slotgrab/internal/domain/appointment"
)

// Report is the single terminal outcome of a run.
type Report struct {
	RunID    string
	Target   appointment.Target
	State    State
	Reason   string
	Attempts int

	// Candidate and Claim are set only on success.
	Candidate *appointment.Candidate
	Claim     *classify.Result

	Offset      clock.Estimate
	Wake        *clock.Wake
	Transitions []Transition

	StartedAt  time.Time
	FinishedAt time.Time
}

// Summary is a one-line human readable description of the outcome.
func (r Report) Summary() string {
	if r.State != StateSucceeded || r.Candidate == nil {
		return fmt.Sprintf("%s after %d attempt(s): %s", r.State, r.Attempts, r.Reason)
	}
	c := r.Candidate
	parts := []string{
		orID(r.Target.UnitName, r.Target.UnitID),
		orID(r.Target.DepartmentName, r.Target.DepartmentID),
		orID(c.Slot.DoctorName, c.Slot.DoctorID),
		c.Date + " " + string(c.Slot.SessionType),
	}
	if c.Time != nil {
		parts = append(parts, c.Time.Label)
	}
	s := fmt.Sprintf("booked %s for %s", strings.Join(parts, " / "), orID(r.Target.BeneficiaryName, r.Target.BeneficiaryID))
	if r.Claim != nil && r.Claim.URL != "" {
		s += " (" + r.Claim.URL + ")"
	}
	return s
}

func orID(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

// Attempt outcomes recorded besides the classifier's own.
const (
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// AttemptRecord is one claim attempt as written to history.
type AttemptRecord struct {
	RunID         string
	Attempt       int
	Mode          State
	Candidate     appointment.Candidate
	Outcome       string
	Reason        string
	URL           string
	DiagnosticRef string
	At            time.Time
}
