package appointment

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionInvalid means the site no longer accepts the session. Runs stop on it.
	ErrSessionInvalid = errors.New("session no longer valid")
	// ErrPrerequisiteMissing means a claim cannot be built for one candidate.
	ErrPrerequisiteMissing = errors.New("claim prerequisites missing")
	// ErrNoSlots means the site answered but reported no schedule for the date.
	ErrNoSlots = errors.New("no slots for date")
)

// SiteClient is everything the grab core needs from the appointment site.
//
// QueryAvailability may run concurrently for different dates and must only
// read session state. SubmitClaim is only ever called by one goroutine at a time.
type SiteClient interface {
	ProbeReferenceTime(ctx context.Context) (time.Time, error)
	QueryAvailability(ctx context.Context, unitID, departmentID, date string) ([]Slot, error)
	FetchClaimPrerequisites(ctx context.Context, unitID, departmentID, scheduleID, beneficiaryID string) (PrerequisiteBundle, error)
	SubmitClaim(ctx context.Context, bundle PrerequisiteBundle, c Candidate, t Target) (RawResponse, error)
	IsSessionValid(ctx context.Context) (bool, error)
}

// Names of the prerequisite tokens a submit cannot go without.
const (
	FieldScheduleData   = "sch_data"
	FieldDetailRealtime = "detlid_realtime"
	FieldLevelCode      = "level_code"
	FieldAddressID      = "addressId"
	FieldAddress        = "address"
)

var requiredFields = []string{FieldScheduleData, FieldDetailRealtime, FieldLevelCode, FieldAddressID, FieldAddress}

// Missing lists the required tokens absent from the bundle, in a stable order.
func (p PrerequisiteBundle) Missing() []string {
	var out []string
	if len(p.Times) == 0 {
		out = append(out, "times")
	}
	for _, f := range requiredFields {
		v := p.Field(f)
		if f == FieldAddressID && (v == "0" || v == "-1") {
			v = ""
		}
		if v == "" {
			out = append(out, f)
		}
	}
	return out
}
