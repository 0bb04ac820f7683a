package appointment

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DateLayout is the wire and config format of a candidate date.
const DateLayout = "2006-01-02"

type SessionType string

const (
	SessionMorning   SessionType = "am"
	SessionAfternoon SessionType = "pm"
)

// Target describes one appointment request. It is built once from the run
// file and treated as read-only for the lifetime of a run.
type Target struct {
	UnitID        string
	DepartmentID  string
	BeneficiaryID string

	// Dates are YYYY-MM-DD, queried together every cycle.
	Dates        []string
	SessionTypes []SessionType

	// Empty means any doctor.
	DoctorIDs []string
	// Preferred sub-slot labels. Strict ordering: earlier entries win.
	PreferredHours []string

	// Display names, only used for logs and notifications.
	UnitName        string
	DepartmentName  string
	BeneficiaryName string
}

func (t Target) Validate() error {
	if t.UnitID == "" {
		return fmt.Errorf("unit_id required")
	}
	if t.DepartmentID == "" {
		return fmt.Errorf("dep_id required")
	}
	if t.BeneficiaryID == "" {
		return fmt.Errorf("member_id required")
	}
	if len(t.Dates) == 0 {
		return fmt.Errorf("target_dates required")
	}
	for _, d := range t.Dates {
		if _, err := time.Parse(DateLayout, d); err != nil {
			return fmt.Errorf("invalid target date %q (want YYYY-MM-DD)", d)
		}
	}
	for _, st := range t.SessionTypes {
		if st != SessionMorning && st != SessionAfternoon {
			return fmt.Errorf("invalid time type %q (want am or pm)", st)
		}
	}
	return nil
}

// AllowedSessions returns the configured session types, defaulting to both.
func (t Target) AllowedSessions() []SessionType {
	if len(t.SessionTypes) == 0 {
		return []SessionType{SessionMorning, SessionAfternoon}
	}
	return t.SessionTypes
}

// Slot is one doctor's bookable session on a date, as reported by the site.
type Slot struct {
	Date        string
	DoctorID    string
	DoctorName  string
	ScheduleID  string
	SessionType SessionType
	// Remaining is the provider's left count; <= 0 means no slot.
	Remaining   int
	Description string

	// Provider fields passed back untouched on submit (his_doc_id, his_dep_id, to_date...).
	Meta map[string]string
}

// SlotBatch maps a date to the slots fetched for it in one cycle.
type SlotBatch map[string][]Slot

// TimeOption is one bookable sub-slot inside a session, e.g. "08:30-09:00".
type TimeOption struct {
	Label string
	Value string
}

// Candidate is an actionable slot. Time is chosen once prerequisites are read.
type Candidate struct {
	Date string
	Slot Slot
	Time *TimeOption
}

func (c Candidate) String() string {
	s := fmt.Sprintf("%s %s(%s) %s left=%d", c.Date, c.Slot.DoctorName, c.Slot.DoctorID, c.Slot.SessionType, c.Slot.Remaining)
	if c.Time != nil {
		s += " time=" + c.Time.Label
	}
	return s
}

// PrerequisiteBundle holds the opaque tokens the site wants back on submit.
type PrerequisiteBundle struct {
	Times  []TimeOption
	Fields map[string]string
}

// Field returns a trimmed token value.
func (p PrerequisiteBundle) Field(name string) string {
	return strings.TrimSpace(p.Fields[name])
}

// RawResponse is an unclassified claim submission response.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Location is already resolved against the request URL.
	Location string
}

func (r RawResponse) IsRedirect() bool {
	switch r.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return r.Location != ""
	}
	return false
}
