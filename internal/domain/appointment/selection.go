package appointment

// Select reduces a batch to actionable candidates.
// Order is target date order, then provider order within a date, so identical
// inputs always give identical output. Dates not in the target are ignored.
func Select(batch SlotBatch, t Target) []Candidate {
	doctors := make(map[string]bool, len(t.DoctorIDs))
	for _, id := range t.DoctorIDs {
		doctors[id] = true
	}
	sessions := make(map[SessionType]bool, 2)
	for _, st := range t.AllowedSessions() {
		sessions[st] = true
	}

	var out []Candidate
	seen := make(map[string]bool, len(t.Dates))
	for _, date := range t.Dates {
		if seen[date] {
			continue
		}
		seen[date] = true
		for _, s := range batch[date] {
			if s.Remaining <= 0 || s.ScheduleID == "" {
				continue
			}
			if !sessions[s.SessionType] {
				continue
			}
			if len(doctors) > 0 && !doctors[s.DoctorID] {
				continue
			}
			out = append(out, Candidate{Date: date, Slot: s})
		}
	}
	return out
}

// ChooseTime picks the sub-slot to book.
// With preferred labels, the first preferred label that exists wins (preferred
// list order, not provider order). Otherwise, or when none match, the first
// provider option is used.
func ChooseTime(options []TimeOption, preferred []string) (TimeOption, bool) {
	if len(options) == 0 {
		return TimeOption{}, false
	}
	for _, p := range preferred {
		for _, o := range options {
			if o.Label == p {
				return o, true
			}
		}
	}
	return options[0], true
}
