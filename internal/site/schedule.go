package site

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/example/slotgrab/internal/domain/appointment"
)

// flexString accepts JSON strings, numbers and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string { return strings.TrimSpace(string(f)) }

type scheduleResponse struct {
	ResultCode flexString `json:"result_code"`
	Msg        flexString `json:"msg"`
	Error      flexString `json:"error_msg"`
	Data       struct {
		Doc []scheduleDoctor `json:"doc"`
		Sch json.RawMessage  `json:"sch"`
	} `json:"data"`
}

type scheduleDoctor struct {
	DoctorID   flexString `json:"doctor_id"`
	DoctorName flexString `json:"doctor_name"`
}

type scheduleSlot struct {
	ScheduleID   flexString `json:"schedule_id"`
	DoctorID     flexString `json:"doctor_id"`
	LeftNum      flexString `json:"left_num"`
	TimeType     flexString `json:"time_type"`
	TimeTypeDesc flexString `json:"time_type_desc"`
	HisDocID     flexString `json:"his_doc_id"`
	HisDepID     flexString `json:"his_dep_id"`
	ToDate       flexString `json:"to_date"`
}

// QueryAvailability reads one date's schedule for a department.
func (c *Client) QueryAvailability(ctx context.Context, unitID, departmentID, date string) ([]appointment.Slot, error) {
	hash := c.sess.AccessHash()
	if hash == "" {
		return nil, errNoAccessHash
	}
	q := url.Values{}
	q.Set("unit_id", unitID)
	q.Set("dep_id", departmentID)
	q.Set("date", date)
	q.Set("p", "0")
	q.Set("user_key", hash)

	_, status, body, err := c.do(ctx, c.lookup, http.MethodGet, c.cfg.GateURL+"/guahao/v1/pc/sch/dep", "", q, nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusErr("schedule", status)
	}
	return parseSchedule(body, date)
}

func parseSchedule(body []byte, date string) ([]appointment.Slot, error) {
	var res scheduleResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if res.ResultCode.String() != "1" {
		msg := res.Msg.String()
		if msg == "" {
			msg = res.Error.String()
		}
		return nil, fmt.Errorf("schedule api result_code=%s: %s", res.ResultCode, msg)
	}

	perDoctor := map[string]map[string]json.RawMessage{}
	if sch := bytes.TrimSpace(res.Data.Sch); len(sch) > 0 && sch[0] == '{' {
		if err := json.Unmarshal(sch, &perDoctor); err != nil {
			return nil, fmt.Errorf("decode schedule sch: %w", err)
		}
	}
	if len(res.Data.Doc) == 0 || len(perDoctor) == 0 {
		return nil, appointment.ErrNoSlots
	}

	var out []appointment.Slot
	for _, doc := range res.Data.Doc {
		id := doc.DoctorID.String()
		sessions, ok := perDoctor[id]
		if !ok {
			continue
		}
		for _, st := range []appointment.SessionType{appointment.SessionMorning, appointment.SessionAfternoon} {
			slots, err := decodeSessionSlots(sessions[string(st)])
			if err != nil {
				return nil, fmt.Errorf("decode schedule for doctor %s: %w", id, err)
			}
			for _, s := range slots {
				if s.ScheduleID.String() == "" {
					continue
				}
				out = append(out, toSlot(s, doc, st, date))
			}
		}
	}
	return out, nil
}

// decodeSessionSlots accepts both shapes the API uses for a session: an object
// keyed by an index, or a plain list.
func decodeSessionSlots(raw json.RawMessage) ([]scheduleSlot, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var list []scheduleSlot
		err := json.Unmarshal(raw, &list)
		return list, err
	case '{':
		var m map[string]scheduleSlot
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
		list := make([]scheduleSlot, 0, len(m))
		for _, k := range keys {
			list = append(list, m[k])
		}
		return list, nil
	}
	return nil, nil
}

// lessKey orders numeric keys numerically and everything else lexically.
func lessKey(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

func toSlot(s scheduleSlot, doc scheduleDoctor, st appointment.SessionType, date string) appointment.Slot {
	left, err := strconv.Atoi(s.LeftNum.String())
	if err != nil {
		left = 0
	}
	doctorID := doc.DoctorID.String()
	if doctorID == "" {
		doctorID = s.DoctorID.String()
	}
	meta := map[string]string{}
	for k, v := range map[string]flexString{
		"his_doc_id": s.HisDocID,
		"his_dep_id": s.HisDepID,
		"to_date":    s.ToDate,
		"time_type":  s.TimeType,
	} {
		if v.String() != "" {
			meta[k] = v.String()
		}
	}
	return appointment.Slot{
		Date:        date,
		DoctorID:    doctorID,
		DoctorName:  doc.DoctorName.String(),
		ScheduleID:  s.ScheduleID.String(),
		SessionType: st,
		Remaining:   left,
		Description: s.TimeTypeDesc.String(),
		Meta:        meta,
	}
}
