package site

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/example/slotgrab/internal/domain/appointment"
)

// SubmitClaim posts the booking form for one candidate and returns the raw,
// unfollowed response. It writes the session's claim markers first, so it must
// only be called from the claim cycle.
func (c *Client) SubmitClaim(ctx context.Context, b appointment.PrerequisiteBundle, cand appointment.Candidate, t appointment.Target) (appointment.RawResponse, error) {
	if cand.Time == nil {
		return appointment.RawResponse{}, fmt.Errorf("%w: no time option chosen", appointment.ErrPrerequisiteMissing)
	}
	form := submitForm(b, cand, t)
	c.sess.SetClaimMarkers(t.DepartmentID, cand.Slot.DoctorID, t.BeneficiaryID, cand.Time.Value)

	referer := c.bookingPageURL(t.UnitID, t.DepartmentID, cand.Slot.ScheduleID)
	c.checkIdentity(ctx, t.BeneficiaryID, referer)

	headers := c.baseHeaders(referer)
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Pragma", "no-cache")
	submitURL := c.cfg.BaseURL + "/guahao/ysubmit.html"
	res, status, body, err := c.do(ctx, c.claim, http.MethodPost, submitURL,
		"application/x-www-form-urlencoded", nil, []byte(form.Encode()), headers)
	if err != nil {
		return appointment.RawResponse{}, err
	}

	raw := appointment.RawResponse{StatusCode: status, Header: res.Header, Body: body}
	if loc := res.Header.Get("Location"); loc != "" {
		raw.Location = resolve(res.Request.URL, loc)
		if raw.IsRedirect() && isLoginURL(raw.Location) {
			return raw, errLoginRedirect
		}
	}
	return raw, nil
}

// checkIdentity mirrors the site's own page script, which validates the
// beneficiary before submitting. Failures are ignored.
func (c *Client) checkIdentity(ctx context.Context, beneficiaryID, referer string) {
	if beneficiaryID == "" {
		return
	}
	headers := c.baseHeaders(referer)
	headers.Set("X-Requested-With", "XMLHttpRequest")
	headers.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	body := url.Values{"mid": {beneficiaryID}}.Encode()
	_, _, _, _ = c.do(ctx, c.claim, http.MethodPost, c.cfg.BaseURL+"/guahao/checkidinfo.html",
		"application/x-www-form-urlencoded; charset=UTF-8", nil, []byte(body), headers)
}

func submitForm(b appointment.PrerequisiteBundle, cand appointment.Candidate, t appointment.Target) url.Values {
	meta := cand.Slot.Meta
	timeType := meta["time_type"]
	if timeType == "" {
		timeType = string(cand.Slot.SessionType)
	}
	schDate := b.Field(fieldScheduleDate)
	if schDate == "" {
		schDate = cand.Date
	}
	return url.Values{
		"sch_data":        {b.Field(appointment.FieldScheduleData)},
		"mid":             {t.BeneficiaryID},
		"addressId":       {b.Field(appointment.FieldAddressID)},
		"address":         {b.Field(appointment.FieldAddress)},
		"hisMemId":        {b.Field(fieldHisMemberID)},
		"disease_input":   {b.Field(fieldDiseaseInput)},
		"order_no":        {b.Field(fieldOrderNo)},
		"disease_content": {b.Field(fieldDiseaseContent)},
		"accept":          {"1"},
		"unit_id":         {t.UnitID},
		"schedule_id":     {cand.Slot.ScheduleID},
		"dep_id":          {t.DepartmentID},
		"his_dep_id":      {meta["his_dep_id"]},
		"sch_date":        {schDate},
		"time_type":       {timeType},
		"doctor_id":       {cand.Slot.DoctorID},
		"his_doc_id":      {meta["his_doc_id"]},
		"detlid":          {cand.Time.Value},
		"detlid_realtime": {b.Field(appointment.FieldDetailRealtime)},
		"level_code":      {b.Field(appointment.FieldLevelCode)},
		"is_hot":          {b.Field(fieldIsHot)},
	}
}
