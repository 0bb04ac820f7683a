package site

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/example/slotgrab/internal/domain/appointment"
)

// Extra bundle fields copied to the submit form when present.
const (
	fieldScheduleDate   = "sch_date"
	fieldOrderNo        = "order_no"
	fieldDiseaseContent = "disease_content"
	fieldDiseaseInput   = "disease_input"
	fieldIsHot          = "is_hot"
	fieldHisMemberID    = "hisMemId"
)

var addressPlaceholders = []string{"请选择", "请填写", "请输入", "城市地址"}

func (c *Client) bookingPageURL(unitID, departmentID, scheduleID string) string {
	return fmt.Sprintf("%s/guahao/ystep1/uid-%s/depid-%s/schid-%s.html", c.cfg.BaseURL, unitID, departmentID, scheduleID)
}

// FetchClaimPrerequisites reads the booking page of a schedule and collects the
// tokens and time options a submit needs. A bundle with gaps is returned as is;
// the caller decides whether it is usable.
func (c *Client) FetchClaimPrerequisites(ctx context.Context, unitID, departmentID, scheduleID, beneficiaryID string) (appointment.PrerequisiteBundle, error) {
	res, status, body, err := c.do(ctx, c.follow, http.MethodGet, c.bookingPageURL(unitID, departmentID, scheduleID), "", nil, nil, nil)
	if err != nil {
		return appointment.PrerequisiteBundle{}, err
	}
	if res.Request != nil && isLoginURL(res.Request.URL.String()) {
		return appointment.PrerequisiteBundle{}, errLoginRedirect
	}
	if status != http.StatusOK {
		return appointment.PrerequisiteBundle{}, statusErr("booking page", status)
	}
	r, err := charset.NewReader(bytes.NewReader(body), res.Header.Get("Content-Type"))
	if err != nil {
		return appointment.PrerequisiteBundle{}, fmt.Errorf("booking page charset: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return appointment.PrerequisiteBundle{}, fmt.Errorf("parse booking page: %w", err)
	}
	return parseBookingPage(doc, beneficiaryID), nil
}

func parseBookingPage(doc *goquery.Document, beneficiaryID string) appointment.PrerequisiteBundle {
	b := appointment.PrerequisiteBundle{Fields: map[string]string{}}

	doc.Find("#delts li").Each(func(_ int, s *goquery.Selection) {
		if v := strings.TrimSpace(s.AttrOr("val", "")); v != "" {
			b.Times = append(b.Times, appointment.TimeOption{Label: strings.TrimSpace(s.Text()), Value: v})
		}
	})

	b.Fields[appointment.FieldScheduleData] = inputValue(doc, `input[name="sch_data"]`)
	b.Fields[appointment.FieldDetailRealtime] = inputValue(doc, "#detlid_realtime")
	b.Fields[appointment.FieldLevelCode] = inputValue(doc, "#level_code")
	b.Fields[fieldScheduleDate] = inputValue(doc, `input[name="sch_date"]`, "#sch_date")
	b.Fields[fieldOrderNo] = inputValue(doc, `input[name="order_no"]`, "#order_no")
	b.Fields[fieldDiseaseContent] = inputValue(doc, `input[name="disease_content"]`, "#disease_content")
	b.Fields[fieldIsHot] = inputValue(doc, `input[name="is_hot"]`, "#is_hot")
	b.Fields[fieldHisMemberID] = inputValue(doc, `input[name="hisMemId"]`, "#hismemid")
	b.Fields[fieldDiseaseInput] = strings.TrimSpace(doc.Find(`textarea[name="disease_input"], #disease_input`).First().Text())

	id, text := pickAddress(doc, beneficiaryID)
	b.Fields[appointment.FieldAddressID] = id
	b.Fields[appointment.FieldAddress] = text
	return b
}

// inputValue returns the value attribute of the first selector that matches.
func inputValue(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return strings.TrimSpace(s.AttrOr("value", ""))
		}
	}
	return ""
}

func normalizeAddressID(v string) string {
	v = strings.TrimSpace(v)
	if v == "0" || v == "-1" {
		return ""
	}
	return v
}

func normalizeAddressText(v string) string {
	v = strings.TrimSpace(v)
	for _, p := range addressPlaceholders {
		if strings.Contains(v, p) {
			return ""
		}
	}
	return v
}

// pickAddress resolves the address pair in order of precedence: the
// beneficiary's own attributes, explicit inputs, then the address select.
func pickAddress(doc *goquery.Document, beneficiaryID string) (string, string) {
	id := normalizeAddressID(inputValue(doc, `input[name="addressId"]`, `input#addressId`))
	text := normalizeAddressText(inputValue(doc, `input[name="address"]`, `input#address`))

	type option struct{ id, text string }
	var options []option
	selected := -1
	doc.Find(`select[name="addressId"], select#addressId, select#useraddress_area`).First().Find("option").Each(func(_ int, s *goquery.Selection) {
		o := option{normalizeAddressID(s.AttrOr("value", "")), normalizeAddressText(s.Text())}
		if o.id == "" || o.text == "" {
			return
		}
		options = append(options, o)
		if _, ok := s.Attr("selected"); ok && selected < 0 {
			selected = len(options) - 1
		}
	})

	if id != "" && text == "" {
		for _, o := range options {
			if o.id == id {
				text = o.text
				break
			}
		}
	}
	if (id == "" || text == "") && len(options) > 0 {
		chosen := options[0]
		if selected >= 0 {
			chosen = options[selected]
		}
		if id == "" {
			id = chosen.id
		}
		if text == "" {
			text = chosen.text
		}
	}

	if mid := beneficiaryInput(doc, beneficiaryID); mid != nil {
		if v := normalizeAddressID(firstAttr(mid, "area_id", "areaId", "areaid")); v != "" {
			id = v
		}
		if v := normalizeAddressText(firstAttr(mid, "address", "addr")); v != "" {
			text = v
		}
	}
	return id, text
}

// beneficiaryInput finds the selector input for a beneficiary, or the checked
// (else first) one when no id is given.
func beneficiaryInput(doc *goquery.Document, beneficiaryID string) *goquery.Selection {
	inputs := doc.Find(`input[name="mid"]`)
	if inputs.Length() == 0 {
		return nil
	}
	if beneficiaryID != "" {
		var found *goquery.Selection
		inputs.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.TrimSpace(s.AttrOr("value", "")) == beneficiaryID {
				found = s
				return false
			}
			return true
		})
		return found
	}
	if checked := inputs.Filter("[checked]"); checked.Length() > 0 {
		return checked.First()
	}
	return inputs.First()
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(s.AttrOr(n, "")); v != "" {
			return v
		}
	}
	return ""
}
