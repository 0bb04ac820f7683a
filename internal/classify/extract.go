package classify

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

// snippetLimit bounds the last-resort reason in runes.
const snippetLimit = 200

// Reasons reported for beneficiary markers without a data-title.
const (
	ReasonNeedsVerification = "beneficiary needs verification before booking"
	ReasonProfileIncomplete = "beneficiary profile incomplete"
)

// Order matters: layer.msg must win over the bare msg( pattern.
var scriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`alert\(["']([^"']+)["']\)`),
	regexp.MustCompile(`layer\.msg\(["']([^"']+)["']\)`),
	regexp.MustCompile(`layer\.alert\(["']([^"']+)["']\)`),
	regexp.MustCompile(`msg\(["']([^"']+)["']\)`),
	regexp.MustCompile(`toast\(["']([^"']+)["']\)`),
}

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]+`)
	spaceRuns    = regexp.MustCompile(`\s+`)
)

// decodeBody converts a response body to UTF-8 using the declared or sniffed charset.
func decodeBody(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err == nil {
		if b, err := io.ReadAll(r); err == nil {
			return strings.ToValidUTF8(string(b), "")
		}
	}
	return strings.ToValidUTF8(string(body), "")
}

// jsonMessage handles {"msg": "..."} and {"message": "..."} bodies.
func jsonMessage(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return ""
	}
	var v struct {
		Msg     string `json:"msg"`
		Message string `json:"message"`
		Info    string `json:"info"`
	}
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return ""
	}
	for _, s := range []string{v.Msg, v.Message, v.Info} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// scriptMessage returns the quoted argument of the first alert-like call found.
func scriptMessage(text string) string {
	for _, re := range scriptPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if s := strings.TrimSpace(m[1]); s != "" {
				return s
			}
		}
	}
	return ""
}

func parseHTML(text string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil
	}
	return doc
}

func pageTitle(doc *goquery.Document) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// beneficiaryMarker reads the state the site attaches to the beneficiary's
// selector input.
func beneficiaryMarker(doc *goquery.Document, beneficiaryID string) string {
	if doc == nil || beneficiaryID == "" {
		return ""
	}
	var reason string
	doc.Find(`input[name="mid"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, _ := s.Attr("value"); v != beneficiaryID {
			return true
		}
		if t := strings.TrimSpace(s.AttrOr("data-title", "")); t != "" {
			reason = t
		} else if strings.TrimSpace(s.AttrOr("need_check", "")) == "1" {
			reason = ReasonNeedsVerification
		} else if strings.TrimSpace(s.AttrOr("is_info_complete", "")) == "0" {
			reason = ReasonProfileIncomplete
		}
		return false
	})
	return reason
}

// snippet flattens text to a single line capped at snippetLimit runes.
func snippet(text string) string {
	s := controlChars.ReplaceAllString(text, " ")
	s = strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) <= snippetLimit {
		return s
	}
	return string([]rune(s)[:snippetLimit])
}

// ExtractReason runs the reason chain over a decoded body: JSON message, script
// message, page title, beneficiary marker, then a text snippet. It returns "" only
// when the body has no visible text at all.
func ExtractReason(text, beneficiaryID string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if s := jsonMessage(text); s != "" {
		return s
	}
	if s := scriptMessage(text); s != "" {
		return s
	}
	doc := parseHTML(text)
	if s := pageTitle(doc); s != "" {
		return s
	}
	if s := beneficiaryMarker(doc, beneficiaryID); s != "" {
		return s
	}
	if doc != nil {
		if s := snippet(doc.Text()); s != "" {
			return s
		}
	}
	return snippet(text)
}
