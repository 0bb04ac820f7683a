// Package classify turns a raw claim submission response into a definite outcome.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/slotgrab/internal/diagstore"
	"github.com/example/slotgrab/internal/domain/appointment"
)

// Outcome is the tag of a classified submission.
type Outcome int

const (
	Indeterminate Outcome = iota
	Success
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	default:
		return "indeterminate"
	}
}

// Result is the classified outcome of one claim attempt.
type Result struct {
	Outcome Outcome
	Reason  string
	// URL is the redirect target when the site redirected.
	URL string
	// DiagnosticRef points at a stored copy of the payload, if one was kept.
	DiagnosticRef string
}

func (r Result) String() string {
	s := r.Outcome.String()
	if r.Reason != "" {
		s += ": " + r.Reason
	}
	if r.DiagnosticRef != "" {
		s += " (diag " + r.DiagnosticRef + ")"
	}
	return s
}

// Follower fetches a redirect target with the caller's session.
type Follower interface {
	Follow(ctx context.Context, url string) (appointment.RawResponse, error)
}

// Sink persists raw payloads. diagstore.Store satisfies it.
type Sink interface {
	Put(ctx context.Context, data []byte, opts diagstore.PutOptions) (string, error)
}

// DefaultSuccessMarker is the substring of a redirect location that means the
// order was accepted.
const DefaultSuccessMarker = "success"

type Classifier struct {
	Follower      Follower
	Sink          Sink
	SuccessMarker string
}

func New(f Follower, sink Sink) *Classifier {
	return &Classifier{Follower: f, Sink: sink, SuccessMarker: DefaultSuccessMarker}
}

func (c *Classifier) marker() string {
	if c.SuccessMarker == "" {
		return DefaultSuccessMarker
	}
	return c.SuccessMarker
}

// Classify never returns an error: every response shape maps to an outcome.
func (c *Classifier) Classify(ctx context.Context, raw appointment.RawResponse, beneficiaryID string) Result {
	if raw.IsRedirect() {
		return c.classifyRedirect(ctx, raw, beneficiaryID)
	}
	return c.classifyBody(ctx, raw, beneficiaryID)
}

func (c *Classifier) classifyRedirect(ctx context.Context, raw appointment.RawResponse, beneficiaryID string) Result {
	loc := raw.Location
	if strings.Contains(loc, c.marker()) {
		return Result{Outcome: Success, Reason: "accepted", URL: loc}
	}

	res := Result{Outcome: Rejected, URL: loc}
	if c.Follower == nil {
		res.Reason = "redirected to " + loc
		return res
	}
	next, err := c.Follower.Follow(ctx, loc)
	if err != nil {
		res.Reason = fmt.Sprintf("redirected to %s (follow failed: %v)", loc, err)
		return res
	}
	// the site occasionally bounces through an intermediate page before the
	// success page; the page the chain ends on decides.
	if next.Location != "" && strings.Contains(next.Location, c.marker()) {
		return Result{Outcome: Success, Reason: "accepted", URL: next.Location}
	}
	if len(next.Body) > 0 {
		res.DiagnosticRef = c.store(ctx, next)
	}
	text := decodeBody(next.Body, next.Header.Get("Content-Type"))
	if reason := ExtractReason(text, beneficiaryID); reason != "" {
		res.Reason = reason
	} else {
		res.Reason = "redirected to " + loc
	}
	return res
}

func (c *Classifier) classifyBody(ctx context.Context, raw appointment.RawResponse, beneficiaryID string) Result {
	text := decodeBody(raw.Body, raw.Header.Get("Content-Type"))
	if reason := ExtractReason(text, beneficiaryID); reason != "" {
		return Result{Outcome: Rejected, Reason: reason}
	}

	res := Result{
		Outcome: Indeterminate,
		Reason: fmt.Sprintf("status=%d content-type=%s content-encoding=%s len=%d",
			raw.StatusCode, orDash(raw.Header.Get("Content-Type")),
			orDash(raw.Header.Get("Content-Encoding")), len(raw.Body)),
	}
	res.DiagnosticRef = c.store(ctx, raw)
	return res
}

// store keeps a payload and returns its reference. Failures still yield a
// reference string so the outcome always names where to look.
func (c *Classifier) store(ctx context.Context, raw appointment.RawResponse) string {
	if c.Sink == nil {
		return "unsaved: no diagnostic store"
	}
	meta := map[string]string{"status": fmt.Sprint(raw.StatusCode)}
	if raw.Location != "" {
		meta["location"] = raw.Location
	}
	ref, err := c.Sink.Put(ctx, raw.Body, diagstore.PutOptions{
		ContentType: raw.Header.Get("Content-Type"),
		Metadata:    meta,
	})
	if err != nil {
		return "unsaved: " + err.Error()
	}
	return ref
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
