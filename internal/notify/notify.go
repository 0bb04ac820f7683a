// Package notify delivers the final report of a run.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/example/slotgrab/internal/grab"
	"github.com/example/slotgrab/internal/retry"
)

type Notifier interface {
	Notify(ctx context.Context, r grab.Report) error
}

// Log writes the summary as a log entry; success at info, anything else at warn.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, r grab.Report) error {
	lvl := slog.LevelWarn
	if r.State == grab.StateSucceeded {
		lvl = slog.LevelInfo
	}
	l.Logger.Log(context.Background(), lvl, r.Summary(),
		"run_id", r.RunID, "state", r.State.String(), "attempts", r.Attempts)
	return nil
}

// Payload is the JSON body posted to a webhook.
type Payload struct {
	RunID      string    `json:"run_id"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	Summary    string    `json:"summary"`
	Unit       string    `json:"unit"`
	Department string    `json:"department"`
	Member     string    `json:"member"`
	Doctor     string    `json:"doctor,omitempty"`
	Date       string    `json:"date,omitempty"`
	Session    string    `json:"session,omitempty"`
	Time       string    `json:"time,omitempty"`
	URL        string    `json:"url,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func NewPayload(r grab.Report) Payload {
	t := r.Target
	p := Payload{
		RunID:      r.RunID,
		State:      r.State.String(),
		Reason:     r.Reason,
		Attempts:   r.Attempts,
		Summary:    r.Summary(),
		Unit:       nameOr(t.UnitName, t.UnitID),
		Department: nameOr(t.DepartmentName, t.DepartmentID),
		Member:     nameOr(t.BeneficiaryName, t.BeneficiaryID),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if c := r.Candidate; c != nil {
		p.Doctor = nameOr(c.Slot.DoctorName, c.Slot.DoctorID)
		p.Date = c.Date
		p.Session = string(c.Slot.SessionType)
		if c.Time != nil {
			p.Time = c.Time.Label
		}
	}
	if r.Claim != nil {
		p.URL = r.Claim.URL
	}
	return p
}

const (
	HeaderEvent     = "X-Slotgrab-Event"
	HeaderTimestamp = "X-Slotgrab-Timestamp"
	HeaderSignature = "X-Slotgrab-Signature"
)

// Webhook posts a Payload as JSON. 5xx and transport errors are retried, 4xx are not.
type Webhook struct {
	URL string
	// Secret, when set, signs the body with HMAC-SHA256 in HeaderSignature.
	Secret string
	Client *http.Client
	Policy retry.Policy
}

func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		URL:    url,
		Secret: secret,
		Client: &http.Client{Timeout: 10 * time.Second},
		Policy: retry.Policy{Attempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
}

func (w *Webhook) Notify(ctx context.Context, r grab.Report) error {
	body, err := json.Marshal(NewPayload(r))
	if err != nil {
		return err
	}
	err = retry.Do(ctx, w.Policy, func(ctx context.Context) error {
		return w.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.URL, err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, "run.finished")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if w.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, w.Secret))
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r grab.Report) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func nameOr(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
