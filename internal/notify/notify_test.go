package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/slotgrab/internal/classify"
	"github.com/example/slotgrab/internal/domain/appointment"
	"github.com/example/slotgrab/internal/grab"
	"github.com/example/slotgrab/internal/logging"
	"github.com/example/slotgrab/internal/retry"
)

func successReport() grab.Report {
	cand := appointment.Candidate{
		Date: "2026-03-05",
		Slot: appointment.Slot{DoctorID: "d1", DoctorName: "Dr. Li", SessionType: appointment.SessionMorning},
		Time: &appointment.TimeOption{Label: "08:00-08:30", Value: "t1"},
	}
	return grab.Report{
		RunID: "run-1",
		Target: appointment.Target{
			UnitID: "131", UnitName: "City Hospital", DepartmentID: "362", BeneficiaryID: "m1", BeneficiaryName: "Wang",
			Dates: []string{"2026-03-05"},
		},
		State:     grab.StateSucceeded,
		Attempts:  2,
		Candidate: &cand,
		Claim:     &classify.Result{Outcome: classify.Success, URL: "https://www.91160.com/guahao/success/1.html"},
	}
}

func fastWebhook(url string) *Webhook {
	w := NewWebhook(url, "s3cret")
	w.Policy = retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}
	return w
}

func TestNewPayload(t *testing.T) {
	p := NewPayload(successReport())
	assert.Equal(t, "succeeded", p.State)
	assert.Equal(t, "City Hospital", p.Unit)
	assert.Equal(t, "362", p.Department)
	assert.Equal(t, "Wang", p.Member)
	assert.Equal(t, "Dr. Li", p.Doctor)
	assert.Equal(t, "am", p.Session)
	assert.Equal(t, "08:00-08:30", p.Time)
	assert.Contains(t, p.URL, "success")
	assert.Contains(t, p.Summary, "Dr. Li")

	p = NewPayload(grab.Report{RunID: "r", State: grab.StateExhausted, Reason: "max retries reached"})
	assert.Empty(t, p.Doctor)
	assert.Empty(t, p.URL)
	assert.Contains(t, p.Summary, "exhausted")
}

func TestWebhookDeliversSignedPayload(t *testing.T) {
	var got Payload
	var sig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sig = r.Header.Get(HeaderSignature)
		assert.Equal(t, Sign(body, "s3cret"), sig)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, fastWebhook(srv.URL).Notify(context.Background(), successReport()))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "2026-03-05", got.Date)
	assert.NotEmpty(t, sig)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, fastWebhook(srv.URL).Notify(context.Background(), successReport()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL).Notify(context.Background(), successReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := fastWebhook(srv.URL).Notify(context.Background(), successReport())
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := Log{Logger: logging.NewWithWriter(&buf, "info", "text")}

	require.NoError(t, n.Notify(context.Background(), successReport()))
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "booked")

	buf.Reset()
	require.NoError(t, n.Notify(context.Background(), grab.Report{RunID: "r", State: grab.StateSessionLost, Reason: "session invalid"}))
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "session_lost")
}

type errNotifier struct{ err error }

func (e errNotifier) Notify(context.Context, grab.Report) error { return e.err }

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	var called bool
	m := Multi{errNotifier{boom}, notifierFunc(func(context.Context, grab.Report) error { called = true; return nil })}
	err := m.Notify(context.Background(), successReport())
	assert.ErrorIs(t, err, boom)
	assert.True(t, called)

	assert.NoError(t, Multi{}.Notify(context.Background(), successReport()))
}

type notifierFunc func(context.Context, grab.Report) error

func (f notifierFunc) Notify(ctx context.Context, r grab.Report) error { return f(ctx, r) }
