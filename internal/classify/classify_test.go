package classify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/slotgrab/internal/diagstore"
	"github.com/example/slotgrab/internal/domain/appointment"
)

type fakeFollower struct {
	resp  appointment.RawResponse
	err   error
	calls []string
}

func (f *fakeFollower) Follow(_ context.Context, url string) (appointment.RawResponse, error) {
	f.calls = append(f.calls, url)
	return f.resp, f.err
}

func redirect(loc string) appointment.RawResponse {
	return appointment.RawResponse{StatusCode: http.StatusFound, Location: loc}
}

func htmlResp(body string) appointment.RawResponse {
	return appointment.RawResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestClassify_RedirectToSuccess(t *testing.T) {
	f := &fakeFollower{}
	c := New(f, diagstore.NewMemory())

	res := c.Classify(context.Background(), redirect("https://example.test/guahao/success/order-1.html"), "m1")
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, "https://example.test/guahao/success/order-1.html", res.URL)
	assert.Empty(t, f.calls, "success redirect must not be followed")
}

func TestClassify_RedirectElsewhereWithScriptMessage(t *testing.T) {
	f := &fakeFollower{resp: htmlResp(`<html><head><title>Notice</title></head><body><script>layer.msg('slot already taken')</script></body></html>`)}
	mem := diagstore.NewMemory()
	c := New(f, mem)

	res := c.Classify(context.Background(), redirect("https://example.test/guahao/ystep1/x.html"), "m1")
	assert.Equal(t, Rejected, res.Outcome)
	assert.Equal(t, "slot already taken", res.Reason)
	assert.Equal(t, "https://example.test/guahao/ystep1/x.html", res.URL)
	assert.Equal(t, []string{"https://example.test/guahao/ystep1/x.html"}, f.calls)
	assert.NotEmpty(t, res.DiagnosticRef)
	assert.Equal(t, 1, mem.Len())
}

func TestClassify_RedirectFollowFails(t *testing.T) {
	c := New(&fakeFollower{err: errors.New("timeout")}, nil)
	res := c.Classify(context.Background(), redirect("/login"), "m1")
	assert.Equal(t, Rejected, res.Outcome)
	assert.Contains(t, res.Reason, "follow failed: timeout")
}

func TestClassify_RedirectChainToSuccess(t *testing.T) {
	c := New(&fakeFollower{resp: redirect("/order/success?id=9")}, nil)
	res := c.Classify(context.Background(), redirect("/order/pending"), "m1")
	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, "/order/success?id=9", res.URL)
}

func TestClassify_EmptyBodyIsIndeterminate(t *testing.T) {
	mem := diagstore.NewMemory()
	c := New(nil, mem)

	res := c.Classify(context.Background(), appointment.RawResponse{StatusCode: http.StatusOK}, "m1")
	assert.Equal(t, Indeterminate, res.Outcome)
	require.NotEmpty(t, res.DiagnosticRef)
	_, ok := mem.Get(res.DiagnosticRef)
	assert.True(t, ok)
	assert.Contains(t, res.Reason, "status=200")
}

func TestClassify_WhitespaceBodyIsIndeterminate(t *testing.T) {
	c := New(nil, diagstore.NewMemory())
	res := c.Classify(context.Background(), htmlResp(" \r\n\t "), "m1")
	assert.Equal(t, Indeterminate, res.Outcome)
	assert.NotEmpty(t, res.DiagnosticRef)
}

func TestClassify_IndeterminateWithoutSinkStillHasReference(t *testing.T) {
	c := New(nil, nil)
	res := c.Classify(context.Background(), appointment.RawResponse{StatusCode: http.StatusBadGateway}, "m1")
	assert.Equal(t, Indeterminate, res.Outcome)
	assert.NotEmpty(t, res.DiagnosticRef)
}

func TestClassify_JSONBody(t *testing.T) {
	c := New(nil, nil)
	res := c.Classify(context.Background(), appointment.RawResponse{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"code":0,"msg":"too many requests"}`),
	}, "m1")
	assert.Equal(t, Rejected, res.Outcome)
	assert.Equal(t, "too many requests", res.Reason)
}

func TestExtractReason(t *testing.T) {
	long := strings.Repeat("x", 500)
	tests := []struct {
		name string
		text string
		want string
	}{
		{"alert", `<script>alert("no quota")</script>`, "no quota"},
		{"layer alert", `<script>layer.alert('closed')</script>`, "closed"},
		{"toast", `toast("busy")`, "busy"},
		{"json message", `{"message":"session expired"}`, "session expired"},
		{"script beats title", `<title>T</title><script>alert('A')</script>`, "A"},
		{"title", `<html><head><title> Booking failed </title></head></html>`, "Booking failed"},
		{"marker data-title", `<input name="mid" value="m1" data-title="identity card expired">`, "identity card expired"},
		{"marker need_check", `<input name="mid" value="m1" need_check="1">`, ReasonNeedsVerification},
		{"marker incomplete", `<input name="mid" value="m1" is_info_complete="0">`, ReasonProfileIncomplete},
		{"marker other beneficiary ignored", `<input name="mid" value="m2" need_check="1"><p>plain</p>`, "plain"},
		{"snippet", "<p>line one\n\n\tline two</p>", "line one line two"},
		{"snippet truncated", "<p>" + long + "</p>", long[:snippetLimit]},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractReason(tt.text, "m1"))
		})
	}
}

func TestDecodeBody_GBK(t *testing.T) {
	// "预约失败" in GBK
	gbk := []byte{0xd4, 0xa4, 0xd4, 0xbc, 0xca, 0xa7, 0xb0, 0xdc}
	body := append([]byte("<script>alert('"), gbk...)
	body = append(body, []byte("')</script>")...)

	got := decodeBody(body, "text/html; charset=gbk")
	assert.Equal(t, "预约失败", scriptMessage(got))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "rejected", Rejected.String())
	assert.Equal(t, "indeterminate", Indeterminate.String())
	assert.Equal(t, "rejected: full (diag x)", Result{Outcome: Rejected, Reason: "full", DiagnosticRef: "x"}.String())
}
