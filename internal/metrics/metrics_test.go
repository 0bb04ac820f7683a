package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{0, "2xx"},
		{101, "1xx"},
		{200, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), "code %d", tt.code)
	}
}

func TestLookups(t *testing.T) {
	okBefore := testutil.ToFloat64(LookupsTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(LookupsTotal.WithLabelValues("error"))

	var o Lookups
	o.LookupStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(LookupsInFlight))
	o.LookupFinished(nil)
	o.LookupStarted()
	o.LookupFinished(errors.New("timeout"))

	assert.Equal(t, 0.0, testutil.ToFloat64(LookupsInFlight))
	assert.Equal(t, okBefore+1, testutil.ToFloat64(LookupsTotal.WithLabelValues("ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(LookupsTotal.WithLabelValues("error")))
}

func TestObserveCycle(t *testing.T) {
	before := testutil.ToFloat64(CyclesTotal.WithLabelValues("watch", "found"))
	ObserveCycle("watch", 2)
	ObserveCycle("watch", 0)
	assert.Equal(t, before+1, testutil.ToFloat64(CyclesTotal.WithLabelValues("watch", "found")))
}

func TestMetricsEndpoint(t *testing.T) {
	ObserveWake(3 * time.Millisecond)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "slotgrab_lookups_in_flight")
	assert.Contains(t, body, "slotgrab_wake_overshoot_seconds")
}
