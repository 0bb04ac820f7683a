// Package metrics provides Prometheus instrumentation for grab runs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts query cycles by mode and whether candidates were found.
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotgrab",
			Name:      "cycles_total",
			Help:      "Query cycles by mode and result.",
		},
		[]string{"mode", "result"},
	)

	// LookupsTotal counts per-date availability lookups by result.
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotgrab",
			Name:      "lookups_total",
			Help:      "Availability lookups by result.",
		},
		[]string{"result"},
	)

	LookupsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "slotgrab",
		Name:      "lookups_in_flight",
		Help:      "Availability lookups currently outstanding.",
	})

	// ClaimsTotal counts classified claim attempts by outcome.
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotgrab",
			Name:      "claims_total",
			Help:      "Claim attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ModeTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotgrab",
			Name:      "mode_transitions_total",
			Help:      "State machine transitions by target state.",
		},
		[]string{"to"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotgrab",
			Name:      "runs_total",
			Help:      "Finished runs by terminal state.",
		},
		[]string{"state"},
	)

	// WakeOvershoot observes how late the precision waiter woke.
	WakeOvershoot = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "slotgrab",
		Name:      "wake_overshoot_seconds",
		Help:      "Wake time minus adjusted target.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
	})

	ClockOffset = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "slotgrab",
		Name:      "clock_offset_seconds",
		Help:      "Last estimated local minus reference clock offset.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotgrab",
			Name:      "http_requests_total",
			Help:      "Status server requests by method, route and status class.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		LookupsTotal,
		LookupsInFlight,
		ClaimsTotal,
		ModeTransitionsTotal,
		RunsTotal,
		WakeOvershoot,
		ClockOffset,
		HTTPRequestsTotal,
	)
}

// Lookups adapts the lookup counters to batch.Observer.
type Lookups struct{}

func (Lookups) LookupStarted() { LookupsInFlight.Inc() }

func (Lookups) LookupFinished(err error) {
	LookupsInFlight.Dec()
	if err != nil {
		LookupsTotal.WithLabelValues("error").Inc()
		return
	}
	LookupsTotal.WithLabelValues("ok").Inc()
}

func ObserveCycle(mode string, candidates int) {
	result := "empty"
	if candidates > 0 {
		result = "found"
	}
	CyclesTotal.WithLabelValues(mode, result).Inc()
}

func ObserveWake(overshoot time.Duration) {
	WakeOvershoot.Observe(overshoot.Seconds())
}

// Middleware counts status server requests by route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(ww.Status())).Inc()
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func statusBucket(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code/100) + "xx"
}
