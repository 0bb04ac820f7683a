// Package web serves run history, health and metrics for operators.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/example/slotgrab/internal/auth"
	"github.com/example/slotgrab/internal/history"
	"github.com/example/slotgrab/internal/metrics"
)

//go:embed templates/*.html
var fs embed.FS

const defaultListLimit = 50

// RunReader is the read side of a history store.
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]history.Run, error)
	GetRun(ctx context.Context, id string) (history.Run, error)
	ListAttempts(ctx context.Context, runID string) ([]history.Attempt, error)
}

type Server struct {
	Auth *auth.Store
	// Runs may be nil when history is disabled.
	Runs   RunReader
	Logger *slog.Logger
}

type tmplData struct {
	Title string
	User  string
	Flash string
	Runs  []history.Run
}

// RunView is the JSON shape of a run.
type RunView struct {
	ID            string        `json:"id"`
	UnitID        string        `json:"unit_id"`
	DepartmentID  string        `json:"dep_id"`
	BeneficiaryID string        `json:"member_id"`
	Dates         []string      `json:"target_dates"`
	Snipe         bool          `json:"snipe"`
	State         string        `json:"state"`
	Reason        string        `json:"reason,omitempty"`
	Attempts      int           `json:"attempts"`
	Summary       string        `json:"summary,omitempty"`
	URL           string        `json:"url,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	History       []AttemptView `json:"history,omitempty"`
}

type AttemptView struct {
	Attempt       int       `json:"attempt"`
	Mode          string    `json:"mode"`
	Date          string    `json:"date"`
	DoctorID      string    `json:"doctor_id"`
	ScheduleID    string    `json:"schedule_id"`
	Time          string    `json:"time,omitempty"`
	Outcome       string    `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	URL           string    `json:"url,omitempty"`
	DiagnosticRef string    `json:"diagnostic_ref,omitempty"`
	At            time.Time `json:"at"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.Auth.RequireAuth)
		r.Handle("/metrics", metrics.Handler())
		r.Get("/", s.handleHome)
		r.Get("/runs", s.handleRuns)
		r.Get("/runs/{id}", s.handleRun)
	})
	return r
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	data := tmplData{Title: "Runs", User: user}
	if s.Runs == nil {
		data.Flash = "Run history is disabled."
		s.render(w, "templates/runs.html", data)
		return
	}
	runs, err := s.Runs.ListRuns(r.Context(), defaultListLimit)
	if err != nil {
		s.logger().Error("list runs failed", "error", err)
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	data.Runs = runs
	s.render(w, "templates/runs.html", data)
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if !s.Auth.Enabled() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	s.render(w, "templates/login.html", tmplData{Title: "Login"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	if err := s.Auth.Authenticate(username, r.FormValue("password")); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		s.render(w, "templates/login.html", tmplData{Title: "Login", Flash: "Invalid username/password"})
		return
	}
	if err := s.Auth.SetSession(w, r, username); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	runs, err := s.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger().Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]RunView, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunView(run, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}
	id := chi.URLParam(r, "id")
	run, err := s.Runs.GetRun(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger().Error("get run failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	attempts, err := s.Runs.ListAttempts(r.Context(), id)
	if err != nil {
		s.logger().Error("list attempts failed", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load attempts")
		return
	}
	writeJSON(w, http.StatusOK, toRunView(run, attempts))
}

func toRunView(r history.Run, attempts []history.Attempt) RunView {
	v := RunView{
		ID:            r.ID,
		UnitID:        r.UnitID,
		DepartmentID:  r.DepartmentID,
		BeneficiaryID: r.BeneficiaryID,
		Dates:         r.Dates,
		Snipe:         r.Snipe,
		State:         r.State,
		Reason:        r.Reason,
		Attempts:      r.Attempts,
		Summary:       r.Summary,
		URL:           r.URL,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
	for _, a := range attempts {
		v.History = append(v.History, AttemptView{
			Attempt:       a.Attempt,
			Mode:          a.Mode,
			Date:          a.Date,
			DoctorID:      a.DoctorID,
			ScheduleID:    a.ScheduleID,
			Time:          a.TimeLabel,
			Outcome:       a.Outcome,
			Reason:        a.Reason,
			URL:           a.URL,
			DiagnosticRef: a.DiagnosticRef,
			At:            a.At,
		})
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var funcs = template.FuncMap{
	"when": func(t time.Time) string { return t.Local().Format("2006-01-02 15:04:05") },
	"dates": func(d []string) string { return strings.Join(d, ", ") },
}

func (s *Server) render(w http.ResponseWriter, name string, data tmplData) {
	t, err := template.New("base").Funcs(funcs).ParseFS(fs, "templates/base.html", name)
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		http.Error(w, "render error: "+err.Error(), http.StatusInternalServerError)
	}
}

// Start serves h on addr until ctx ends, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("status server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
