package app

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sgaunet/s3bucketstats/pkg/dbsvc"
	"github.com/sgaunet/s3bucketstats/pkg/health"
	"github.com/sgaunet/s3bucketstats/pkg/scanner"
	"github.com/sgaunet/s3bucketstats/pkg/views"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 1000
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status   health.Status `json:"status"`
	Scanning bool          `json:"scanning"`
	Database *health.Info  `json:"database,omitempty"`
}

// HealthHandler reports whether the service and its database are usable.
func (s *App) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: health.StatusHealthy, Scanning: s.scanner.Running()}
	code := http.StatusOK
	if s.health != nil {
		info := s.health.Info()
		resp.Database = &info
		if !s.health.Healthy() {
			resp.Status = health.StatusUnhealthy
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, resp)
}

// ReportHandler returns the last run, from memory or from the history database.
func (s *App) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if run, ok := s.scanner.Latest(); ok {
		s.writeJSON(w, http.StatusOK, run)
		return
	}
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, dbsvc.ErrNoRun.Error())
		return
	}

	run, err := s.history.LatestRun(r.Context())
	if errors.Is(err, dbsvc.ErrNoRun) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.log.Error("Failed to load latest run", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// ScanHandler starts a scan. With wait=true the run is returned once done,
// otherwise the scan continues in the background.
func (s *App) ScanHandler(w http.ResponseWriter, r *http.Request) {
	if s.scanner.Running() {
		s.writeError(w, http.StatusConflict, scanner.ErrScanInProgress.Error())
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		run, err := s.scanner.Scan(r.Context())
		switch {
		case errors.Is(err, scanner.ErrScanInProgress):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, scanner.ErrNoBuckets):
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		case err != nil && run.Result.Reports == nil:
			s.log.Error("Scan failed", slog.String("error", err.Error()))
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.writeJSON(w, http.StatusOK, run)
		}
		return
	}

	go func() {
		if _, err := s.scanner.Scan(s.ctx); err != nil && !errors.Is(err, scanner.ErrScanInProgress) {
			s.log.Error("Scan failed", slog.String("error", err.Error()))
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HistoryHandler returns the recorded states of one bucket, newest first.
func (s *App) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotImplemented, "no database configured")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	name := mux.Vars(r)["name"]
	history, err := s.history.BucketHistory(r.Context(), name, limit)
	if err != nil {
		s.log.Error("Failed to load history", slog.String("bucket", name), slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if history == nil {
		history = []dbsvc.HistoryPoint{}
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *App) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := views.WriteJSON(w, v); err != nil {
		s.log.Error("Failed to write response", slog.String("error", err.Error()))
	}
}

func (s *App) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}
