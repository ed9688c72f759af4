// Package app serves scan results and triggers scans over HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sgaunet/s3bucketstats/pkg/dbsvc"
	"github.com/sgaunet/s3bucketstats/pkg/health"
	"github.com/sgaunet/s3bucketstats/pkg/scanner"
)

const readHeaderTimeout = 10 * time.Second

// Scanner runs scans and keeps the last one.
type Scanner interface {
	Scan(ctx context.Context) (scanner.Run, error)
	Latest() (scanner.Run, bool)
	Running() bool
}

// History gives access to recorded runs.
type History interface {
	LatestRun(ctx context.Context) (scanner.Run, error)
	BucketHistory(ctx context.Context, bucket string, limit int) ([]dbsvc.HistoryPoint, error)
}

// HealthReporter reports the state of the history database.
type HealthReporter interface {
	Info() health.Info
	Healthy() bool
}

// App is the HTTP API.
type App struct {
	scanner Scanner
	history History
	health  HealthReporter
	router  *mux.Router
	srv     *http.Server
	log     *slog.Logger

	// background scans outlive the request that started them
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp returns an API listening on addr once Start is called.
func NewApp(addr string, sc Scanner) *App {
	ctx, cancel := context.WithCancel(context.Background())
	s := &App{
		scanner: sc,
		router:  mux.NewRouter().StrictSlash(true),
		srv:     &http.Server{Addr: addr, ReadHeaderTimeout: readHeaderTimeout},
		log:     slog.New(slog.DiscardHandler),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.initRouter()
	return s
}

// SetLogger sets the logger
func (s *App) SetLogger(log *slog.Logger) {
	s.log = log
}

// SetHistory serves recorded runs when no scan ran in this process.
func (s *App) SetHistory(h History) {
	s.history = h
}

// SetHealth adds the database state to the health endpoint.
func (s *App) SetHealth(h HealthReporter) {
	s.health = h
}

// Router returns the handler of the API.
func (s *App) Router() http.Handler {
	return s.router
}

// Start listens in the background. Errors other than a shutdown are sent on
// the returned channel.
func (s *App) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("Starting web server", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("web server failed: %w", err)
		}
		close(errc)
	}()
	return errc
}

// Shutdown stops the server and cancels background scans.
func (s *App) Shutdown(ctx context.Context) error {
	s.cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop web server: %w", err)
	}
	return nil
}
