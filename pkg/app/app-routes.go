package app

import "net/http"

const apiPrefix = "/api"

// initRouter initializes the router of the App
// Routes are registered on the root router so a method mismatch answers 405.
func (s *App) initRouter() {
	s.router.HandleFunc(apiPrefix+"/health", s.HealthHandler).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/report", s.ReportHandler).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/scan", s.ScanHandler).Methods(http.MethodPost)
	s.router.HandleFunc(apiPrefix+"/buckets/{name}/history", s.HistoryHandler).Methods(http.MethodGet)
	s.srv.Handler = s.router
}
