package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/middleware"
)

// NewRouter builds the HTTP handler of the geocoder.
//
// Route table:
//
//	GET  /api                        free-text search
//	GET  /structured                 structured address search
//	GET  /reverse                    reverse geocoding
//	GET  /lookup                     place by id
//	GET  /status                     import date, version, document count
//	POST /nominatim-update           start an update pass
//	GET  /nominatim-update/status    update service state
//	GET  /health/live, /health/ready checks
//	GET  /metrics                    Prometheus scrape endpoint
//
// Middleware chain (outermost first):
//
//	RequestID → RateLimit → CORS → Metrics → Timeout → mux
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, cfg config.ServerConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api", h.Search)
	mux.HandleFunc("GET /api/{$}", h.Search)
	mux.HandleFunc("GET /structured", h.Structured)
	mux.HandleFunc("GET /reverse", h.Reverse)
	mux.HandleFunc("GET /lookup", h.Lookup)
	mux.HandleFunc("GET /status", h.Status)

	mux.HandleFunc("POST /nominatim-update", h.TriggerUpdate)
	mux.HandleFunc("GET /nominatim-update/status", h.UpdateStatus)

	if checker != nil {
		mux.HandleFunc("GET /health/live", checker.LiveHandler())
		mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	}
	if m != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var chain http.Handler = mux
	if cfg.WriteTimeout > 0 {
		chain = middleware.Timeout(cfg.WriteTimeout)(chain)
	}
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	chain = middleware.CORS(middleware.CORSForOrigin(cfg.CORSOrigin))(chain)
	if cfg.RateLimit > 0 {
		chain = middleware.RateLimit(middleware.NewLimiter(cfg.RateLimit, time.Minute))(chain)
	}
	chain = middleware.RequestID(chain)
	return chain
}
