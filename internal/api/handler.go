// Package api serves the geocoding HTTP endpoints: free-text, structured
// and reverse search, place lookup, service status and the Nominatim
// update trigger. Responses are GeocodeJSON feature collections.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/update"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/tracing"
)

// Geocoder executes parsed requests against the index.
type Geocoder interface {
	Search(ctx context.Context, req *query.SearchRequest, size int) (*index.Response, error)
	Structured(ctx context.Context, req *query.StructuredRequest, size int) (*index.Response, error)
	Reverse(ctx context.Context, req *query.ReverseRequest) (*index.Response, error)
	Lookup(ctx context.Context, req *query.LookupRequest) (*index.Result, error)
}

// IndexInfo describes the served index for /status.
type IndexInfo interface {
	Properties() *model.DatabaseProperties
	DocCount() (uint64, error)
}

// Updates is the update service as seen by the HTTP layer.
type Updates interface {
	Trigger() error
	Status() update.Status
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Cache        *QueryCache
	Updates      Updates
	Index        IndexInfo
	Metrics      *metrics.Metrics
	QueryTimeout time.Duration
	Version      string
}

type Handler struct {
	geocoder Geocoder
	factory  *query.Factory
	opts     Options
	logger   *slog.Logger
}

func NewHandler(geocoder Geocoder, factory *query.Factory, opts Options) *Handler {
	return &Handler{
		geocoder: geocoder,
		factory:  factory,
		opts:     opts,
		logger:   slog.Default().With("component", "api-handler"),
	}
}

// Search handles GET /api.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	const endpoint = "search"
	req, err := h.factory.Search(r)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	h.serve(w, r, endpoint, req, req.Base, func(ctx context.Context) (*index.Response, error) {
		return h.geocoder.Search(ctx, req, req.ExtendedLimit())
	})
}

// Structured handles GET /structured.
func (h *Handler) Structured(w http.ResponseWriter, r *http.Request) {
	const endpoint = "structured"
	req, err := h.factory.Structured(r)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	h.serve(w, r, endpoint, req, req.Base, func(ctx context.Context) (*index.Response, error) {
		return h.geocoder.Structured(ctx, req, req.ExtendedLimit())
	})
}

// Reverse handles GET /reverse.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	const endpoint = "reverse"
	req, err := h.factory.Reverse(r)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	h.serve(w, r, endpoint, req, req.Base, func(ctx context.Context) (*index.Response, error) {
		extended := *req
		extended.Limit = req.ExtendedLimit()
		return h.geocoder.Reverse(ctx, &extended)
	})
}

// Lookup handles GET /lookup.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	const endpoint = "lookup"
	req, err := h.factory.Lookup(r)
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}
	base := query.Base{Language: req.Language, Limit: 1}
	h.serve(w, r, endpoint, req, base, func(ctx context.Context) (*index.Response, error) {
		res, err := h.geocoder.Lookup(ctx, req)
		if err != nil {
			return nil, err
		}
		return &index.Response{Results: []*index.Result{res}}, nil
	})
}

// serve runs a parsed request through the cache, applies duplicate removal
// and the limit, and writes the GeocodeJSON body.
func (h *Handler) serve(
	w http.ResponseWriter,
	r *http.Request,
	endpoint string,
	key any,
	base query.Base,
	run func(ctx context.Context) (*index.Response, error),
) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	compute := func() ([]byte, error) {
		return h.execute(ctx, endpoint, base, run)
	}

	var body []byte
	var err error
	cacheStatus := "bypass"
	if h.opts.Cache != nil && !base.Debug {
		var hit bool
		body, hit, err = h.opts.Cache.GetOrCompute(ctx, endpoint, key, compute)
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
		h.observeCache(hit)
	} else {
		body, err = compute()
	}
	if err != nil {
		h.fail(w, r, endpoint, err)
		return
	}

	count := int(gjson.GetBytes(body, "features.#").Int())
	elapsed := time.Since(start)
	if m := h.opts.Metrics; m != nil {
		resultType := "hit"
		if count == 0 {
			resultType = "zero_result"
		}
		m.SearchQueriesTotal.WithLabelValues(endpoint, resultType).Inc()
		m.SearchLatency.WithLabelValues(endpoint, cacheStatus).Observe(elapsed.Seconds())
		m.SearchResultsCount.WithLabelValues(endpoint).Observe(float64(count))
	}
	log.Info("geocode request served",
		"endpoint", endpoint,
		"results", count,
		"cache", cacheStatus,
		"latency_ms", elapsed.Milliseconds(),
	)
	w.Header().Set("X-Cache", cacheStatus)
	h.writeBody(w, http.StatusOK, body)
}

func (h *Handler) execute(ctx context.Context, endpoint string, base query.Base, run func(ctx context.Context) (*index.Response, error)) ([]byte, error) {
	var span *tracing.Span
	if base.Debug {
		ctx, span = tracing.StartSpan(ctx, endpoint, logger.RequestID(ctx))
	}

	var resp *index.Response
	err := resilience.WithTimeout(ctx, h.opts.QueryTimeout, endpoint, func(ctx context.Context) error {
		_, child := tracing.StartChildSpan(ctx, "index")
		defer child.End()
		var err error
		resp, err = run(ctx)
		if resp != nil {
			child.SetAttr("hits", len(resp.Results))
			child.SetAttr("lenient", resp.Lenient)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	results := resp.Results
	if base.Dedupe {
		results = removeStreetDuplicates(results, base.Language)
	}
	if base.Limit > 0 && len(results) > base.Limit {
		results = results[:base.Limit]
	}

	var debug *debugInfo
	if span != nil {
		span.SetAttr("returned", len(results))
		span.End()
		span.Log()
		summary := span.Summarize()
		debug = &debugInfo{Query: resp.Query, Raw: results, Trace: &summary}
	}
	return geocodeJSON(results, base.Language, base.ReturnGeometry, debug)
}

func (h *Handler) observeCache(hit bool) {
	m := h.opts.Metrics
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "Ok",
		"import_date": "",
		"version":     h.opts.Version,
	}
	if info := h.opts.Index; info != nil {
		props := info.Properties()
		if props != nil {
			if !props.ImportDate.IsZero() {
				resp["import_date"] = props.ImportDate.UTC().Format(time.RFC3339)
			}
			resp["database_version"] = props.Version
			resp["languages"] = props.LanguageList()
		}
		count, err := info.DocCount()
		if err != nil {
			h.fail(w, r, "status", apperrors.Newf(apperrors.ErrIndexUnavailable,
				http.StatusServiceUnavailable, "Index unavailable."))
			return
		}
		resp["documents"] = count
		if h.opts.Metrics != nil {
			h.opts.Metrics.IndexDocCount.Set(float64(count))
		}
	}
	if c := h.opts.Cache; c != nil {
		hits, misses := c.Stats()
		resp["cache"] = map[string]int64{"hits": hits, "misses": misses}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// TriggerUpdate handles POST /nominatim-update.
func (h *Handler) TriggerUpdate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Updates == nil {
		h.fail(w, r, "update", apperrors.New(apperrors.ErrUpdatesDisabled,
			http.StatusServiceUnavailable, "Nominatim updates are not enabled."))
		return
	}
	if err := h.opts.Updates.Trigger(); err != nil {
		h.fail(w, r, "update", err)
		return
	}
	logger.FromContext(r.Context()).Info("nominatim update triggered")
	h.writeJSON(w, http.StatusAccepted, map[string]string{"message": "Nominatim update started."})
}

// UpdateStatus handles GET /nominatim-update/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	if h.opts.Updates == nil {
		h.writeJSON(w, http.StatusOK, update.Status{Enabled: false, Breaker: "closed"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.opts.Updates.Status())
}

// fail writes err as {"message": ...}. Unexpected errors are logged and
// reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := apperrors.Message(err)
	var appErr *apperrors.AppError
	if status >= http.StatusInternalServerError && !errors.As(err, &appErr) {
		if errors.Is(err, apperrors.ErrTimeout) {
			message = "Query timed out."
		} else {
			message = "Internal server error."
		}
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "endpoint", endpoint, "error", err)
	}
	if m := h.opts.Metrics; m != nil && endpoint != "status" && endpoint != "update" {
		m.SearchQueriesTotal.WithLabelValues(endpoint, "error").Inc()
	}
	h.writeJSON(w, status, map[string]string{"message": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to encode response", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"message":"Internal server error."}`)
	}
	h.writeBody(w, status, body)
}

func (h *Handler) writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
