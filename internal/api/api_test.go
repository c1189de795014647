package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/update"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/metrics"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fakeGeocoder struct {
	results []*index.Result
	err     error
	calls   atomic.Int32

	mu          sync.Mutex
	lastSize    int
	lastReverse *query.ReverseRequest
}

func (g *fakeGeocoder) respond(size int) (*index.Response, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.lastSize = size
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	results := g.results
	if len(results) > size {
		results = results[:size]
	}
	return &index.Response{Results: results, Query: json.RawMessage(`{"match_all":{}}`)}, nil
}

func (g *fakeGeocoder) Search(ctx context.Context, req *query.SearchRequest, size int) (*index.Response, error) {
	return g.respond(size)
}

func (g *fakeGeocoder) Structured(ctx context.Context, req *query.StructuredRequest, size int) (*index.Response, error) {
	return g.respond(size)
}

func (g *fakeGeocoder) Reverse(ctx context.Context, req *query.ReverseRequest) (*index.Response, error) {
	g.mu.Lock()
	g.lastReverse = req
	g.mu.Unlock()
	return g.respond(req.Limit)
}

func (g *fakeGeocoder) Lookup(ctx context.Context, req *query.LookupRequest) (*index.Result, error) {
	g.calls.Add(1)
	for _, r := range g.results {
		if r.ID == req.PlaceID {
			return r, nil
		}
	}
	return nil, apperrors.Newf(apperrors.ErrPlaceNotFound, http.StatusNotFound, "Place %s not found.", req.PlaceID)
}

// memoryStore is an in-process CacheStore.
type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	default:
		return errors.New("unsupported value")
	}
	return nil
}

func (m *memoryStore) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

type fakeUpdates struct {
	err error
}

func (f *fakeUpdates) Trigger() error { return f.err }

func (f *fakeUpdates) Status() update.Status {
	return update.Status{Enabled: true, Runs: 3, Breaker: "closed"}
}

type fakeIndexInfo struct{}

func (fakeIndexInfo) Properties() *model.DatabaseProperties {
	props := model.NewDatabaseProperties()
	props.ImportDate = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return props
}

func (fakeIndexInfo) DocCount() (uint64, error) { return 42, nil }

func testFactory() *query.Factory {
	return query.NewFactory(query.FactoryConfig{
		Languages:       []string{"en", "de", "nl"},
		DefaultLanguage: "default",
		DefaultLimit:    15,
		MaxResults:      50,
	})
}

func point(lon, lat float64) *orb.Point {
	p := orb.Point{lon, lat}
	return &p
}

func cityResult() *index.Result {
	b := orb.Bound{Min: orb.Point{13.08, 52.33}, Max: orb.Point{13.76, 52.67}}
	return &index.Result{
		ID:          "1",
		PlaceID:     "1",
		OsmType:     "R",
		OsmID:       62422,
		OsmKey:      "place",
		OsmValue:    "city",
		Type:        "city",
		Coordinate:  point(13.3888, 52.517),
		Extent:      &b,
		CountryCode: "DE",
		Names:       model.NameMap{"default": "Berlin", "en": "Berlin", "de": "Berlin"},
		Address: map[string]model.NameMap{
			"country": {"default": "Deutschland", "en": "Germany"},
		},
		Extra: map[string]string{"wikidata": "Q64"},
	}
}

func streetResult(id, name, postcode string) *index.Result {
	return &index.Result{
		ID:         id,
		PlaceID:    id,
		OsmType:    "W",
		OsmID:      1000,
		OsmKey:     "highway",
		OsmValue:   "residential",
		Type:       "street",
		Postcode:   postcode,
		Names:      model.NameMap{"default": name},
		Coordinate: point(4.9, 52.37),
	}
}

type collection struct {
	Type     string `json:"type"`
	Features []struct {
		Type     string `json:"type"`
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	} `json:"features"`
	Properties map[string]json.RawMessage `json:"properties"`
}

func newTestServer(g Geocoder, opts Options) http.Handler {
	h := NewHandler(g, testFactory(), opts)
	return NewRouter(h, health.NewChecker(), nil, config.ServerConfig{})
}

func get(t *testing.T, srv http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeCollection(t *testing.T, rec *httptest.ResponseRecorder) collection {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var fc collection
	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return fc
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body["message"]
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSearchGeocodeJSON(t *testing.T) {
	srv := newTestServer(&fakeGeocoder{results: []*index.Result{cityResult()}}, Options{})
	fc := decodeCollection(t, get(t, srv, "/api?q=berlin&lang=en"))

	if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
		t.Fatalf("unexpected collection %+v", fc)
	}
	f := fc.Features[0]
	if f.Type != "Feature" || f.Geometry.Type != "Point" {
		t.Errorf("unexpected feature %+v", f)
	}
	if len(f.Geometry.Coordinates) != 2 || f.Geometry.Coordinates[0] != 13.3888 {
		t.Errorf("expected [lon, lat] coordinates, got %v", f.Geometry.Coordinates)
	}
	props := f.Properties
	checks := map[string]any{
		"osm_type":    "R",
		"osm_key":     "place",
		"osm_value":   "city",
		"type":        "city",
		"name":        "Berlin",
		"country":     "Germany",
		"countrycode": "DE",
	}
	for k, want := range checks {
		if props[k] != want {
			t.Errorf("property %s: expected %v, got %v", k, want, props[k])
		}
	}
	if props["osm_id"] != float64(62422) {
		t.Errorf("unexpected osm_id %v", props["osm_id"])
	}
	extent, ok := props["extent"].([]any)
	if !ok || len(extent) != 4 || extent[1] != 52.67 {
		t.Errorf("expected [minLon, maxLat, maxLon, minLat] extent, got %v", props["extent"])
	}
	extra, ok := props["extra"].(map[string]any)
	if !ok || extra["wikidata"] != "Q64" {
		t.Errorf("unexpected extra %v", props["extra"])
	}
	if _, ok := props["postcode"]; ok {
		t.Error("empty postcode must be omitted")
	}
	if fc.Properties != nil {
		t.Error("debug properties must only be present for debug requests")
	}
}

func TestSearchLocalisesNames(t *testing.T) {
	srv := newTestServer(&fakeGeocoder{results: []*index.Result{cityResult()}}, Options{})
	fc := decodeCollection(t, get(t, srv, "/api?q=berlin&lang=de"))
	if got := fc.Features[0].Properties["country"]; got != "Deutschland" {
		t.Errorf("expected default country name for missing language, got %v", got)
	}
}

func TestSearchExtendsAndTruncatesLimit(t *testing.T) {
	results := []*index.Result{
		cityResult(),
		streetResult("2", "A", "1"),
		streetResult("3", "B", "2"),
		streetResult("4", "C", "3"),
	}
	g := &fakeGeocoder{results: results}
	srv := newTestServer(g, Options{})
	fc := decodeCollection(t, get(t, srv, "/api?q=x&limit=2"))
	if g.lastSize != 3 {
		t.Errorf("expected extended size 3, got %d", g.lastSize)
	}
	if len(fc.Features) != 2 {
		t.Errorf("expected 2 features, got %d", len(fc.Features))
	}
}

func TestSearchRemovesStreetDuplicates(t *testing.T) {
	g := &fakeGeocoder{results: []*index.Result{
		streetResult("1", "Damrak", "1012"),
		streetResult("2", "Damrak", "1012"),
		streetResult("3", "Damrak", "1013"),
	}}
	srv := newTestServer(g, Options{})

	fc := decodeCollection(t, get(t, srv, "/api?q=damrak"))
	if len(fc.Features) != 2 {
		t.Errorf("expected duplicates removed, got %d features", len(fc.Features))
	}
	fc = decodeCollection(t, get(t, srv, "/api?q=damrak&dedupe=false"))
	if len(fc.Features) != 3 {
		t.Errorf("expected all features without dedupe, got %d", len(fc.Features))
	}
}

func TestRemoveStreetDuplicatesDutchPostcodes(t *testing.T) {
	results := []*index.Result{
		streetResult("1", "Damrak", "1012 JS"),
		streetResult("2", "Damrak", "1012 LG"),
		cityResult(),
	}
	if got := removeStreetDuplicates(results, "nl"); len(got) != 2 {
		t.Errorf("nl: expected 2 results, got %d", len(got))
	}
	if got := removeStreetDuplicates(results, "en"); len(got) != 3 {
		t.Errorf("en: expected 3 results, got %d", len(got))
	}
}

func TestSearchBadRequest(t *testing.T) {
	srv := newTestServer(&fakeGeocoder{}, Options{})
	tests := []struct {
		name   string
		target string
	}{
		{"unknown parameter", "/api?q=x&foo=bar"},
		{"missing query", "/api"},
		{"bad limit", "/api?q=x&limit=abc"},
		{"reverse without point", "/reverse"},
		{"structured without address", "/structured"},
		{"lookup without id", "/lookup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, srv, tt.target)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if decodeMessage(t, rec) == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestSearchInternalErrorHidesDetail(t *testing.T) {
	srv := newTestServer(&fakeGeocoder{err: errors.New("disk on fire")}, Options{})
	rec := get(t, srv, "/api?q=x")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); strings.Contains(msg, "disk") {
		t.Errorf("internal detail leaked: %q", msg)
	}
}

func TestReverseUsesExtendedLimit(t *testing.T) {
	g := &fakeGeocoder{results: []*index.Result{cityResult()}}
	srv := newTestServer(g, Options{})
	decodeCollection(t, get(t, srv, "/reverse?lat=52.5&lon=13.4&limit=2"))
	if g.lastReverse == nil || g.lastReverse.Limit != 3 {
		t.Fatalf("expected reverse limit 3, got %+v", g.lastReverse)
	}
	if g.lastReverse.Location.Lat() != 52.5 {
		t.Errorf("unexpected location %v", g.lastReverse.Location)
	}
}

func TestLookup(t *testing.T) {
	srv := newTestServer(&fakeGeocoder{results: []*index.Result{cityResult()}}, Options{})

	fc := decodeCollection(t, get(t, srv, "/lookup?place_id=1"))
	if len(fc.Features) != 1 || fc.Features[0].Properties["name"] != "Berlin" {
		t.Errorf("unexpected lookup response %+v", fc)
	}

	rec := get(t, srv, "/lookup?place_id=9")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != "Place 9 not found." {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestDebugOutput(t *testing.T) {
	srv := newTestServer(&fakeGeocoder{results: []*index.Result{cityResult()}}, Options{})
	fc := decodeCollection(t, get(t, srv, "/api?q=berlin&debug=true"))
	if fc.Properties == nil {
		t.Fatal("expected debug properties")
	}
	for _, key := range []string{"debug", "raw_data", "trace"} {
		if _, ok := fc.Properties[key]; !ok {
			t.Errorf("missing debug member %s", key)
		}
	}
}

func TestCacheServesRepeatedRequests(t *testing.T) {
	g := &fakeGeocoder{results: []*index.Result{cityResult()}}
	cache := NewQueryCache(newMemoryStore(), time.Minute)
	srv := newTestServer(g, Options{Cache: cache})

	first := get(t, srv, "/api?q=berlin&limit=5")
	second := get(t, srv, "/api?limit=5&q=berlin")
	if first.Body.String() != second.Body.String() {
		t.Error("cached body differs from computed body")
	}
	if first.Header().Get("X-Cache") != "miss" || second.Header().Get("X-Cache") != "hit" {
		t.Errorf("unexpected cache headers %q, %q", first.Header().Get("X-Cache"), second.Header().Get("X-Cache"))
	}
	if got := g.calls.Load(); got != 1 {
		t.Errorf("expected one index call, got %d", got)
	}
	if hits, misses := cache.Stats(); hits != 1 || misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %d/%d", hits, misses)
	}

	if err := cache.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	get(t, srv, "/api?q=berlin&limit=5")
	if got := g.calls.Load(); got != 2 {
		t.Errorf("expected a recomputation after invalidation, got %d calls", got)
	}
}

func TestCacheKeySeparatesEndpoints(t *testing.T) {
	req := &query.LookupRequest{PlaceID: "1", Language: "en"}
	a, err := buildKey("lookup", req)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := buildKey("search", req)
	if a == b {
		t.Error("expected different keys per endpoint")
	}
	if !strings.HasPrefix(a, keyPrefix) {
		t.Errorf("key %q lacks prefix", a)
	}
}

func TestDebugBypassesCache(t *testing.T) {
	g := &fakeGeocoder{results: []*index.Result{cityResult()}}
	srv := newTestServer(g, Options{Cache: NewQueryCache(newMemoryStore(), time.Minute)})
	get(t, srv, "/api?q=berlin&debug=true")
	get(t, srv, "/api?q=berlin&debug=true")
	if got := g.calls.Load(); got != 2 {
		t.Errorf("expected debug requests to skip the cache, got %d calls", got)
	}
}

func TestUpdateEndpoints(t *testing.T) {
	tests := []struct {
		name    string
		updates Updates
		want    int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"busy", &fakeUpdates{err: apperrors.New(apperrors.ErrUpdateInProgress, http.StatusServiceUnavailable, "busy")}, http.StatusServiceUnavailable},
		{"started", &fakeUpdates{}, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeGeocoder{}, Options{Updates: tt.updates})
			req := httptest.NewRequest(http.MethodPost, "/nominatim-update", nil)
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if decodeMessage(t, rec) == "" {
				t.Error("expected a message")
			}
		})
	}

	srv := newTestServer(&fakeGeocoder{}, Options{Updates: &fakeUpdates{}})
	rec := get(t, srv, "/nominatim-update/status")
	var st update.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if !st.Enabled || st.Runs != 3 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestStatus(t *testing.T) {
	srv := newTestServer(&fakeGeocoder{}, Options{Index: fakeIndexInfo{}, Version: "1.2.3"})
	rec := get(t, srv, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "Ok" || body["import_date"] != "2024-03-01T10:00:00Z" {
		t.Errorf("unexpected status body %v", body)
	}
	if body["documents"] != float64(42) || body["version"] != "1.2.3" {
		t.Errorf("unexpected status body %v", body)
	}
}

func TestRouterHealthAndMetrics(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	h := NewHandler(&fakeGeocoder{results: []*index.Result{cityResult()}}, testFactory(), Options{Metrics: m})
	srv := NewRouter(h, health.NewChecker(), m, config.ServerConfig{WriteTimeout: 5 * time.Second, CORSOrigin: "*"})

	for _, target := range []string{"/health/live", "/health/ready", "/metrics", "/api/?q=berlin"} {
		rec := get(t, srv, target)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", target, rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing request id", target)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api?q=berlin", nil)
	req.Header.Set("Origin", "https://example.org")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS header")
	}
}

func TestRouterRateLimit(t *testing.T) {
	h := NewHandler(&fakeGeocoder{results: []*index.Result{cityResult()}}, testFactory(), Options{})
	srv := NewRouter(h, health.NewChecker(), nil, config.ServerConfig{RateLimit: 1})

	if rec := get(t, srv, "/api?q=berlin"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := get(t, srv, "/api?q=berlin"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec := get(t, srv, "/health/live"); rec.Code != http.StatusOK {
		t.Errorf("expected health check to pass, got %d", rec.Code)
	}
}

func TestSearchAgainstIndex(t *testing.T) {
	props := model.NewDatabaseProperties()
	props.Languages = []string{"en", "de"}
	store, err := index.NewMemOnly(props)
	if err != nil {
		t.Fatalf("NewMemOnly: %v", err)
	}
	defer store.Close()

	d := model.NewDoc("1", "R", 62422, "place", "city")
	d.Names = model.NameMap{"default": "Berlin", "en": "Berlin"}
	d.RankAddress = 16
	d.Importance = 0.8
	d.SetCentroid(orb.Point{13.3888, 52.517})
	d.SetCountryCode("de")

	im := index.NewImporter(store, 10)
	if err := im.Add(context.Background(), []*model.Doc{d}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := im.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	srv := newTestServer(index.NewSearcher(store), Options{Index: store})
	fc := decodeCollection(t, get(t, srv, "/api?q=berlin"))
	if len(fc.Features) != 1 || fc.Features[0].Properties["name"] != "Berlin" {
		t.Fatalf("unexpected features %+v", fc.Features)
	}
	if fc.Features[0].Properties["countrycode"] != "DE" {
		t.Errorf("unexpected countrycode %v", fc.Features[0].Properties["countrycode"])
	}

	rec := get(t, srv, "/status")
	if !strings.Contains(rec.Body.String(), `"documents":1`) {
		t.Errorf("unexpected status %s", rec.Body.String())
	}
}
