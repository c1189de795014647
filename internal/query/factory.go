package query

import (
	"math"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
	"github.com/paulmach/orb"
	"golang.org/x/text/language"
)

var (
	baseParams       = []string{"lang", "limit", "debug", "dedupe", "geometry", "osm_tag", "layer", "include", "exclude"}
	searchParams     = append(slices.Clone(baseParams), "lon", "lat", "location_bias_scale", "zoom", "bbox")
	freeSearchParams = append(slices.Clone(searchParams), "q")
	addressParams    = []string{"countrycode", "state", "county", "city", "postcode", "district", "housenumber", "street"}
	structuredParams = append(slices.Clone(searchParams), addressParams...)
	reverseParams    = append(slices.Clone(baseParams), "lon", "lat", "radius", "query_string_filter", "distance_sort")
	lookupParams     = []string{"lang", "place_id"}

	categoryPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)+$`)
)

const (
	defaultScale   = 0.2
	defaultZoom    = 14
	maxRadiusKm    = 5000.0
	defaultRadius  = 1.0
	defaultLimit   = 15
	reverseDefault = 1
)

// FactoryConfig carries the limits and database capabilities the factory
// validates against.
type FactoryConfig struct {
	Languages         []string
	DefaultLanguage   string
	DefaultLimit      int
	MaxResults        int
	MaxReverseResults int
	SupportGeometries bool
}

// Factory builds typed requests from HTTP requests.
type Factory struct {
	cfg     FactoryConfig
	matcher language.Matcher
	layers  []string
}

func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "default"
	}
	if cfg.DefaultLimit < 1 {
		cfg.DefaultLimit = defaultLimit
	}
	if cfg.MaxResults < 1 {
		cfg.MaxResults = 50
	}
	if cfg.MaxReverseResults < 1 {
		cfg.MaxReverseResults = cfg.MaxResults
	}
	tags := make([]language.Tag, 0, len(cfg.Languages))
	for _, l := range cfg.Languages {
		tags = append(tags, language.Make(l))
	}
	return &Factory{
		cfg:     cfg,
		matcher: language.NewMatcher(tags),
		layers:  model.AddressTypeNames(),
	}
}

// Search builds a free-text request for /api.
func (f *Factory) Search(r *http.Request) (*SearchRequest, error) {
	q := r.URL.Query()
	if err := checkParams(q, freeSearchParams); err != nil {
		return nil, err
	}
	req := &SearchRequest{}
	if err := f.completeBase(r, &req.Base, f.cfg.DefaultLimit, f.cfg.MaxResults); err != nil {
		return nil, err
	}
	if err := f.completeBias(q, &req.Bias); err != nil {
		return nil, err
	}
	req.Query = strings.TrimSpace(q.Get("q"))
	if req.Query == "" && len(req.IncludeCategories) == 0 {
		return nil, apperrors.BadRequest("q parameter is required when no include categories are specified")
	}
	return req, nil
}

// Structured builds a request for /structured.
func (f *Factory) Structured(r *http.Request) (*StructuredRequest, error) {
	q := r.URL.Query()
	if err := checkParams(q, structuredParams); err != nil {
		return nil, err
	}
	hasAddress := false
	for _, p := range addressParams {
		if q.Has(p) {
			hasAddress = true
			break
		}
	}
	if !hasAddress {
		return nil, apperrors.BadRequest("at least one of the parameters %v is required.", addressParams)
	}

	req := &StructuredRequest{}
	if err := f.completeBase(r, &req.Base, f.cfg.DefaultLimit, f.cfg.MaxResults); err != nil {
		return nil, err
	}
	if err := f.completeBias(q, &req.Bias); err != nil {
		return nil, err
	}
	req.CountryCode = strings.TrimSpace(q.Get("countrycode"))
	req.State = strings.TrimSpace(q.Get("state"))
	req.County = strings.TrimSpace(q.Get("county"))
	req.City = strings.TrimSpace(q.Get("city"))
	req.PostCode = strings.TrimSpace(q.Get("postcode"))
	req.District = strings.TrimSpace(q.Get("district"))
	req.Street = strings.TrimSpace(q.Get("street"))
	req.HouseNumber = strings.TrimSpace(q.Get("housenumber"))
	return req, nil
}

// Reverse builds a request for /reverse.
func (f *Factory) Reverse(r *http.Request) (*ReverseRequest, error) {
	q := r.URL.Query()
	if err := checkParams(q, reverseParams); err != nil {
		return nil, err
	}
	req := &ReverseRequest{Radius: defaultRadius, DistanceSort: true}
	if err := f.completeBase(r, &req.Base, reverseDefault, f.cfg.MaxReverseResults); err != nil {
		return nil, err
	}

	p, err := parseLatLon(q, true)
	if err != nil {
		return nil, err
	}
	req.Location = *p

	radius, err := parseFloat(q, "radius")
	if err != nil {
		return nil, err
	}
	if radius != nil {
		if *radius <= 0 {
			return nil, apperrors.BadRequest("Invalid value for 'radius': expected a strictly positive number.")
		}
		req.Radius = math.Min(*radius, maxRadiusKm)
	}

	req.QueryStringFilter = strings.TrimSpace(q.Get("query_string_filter"))
	sortByDistance, err := parseBool(q, "distance_sort", true)
	if err != nil {
		return nil, err
	}
	req.DistanceSort = sortByDistance
	return req, nil
}

// Lookup builds a request for /lookup.
func (f *Factory) Lookup(r *http.Request) (*LookupRequest, error) {
	q := r.URL.Query()
	if err := checkParams(q, lookupParams); err != nil {
		return nil, err
	}
	placeID := strings.TrimSpace(q.Get("place_id"))
	if placeID == "" {
		return nil, apperrors.BadRequest("Missing required query parameter 'place_id'.")
	}
	lang, err := f.language(r)
	if err != nil {
		return nil, err
	}
	return &LookupRequest{PlaceID: placeID, Language: lang}, nil
}

func (f *Factory) completeBase(r *http.Request, b *Base, defLimit, maxLimit int) error {
	q := r.URL.Query()

	lang, err := f.language(r)
	if err != nil {
		return err
	}
	b.Language = lang

	b.Limit = min(defLimit, maxLimit)
	limit, err := parseInt(q, "limit")
	if err != nil {
		return err
	}
	if limit != nil {
		b.Limit = max(1, min(maxLimit, *limit))
	}

	if b.Debug, err = parseBool(q, "debug", false); err != nil {
		return err
	}
	if b.Dedupe, err = parseBool(q, "dedupe", true); err != nil {
		return err
	}
	if b.ReturnGeometry, err = parseBool(q, "geometry", false); err != nil {
		return err
	}
	if b.ReturnGeometry && !f.cfg.SupportGeometries {
		return apperrors.BadRequest("Geometry output requested but not available in database.")
	}

	for _, layer := range q["layer"] {
		if !slices.Contains(f.layers, layer) {
			return apperrors.BadRequest("Unknown layer type. Available layers: %v", f.layers)
		}
		if !slices.Contains(b.LayerFilters, layer) {
			b.LayerFilters = append(b.LayerFilters, layer)
		}
	}
	sort.Strings(b.LayerFilters)

	for _, expr := range q["osm_tag"] {
		filter, err := ParseTagFilter(expr)
		if err != nil {
			return err
		}
		b.OsmTagFilters = append(b.OsmTagFilters, filter)
	}

	if b.IncludeCategories, err = parseCategories(q, "include"); err != nil {
		return err
	}
	if b.ExcludeCategories, err = parseCategories(q, "exclude"); err != nil {
		return err
	}
	return nil
}

func (f *Factory) completeBias(q url.Values, b *Bias) error {
	b.Scale = defaultScale
	b.Zoom = defaultZoom

	p, err := parseLatLon(q, false)
	if err != nil {
		return err
	}
	b.Location = p

	scale, err := parseFloat(q, "location_bias_scale")
	if err != nil {
		return err
	}
	if scale != nil {
		b.Scale = math.Max(0, math.Min(1, *scale))
	}

	zoom, err := parseInt(q, "zoom")
	if err != nil {
		return err
	}
	if zoom != nil {
		b.Zoom = max(0, min(18, *zoom))
	}

	bbox, err := parseBBox(q)
	if err != nil {
		return err
	}
	b.BBox = bbox
	return nil
}

// language resolves the response language: the lang parameter, then the
// best Accept-Language match, then the configured default.
func (f *Factory) language(r *http.Request) (string, error) {
	lang := strings.TrimSpace(r.URL.Query().Get("lang"))
	if lang != "" {
		if lang != "default" && !slices.Contains(f.cfg.Languages, lang) {
			return "", apperrors.BadRequest("Language is not supported. Supported are: default, %s",
				strings.Join(f.cfg.Languages, ", "))
		}
		return lang, nil
	}

	if header := r.Header.Get("Accept-Language"); header != "" && len(f.cfg.Languages) > 0 {
		tags, _, err := language.ParseAcceptLanguage(header)
		if err == nil && len(tags) > 0 {
			_, idx, conf := f.matcher.Match(tags...)
			if conf != language.No {
				return f.cfg.Languages[idx], nil
			}
		}
	}
	return f.cfg.DefaultLanguage, nil
}

func checkParams(q url.Values, allowed []string) error {
	for name := range q {
		if !slices.Contains(allowed, name) {
			sorted := slices.Clone(allowed)
			sort.Strings(sorted)
			return apperrors.BadRequest("Unknown query parameter '%s'. Allowed parameters are: %v", name, sorted)
		}
	}
	return nil
}

func parseLatLon(q url.Values, mandatory bool) (*orb.Point, error) {
	lat, err := parseFloat(q, "lat")
	if err != nil {
		return nil, err
	}
	lon, err := parseFloat(q, "lon")
	if err != nil {
		return nil, err
	}
	switch {
	case lat == nil && lon == nil && !mandatory:
		return nil, nil
	case lat == nil:
		return nil, apperrors.BadRequest("Missing parameter 'lat'.")
	case lon == nil:
		return nil, apperrors.BadRequest("Missing parameter 'lon'.")
	case *lat < -90 || *lat > 90:
		return nil, apperrors.BadRequest("Invalid value for 'lat' parameter.")
	case *lon < -180 || *lon > 180:
		return nil, apperrors.BadRequest("Invalid value for 'lon' parameter.")
	}
	return &orb.Point{*lon, *lat}, nil
}

const bboxError = "Invalid parameter 'bbox'. Expected format is: minLon,minLat,maxLon,maxLat"

func parseBBox(q url.Values) (*orb.Bound, error) {
	raw := q.Get("bbox")
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, apperrors.BadRequest(bboxError)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(f) {
			return nil, apperrors.BadRequest(bboxError)
		}
		v[i] = f
	}
	minLon, minLat, maxLon, maxLat := v[0], v[1], v[2], v[3]
	for _, lon := range []float64{minLon, maxLon} {
		if lon < -180 || lon > 180 {
			return nil, apperrors.BadRequest(bboxError)
		}
	}
	for _, lat := range []float64{minLat, maxLat} {
		if lat < -90 || lat > 90 {
			return nil, apperrors.BadRequest(bboxError)
		}
	}
	b := orb.Bound{
		Min: orb.Point{math.Min(minLon, maxLon), math.Min(minLat, maxLat)},
		Max: orb.Point{math.Max(minLon, maxLon), math.Max(minLat, maxLat)},
	}
	return &b, nil
}

func parseInt(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.BadRequest("Invalid parameter '%s': must be a number", name)
	}
	return &n, nil
}

func parseFloat(q url.Values, name string) (*float64, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperrors.BadRequest("Invalid parameter '%s': must be a number", name)
	}
	if math.IsNaN(f) {
		return nil, apperrors.BadRequest("Invalid parameter '%s': NaN is not allowed", name)
	}
	return &f, nil
}

func parseBool(q url.Values, name string, def bool) (bool, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperrors.BadRequest("Invalid parameter '%s': must be true or false", name)
	}
	return b, nil
}

func parseCategories(q url.Values, name string) ([]string, error) {
	terms := categoryList(q[name])
	for _, term := range terms {
		for _, c := range strings.Split(term, ",") {
			if !categoryPattern.MatchString(strings.TrimSpace(c)) {
				return nil, apperrors.BadRequest("Invalid category '%s' in parameter '%s'.", c, name)
			}
		}
	}
	return terms, nil
}
