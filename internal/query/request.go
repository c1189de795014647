package query

import (
	"strings"

	"github.com/paulmach/orb"
)

// Base holds the parameters shared by all search endpoints.
type Base struct {
	Language          string      `json:"lang"`
	Limit             int         `json:"limit"`
	Debug             bool        `json:"debug,omitempty"`
	Dedupe            bool        `json:"dedupe"`
	ReturnGeometry    bool        `json:"geometry,omitempty"`
	OsmTagFilters     []TagFilter `json:"osm_tag,omitempty"`
	LayerFilters      []string    `json:"layer,omitempty"`
	IncludeCategories []string    `json:"include,omitempty"`
	ExcludeCategories []string    `json:"exclude,omitempty"`
}

// Bias describes the location bias and area restriction of forward searches.
type Bias struct {
	Location *orb.Point `json:"location,omitempty"`
	Scale    float64    `json:"scale"`
	Zoom     int        `json:"zoom"`
	BBox     *orb.Bound `json:"bbox,omitempty"`
}

// SearchRequest is a free-text forward search.
type SearchRequest struct {
	Base
	Bias
	Query string `json:"q"`
}

// StructuredRequest is a forward search with separate address fields.
type StructuredRequest struct {
	Base
	Bias
	CountryCode string `json:"countrycode,omitempty"`
	State       string `json:"state,omitempty"`
	County      string `json:"county,omitempty"`
	City        string `json:"city,omitempty"`
	PostCode    string `json:"postcode,omitempty"`
	District    string `json:"district,omitempty"`
	Street      string `json:"street,omitempty"`
	HouseNumber string `json:"housenumber,omitempty"`
}

func (r *StructuredRequest) HasState() bool       { return r.State != "" }
func (r *StructuredRequest) HasCounty() bool      { return r.County != "" }
func (r *StructuredRequest) HasDistrict() bool    { return r.District != "" }
func (r *StructuredRequest) HasPostCode() bool    { return r.PostCode != "" }
func (r *StructuredRequest) HasHouseNumber() bool { return r.HouseNumber != "" }

func (r *StructuredRequest) HasCityOrPostCode() bool {
	return r.City != "" || r.HasPostCode()
}

// HasStreet is also true when only a housenumber is given.
func (r *StructuredRequest) HasStreet() bool {
	return r.Street != "" || r.HasHouseNumber()
}

// ReverseRequest looks up places around a point.
type ReverseRequest struct {
	Base
	Location          orb.Point `json:"location"`
	Radius            float64   `json:"radius"`
	QueryStringFilter string    `json:"query_string_filter,omitempty"`
	DistanceSort      bool      `json:"distance_sort"`
}

// LookupRequest fetches a single place by id.
type LookupRequest struct {
	PlaceID  string `json:"place_id"`
	Language string `json:"lang"`
}

// ExtendedLimit is the number of results to fetch so that enough remain
// after duplicate removal.
func (b *Base) ExtendedLimit() int {
	if b.Limit <= 1 {
		return 1
	}
	return int(float64(b.Limit)*1.5 + 0.5)
}

// categoryList splits comma separated category parameters.
func categoryList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
