package index

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
)

var namePrecedence = []string{"default", "housename", "int", "loc", "reg", "alt", "old"}

// Result is one decoded search hit.
type Result struct {
	ID          string                   `json:"id"`
	PlaceID     string                   `json:"place_id"`
	OsmType     string                   `json:"osm_type"`
	OsmID       int64                    `json:"osm_id"`
	OsmKey      string                   `json:"osm_key"`
	OsmValue    string                   `json:"osm_value"`
	Type        string                   `json:"type"`
	Importance  float64                  `json:"importance"`
	Coordinate  *orb.Point               `json:"-"`
	Extent      *orb.Bound               `json:"-"`
	HouseNumber string                   `json:"housenumber,omitempty"`
	Postcode    string                   `json:"postcode,omitempty"`
	CountryCode string                   `json:"countrycode,omitempty"`
	Names       model.NameMap            `json:"name,omitempty"`
	Address     map[string]model.NameMap `json:"address,omitempty"`
	Extra       map[string]string        `json:"extra,omitempty"`
	Categories  []string                 `json:"categories,omitempty"`
	Geometry    orb.Geometry             `json:"-"`

	// Score is the final ranking score. TextScore is what the index
	// returned before reranking.
	Score     float64 `json:"score"`
	TextScore float64 `json:"text_score"`
	// Distance to the query point in meters, set by reverse searches.
	Distance float64 `json:"distance,omitempty"`
}

func decodeResult(id string, source string) (*Result, error) {
	var s storedDoc
	if err := json.Unmarshal([]byte(source), &s); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	r := &Result{
		ID:          id,
		PlaceID:     s.PlaceID,
		OsmType:     s.OsmType,
		OsmID:       s.OsmID,
		OsmKey:      s.OsmKey,
		OsmValue:    s.OsmValue,
		Type:        s.Type,
		Importance:  s.Importance,
		HouseNumber: s.HouseNumber,
		Postcode:    s.Postcode,
		CountryCode: s.CountryCode,
		Names:       s.Name,
		Address:     s.Address,
		Extra:       s.Extra,
		Categories:  s.Categories,
	}
	if len(s.Coordinate) == 2 {
		p := orb.Point{s.Coordinate[0], s.Coordinate[1]}
		r.Coordinate = &p
	}
	if len(s.Extent) == 4 {
		r.Extent = &orb.Bound{
			Min: orb.Point{s.Extent[0], s.Extent[3]},
			Max: orb.Point{s.Extent[2], s.Extent[1]},
		}
	}
	if len(s.Geometry) > 0 {
		g, err := geojson.UnmarshalGeometry(s.Geometry)
		if err != nil {
			return nil, fmt.Errorf("decoding geometry of %s: %w", id, err)
		}
		r.Geometry = g.Geometry()
	}
	return r, nil
}

// Map returns the names of the given field: "name" for the place's own
// names, otherwise an address type such as "city".
func (r *Result) Map(field string) model.NameMap {
	if field == "name" {
		return r.Names
	}
	return r.Address[field]
}

// Localised returns the name of field in lang. For the place name the
// name variants are tried before falling back to the default name.
func (r *Result) Localised(field, lang string) string {
	names := r.Map(field)
	if names == nil {
		return ""
	}
	if v, ok := names[lang]; ok {
		return v
	}
	if field == "name" {
		for _, key := range namePrecedence {
			if v, ok := names[key]; ok {
				return v
			}
		}
	}
	return names["default"]
}

// ExtentArray returns the extent as [minLon, maxLat, maxLon, minLat], or
// nil when the place has none.
func (r *Result) ExtentArray() []float64 {
	if r.Extent == nil {
		return nil
	}
	return []float64{r.Extent.Min.Lon(), r.Extent.Max.Lat(), r.Extent.Max.Lon(), r.Extent.Min.Lat()}
}
