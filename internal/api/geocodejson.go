package api

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/tracing"
)

// Address fields that are written in the requested language.
var localisedKeys = []string{"name", "country", "city", "district", "locality", "street", "state", "county"}

// debugInfo is attached to the collection for debug requests.
type debugInfo struct {
	Query json.RawMessage  `json:"debug,omitempty"`
	Raw   []*index.Result  `json:"raw_data,omitempty"`
	Trace *tracing.Summary `json:"trace,omitempty"`
}

// geocodeJSON renders results as a GeoJSON FeatureCollection with Photon
// style properties. Full geometries replace the point only when asked for
// and available.
func geocodeJSON(results []*index.Result, lang string, withGeometry bool, debug *debugInfo) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, r := range results {
		fc.Append(feature(r, lang, withGeometry))
	}
	if debug != nil {
		fc.ExtraMembers = geojson.Properties{"properties": debug}
		body, err := json.MarshalIndent(fc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding geocodejson: %w", err)
		}
		return body, nil
	}
	body, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("encoding geocodejson: %w", err)
	}
	return body, nil
}

func feature(r *index.Result, lang string, withGeometry bool) *geojson.Feature {
	var geom orb.Geometry
	if withGeometry && r.Geometry != nil {
		geom = r.Geometry
	} else if r.Coordinate != nil {
		geom = *r.Coordinate
	} else {
		geom = orb.Point{}
	}
	f := geojson.NewFeature(geom)

	props := geojson.Properties{
		"osm_type":  r.OsmType,
		"osm_id":    r.OsmID,
		"osm_key":   r.OsmKey,
		"osm_value": r.OsmValue,
		"type":      r.Type,
	}
	putString(props, "postcode", r.Postcode)
	putString(props, "housenumber", r.HouseNumber)
	putString(props, "countrycode", r.CountryCode)
	for _, key := range localisedKeys {
		putString(props, key, r.Localised(key, lang))
	}
	if extent := r.ExtentArray(); extent != nil {
		props["extent"] = extent
	}
	if len(r.Extra) > 0 {
		props["extra"] = r.Extra
	}
	f.Properties = props
	return f
}

func putString(props geojson.Properties, key, value string) {
	if value != "" {
		props[key] = value
	}
}
