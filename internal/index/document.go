package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
)

// storedDoc is the JSON kept in the source field of every indexed document.
// Results are decoded from it.
type storedDoc struct {
	PlaceID     string                   `json:"place_id"`
	OsmType     string                   `json:"osm_type"`
	OsmID       int64                    `json:"osm_id"`
	OsmKey      string                   `json:"osm_key"`
	OsmValue    string                   `json:"osm_value"`
	Type        string                   `json:"type"`
	Importance  float64                  `json:"importance"`
	Coordinate  []float64                `json:"coordinate,omitempty"`
	Extent      []float64                `json:"extent,omitempty"`
	HouseNumber string                   `json:"housenumber,omitempty"`
	Postcode    string                   `json:"postcode,omitempty"`
	CountryCode string                   `json:"countrycode,omitempty"`
	Name        model.NameMap            `json:"name,omitempty"`
	Address     map[string]model.NameMap `json:"address,omitempty"`
	Context     map[string][]string      `json:"context,omitempty"`
	Extra       map[string]string        `json:"extra,omitempty"`
	Categories  []string                 `json:"categories,omitempty"`
	Geometry    json.RawMessage          `json:"geometry,omitempty"`
}

// docType is the layer name of a document. Places outside the ranked
// address hierarchy end up in the "other" layer.
func docType(d *model.Doc) string {
	atype, ok := d.AddressType()
	if !ok {
		return model.Other.String()
	}
	return atype.String()
}

func newStoredDoc(d *model.Doc, props *model.DatabaseProperties) (*storedDoc, error) {
	s := &storedDoc{
		PlaceID:     d.PlaceID,
		OsmType:     d.OsmType,
		OsmID:       d.OsmID,
		OsmKey:      d.TagKey,
		OsmValue:    d.TagValue,
		Type:        docType(d),
		Importance:  d.Importance,
		HouseNumber: d.HouseNumber,
		Postcode:    d.Postcode,
		CountryCode: d.CountryCode,
		Categories:  d.Categories,
	}
	if len(d.Names) > 0 {
		s.Name = d.Names
	}
	if d.Centroid != nil {
		s.Coordinate = []float64{d.Centroid.Lon(), d.Centroid.Lat()}
	}
	// Degenerate envelopes (points) carry no extent.
	if d.BBox != nil && d.BBox.Min != d.BBox.Max {
		s.Extent = []float64{d.BBox.Min.Lon(), d.BBox.Max.Lat(), d.BBox.Max.Lon(), d.BBox.Min.Lat()}
	}
	if len(d.AddressParts) > 0 {
		s.Address = make(map[string]model.NameMap, len(d.AddressParts))
		for atype, names := range d.AddressParts {
			s.Address[atype.String()] = names
		}
	}
	if len(d.Context) > 0 {
		s.Context = make(map[string][]string, len(d.Context))
		for _, lang := range d.Context.Languages() {
			s.Context[lang] = d.Context.Names(lang)
		}
	}
	if extra := props.ExtraTags.Filter(d.ExtraTags); len(extra) > 0 {
		s.Extra = extra
	}
	if d.Geometry != nil {
		if _, isPoint := d.Geometry.(orb.Point); !isPoint {
			raw, err := geojson.NewGeometry(d.Geometry).MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("encoding geometry of place %s: %w", d.PlaceID, err)
			}
			s.Geometry = raw
		}
	}
	return s, nil
}

// termSet collects strings for a collector field, dropping duplicates
// while keeping the order of insertion.
type termSet struct {
	seen  map[string]bool
	terms []string
}

func (t *termSet) add(values ...string) {
	if t.seen == nil {
		t.seen = make(map[string]bool)
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || t.seen[v] {
			continue
		}
		t.seen[v] = true
		t.terms = append(t.terms, v)
	}
}

func sortedValues(n model.NameMap) []string {
	out := n.Values()
	sort.Strings(out)
	return out
}

// indexDocument converts a place document into the map handed to bleve.
func indexDocument(d *model.Doc, props *model.DatabaseProperties) (map[string]interface{}, error) {
	stored, err := newStoredDoc(d, props)
	if err != nil {
		return nil, err
	}
	source, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encoding place %s: %w", d.PlaceID, err)
	}

	out := map[string]interface{}{
		fieldPlaceID:        d.PlaceID,
		fieldOsmID:          float64(d.OsmID),
		fieldOsmType:        d.OsmType,
		fieldOsmKey:         d.TagKey,
		fieldOsmValue:       d.TagValue,
		fieldType:           stored.Type,
		fieldImportance:     d.Importance,
		fieldHasHousenumber: d.HouseNumber != "",
		fieldHasName:        len(d.Names) > 0,
		fieldSource:         string(source),
	}
	_, hasStreet := d.AddressParts[model.Street]
	out[fieldHasStreet] = hasStreet

	if d.Centroid != nil {
		out[fieldCoordinate] = map[string]interface{}{
			"lon": d.Centroid.Lon(),
			"lat": d.Centroid.Lat(),
		}
	}
	if d.HouseNumber != "" {
		out[fieldHousenumber] = d.HouseNumber
		out[fieldHousenumberRaw] = d.HouseNumber
	}
	if d.Postcode != "" {
		out[fieldPostcode] = d.Postcode
	}
	if d.CountryCode != "" {
		out[fieldCountryCode] = d.CountryCode
	}
	if len(d.Categories) > 0 {
		out[fieldCategories] = d.Categories
	}
	if len(stored.Extra) > 0 {
		extra := make(map[string]interface{}, len(stored.Extra))
		for k, v := range stored.Extra {
			extra[k] = v
		}
		out[fieldExtra] = extra
	}

	var all, names termSet
	if d.HouseNumber != "" {
		all.add(d.HouseNumber)
	}
	if d.Postcode != "" {
		all.add(d.Postcode)
	}
	if len(d.Names) > 0 {
		primary := sortedValues(d.Names)
		names.add(primary...)
		all.add(primary...)
	}
	fields := map[string]interface{}{}
	if len(d.Names) > 0 {
		fields["name"] = names.terms
	}
	for atype, parts := range d.AddressParts {
		values := sortedValues(parts)
		all.add(values...)
		fields[atype.String()] = values
	}
	if d.CountryCode != "" {
		all.add(d.CountryCode)
	}
	for _, lang := range d.Context.Languages() {
		all.add(d.Context.Names(lang)...)
	}

	collector := map[string]interface{}{
		"all":   all.terms,
		"field": fields,
	}
	if len(names.terms) > 0 {
		collector["name"] = names.terms
	}
	if d.HouseNumber != "" {
		if street, ok := d.AddressParts[model.Street]; ok {
			collector["parent"] = sortedValues(street)
		}
	}
	out["collector"] = collector
	return out, nil
}
