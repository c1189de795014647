// Package dump writes place documents to a newline-delimited JSON file and
// reads them back. A dump decouples reading Nominatim from building the
// index: it can be produced on the database host and imported elsewhere.
//
// Every line is an object {"type": ..., "content": ...}. The first line is
// the header, followed by one CountryInfo line and one Place line per place
// whose content is the array of its documents.
package dump

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
)

const (
	FormatVersion = "0.1.0"

	typeHeader  = "NominatimDumpFile"
	typeCountry = "CountryInfo"
	typePlace   = "Place"
)

// Header describes the dump.
type Header struct {
	Version         string               `json:"version"`
	Generator       string               `json:"generator"`
	DatabaseVersion string               `json:"database_version"`
	DataTimestamp   time.Time            `json:"data_timestamp"`
	Languages       []string             `json:"languages"`
	ExtraTags       model.ExtraTagFilter `json:"extra_tags"`
	Features        Features             `json:"features"`
}

// Features lists optional content of the dump.
type Features struct {
	SortedByCountry bool `json:"sorted_by_country"`
	HasGeometries   bool `json:"has_geometries"`
}

// Properties returns the index properties matching the dumped data.
func (h *Header) Properties() *model.DatabaseProperties {
	props := model.NewDatabaseProperties()
	if len(h.Languages) > 0 {
		props.Languages = append([]string(nil), h.Languages...)
	}
	props.ImportDate = h.DataTimestamp
	props.SupportGeometries = h.Features.HasGeometries
	props.ExtraTags = h.ExtraTags
	return props
}

type line struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

type countryInfo struct {
	CountryCode string        `json:"country_code"`
	Name        model.NameMap `json:"name"`
}

// place is the dumped form of one document. The country is not repeated
// per document, it is restored from the CountryInfo line.
type place struct {
	PlaceID     string                   `json:"place_id"`
	ObjectType  string                   `json:"object_type"`
	ObjectID    int64                    `json:"object_id"`
	OsmKey      string                   `json:"osm_key"`
	OsmValue    string                   `json:"osm_value"`
	Categories  []string                 `json:"categories,omitempty"`
	RankAddress int                      `json:"rank_address"`
	Importance  float64                  `json:"importance"`
	Name        model.NameMap            `json:"name,omitempty"`
	HouseNumber string                   `json:"housenumber,omitempty"`
	Address     map[string]model.NameMap `json:"address,omitempty"`
	Context     map[string][]string      `json:"context,omitempty"`
	Extra       map[string]string        `json:"extra,omitempty"`
	Postcode    string                   `json:"postcode,omitempty"`
	CountryCode string                   `json:"country_code,omitempty"`
	Centroid    []float64                `json:"centroid"`
	BBox        []float64                `json:"bbox,omitempty"`
	Geometry    json.RawMessage          `json:"geometry,omitempty"`
}

func fromDoc(d *model.Doc, extra model.ExtraTagFilter) (*place, error) {
	p := &place{
		PlaceID:     d.PlaceID,
		ObjectType:  d.OsmType,
		ObjectID:    d.OsmID,
		OsmKey:      d.TagKey,
		OsmValue:    d.TagValue,
		Categories:  d.Categories,
		RankAddress: d.RankAddress,
		Importance:  d.Importance,
		Name:        d.Names,
		HouseNumber: d.HouseNumber,
		Postcode:    d.Postcode,
		Centroid:    []float64{d.Centroid.Lon(), d.Centroid.Lat()},
	}
	if d.CountryCode != "" {
		p.CountryCode = strings.ToLower(d.CountryCode)
	}
	if len(d.Names) == 0 {
		p.Name = nil
	}
	for atype, names := range d.AddressParts {
		if atype == model.Country || len(names) == 0 {
			continue
		}
		if p.Address == nil {
			p.Address = make(map[string]model.NameMap)
		}
		p.Address[atype.String()] = names
	}
	for _, lang := range d.Context.Languages() {
		if p.Context == nil {
			p.Context = make(map[string][]string)
		}
		p.Context[lang] = d.Context.Names(lang)
	}
	if tags := extra.Filter(d.ExtraTags); len(tags) > 0 {
		p.Extra = tags
	}
	if d.BBox != nil {
		p.BBox = []float64{d.BBox.Min.Lon(), d.BBox.Max.Lat(), d.BBox.Max.Lon(), d.BBox.Min.Lat()}
	}
	if d.Geometry != nil {
		raw, err := json.Marshal(geojson.NewGeometry(d.Geometry))
		if err != nil {
			return nil, fmt.Errorf("encoding geometry of place %s: %w", d.PlaceID, err)
		}
		p.Geometry = raw
	}
	return p, nil
}

func (p *place) toDoc(countries map[string]model.NameMap) (*model.Doc, error) {
	if len(p.Centroid) != 2 {
		return nil, fmt.Errorf("place %s: centroid needs two coordinates", p.PlaceID)
	}
	d := model.NewDoc(p.PlaceID, p.ObjectType, p.ObjectID, p.OsmKey, p.OsmValue)
	d.SetCategories(p.Categories)
	d.RankAddress = p.RankAddress
	d.Importance = p.Importance
	if p.Name != nil {
		d.Names = p.Name
	}
	d.HouseNumber = p.HouseNumber
	d.Postcode = p.Postcode
	d.SetCentroid(orb.Point{p.Centroid[0], p.Centroid[1]})
	if p.Extra != nil {
		d.ExtraTags = p.Extra
	}
	for name, names := range p.Address {
		atype, ok := model.ParseAddressType(name)
		if !ok || atype == model.Other {
			return nil, fmt.Errorf("place %s: unknown address type %q", p.PlaceID, name)
		}
		d.AddressParts[atype] = names
	}
	for lang, names := range p.Context {
		for _, n := range names {
			d.Context.AddName(lang, n)
		}
	}
	if len(p.BBox) == 4 {
		d.BBox = &orb.Bound{
			Min: orb.Point{p.BBox[0], p.BBox[3]},
			Max: orb.Point{p.BBox[2], p.BBox[1]},
		}
	}
	if len(p.Geometry) > 0 {
		g, err := geojson.UnmarshalGeometry(p.Geometry)
		if err != nil {
			return nil, fmt.Errorf("place %s: decoding geometry: %w", p.PlaceID, err)
		}
		d.Geometry = g.Geometry()
	}
	if p.CountryCode != "" {
		d.SetCountryCode(p.CountryCode)
		if names, ok := countries[p.CountryCode]; ok && len(names) > 0 {
			d.SetCountry(names)
		}
	}
	return d, nil
}
