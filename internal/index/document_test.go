package index

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
)

func TestIndexDocumentCollector(t *testing.T) {
	d := testHouse()
	d.Context.AddName("default", "Schöneberg")
	d.ExtraTags = map[string]string{"wikidata": "Q1", "fixme": "check"}

	m, err := indexDocument(d, testProps())
	if err != nil {
		t.Fatalf("indexDocument: %v", err)
	}
	if m[fieldType] != "house" {
		t.Errorf("expected type house, got %v", m[fieldType])
	}
	if m[fieldHasHousenumber] != true || m[fieldHasName] != false || m[fieldHasStreet] != true {
		t.Errorf("unexpected existence flags %v %v %v",
			m[fieldHasHousenumber], m[fieldHasName], m[fieldHasStreet])
	}

	collector := m["collector"].(map[string]interface{})
	all := collector["all"].([]string)
	for _, want := range []string{"5", "10827", "Hauptstraße", "Berlin", "Schöneberg", "DE"} {
		found := false
		for _, term := range all {
			if term == want {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %q in collector.all %v", want, all)
		}
	}
	if parent, ok := collector["parent"].([]string); !ok || len(parent) != 1 || parent[0] != "Hauptstraße" {
		t.Errorf("unexpected parent %v", collector["parent"])
	}
	if _, ok := collector["name"]; ok {
		t.Error("unnamed place must not have a name collector")
	}

	extra := m[fieldExtra].(map[string]interface{})
	if extra["wikidata"] != "Q1" {
		t.Errorf("expected wikidata extra, got %v", extra)
	}
	if _, ok := extra["fixme"]; ok {
		t.Error("fixme is not in the extra tag filter")
	}
}

func TestStoredDocRoundTrip(t *testing.T) {
	d := testCity()
	d.Names["alt"] = "Spree-Athen"
	d.Geometry = orb.Polygon{{{13.0, 52.3}, {13.8, 52.3}, {13.8, 52.7}, {13.0, 52.3}}}

	m, err := indexDocument(d, testProps())
	if err != nil {
		t.Fatalf("indexDocument: %v", err)
	}
	r, err := decodeResult("1", m[fieldSource].(string))
	if err != nil {
		t.Fatalf("decodeResult: %v", err)
	}
	if r.PlaceID != "1" || r.OsmKey != "place" || r.OsmValue != "city" || r.Type != "city" {
		t.Errorf("unexpected identity %+v", r)
	}
	if r.Coordinate == nil || r.Coordinate.Lon() != 13.3888 || r.Coordinate.Lat() != 52.5170 {
		t.Errorf("unexpected coordinate %v", r.Coordinate)
	}
	ext := r.ExtentArray()
	if len(ext) != 4 || ext[0] != 13.08 || ext[1] != 52.67 || ext[2] != 13.76 || ext[3] != 52.33 {
		t.Errorf("unexpected extent %v", ext)
	}
	if _, ok := r.Geometry.(orb.Polygon); !ok {
		t.Errorf("expected polygon geometry, got %T", r.Geometry)
	}
	if got := r.Localised("country", "en"); got != "Germany" {
		t.Errorf("expected Germany, got %q", got)
	}
	if got := r.Localised("country", "fr"); got != "Deutschland" {
		t.Errorf("expected default country name, got %q", got)
	}
	if got := r.Localised("city", "en"); got != "" {
		t.Errorf("expected no city, got %q", got)
	}
}

func TestLocalisedNamePrecedence(t *testing.T) {
	tests := []struct {
		names model.NameMap
		lang  string
		want  string
	}{
		{model.NameMap{"default": "A", "de": "B"}, "de", "B"},
		{model.NameMap{"default": "A", "de": "B"}, "fr", "A"},
		{model.NameMap{"housename": "H", "alt": "X"}, "en", "H"},
		{model.NameMap{"old": "O", "reg": "R"}, "en", "R"},
		{model.NameMap{}, "en", ""},
	}
	for _, tt := range tests {
		r := &Result{Names: tt.names}
		if got := r.Localised("name", tt.lang); got != tt.want {
			t.Errorf("Localised(%v, %s) = %q, want %q", tt.names, tt.lang, got, tt.want)
		}
	}
}

func TestPointGeometryNotStored(t *testing.T) {
	d := testStation()
	d.Geometry = orb.Point{13.3696, 52.5251}
	s, err := newStoredDoc(d, testProps())
	if err != nil {
		t.Fatalf("newStoredDoc: %v", err)
	}
	if s.Geometry != nil {
		t.Errorf("point geometries are not stored, got %s", s.Geometry)
	}
	if s.Extent != nil {
		t.Errorf("expected no extent, got %v", s.Extent)
	}
}
