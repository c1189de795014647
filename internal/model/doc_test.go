package model

import (
	"reflect"
	"testing"
)

// ----- Helpers -----

func newTestDoc(rank int) *Doc {
	d := NewDoc("1000", "N", 1, "place", "house")
	d.RankAddress = rank
	return d
}

func row(name string, key, value string, rank int) AddressRow {
	return AddressRow{
		Names:       NameMap{"default": name},
		Context:     ContextMap{},
		OsmKey:      key,
		OsmValue:    value,
		RankAddress: rank,
	}
}

// ----- Tests -----

func TestNewDocDefaults(t *testing.T) {
	d := NewDoc("1", "W", 2, DefaultOsmKey, DefaultOsmValue)
	if d.RankAddress != 30 || d.TagKey != "place" || d.TagValue != "yes" {
		t.Errorf("unexpected defaults %+v", d)
	}
	if d.IsUsefulForIndex() {
		t.Error("doc without names or housenumber must not be useful")
	}
	d.HouseNumber = "3"
	if !d.IsUsefulForIndex() {
		t.Error("doc with housenumber must be useful")
	}
}

func TestSetCountryCodeUppercases(t *testing.T) {
	d := newTestDoc(30)
	d.SetCountryCode("de")
	if d.CountryCode != "DE" {
		t.Errorf("expected DE, got %s", d.CountryCode)
	}
}

func TestSetExtraTagsOverridesClassification(t *testing.T) {
	tests := []struct {
		tags      map[string]string
		wantKey   string
		wantValue string
	}{
		{map[string]string{"wikidata": "Q1"}, "boundary", "administrative"},
		{map[string]string{"place": "city", "linked_place": "town"}, "place", "city"},
		{map[string]string{"linked_place": "town"}, "place", "town"},
		{nil, "boundary", "administrative"},
	}
	for _, tt := range tests {
		d := NewDoc("1", "R", 1, "boundary", "administrative")
		d.SetExtraTags(tt.tags)
		if d.TagKey != tt.wantKey || d.TagValue != tt.wantValue {
			t.Errorf("%v: expected %s=%s, got %s=%s", tt.tags, tt.wantKey, tt.wantValue, d.TagKey, d.TagValue)
		}
	}
}

func TestSetCategoriesFilters(t *testing.T) {
	d := newTestDoc(30)
	d.SetCategories([]string{"osm.amenity.cafe", "bad", "", "a.b,c.d", "osm.amenity.cafe", "x..y", "wiki.Q 1"})
	want := []string{"a.b,c.d", "osm.amenity.cafe"}
	if !reflect.DeepEqual(d.Categories, want) {
		t.Errorf("expected %v, got %v", want, d.Categories)
	}
}

func TestUID(t *testing.T) {
	if got := UID("77", 0); got != "77" {
		t.Errorf("expected 77, got %s", got)
	}
	if got := UID("77", 3); got != "77.3" {
		t.Errorf("expected 77.3, got %s", got)
	}
}

func TestAddAddressRowsFillsHierarchy(t *testing.T) {
	d := newTestDoc(30)
	d.AddAddressRows([]AddressRow{
		row("Main Street", "highway", "residential", 26),
		row("Suburbia", "place", "suburb", 20),
		row("Bigtown", "place", "city", 16),
		row("Othertown", "place", "town", 16),
		row("Statey", "boundary", "administrative", 8),
	})

	checks := map[AddressType]string{
		Street:   "Main Street",
		District: "Suburbia",
		City:     "Bigtown",
		State:    "Statey",
	}
	for at, name := range checks {
		if got := d.AddressParts[at]["default"]; got != name {
			t.Errorf("%s: expected %q, got %q", at, name, got)
		}
	}
	if got := d.Context.Names("default"); !reflect.DeepEqual(got, []string{"Othertown"}) {
		t.Errorf("expected second city as context, got %v", got)
	}
}

func TestAddAddressRowsPostcode(t *testing.T) {
	d := newTestDoc(30)
	pc := AddressRow{Names: NameMap{"ref": "12345"}, OsmKey: "place", OsmValue: "postcode", RankAddress: 21}
	d.AddAddressRows([]AddressRow{pc})
	if d.Postcode != "12345" {
		t.Errorf("expected postcode 12345, got %q", d.Postcode)
	}
	if len(d.AddressParts) != 0 {
		t.Errorf("postcode rows must not fill address parts, got %v", d.AddressParts)
	}
}

func TestAddAddressRowsOwnTypeGoesToContext(t *testing.T) {
	d := newTestDoc(16)
	d.AddAddressRows([]AddressRow{row("Parent City", "place", "city", 16)})
	if _, ok := d.AddressParts[City]; ok {
		t.Error("a city must not get a parent city")
	}
	if got := d.Context.Names("default"); !reflect.DeepEqual(got, []string{"Parent City"}) {
		t.Errorf("expected parent in context, got %v", got)
	}
}

func TestAddAddressRowsMergesRowContext(t *testing.T) {
	d := newTestDoc(30)
	r := row("Town", "place", "town", 16)
	r.Context.AddName("default", "Old Town Name")
	d.AddAddressRows([]AddressRow{r})
	if got := d.Context.Names("default"); !reflect.DeepEqual(got, []string{"Old Town Name"}) {
		t.Errorf("unexpected context %v", got)
	}
}

func TestAddAddressTags(t *testing.T) {
	d := newTestDoc(30)
	d.SetAddressPartIfNew(City, NameMap{"default": "Hamburg", "en": "Hamburgh"})
	d.AddAddressTags(map[string]string{
		"postcode":     "20095",
		"street":       "Jungfernstieg",
		"street:de":    "Jungfernstieg DE",
		"street:ru":    "ignored",
		"city":         "Altona",
		"city:en":      "Hamburgh",
		"suburb":       "Neustadt",
		"hamlet":       "Little",
		"village:en":   "Villagey",
		"village:ru":   "skipped",
		"streetnumber": "ignored, no language suffix",
	}, []string{"de", "en"})

	if d.Postcode != "20095" {
		t.Errorf("expected postcode, got %q", d.Postcode)
	}
	want := NameMap{"default": "Jungfernstieg", "de": "Jungfernstieg DE"}
	if got := d.AddressParts[Street]; !reflect.DeepEqual(got, want) {
		t.Errorf("expected street %v, got %v", want, got)
	}
	if got := d.AddressParts[City]; !reflect.DeepEqual(got, NameMap{"default": "Altona", "en": "Hamburgh"}) {
		t.Errorf("unexpected city %v", got)
	}
	if got := d.AddressParts[District]["default"]; got != "Neustadt" {
		t.Errorf("unexpected district %q", got)
	}
	if got := d.Context.Names("default"); !reflect.DeepEqual(got, []string{"Hamburg", "Little"}) {
		t.Errorf("unexpected default context %v", got)
	}
	if got := d.Context.Names("en"); !reflect.DeepEqual(got, []string{"Villagey"}) {
		t.Errorf("unexpected en context %v", got)
	}
	if _, ok := d.Context["ru"]; ok {
		t.Error("unconfigured language must not reach context")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	d := newTestDoc(30)
	d.SetAddressPartIfNew(Street, NameMap{"default": "A"})
	c := d.Clone()
	c.AddressParts[Street] = NameMap{"default": "B"}
	c.Context.AddName("default", "x")
	if d.AddressParts[Street]["default"] != "A" {
		t.Error("clone modified original address parts")
	}
	if len(d.Context) != 0 {
		t.Error("clone modified original context")
	}
}
