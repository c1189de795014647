package index

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	geoquery "github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testProps() *model.DatabaseProperties {
	props := model.NewDatabaseProperties()
	props.Languages = []string{"en", "de"}
	props.ExtraTags = model.ParseExtraTagFilter([]string{"wikidata", "cuisine"})
	return props
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemOnly(testProps())
	if err != nil {
		t.Fatalf("NewMemOnly: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func berlinNames() model.NameMap {
	return model.NameMap{"default": "Berlin", "en": "Berlin"}
}

func newPlace(placeID string, osmID int64, key, value string, rank int, name string, lon, lat float64) *model.Doc {
	d := model.NewDoc(placeID, "N", osmID, key, value)
	if name != "" {
		d.Names = model.NameMap{"default": name}
	}
	d.RankAddress = rank
	d.Importance = 0.1
	d.SetCentroid(orb.Point{lon, lat})
	d.SetCountryCode("de")
	d.SetCountry(model.NameMap{"default": "Deutschland", "en": "Germany"})
	return d
}

func testCity() *model.Doc {
	d := newPlace("1", 240109189, "place", "city", 16, "", 13.3888, 52.5170)
	d.Names = berlinNames()
	d.Importance = 0.8
	b := orb.Bound{Min: orb.Point{13.08, 52.33}, Max: orb.Point{13.76, 52.67}}
	d.BBox = &b
	return d
}

func testStreet() *model.Doc {
	d := newPlace("2", 4045, "highway", "residential", 26, "Hauptstraße", 13.3600, 52.4870)
	d.OsmType = "W"
	d.AddressParts[model.City] = berlinNames()
	d.Postcode = "10827"
	return d
}

func testHouse() *model.Doc {
	d := newPlace("3", 5001, "building", "yes", 30, "", 13.3605, 52.4872)
	d.HouseNumber = "5"
	d.Postcode = "10827"
	d.AddressParts[model.Street] = model.NameMap{"default": "Hauptstraße"}
	d.AddressParts[model.City] = berlinNames()
	return d
}

func testStation() *model.Doc {
	d := newPlace("4", 3856100103, "railway", "station", 30, "Berlin Hauptbahnhof", 13.3696, 52.5251)
	d.Importance = 0.5
	d.ExtraTags = map[string]string{"wikidata": "Q1097", "operator": "DB"}
	d.AddressParts[model.City] = berlinNames()
	return d
}

func testRestaurant() *model.Doc {
	d := newPlace("5", 6001, "amenity", "restaurant", 30, "Berliner Kindl", 13.3890, 52.5172)
	d.SetCategories([]string{"osm.amenity.restaurant"})
	d.ExtraTags = map[string]string{"cuisine": "german"}
	d.AddressParts[model.City] = berlinNames()
	return d
}

func indexDocs(t *testing.T, s *Store, sets ...[]*model.Doc) {
	t.Helper()
	im := NewImporter(s, 2)
	ctx := context.Background()
	for _, docs := range sets {
		if err := im.Add(ctx, docs); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := im.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func populatedSearcher(t *testing.T) *Searcher {
	t.Helper()
	s := newTestStore(t)
	indexDocs(t, s,
		[]*model.Doc{testCity()},
		[]*model.Doc{testStreet()},
		[]*model.Doc{testHouse()},
		[]*model.Doc{testStation()},
		[]*model.Doc{testRestaurant()},
	)
	return NewSearcher(s)
}

func searchRequest(q string) *geoquery.SearchRequest {
	return &geoquery.SearchRequest{
		Base:  geoquery.Base{Language: "en", Limit: 10},
		Bias:  geoquery.Bias{Scale: 0.2, Zoom: 14},
		Query: q,
	}
}

func placeIDs(results []*Result) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.PlaceID)
	}
	return ids
}

func containsID(results []*Result, id string) bool {
	for _, r := range results {
		if r.PlaceID == id {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestStoreCreateAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photon_data")
	props := testProps()
	s, err := Create(path, props)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	indexDocs(t, s, []*model.Doc{testCity()})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	got := s.Properties()
	if len(got.Languages) != 2 || got.Languages[1] != "de" {
		t.Errorf("unexpected languages %v", got.Languages)
	}
	if len(got.ExtraTags.Tags) != 2 {
		t.Errorf("unexpected extra tag filter %+v", got.ExtraTags)
	}
	n, err := s.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 document, got %d", n)
	}
}

func TestOpenMissingIndex(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nothing-here"))
	if !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
}

func TestImporterAssignsUIDs(t *testing.T) {
	s := newTestStore(t)
	first := testHouse()
	second := first.Clone()
	second.HouseNumber = "7"
	indexDocs(t, s, []*model.Doc{first, second}, []*model.Doc{testCity()})

	u := NewUpdater(s)
	for _, uid := range []string{"3", "3.1", "1"} {
		ok, err := u.Exists(uid)
		if err != nil {
			t.Fatalf("Exists(%s): %v", uid, err)
		}
		if !ok {
			t.Errorf("expected document %s to exist", uid)
		}
	}
	if ok, _ := u.Exists("1.1"); ok {
		t.Error("unexpected document 1.1")
	}
}

func TestUpdaterReplacesDocumentSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := NewUpdater(s)

	var docs []*model.Doc
	for _, hnr := range []string{"1", "3", "5"} {
		d := testHouse()
		d.HouseNumber = hnr
		docs = append(docs, d)
	}
	if err := u.AddOrUpdate(ctx, "3", docs); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	if n, _ := s.DocCount(); n != 3 {
		t.Fatalf("expected 3 documents, got %d", n)
	}

	// Re-indexing with a smaller set drops the surplus documents.
	if err := u.AddOrUpdate(ctx, "3", docs[:1]); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	if n, _ := s.DocCount(); n != 1 {
		t.Fatalf("expected 1 document, got %d", n)
	}
	if ok, _ := u.Exists("3.2"); ok {
		t.Error("stale document 3.2 still indexed")
	}

	// Applying the same set again is a no-op.
	if err := u.AddOrUpdate(ctx, "3", docs[:1]); err != nil {
		t.Fatalf("AddOrUpdate: %v", err)
	}
	if n, _ := s.DocCount(); n != 1 {
		t.Fatalf("expected 1 document after repeat, got %d", n)
	}

	if err := u.Delete(ctx, "3"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := s.DocCount(); n != 0 {
		t.Errorf("expected empty index, got %d", n)
	}
	if err := u.Finish(ctx); err != nil {
		t.Errorf("Finish: %v", err)
	}
}

func TestSearchByName(t *testing.T) {
	s := populatedSearcher(t)
	resp, err := s.Search(context.Background(), searchRequest("Berlin"), 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected results")
	}
	if resp.Results[0].PlaceID != "1" {
		t.Errorf("expected the city first, got %v", placeIDs(resp.Results))
	}
	if resp.Lenient {
		t.Error("strict pass should have matched")
	}
	if got := resp.Results[0].Localised("name", "de"); got != "Berlin" {
		t.Errorf("unexpected localised name %q", got)
	}
	if resp.Results[0].Extent == nil {
		t.Error("expected an extent for the city")
	}
}

func TestSearchFuzzyName(t *testing.T) {
	s := populatedSearcher(t)
	resp, err := s.Search(context.Background(), searchRequest("Berlni"), 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !containsID(resp.Results, "1") {
		t.Errorf("expected Berlin for a misspelled query, got %v", placeIDs(resp.Results))
	}
}

func TestSearchHousenumberNeedsStreet(t *testing.T) {
	s := populatedSearcher(t)
	ctx := context.Background()

	resp, err := s.Search(ctx, searchRequest("Hauptstraße 5"), 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !containsID(resp.Results, "3") {
		t.Errorf("expected the house, got %v", placeIDs(resp.Results))
	}

	resp, err = s.Search(ctx, searchRequest("Parkweg 5"), 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if containsID(resp.Results, "3") {
		t.Errorf("house must not match a different street, got %v", placeIDs(resp.Results))
	}
}

func TestSearchFilters(t *testing.T) {
	s := populatedSearcher(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		modify  func(r *geoquery.SearchRequest)
		want    []string
		notWant []string
	}{
		{
			name:    "layer",
			modify:  func(r *geoquery.SearchRequest) { r.LayerFilters = []string{"city"} },
			want:    []string{"1"},
			notWant: []string{"4", "5"},
		},
		{
			name: "include key",
			modify: func(r *geoquery.SearchRequest) {
				r.OsmTagFilters = []geoquery.TagFilter{{Kind: geoquery.Include, Key: "railway"}}
			},
			want:    []string{"4"},
			notWant: []string{"1", "5"},
		},
		{
			name: "exclude key and value",
			modify: func(r *geoquery.SearchRequest) {
				r.OsmTagFilters = []geoquery.TagFilter{{Kind: geoquery.Exclude, Key: "railway", Value: "station"}}
			},
			want:    []string{"1"},
			notWant: []string{"4"},
		},
		{
			name: "exclude value of key",
			modify: func(r *geoquery.SearchRequest) {
				r.OsmTagFilters = []geoquery.TagFilter{{Kind: geoquery.ExcludeValue, Key: "place", Value: "town"}}
			},
			want:    []string{"1"},
			notWant: []string{"4", "5"},
		},
		{
			name: "extra key",
			modify: func(r *geoquery.SearchRequest) {
				r.OsmTagFilters = []geoquery.TagFilter{{Kind: geoquery.Include, Key: "extra.wikidata"}}
			},
			want:    []string{"4"},
			notWant: []string{"1", "5"},
		},
		{
			name: "extra wildcard value",
			modify: func(r *geoquery.SearchRequest) {
				r.OsmTagFilters = []geoquery.TagFilter{{Kind: geoquery.Include, Key: "extra.cuisine", Value: "germ*"}}
			},
			want:    []string{"5"},
			notWant: []string{"1", "4"},
		},
		{
			name:    "include category",
			modify:  func(r *geoquery.SearchRequest) { r.IncludeCategories = []string{"osm.amenity"} },
			want:    []string{"5"},
			notWant: []string{"1", "4"},
		},
		{
			name:    "exclude category",
			modify:  func(r *geoquery.SearchRequest) { r.ExcludeCategories = []string{"osm.amenity.restaurant"} },
			want:    []string{"1"},
			notWant: []string{"5"},
		},
		{
			name: "bbox",
			modify: func(r *geoquery.SearchRequest) {
				b := orb.Bound{Min: orb.Point{13.365, 52.52}, Max: orb.Point{13.375, 52.53}}
				r.BBox = &b
			},
			want:    []string{"4"},
			notWant: []string{"1", "5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := searchRequest("Berlin")
			tt.modify(req)
			resp, err := s.Search(ctx, req, 10)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			for _, id := range tt.want {
				if !containsID(resp.Results, id) {
					t.Errorf("expected %s in %v", id, placeIDs(resp.Results))
				}
			}
			for _, id := range tt.notWant {
				if containsID(resp.Results, id) {
					t.Errorf("unexpected %s in %v", id, placeIDs(resp.Results))
				}
			}
		})
	}
}

func TestSearchCategoryOnly(t *testing.T) {
	s := populatedSearcher(t)
	req := searchRequest("")
	req.IncludeCategories = []string{"osm.amenity.restaurant"}
	resp, err := s.Search(context.Background(), req, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].PlaceID != "5" {
		t.Errorf("expected only the restaurant, got %v", placeIDs(resp.Results))
	}
}

func TestSearchLocationBias(t *testing.T) {
	s := populatedSearcher(t)
	ctx := context.Background()

	scoreOf := func(req *geoquery.SearchRequest, id string) float64 {
		t.Helper()
		resp, err := s.Search(ctx, req, 10)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		for _, r := range resp.Results {
			if r.PlaceID == id {
				return r.Score
			}
		}
		t.Fatalf("%s not found in %v", id, placeIDs(resp.Results))
		return 0
	}

	plain := scoreOf(searchRequest("Berlin"), "4")

	req := searchRequest("Berlin")
	p := orb.Point{13.3696, 52.5251}
	req.Location = &p
	req.Zoom = 16
	req.Scale = 0
	biased := scoreOf(req, "4")

	if biased <= plain {
		t.Errorf("expected bias to raise the station score, %.4f <= %.4f", biased, plain)
	}
}

func TestStructuredSearch(t *testing.T) {
	s := populatedSearcher(t)
	ctx := context.Background()

	resp, err := s.Structured(ctx, &geoquery.StructuredRequest{
		Base:        geoquery.Base{Language: "en", Limit: 5},
		City:        "Berlin",
		Street:      "Hauptstraße",
		HouseNumber: "5",
	}, 5)
	if err != nil {
		t.Fatalf("Structured: %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].PlaceID != "3" {
		t.Errorf("expected the house first, got %v", placeIDs(resp.Results))
	}

	resp, err = s.Structured(ctx, &geoquery.StructuredRequest{
		Base:        geoquery.Base{Language: "en", Limit: 5},
		CountryCode: "de",
		City:        "Berlin",
	}, 5)
	if err != nil {
		t.Fatalf("Structured: %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].PlaceID != "1" {
		t.Errorf("expected the city, got %v", placeIDs(resp.Results))
	}
	if containsID(resp.Results, "3") {
		t.Errorf("houses must not match without housenumber, got %v", placeIDs(resp.Results))
	}
}

func TestStructuredSearchDropsUnknownStreet(t *testing.T) {
	s := populatedSearcher(t)
	resp, err := s.Structured(context.Background(), &geoquery.StructuredRequest{
		Base:   geoquery.Base{Language: "en", Limit: 5},
		City:   "Berlin",
		Street: "Xylophonallee",
	}, 5)
	if err != nil {
		t.Fatalf("Structured: %v", err)
	}
	if !resp.Lenient {
		t.Error("expected the lenient fallback")
	}
	if !containsID(resp.Results, "1") {
		t.Errorf("expected the city as fallback, got %v", placeIDs(resp.Results))
	}
}

func TestReverseNearestFirst(t *testing.T) {
	s := populatedSearcher(t)
	req := &geoquery.ReverseRequest{
		Base:         geoquery.Base{Language: "en", Limit: 3},
		Location:     orb.Point{13.3889, 52.5171},
		Radius:       1,
		DistanceSort: true,
	}
	resp, err := s.Reverse(context.Background(), req)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	ids := placeIDs(resp.Results)
	if len(ids) != 2 {
		t.Fatalf("expected city and restaurant within 1km, got %v", ids)
	}
	if resp.Results[0].Distance > resp.Results[1].Distance {
		t.Errorf("results not sorted by distance: %v", ids)
	}

	req.LayerFilters = []string{"house"}
	resp, err = s.Reverse(context.Background(), req)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].PlaceID != "5" {
		t.Errorf("expected only the restaurant, got %v", placeIDs(resp.Results))
	}
}

func TestReverseFilters(t *testing.T) {
	s := populatedSearcher(t)
	atCity := orb.Point{13.3888, 52.5170}

	tests := []struct {
		name   string
		radius float64
		qs     string
		tags   []geoquery.TagFilter
		byDist bool
		want   []string
	}{
		{name: "query string matches tag value", radius: 1, qs: "restaurant", byDist: true, want: []string{"5"}},
		{name: "query string matches name", radius: 1, qs: "Berliner", byDist: true, want: []string{"5"}},
		{name: "query string with field", radius: 1, qs: "osm_value:restaurant", byDist: true, want: []string{"5"}},
		{name: "query string matches extra tag", radius: 1, qs: "german", byDist: true, want: []string{"5"}},
		{name: "distance order", radius: 1, qs: "restaurant berlin", byDist: true, want: []string{"1", "5"}},
		{name: "score order", radius: 1, qs: "restaurant berlin", byDist: false, want: []string{"5", "1"}},
		{name: "radius excludes station", radius: 1, tags: []geoquery.TagFilter{{Kind: geoquery.Include, Key: "railway"}}, byDist: true, want: nil},
		{name: "radius includes station", radius: 2, tags: []geoquery.TagFilter{{Kind: geoquery.Include, Key: "railway"}}, byDist: true, want: []string{"4"}},
		{name: "include key and value", radius: 2, tags: []geoquery.TagFilter{{Kind: geoquery.Include, Key: "amenity", Value: "restaurant"}}, byDist: true, want: []string{"5"}},
		{name: "exclude key", radius: 2, tags: []geoquery.TagFilter{{Kind: geoquery.Exclude, Key: "amenity"}, {Kind: geoquery.Exclude, Key: "railway"}}, byDist: true, want: []string{"1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &geoquery.ReverseRequest{
				Base:              geoquery.Base{Language: "en", Limit: 5, OsmTagFilters: tt.tags},
				Location:          atCity,
				Radius:            tt.radius,
				QueryStringFilter: tt.qs,
				DistanceSort:      tt.byDist,
			}
			resp, err := s.Reverse(context.Background(), req)
			if err != nil {
				t.Fatalf("Reverse: %v", err)
			}
			got := placeIDs(resp.Results)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	s := populatedSearcher(t)
	ctx := context.Background()

	r, err := s.Lookup(ctx, &geoquery.LookupRequest{PlaceID: "4", Language: "en"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if r.OsmKey != "railway" || r.OsmID != 3856100103 {
		t.Errorf("unexpected result %+v", r)
	}
	if r.Extra["wikidata"] != "Q1097" {
		t.Errorf("expected wikidata extra tag, got %v", r.Extra)
	}
	if _, ok := r.Extra["operator"]; ok {
		t.Error("operator is not in the extra tag filter")
	}

	_, err = s.Lookup(ctx, &geoquery.LookupRequest{PlaceID: "999"})
	if !errors.Is(err, apperrors.ErrPlaceNotFound) {
		t.Errorf("expected ErrPlaceNotFound, got %v", err)
	}
}
