package index

import (
	"context"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	geoquery "github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
)

// Boosts of the structured address fields. The state is unreliable
// (abbreviations, translations) and weighs little, streets are filtered by
// the city and can weigh a lot.
const (
	stateBoost       = 0.1
	countyBoost      = 4.0
	cityBoost        = 3.0
	postcodeBoost    = 7.0
	districtBoost    = 2.0
	streetBoost      = 5.0
	housenumberBoost = 10.0
)

// addressQuery assembles the query of a structured search.
type addressQuery struct {
	lenient    bool
	must       []query.Query
	should     []query.Query
	filters    []query.Query
	cityFilter []query.Query
	analyze    func(string) []string
}

// fieldMatch matches value against the address field name, as a phrase or
// fuzzily on lenient queries.
func (a *addressQuery) fieldMatch(name, value string, boost float64) query.Query {
	field := collectorField(name)
	if a.lenient {
		terms := a.analyze(value)
		if len(terms) == 0 {
			return bleve.NewMatchNoneQuery()
		}
		return termsMatch(field, terms, true, 0, 1, boost)
	}
	q := bleve.NewMatchPhraseQuery(value)
	q.SetField(field)
	q.Analyzer = analyzerSearch
	q.SetBoost(boost)
	return q
}

// nameMatch matches value against the name of places of the given type.
func (a *addressQuery) nameMatch(value, objectType string, boost float64) query.Query {
	b := bleve.NewBooleanQuery()
	b.AddMust(a.fieldMatch("name", value, 1))
	t := termQuery(fieldType, objectType)
	t.SetBoost(filterBoost)
	b.AddMust(t)
	b.SetBoost(boost)
	return b
}

// nameOrField searches the place itself when it is the most detailed part
// of the address, otherwise the address field of more detailed places.
func (a *addressQuery) nameOrField(field, value string, boost float64, objectType string, hasMoreDetails bool) query.Query {
	if hasMoreDetails {
		return a.fieldMatch(field, value, 1)
	}
	return a.nameMatch(value, objectType, boost)
}

func either(boost float64, qs ...query.Query) query.Query {
	d := bleve.NewDisjunctionQuery(qs...)
	d.SetBoost(boost)
	return d
}

func (a *addressQuery) countryCode(cc string, hasMoreDetails bool) {
	if cc == "" {
		return
	}
	a.filters = append(a.filters, termQuery(fieldCountryCode, strings.ToUpper(cc)))
	if !hasMoreDetails {
		a.filters = append(a.filters, termQuery(fieldType, "country"))
	}
}

func (a *addressQuery) state(state string, hasMoreDetails bool) {
	if state != "" {
		a.should = append(a.should, a.nameOrField("state", state, stateBoost, "state", hasMoreDetails))
	}
}

func (a *addressQuery) county(county string, hasMoreDetails bool) {
	if county != "" {
		a.must = append(a.must, a.nameOrField("county", county, countyBoost, "county", hasMoreDetails))
	}
}

// city matches the city. Without an explicit district the city may also
// be given as a district name.
func (a *addressQuery) city(city string, hasDistrict, hasStreet, hasPostcode bool) {
	if city == "" {
		return
	}
	nameQ := a.nameMatch(city, "city", cityBoost)
	fieldQ := a.fieldMatch("city", city, cityBoost)
	if !hasDistrict {
		nameQ = either(1, nameQ, a.nameMatch(city, "district", 0.95*cityBoost))
		fieldQ = either(1, fieldQ, a.fieldMatch("district", city, 0.95*cityBoost))
	}

	var combined query.Query
	switch {
	case hasStreet || hasDistrict:
		combined = fieldQ
	case hasPostcode:
		// The postcode may imply a district that has the city in its
		// address instead of its name.
		combined = either(1, nameQ, fieldQ)
	default:
		combined = nameQ
	}
	a.cityFilter = append(a.cityFilter, combined)
	a.must = append(a.must, combined)
}

func (a *addressQuery) postcode(pc string) {
	if pc == "" {
		return
	}
	q := matchQuery(fieldPostcode, pc, analyzerSearch, postcodeBoost)
	q.SetOperator(query.MatchQueryOperatorAnd)
	if a.lenient {
		q.SetFuzziness(autoFuzziness(strings.ReplaceAll(pc, " ", "")))
	}
	a.cityFilter = append(a.cityFilter, q)
	a.must = append(a.must, q)
}

func (a *addressQuery) district(district string, hasMoreDetails bool) {
	if district == "" {
		return
	}
	q := a.nameOrField("district", district, districtBoost, "district", hasMoreDetails)
	a.cityFilter = append(a.cityFilter, q)
	a.must = append(a.must, q)
}

func (a *addressQuery) housenumberPhrase(hnr string) query.Query {
	q := bleve.NewMatchPhraseQuery(hnr)
	q.SetField(fieldHousenumber)
	q.Analyzer = analyzerSearch
	return q
}

func (a *addressQuery) streetAndHousenumber(street, hnr string) {
	if street == "" {
		if hnr != "" {
			// Some hamlets number their buildings without streets.
			b := bleve.NewBooleanQuery()
			b.AddMust(a.housenumberPhrase(hnr))
			b.AddMustNot(boolQuery(fieldHasStreet, true))
			a.must = append(a.must, b)
		}
		return
	}

	var streetQ query.Query
	switch {
	case !a.lenient:
		streetQ = a.fieldMatch("street", street, streetBoost)
	case hnr == "":
		streetQ = a.nameMatch(street, "street", streetBoost)
	default:
		streetQ = either(streetBoost, a.fieldMatch("street", street, 1), a.nameMatch(street, "street", 1))
	}

	if hnr != "" {
		match := bleve.NewBooleanQuery()
		match.AddMust(a.housenumberPhrase(hnr), a.fieldMatch("street", street, filterBoost))
		if len(a.cityFilter) > 0 {
			match.AddMust(either(filterBoost, a.cityFilter...))
		}
		a.must = append(a.must, either(housenumberBoost, match, boolQuery(fieldHasHousenumber, false)))
	}
	a.must = append(a.must, streetQ)
}

func (a *addressQuery) build() query.Query {
	b := bleve.NewBooleanQuery()
	if len(a.must) > 0 {
		b.AddMust(a.must...)
	}
	if len(a.should) > 0 {
		b.AddShould(a.should...)
	}
	for _, f := range a.filters {
		if bq, ok := f.(query.BoostableQuery); ok {
			bq.SetBoost(filterBoost)
		}
		b.AddMust(f)
	}
	if len(a.must) == 0 && len(a.filters) == 0 {
		b.SetMinShould(1)
	}
	return b
}

func (s *Searcher) structuredQuery(req *geoquery.StructuredRequest, lenient bool) query.Query {
	hasSubState := req.HasCounty() || req.HasCityOrPostCode() || req.HasDistrict() || req.HasStreet()
	a := &addressQuery{lenient: lenient, analyze: s.analyze}
	a.countryCode(req.CountryCode, req.HasState() || hasSubState)
	a.state(req.State, hasSubState)
	a.county(req.County, req.HasCityOrPostCode() || req.HasDistrict() || req.HasStreet())
	a.city(req.City, req.HasDistrict(), req.HasStreet(), req.HasPostCode())
	a.postcode(req.PostCode)
	a.district(req.District, req.HasStreet())
	a.streetAndHousenumber(req.Street, req.HouseNumber)

	f := &filtered{scoring: a.build()}
	if !req.HasHouseNumber() {
		f.exclude(boolQuery(fieldHasHousenumber, true))
		f.exclude(termQuery(fieldType, "house"))
	} else {
		// Houses need a housenumber, everything else passes.
		house := bleve.NewBooleanQuery()
		house.AddMust(termQuery(fieldType, "house"), boolQuery(fieldHasHousenumber, false))
		f.exclude(house)
	}
	f.exclude(termQuery(fieldType, "other"))
	f.base(req.Base)
	f.boundingBox(req.BBox)
	return f.build()
}

// Structured runs a structured address search. A strict pass is followed
// by a lenient one and, if there is still nothing, by a lenient search
// without street and housenumber.
func (s *Searcher) Structured(ctx context.Context, req *geoquery.StructuredRequest, size int) (*Response, error) {
	start := time.Now()
	rk := ranking{bias: newLocationBias(req.Bias)}

	resp, err := s.execute(ctx, s.structuredQuery(req, false), rk, size, false)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		resp, err = s.execute(ctx, s.structuredQuery(req, true), rk, size, false)
		if err != nil {
			return nil, err
		}
		resp.Lenient = true

		if len(resp.Results) == 0 && req.HasStreet() {
			reduced := *req
			reduced.Street = ""
			reduced.HouseNumber = ""
			resp, err = s.execute(ctx, s.structuredQuery(&reduced, true), rk, size, false)
			if err != nil {
				return nil, err
			}
			resp.Lenient = true
		}
	}
	resp.Took = time.Since(start)
	s.logger.Debug("structured search executed",
		"results", len(resp.Results),
		"lenient", resp.Lenient,
		"took_ms", resp.Took.Milliseconds(),
	)
	return resp, nil
}
