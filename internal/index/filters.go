package index

import (
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/paulmach/orb"

	geoquery "github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/query"
)

// filterBoost keeps filter clauses from contributing to the score. A zero
// boost is avoided because it breaks query normalization.
const filterBoost = 0.0001

// filtered collects the scoring query and the filter clauses of a search.
type filtered struct {
	scoring query.Query
	must    []query.Query
	mustNot []query.Query
}

func (f *filtered) filter(q query.Query) {
	if q == nil {
		return
	}
	if b, ok := q.(query.BoostableQuery); ok {
		b.SetBoost(filterBoost)
	}
	f.must = append(f.must, q)
}

func (f *filtered) exclude(q query.Query) {
	if q != nil {
		f.mustNot = append(f.mustNot, q)
	}
}

func (f *filtered) build() query.Query {
	if len(f.must) == 0 && len(f.mustNot) == 0 {
		return f.scoring
	}
	b := bleve.NewBooleanQuery()
	if f.scoring != nil {
		b.AddMust(f.scoring)
	}
	if len(f.must) > 0 {
		b.AddMust(f.must...)
	}
	if len(f.mustNot) > 0 {
		b.AddMustNot(f.mustNot...)
	}
	return b
}

func termQuery(field, term string) *query.TermQuery {
	q := bleve.NewTermQuery(term)
	q.SetField(field)
	return q
}

func boolQuery(field string, v bool) *query.BoolFieldQuery {
	q := bleve.NewBoolFieldQuery(v)
	q.SetField(field)
	return q
}

func anyTerm(field string, terms []string) query.Query {
	if len(terms) == 1 {
		return termQuery(field, terms[0])
	}
	qs := make([]query.Query, 0, len(terms))
	for _, t := range terms {
		qs = append(qs, termQuery(field, t))
	}
	return bleve.NewDisjunctionQuery(qs...)
}

// tagMatch matches a key or value of an osm_tag filter. extra.* keys
// address the indexed extra tags, where values may contain * and ?
// wildcards.
func tagMatch(f geoquery.TagFilter) query.Query {
	if f.IsExtra() {
		field := f.Key
		value := f.Value
		if value == "" {
			value = "*"
		}
		if strings.ContainsAny(value, "*?") {
			q := bleve.NewWildcardQuery(value)
			q.SetField(field)
			return q
		}
		return termQuery(field, value)
	}
	switch {
	case f.IsKeyOnly():
		return termQuery(fieldOsmKey, f.Key)
	case f.IsValueOnly():
		return termQuery(fieldOsmValue, f.Value)
	}
	b := bleve.NewBooleanQuery()
	b.AddMust(termQuery(fieldOsmKey, f.Key), termQuery(fieldOsmValue, f.Value))
	return b
}

// tagFilters adds the osm_tag filters. Include filters are alternatives,
// a place matching any exclude filter is dropped.
func (f *filtered) tagFilters(filters []geoquery.TagFilter) {
	var include, exclude []query.Query
	for _, tf := range filters {
		switch tf.Kind {
		case geoquery.ExcludeValue:
			b := bleve.NewBooleanQuery()
			if tf.IsExtra() {
				b.AddMust(tagMatch(geoquery.TagFilter{Key: tf.Key}))
			} else {
				b.AddMust(termQuery(fieldOsmKey, tf.Key))
			}
			b.AddMustNot(tagMatch(geoquery.TagFilter{Key: valueKey(tf), Value: tf.Value}))
			include = append(include, b)
		case geoquery.Include:
			include = append(include, tagMatch(tf))
		case geoquery.Exclude:
			exclude = append(exclude, tagMatch(tf))
		}
	}
	if len(include) > 0 {
		f.filter(bleve.NewDisjunctionQuery(include...))
	}
	for _, q := range exclude {
		f.exclude(q)
	}
}

// valueKey is the key an exclude-value filter checks its value against.
// Plain OSM tags compare against osm_value.
func valueKey(tf geoquery.TagFilter) string {
	if tf.IsExtra() {
		return tf.Key
	}
	return ""
}

func (f *filtered) layers(layers []string) {
	if len(layers) > 0 {
		f.filter(anyTerm(fieldType, layers))
	}
}

// categoryMatch matches the category itself and all its sub-categories.
func categoryMatch(category string) query.Query {
	prefix := bleve.NewPrefixQuery(category + ".")
	prefix.SetField(fieldCategories)
	return bleve.NewDisjunctionQuery(termQuery(fieldCategories, category), prefix)
}

// categories adds the include and exclude parameters. Every include
// parameter must match one of its comma separated categories. A place is
// dropped when it has all categories of an exclude parameter.
func (f *filtered) categories(include, exclude []string) {
	for _, param := range include {
		var alts []query.Query
		for _, c := range strings.Split(param, ",") {
			alts = append(alts, categoryMatch(c))
		}
		f.filter(bleve.NewDisjunctionQuery(alts...))
	}
	for _, param := range exclude {
		var all []query.Query
		for _, c := range strings.Split(param, ",") {
			all = append(all, categoryMatch(c))
		}
		f.exclude(bleve.NewConjunctionQuery(all...))
	}
}

func (f *filtered) boundingBox(b *orb.Bound) {
	if b == nil {
		return
	}
	q := bleve.NewGeoBoundingBoxQuery(b.Min.Lon(), b.Max.Lat(), b.Max.Lon(), b.Min.Lat())
	q.SetField(fieldCoordinate)
	f.filter(q)
}

func (f *filtered) base(b geoquery.Base) {
	f.tagFilters(b.OsmTagFilters)
	f.layers(b.LayerFilters)
	f.categories(b.IncludeCategories, b.ExcludeCategories)
}
