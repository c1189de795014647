// Package index stores geocoding documents in an embedded bleve index and
// translates typed geocoding requests into bleve queries.
package index

// Document field names.
const (
	fieldPlaceID        = "place_id"
	fieldOsmID          = "osm_id"
	fieldOsmType        = "osm_type"
	fieldOsmKey         = "osm_key"
	fieldOsmValue       = "osm_value"
	fieldType           = "type"
	fieldImportance     = "importance"
	fieldCoordinate     = "coordinate"
	fieldHousenumber    = "housenumber"
	fieldHousenumberRaw = "housenumber_full"
	fieldPostcode       = "postcode"
	fieldCountryCode    = "countrycode"
	fieldCategories     = "categories"
	fieldExtra          = "extra"
	fieldHasHousenumber = "has_housenumber"
	fieldHasStreet      = "has_street"
	fieldHasName        = "has_name"
	fieldSource         = "source"

	collectorAll        = "collector.all"
	collectorAllNgram   = "collector.all_ngram"
	collectorName       = "collector.name"
	collectorNamePrefix = "collector.name_prefix"
	collectorParent     = "collector.parent"
)

// collectorField is the per-type field of the address collector, e.g.
// collector.field.city.
func collectorField(name string) string {
	return "collector.field." + name
}

// collectorFieldFull is the single token variant of collectorField.
func collectorFieldFull(name string) string {
	return "collector.field." + name + "_full"
}

// collectorFieldNames are the address layers that get a collector.field
// entry. "name" holds the place's own names.
var collectorFieldNames = []string{"name", "street", "locality", "district", "city", "county", "state", "country"}

// Analyzer names registered with the index mapping.
const (
	analyzerFullword = "photon_fullword"
	analyzerNgram    = "photon_ngram"
	analyzerPrefix   = "photon_prefix"
	analyzerSearch   = "photon_search"
	analyzerKeyword  = "photon_keyword_lower"

	filterEdgeNgram = "photon_edge_ngram"
)
