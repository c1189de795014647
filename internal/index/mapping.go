package index

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/char/asciifolding"
	"github.com/blevesearch/bleve/v2/analysis/token/edgengram"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
)

// newIndexMapping builds the static mapping of geocoding documents. Only
// the fields listed here are indexed; the full document is kept in the
// stored source field.
func newIndexMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()

	if err := im.AddCustomTokenFilter(filterEdgeNgram, map[string]interface{}{
		"type": edgengram.Name,
		"back": false,
		"min":  1.0,
		"max":  20.0,
	}); err != nil {
		return nil, fmt.Errorf("registering edge ngram filter: %w", err)
	}

	analyzers := map[string]map[string]interface{}{
		analyzerFullword: {
			"type":          custom.Name,
			"char_filters":  []string{asciifolding.Name},
			"tokenizer":     unicode.Name,
			"token_filters": []string{lowercase.Name},
		},
		analyzerNgram: {
			"type":          custom.Name,
			"char_filters":  []string{asciifolding.Name},
			"tokenizer":     unicode.Name,
			"token_filters": []string{lowercase.Name, filterEdgeNgram},
		},
		analyzerPrefix: {
			"type":          custom.Name,
			"char_filters":  []string{asciifolding.Name},
			"tokenizer":     single.Name,
			"token_filters": []string{lowercase.Name, filterEdgeNgram},
		},
		analyzerSearch: {
			"type":          custom.Name,
			"char_filters":  []string{asciifolding.Name},
			"tokenizer":     unicode.Name,
			"token_filters": []string{lowercase.Name},
		},
		analyzerKeyword: {
			"type":          custom.Name,
			"char_filters":  []string{asciifolding.Name},
			"tokenizer":     single.Name,
			"token_filters": []string{lowercase.Name},
		},
	}
	for name, cfg := range analyzers {
		if err := im.AddCustomAnalyzer(name, cfg); err != nil {
			return nil, fmt.Errorf("registering analyzer %s: %w", name, err)
		}
	}

	doc := bleve.NewDocumentStaticMapping()

	for _, f := range []string{fieldPlaceID, fieldOsmType, fieldType, fieldCountryCode, fieldCategories} {
		doc.AddFieldMappingsAt(f, keywordField())
	}
	// Unqualified terms of a reverse query string filter search _all,
	// which holds the tag, the address terms and the extra tags.
	for _, f := range []string{fieldOsmKey, fieldOsmValue} {
		doc.AddFieldMappingsAt(f, inAll(keywordField()))
	}
	doc.AddFieldMappingsAt(fieldOsmID, numericField())
	doc.AddFieldMappingsAt(fieldImportance, numericField())

	geo := bleve.NewGeoPointFieldMapping()
	geo.Store = false
	doc.AddFieldMappingsAt(fieldCoordinate, geo)

	doc.AddFieldMappingsAt(fieldHousenumber, textField(analyzerFullword))
	doc.AddFieldMappingsAt(fieldHousenumberRaw, textField(analyzerKeyword))
	doc.AddFieldMappingsAt(fieldPostcode, textField(analyzerFullword))

	for _, f := range []string{fieldHasHousenumber, fieldHasStreet, fieldHasName} {
		b := bleve.NewBooleanFieldMapping()
		b.Store = false
		b.IncludeInAll = false
		doc.AddFieldMappingsAt(f, b)
	}

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.IncludeTermVectors = false
	doc.AddFieldMappingsAt(fieldSource, source)

	extra := bleve.NewDocumentMapping()
	extra.Dynamic = true
	extra.DefaultAnalyzer = keyword.Name
	doc.AddSubDocumentMapping(fieldExtra, extra)

	collector := bleve.NewDocumentStaticMapping()
	collector.AddFieldMappingsAt("all",
		inAll(textField(analyzerFullword)),
		named(textField(analyzerNgram), "all_ngram"))
	collector.AddFieldMappingsAt("name",
		textField(analyzerNgram),
		named(textField(analyzerPrefix), "name_prefix"))
	collector.AddFieldMappingsAt("parent", textField(analyzerNgram))

	fields := bleve.NewDocumentStaticMapping()
	for _, name := range collectorFieldNames {
		fields.AddFieldMappingsAt(name,
			textField(analyzerFullword),
			named(textField(analyzerKeyword), name+"_full"))
	}
	collector.AddSubDocumentMapping("field", fields)
	doc.AddSubDocumentMapping("collector", collector)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = analyzerFullword
	im.DefaultField = "_all"
	im.StoreDynamic = false
	im.IndexDynamic = true
	im.DocValuesDynamic = false
	return im, nil
}

func keywordField() *mapping.FieldMapping {
	f := bleve.NewKeywordFieldMapping()
	f.Store = false
	f.IncludeInAll = false
	f.IncludeTermVectors = false
	return f
}

func numericField() *mapping.FieldMapping {
	f := bleve.NewNumericFieldMapping()
	f.Store = false
	f.IncludeInAll = false
	return f
}

func textField(analyzer string) *mapping.FieldMapping {
	f := bleve.NewTextFieldMapping()
	f.Analyzer = analyzer
	f.Store = false
	f.IncludeInAll = false
	return f
}

func inAll(f *mapping.FieldMapping) *mapping.FieldMapping {
	f.IncludeInAll = true
	return f
}

func named(f *mapping.FieldMapping, name string) *mapping.FieldMapping {
	f.Name = name
	return f
}
