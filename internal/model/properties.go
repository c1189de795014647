package model

import (
	"fmt"
	"strings"
	"time"
)

// DatabaseVersion identifies the index layout written by this code. Opening
// an index with a different version fails.
const DatabaseVersion = "1.0.0-5"

var defaultLanguages = []string{"en", "de", "fr", "it"}

// DatabaseProperties are the global settings stored alongside the index.
type DatabaseProperties struct {
	Version           string         `json:"version"`
	Languages         []string       `json:"languages"`
	ImportDate        time.Time      `json:"import_date"`
	SupportGeometries bool           `json:"support_geometries"`
	SupportStructured bool           `json:"support_structured_queries"`
	ExtraTags         ExtraTagFilter `json:"extra_tags"`
}

func NewDatabaseProperties() *DatabaseProperties {
	return &DatabaseProperties{
		Version:           DatabaseVersion,
		Languages:         append([]string(nil), defaultLanguages...),
		SupportStructured: true,
	}
}

// LanguageList returns the configured languages, falling back to the
// historic default set.
func (p *DatabaseProperties) LanguageList() []string {
	if len(p.Languages) == 0 {
		return defaultLanguages
	}
	return p.Languages
}

// RestrictLanguages narrows the language list to the intersection with
// langs, keeping the order of langs.
func (p *DatabaseProperties) RestrictLanguages(langs []string) error {
	if len(p.Languages) == 0 {
		p.Languages = append([]string(nil), langs...)
		return nil
	}
	current := make(map[string]bool, len(p.Languages))
	for _, l := range p.Languages {
		current[l] = true
	}
	var out []string
	for _, l := range langs {
		if current[l] {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return fmt.Errorf("language list %v not compatible with languages in database %v", langs, p.Languages)
	}
	p.Languages = out
	return nil
}

// CheckVersion fails when the stored layout differs from DatabaseVersion.
func (p *DatabaseProperties) CheckVersion() error {
	if p.Version != DatabaseVersion {
		return fmt.Errorf("index has version %q, this build needs %q: reimport the data",
			p.Version, DatabaseVersion)
	}
	return nil
}

// ExtraTagFilter selects which OSM extra tags are stored with a place.
// The zero value keeps none.
type ExtraTagFilter struct {
	All  bool     `json:"all,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

// ParseExtraTagFilter builds a filter from a tag list. The single entry
// "ALL" keeps every tag.
func ParseExtraTagFilter(tags []string) ExtraTagFilter {
	if len(tags) == 1 && strings.EqualFold(tags[0], "ALL") {
		return ExtraTagFilter{All: true}
	}
	return ExtraTagFilter{Tags: tags}
}

// Filter returns the tags that pass the filter.
func (f ExtraTagFilter) Filter(tags map[string]string) map[string]string {
	if f.All || len(tags) == 0 {
		return tags
	}
	out := make(map[string]string)
	for _, k := range f.Tags {
		if v, ok := tags[k]; ok {
			out[k] = v
		}
	}
	return out
}
