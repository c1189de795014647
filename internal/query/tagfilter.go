// Package query turns HTTP query parameters into validated, typed geocoding
// requests.
package query

import (
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
)

// TagFilterKind selects how a tag filter is applied.
type TagFilterKind int

const (
	// Include keeps only places matching the filter.
	Include TagFilterKind = iota
	// Exclude drops places matching the filter.
	Exclude
	// ExcludeValue keeps places with the key but drops those with the value.
	ExcludeValue
)

func (k TagFilterKind) String() string {
	switch k {
	case Include:
		return "include"
	case Exclude:
		return "exclude"
	case ExcludeValue:
		return "exclude_value"
	}
	return "unknown"
}

// TagFilter is one osm_tag filter expression. An empty Key matches any key,
// an empty Value any value.
type TagFilter struct {
	Kind  TagFilterKind `json:"kind"`
	Key   string        `json:"key,omitempty"`
	Value string        `json:"value,omitempty"`
}

func (f TagFilter) IsKeyOnly() bool   { return f.Value == "" }
func (f TagFilter) IsValueOnly() bool { return f.Key == "" }

// IsExtra reports whether the filter addresses an extra tag (extra.<tag>)
// rather than the main OSM key.
func (f TagFilter) IsExtra() bool {
	return strings.HasPrefix(f.Key, "extra.") && len(f.Key) > len("extra.")
}

// ParseTagFilter parses key, !key, key:value, !key:value, key:!value,
// :value and :!value.
func ParseTagFilter(expr string) (TagFilter, error) {
	parts := strings.Split(expr, ":")
	switch len(parts) {
	case 1:
		key, exclude := strings.CutPrefix(expr, "!")
		if key != "" {
			kind := Include
			if exclude {
				kind = Exclude
			}
			return TagFilter{Kind: kind, Key: key}, nil
		}
	case 2:
		key, excludeKey := strings.CutPrefix(parts[0], "!")
		value, excludeValue := strings.CutPrefix(parts[1], "!")
		if value != "" {
			kind := Include
			switch {
			case key != "" && !excludeKey && excludeValue:
				kind = ExcludeValue
			case excludeKey || excludeValue:
				kind = Exclude
			}
			return TagFilter{Kind: kind, Key: key, Value: value}, nil
		}
	}
	return TagFilter{}, apperrors.BadRequest("Invalid filter expression osm_tag=%s.", expr)
}
