package model

import "strings"

// NameMap maps a name variant (a language code, "default", "alt", "old",
// "housename", ...) to the name.
type NameMap map[string]string

var nameVariants = []string{"alt", "int", "loc", "old", "reg"}

// NameMapForPlace picks the names of a place out of its raw OSM name tags.
// Names computed by Nominatim (prefixed with _place_) win over the plain
// tags.
func NameMapForPlace(src map[string]string, languages []string) NameMap {
	names := NameMap{}
	names.setFirst("default", src, "_place_name", "name")
	for _, lang := range languages {
		names.setFirst(lang, src, "_place_name:"+lang, "name:"+lang)
	}
	for _, v := range nameVariants {
		names.setFirst(v, src, "_place_"+v+"_name", v+"_name")
	}
	names.setFirst("housename", src, "addr:housename")
	return names
}

func (n NameMap) setFirst(field string, src map[string]string, keys ...string) {
	if _, ok := n[field]; ok {
		return
	}
	for _, k := range keys {
		if v, ok := src[k]; ok {
			n[field] = v
			return
		}
	}
}

// Clone returns a copy of n. A nil map stays nil.
func (n NameMap) Clone() NameMap {
	if n == nil {
		return nil
	}
	out := make(NameMap, len(n))
	for k, v := range n {
		out[k] = v
	}
	return out
}

// Values returns every name in the map.
func (n NameMap) Values() []string {
	out := make([]string, 0, len(n))
	for _, v := range n {
		out = append(out, v)
	}
	return out
}

// isNameTag reports whether an OSM tag key carries a name, returning the
// language suffix if there is one.
func isNameTag(key string) (lang string, ok bool) {
	key = strings.TrimPrefix(key, "_place_")
	base, lang, _ := strings.Cut(key, ":")
	if base == "name" || strings.HasSuffix(base, "_name") {
		return lang, true
	}
	return "", false
}
