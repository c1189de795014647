package model

import "sort"

// ContextMap collects additional names of the surrounding address
// hierarchy, keyed by language ("default" for unlocalized names).
type ContextMap map[string]map[string]struct{}

func (c ContextMap) AddName(lang, name string) {
	if name == "" {
		return
	}
	set, ok := c[lang]
	if !ok {
		set = make(map[string]struct{})
		c[lang] = set
	}
	set[name] = struct{}{}
}

// AddNames adds every entry of the name map under its own key.
func (c ContextMap) AddNames(names NameMap) {
	for k, v := range names {
		c.AddName(k, v)
	}
}

// Merge adds every name of other.
func (c ContextMap) Merge(other ContextMap) {
	for lang, set := range other {
		for name := range set {
			c.AddName(lang, name)
		}
	}
}

// Names returns the sorted names stored for lang.
func (c ContextMap) Names(lang string) []string {
	set := c[lang]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Languages returns the sorted keys of the map.
func (c ContextMap) Languages() []string {
	out := make([]string, 0, len(c))
	for lang := range c {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

func (c ContextMap) Clone() ContextMap {
	out := make(ContextMap, len(c))
	out.Merge(c)
	return out
}
