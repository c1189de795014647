package api

import (
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/index"
)

// removeStreetDuplicates drops streets that repeat an earlier street with
// the same name and postcode. Long streets are often split into several
// ways in OSM. Dutch postcodes carry a letter suffix per street segment,
// so for "nl" only their digits are compared.
func removeStreetDuplicates(results []*index.Result, lang string) []*index.Result {
	out := make([]*index.Result, 0, len(results))
	seen := make(map[string]bool)
	for _, r := range results {
		if r.OsmKey == "highway" && r.Postcode != "" {
			if name := r.Localised("name", lang); name != "" {
				postcode := r.Postcode
				if lang == "nl" {
					postcode = digitsOnly(postcode)
				}
				key := postcode + ":" + name
				if seen[key] {
					continue
				}
				seen[key] = true
			}
		}
		out = append(out, r)
	}
	return out
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
