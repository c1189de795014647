package model

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// a housenumber list with an entry of three or more non-digits is a
	// description rather than numbers
	housenumberCheck = regexp.MustCompile(`(\A|.*,)[^\d,]{3,}(,.*|\z)`)
	housenumberSplit = regexp.MustCompile(`\s*[;,]\s*`)
)

// AddressSet expands a place into one document per housenumber found in
// its address tags. Conscription and street numbers (Czech-style double
// numbering) take precedence over plain housenumbers. Without any usable
// housenumber the base document is returned on its own, provided it has a
// name.
func AddressSet(base *Doc, address map[string]string) []*Doc {
	var docs []*Doc

	if hnrs := splitHousenumber(address, "conscriptionnumber"); len(hnrs) > 0 {
		parts := replaceStreet(base.AddressParts, address["place"])
		for _, hnr := range hnrs {
			doc := base.Clone()
			doc.AddressParts = copyParts(parts)
			doc.HouseNumber = hnr
			docs = append(docs, doc)
		}
	}

	for _, hnr := range splitHousenumber(address, "streetnumber") {
		doc := base.Clone()
		doc.HouseNumber = hnr
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		if hnrs := splitHousenumber(address, "housenumber"); len(hnrs) > 0 {
			place := address["place"]
			if strings.TrimSpace(place) == "" {
				place = address["block_number"]
			}
			parts := base.AddressParts
			if strings.TrimSpace(place) != "" {
				parts = replaceStreet(base.AddressParts, place)
			}
			for _, hnr := range hnrs {
				doc := base.Clone()
				doc.AddressParts = copyParts(parts)
				doc.HouseNumber = hnr
				docs = append(docs, doc)
			}
		}
	}

	if len(docs) == 0 && base.IsUsefulForIndex() {
		docs = append(docs, base)
	}
	return docs
}

// replaceStreet returns a copy of parts where the street is the given place
// name, or removed when place is blank.
func replaceStreet(parts map[AddressType]NameMap, place string) map[AddressType]NameMap {
	out := make(map[AddressType]NameMap, len(parts))
	for k, v := range parts {
		if k != Street {
			out[k] = v
		}
	}
	if strings.TrimSpace(place) != "" {
		out[Street] = NameMap{"default": place}
	}
	return out
}

func copyParts(parts map[AddressType]NameMap) map[AddressType]NameMap {
	out := make(map[AddressType]NameMap, len(parts))
	for k, v := range parts {
		out[k] = v
	}
	return out
}

func splitHousenumber(address map[string]string, key string) []string {
	value := address[key]
	if strings.TrimSpace(value) == "" || housenumberCheck.MatchString(value) {
		return nil
	}
	var out []string
	for _, part := range housenumberSplit.Split(value, -1) {
		if strings.TrimSpace(part) == "" || utf8.RuneCountInString(part) >= 20 {
			continue
		}
		out = append(out, strings.TrimSpace(part))
	}
	return out
}
