package model

// AddressRow is one entry of a place's address hierarchy: a parent place
// with its names and classification.
type AddressRow struct {
	PlaceID     int64
	Names       NameMap
	Context     ContextMap
	OsmKey      string
	OsmValue    string
	RankAddress int
}

var usefulContextKeys = map[string]bool{"boundary": true, "landuse": true, "place": true}

// NewAddressRow builds a row from raw name tags. The names relevant for the
// configured languages end up in Names, all remaining name variants are kept
// as context so they stay searchable.
func NewAddressRow(placeID int64, rawNames map[string]string, key, value string, rank int, languages []string) AddressRow {
	names := NameMapForPlace(rawNames, languages)
	used := make(map[string]bool, len(names))
	for _, v := range names {
		used[v] = true
	}

	wanted := make(map[string]bool, len(languages))
	for _, l := range languages {
		wanted[l] = true
	}

	context := ContextMap{}
	for k, v := range rawNames {
		if used[v] {
			continue
		}
		lang, ok := isNameTag(k)
		if !ok {
			continue
		}
		if lang != "" && wanted[lang] {
			context.AddName(lang, v)
		} else {
			context.AddName("default", v)
		}
	}

	return AddressRow{
		PlaceID:     placeID,
		Names:       names,
		Context:     context,
		OsmKey:      key,
		OsmValue:    value,
		RankAddress: rank,
	}
}

func (r AddressRow) IsPostcode() bool {
	return (r.OsmKey == "place" && r.OsmValue == "postcode") ||
		(r.OsmKey == "boundary" && r.OsmValue == "postal_code")
}

// IsUsefulForContext reports whether the row's names are worth keeping as
// context when its address slot is already taken.
func (r AddressRow) IsUsefulForContext() bool {
	if len(r.Names) == 0 || r.IsPostcode() {
		return false
	}
	// continents, seas
	if r.RankAddress < 4 {
		return false
	}
	return usefulContextKeys[r.OsmKey]
}

// AddressType maps the row's rank to an address type. Rank 4 only counts
// as country for administrative boundaries.
func (r AddressRow) AddressType() (AddressType, bool) {
	if r.RankAddress == 4 && !(r.OsmKey == "boundary" && r.OsmValue == "administrative") {
		return Other, false
	}
	return FromRank(r.RankAddress)
}
