package model

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	DefaultOsmKey   = "place"
	DefaultOsmValue = "yes"
)

var categoryPattern = regexp.MustCompile(
	`^[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)+(,[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)+)*$`)

// addressTagPrefixes maps addr:* keys from Nominatim's address column onto
// address types. The first matching prefix wins, so order matters.
var addressTagPrefixes = []struct {
	atype  AddressType
	prefix string
}{
	{Street, "street"},
	{City, "city"},
	{District, "suburb"},
	{Locality, "neighbourhood"},
	{County, "county"},
	{State, "state"},
	{State, "province"},
	{Other, "other"},
	{Other, "district"},
	{Other, "hamlet"},
	{Other, "subdistrict"},
	{Other, "municipality"},
	{Other, "region"},
	{Other, "ward"},
	{Other, "village"},
	{Other, "subward"},
	{Other, "block"},
	{Other, "quarter"},
}

// Doc is the denormalized representation of one place as it is written to
// the search index.
type Doc struct {
	PlaceID  string
	OsmType  string
	OsmID    int64
	TagKey   string
	TagValue string

	Names       NameMap
	Postcode    string
	ExtraTags   map[string]string
	Categories  []string
	BBox        *orb.Bound
	Importance  float64
	CountryCode string
	RankAddress int

	AddressParts map[AddressType]NameMap
	Context      ContextMap
	HouseNumber  string
	Centroid     *orb.Point
	Geometry     orb.Geometry
}

func NewDoc(placeID, osmType string, osmID int64, key, value string) *Doc {
	return &Doc{
		PlaceID:      placeID,
		OsmType:      osmType,
		OsmID:        osmID,
		TagKey:       key,
		TagValue:     value,
		Names:        NameMap{},
		ExtraTags:    map[string]string{},
		RankAddress:  30,
		AddressParts: map[AddressType]NameMap{},
		Context:      ContextMap{},
	}
}

// Clone copies the document. Address parts and context are copied as well
// so that variants of the same place can be modified independently.
func (d *Doc) Clone() *Doc {
	c := *d
	c.Names = d.Names.Clone()
	c.AddressParts = make(map[AddressType]NameMap, len(d.AddressParts))
	for k, v := range d.AddressParts {
		c.AddressParts[k] = v
	}
	c.Context = d.Context.Clone()
	if d.Centroid != nil {
		p := *d.Centroid
		c.Centroid = &p
	}
	if d.BBox != nil {
		b := *d.BBox
		c.BBox = &b
	}
	return &c
}

func (d *Doc) SetCountryCode(cc string) {
	d.CountryCode = strings.ToUpper(cc)
}

func (d *Doc) SetCentroid(p orb.Point) {
	d.Centroid = &p
}

// SetBBox stores the envelope of geom.
func (d *Doc) SetBBox(geom orb.Geometry) {
	if geom == nil {
		return
	}
	b := geom.Bound()
	d.BBox = &b
}

// SetExtraTags stores the extra tags. A place or linked_place tag is more
// specific than the main classification and replaces it.
func (d *Doc) SetExtraTags(tags map[string]string) {
	if tags == nil {
		tags = map[string]string{}
	}
	d.ExtraTags = tags

	place, ok := tags["place"]
	if !ok {
		place, ok = tags["linked_place"]
	}
	if ok {
		d.TagKey = "place"
		d.TagValue = place
	}
}

// SetCategories keeps the well-formed dotted category names, deduplicated
// and sorted.
func (d *Doc) SetCategories(categories []string) {
	seen := make(map[string]bool, len(categories))
	d.Categories = d.Categories[:0:0]
	for _, c := range categories {
		if c == "" || seen[c] || !categoryPattern.MatchString(c) {
			continue
		}
		seen[c] = true
		d.Categories = append(d.Categories, c)
	}
	sort.Strings(d.Categories)
}

// AddressType is the type the document itself has in the hierarchy.
func (d *Doc) AddressType() (AddressType, bool) {
	return FromRank(d.RankAddress)
}

// IsUsefulForIndex reports whether the document can be found at all,
// either through a name or a housenumber.
func (d *Doc) IsUsefulForIndex() bool {
	return d.HouseNumber != "" || len(d.Names) > 0
}

// SetAddressPartIfNew sets the names for the address type unless the slot
// is already taken. It reports whether the names were inserted.
func (d *Doc) SetAddressPartIfNew(atype AddressType, names NameMap) bool {
	if _, ok := d.AddressParts[atype]; ok {
		return false
	}
	d.AddressParts[atype] = names
	return true
}

// AddAddressRows completes the address from the place's address hierarchy,
// ordered from the closest to the farthest parent. The first row of each
// type fills the slot; later useful rows and rows of the document's own type
// only contribute context.
func (d *Doc) AddAddressRows(rows []AddressRow) {
	docType, docTyped := d.AddressType()
	for _, row := range rows {
		if row.IsPostcode() {
			if ref, ok := row.Names["ref"]; ok {
				d.Postcode = ref
			}
			continue
		}
		if len(row.Names) > 0 {
			atype, ok := row.AddressType()
			if ok && ((docTyped && atype == docType) || !d.SetAddressPartIfNew(atype, row.Names)) &&
				row.IsUsefulForContext() {
				d.Context.AddNames(row.Names)
			}
		}
		d.Context.Merge(row.Context)
	}
}

// AddAddressTags overlays the place's own addr:* tags over the address
// computed from the hierarchy. Tag values take precedence, replaced names
// are kept as context.
func (d *Doc) AddAddressTags(address map[string]string, languages []string) {
	if len(address) == 0 {
		return
	}
	wanted := make(map[string]bool, len(languages))
	for _, l := range languages {
		wanted[l] = true
	}

	overlay := map[AddressType]NameMap{}
	for key, value := range address {
		if key == "postcode" {
			d.Postcode = value
			continue
		}
		for _, m := range addressTagPrefixes {
			if !strings.HasPrefix(key, m.prefix) {
				continue
			}
			if m.atype == Other {
				parts := strings.Split(key, ":")
				last := parts[len(parts)-1]
				if len(parts) == 1 {
					d.Context.AddName("default", value)
				} else if wanted[last] {
					d.Context.AddName(last, value)
				}
			} else {
				rest := key[len(m.prefix):]
				lang := ""
				switch {
				case rest == "":
					lang = "default"
				case rest[0] == ':' && wanted[rest[1:]]:
					lang = rest[1:]
				}
				if lang != "" {
					if overlay[m.atype] == nil {
						overlay[m.atype] = NameMap{}
					}
					overlay[m.atype][lang] = value
				}
			}
			break
		}
	}

	for atype, names := range overlay {
		if d.SetAddressPartIfNew(atype, names) {
			continue
		}
		orig := d.AddressParts[atype]
		merged := orig.Clone()
		for k, v := range names {
			old, ok := orig[k]
			if ok && old != v {
				d.Context.AddName(k, old)
			}
			merged[k] = v
		}
		d.AddressParts[atype] = merged
	}
}

// SetCountry sets the country names.
func (d *Doc) SetCountry(names NameMap) {
	if names != nil {
		d.AddressParts[Country] = names
	}
}

// UID returns the index id of the objectID-th document of a place. The
// first document uses the bare place id.
func UID(placeID string, objectID int) string {
	if objectID <= 0 {
		return placeID
	}
	return placeID + "." + strconv.Itoa(objectID)
}
