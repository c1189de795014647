// Package model holds the denormalized place document and the helpers that
// fill it from Nominatim address data.
package model

// AddressType is one level of the address hierarchy as exposed in
// GeocodeJSON. Each ranked type maps a range of Nominatim address ranks.
type AddressType int

const (
	House AddressType = iota
	Street
	Locality
	District
	City
	County
	State
	Country
	Other
)

var addressTypes = [...]struct {
	name    string
	minRank int
	maxRank int
}{
	House:    {"house", 29, 30},
	Street:   {"street", 26, 28},
	Locality: {"locality", 22, 26},
	District: {"district", 17, 22},
	City:     {"city", 13, 17},
	County:   {"county", 10, 13},
	State:    {"state", 5, 10},
	Country:  {"country", 4, 4},
	Other:    {"other", -1, -1},
}

// RankedTypes lists the address types with a rank range, from the most
// specific (house) to the least specific (country).
var RankedTypes = []AddressType{House, Street, Locality, District, City, County, State, Country}

func (t AddressType) String() string {
	if t < 0 || int(t) >= len(addressTypes) {
		return "unknown"
	}
	return addressTypes[t].name
}

// CoversRank reports whether the Nominatim address rank maps to t.
func (t AddressType) CoversRank(rank int) bool {
	if t == Other {
		return false
	}
	info := addressTypes[t]
	return rank >= info.minRank && rank <= info.maxRank
}

// FromRank converts a Nominatim address rank into the first address type
// covering it.
func FromRank(rank int) (AddressType, bool) {
	for _, t := range RankedTypes {
		if t.CoversRank(rank) {
			return t, true
		}
	}
	return Other, false
}

// ParseAddressType looks up a type by its name.
func ParseAddressType(name string) (AddressType, bool) {
	for i, info := range addressTypes {
		if info.name == name {
			return AddressType(i), true
		}
	}
	return Other, false
}

// AddressTypeNames returns the names of all types. These double as the
// valid values for layer filters.
func AddressTypeNames() []string {
	names := make([]string, 0, len(addressTypes))
	for _, info := range addressTypes {
		names = append(names, info.name)
	}
	return names
}
