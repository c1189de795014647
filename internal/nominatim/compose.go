package nominatim

import (
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
)

// composePlace completes a placex document and expands it into its
// document set. Address sources are applied from weakest to strongest:
// direct parent, cached address lines, the place's own address tags.
func composePlace(r *placeRow, lines []model.AddressRow, country model.NameMap, languages []string) []*model.Doc {
	doc := r.doc(languages)
	if parent, ok := r.parent.addressRow(languages); ok {
		doc.AddAddressRows([]model.AddressRow{parent})
	}
	doc.AddAddressRows(lines)

	address := r.address.Map()
	doc.AddAddressTags(address, languages)
	doc.SetCountry(country)
	return model.AddressSet(doc, address)
}

// composeInterpolation completes an interpolation line and expands it into
// the synthesized housenumbers.
func composeInterpolation(r *osmlineRow, lines []model.AddressRow, country model.NameMap, languages []string) []*model.Doc {
	doc := r.doc()
	if parent, ok := r.parent.addressRow(languages); ok {
		doc.AddAddressRows([]model.AddressRow{parent})
	}
	doc.AddAddressRows(lines)
	doc.AddAddressTags(r.address.Map(), languages)
	doc.SetCountry(country)

	step := int64(1)
	if r.step.Valid {
		step = r.step.Int64
	}
	return model.InterpolationSet(doc, r.startNumber, r.endNumber, step, r.lineGeo.Geometry)
}
