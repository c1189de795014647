package nominatim

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/paulmach/orb"
)

var classPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const addressLinesPlacex = `(SELECT json_agg(address_place_id ORDER BY cached_rank_address DESC)
     FROM place_addressline pa
    WHERE pa.place_id IN (p.place_id,
            coalesce(CASE WHEN p.rank_search = 30 THEN p.parent_place_id ELSE null END, p.place_id))
      AND isaddress) AS addresslines`

const addressLinesOsmline = `(SELECT json_agg(address_place_id ORDER BY cached_rank_address DESC, pa.place_id = p.place_id DESC)
     FROM place_addressline pa
    WHERE pa.place_id IN (p.place_id, coalesce(p.parent_place_id, p.place_id))
      AND isaddress) AS addresslines`

const parentColumns = `parent.class AS parent_class, parent.type AS parent_type,
       parent.rank_address AS parent_rank_address, parent.name AS parent_name`

func placeSelect(withGeometry bool) string {
	sql := `SELECT p.place_id, p.osm_type, p.osm_id, p.class, p.type, p.name, p.postcode,
       p.address, p.extratags, ST_AsBinary(ST_Envelope(p.geometry)) AS bbox,
       p.rank_address, p.rank_search, p.importance, p.country_code,
       ST_AsBinary(p.centroid) AS centroid, ` + addressLinesPlacex
	if withGeometry {
		sql += ", ST_AsBinary(p.geometry) AS geometry"
	}
	return sql
}

const osmlineSelect = `SELECT p.place_id, p.osm_id, p.startnumber, p.endnumber, p.step,
       p.postcode, p.country_code, p.address, ST_AsBinary(p.linegeo) AS linegeo, ` +
	parentColumns + `, ` + addressLinesOsmline + `
  FROM location_property_osmline p LEFT JOIN placex parent ON p.parent_place_id = parent.place_id
 WHERE startnumber IS NOT NULL`

// parentRow is the direct parent (street or place) of a rank 30 object.
type parentRow struct {
	class       sql.NullString
	typ         sql.NullString
	rankAddress sql.NullInt64
	name        hstoreMap
}

func (p *parentRow) dest() []any {
	return []any{&p.class, &p.typ, &p.rankAddress, &p.name}
}

func (p *parentRow) addressRow(languages []string) (model.AddressRow, bool) {
	if !p.class.Valid {
		return model.AddressRow{}, false
	}
	return model.NewAddressRow(0, p.name.Map(), p.class.String, nullString(p.typ),
		int(p.rankAddress.Int64), languages), true
}

// placeRow is one row of the placex base select.
type placeRow struct {
	placeID      int64
	osmType      sql.NullString
	osmID        int64
	class        string
	typ          string
	name         hstoreMap
	postcode     sql.NullString
	address      hstoreMap
	extratags    hstoreMap
	bbox         geometry
	rankAddress  int
	rankSearch   int
	importance   sql.NullFloat64
	countryCode  sql.NullString
	centroid     geometry
	addressLines sql.NullString
	geometry     geometry
	parent       parentRow
}

func scanPlace(rows *sql.Rows, withGeometry, withParent bool) (*placeRow, error) {
	r := &placeRow{}
	dest := []any{
		&r.placeID, &r.osmType, &r.osmID, &r.class, &r.typ, &r.name, &r.postcode,
		&r.address, &r.extratags, &r.bbox, &r.rankAddress, &r.rankSearch,
		&r.importance, &r.countryCode, &r.centroid, &r.addressLines,
	}
	if withGeometry {
		dest = append(dest, &r.geometry)
	}
	if withParent {
		dest = append(dest, r.parent.dest()...)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning placex row: %w", err)
	}
	return r, nil
}

// doc maps the basic attributes of the row. Address and country are
// completed by the caller.
func (r *placeRow) doc(languages []string) *model.Doc {
	key, value := r.class, r.typ
	if !classPattern.MatchString(key) {
		key, value = model.DefaultOsmKey, model.DefaultOsmValue
	} else if !classPattern.MatchString(value) {
		value = model.DefaultOsmValue
	}

	d := model.NewDoc(strconv.FormatInt(r.placeID, 10), nullString(r.osmType), r.osmID, key, value)
	d.Names = model.NameMapForPlace(r.name.Map(), languages)
	d.SetExtraTags(r.extratags.Map())
	d.SetCategories([]string{"osm." + key + "." + value})
	d.SetBBox(r.bbox.Geometry)
	d.SetCountryCode(nullString(r.countryCode))
	if p, ok := r.centroid.Geometry.(orb.Point); ok {
		d.SetCentroid(p)
	}
	d.RankAddress = r.rankAddress
	d.Postcode = nullString(r.postcode)
	d.Geometry = r.geometry.Geometry

	if r.importance.Valid {
		d.Importance = r.importance.Float64
	} else {
		d.Importance = 0.75 - float64(r.rankSearch)/40
	}
	return d
}

// osmlineRow is one row of the interpolation select.
type osmlineRow struct {
	placeID      int64
	osmID        int64
	startNumber  int64
	endNumber    int64
	step         sql.NullInt64
	postcode     sql.NullString
	countryCode  sql.NullString
	address      hstoreMap
	lineGeo      geometry
	parent       parentRow
	addressLines sql.NullString
}

func scanOsmline(rows *sql.Rows) (*osmlineRow, error) {
	r := &osmlineRow{}
	dest := []any{
		&r.placeID, &r.osmID, &r.startNumber, &r.endNumber, &r.step,
		&r.postcode, &r.countryCode, &r.address, &r.lineGeo,
	}
	dest = append(dest, r.parent.dest()...)
	dest = append(dest, &r.addressLines)
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning osmline row: %w", err)
	}
	return r, nil
}

func (r *osmlineRow) doc() *model.Doc {
	d := model.NewDoc(strconv.FormatInt(r.placeID, 10), "W", r.osmID, "place", "house_number")
	d.SetCountryCode(nullString(r.countryCode))
	d.SetCategories([]string{"osm.place.house_number"})
	d.Postcode = nullString(r.postcode)
	return d
}
