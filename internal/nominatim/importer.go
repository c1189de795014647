package nominatim

import (
	"context"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/postgres"
	"github.com/sourcegraph/conc/pool"
)

// Sink receives the document set of one place. Implementations must be
// safe for concurrent use when ImportCountries runs with several workers.
type Sink interface {
	Add(ctx context.Context, docs []*model.Doc) error
}

// Importer reads complete countries out of placex and
// location_property_osmline.
type Importer struct {
	*Connector
}

func NewImporter(db *postgres.Client, props *model.DatabaseProperties) *Importer {
	return &Importer{Connector: newConnector(db, props, "nominatim-importer")}
}

// PrepareDatabase makes sure placex can be read by country efficiently.
// Creating the index may take a while on a planet database.
func (im *Importer) PrepareDatabase(ctx context.Context) error {
	var n int
	err := im.db.DB.QueryRowContext(ctx,
		"SELECT count(*) FROM pg_indexes WHERE tablename = 'placex' AND indexdef LIKE '%(country_code)'").Scan(&n)
	if err != nil {
		return fmt.Errorf("checking country index: %w", err)
	}
	if n > 0 {
		return nil
	}
	im.logger.Info("creating index over countries")
	if _, err := im.db.DB.ExecContext(ctx, "CREATE INDEX ON placex (country_code)"); err != nil {
		return fmt.Errorf("creating country index: %w", err)
	}
	return nil
}

// Countries returns all country codes of the database in sorted order.
// The empty code stands for places outside any country.
func (im *Importer) Countries(ctx context.Context) ([]string, error) {
	if err := im.LoadCountryNames(ctx); err != nil {
		return nil, err
	}
	codes := im.CountryCodes()
	sort.Strings(codes)
	return codes, nil
}

// ImportCountries reads the given countries with up to threads countries
// in flight. The first error cancels the remaining work.
func (im *Importer) ImportCountries(ctx context.Context, countries []string, threads int, sink Sink) error {
	if threads < 1 {
		threads = 1
	}
	if err := im.LoadCountryNames(ctx); err != nil {
		return err
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(threads).WithCancelOnError()
	for _, cc := range countries {
		p.Go(func(ctx context.Context) error {
			return im.ReadCountry(ctx, cc, sink)
		})
	}
	return p.Wait()
}

// ReadCountry sends every indexable place of one country to the sink:
// first places with rank_search below 30, then POIs and housenumbers with
// their parent, then interpolation lines.
func (im *Importer) ReadCountry(ctx context.Context, cc string, sink Sink) error {
	cnames, ok := im.CountryNames(cc)
	if !ok {
		if err := im.LoadCountryNames(ctx); err != nil {
			return err
		}
		if cnames, ok = im.CountryNames(cc); !ok {
			im.logger.Warn("unknown country code, skipping", "country", cc)
			return nil
		}
	}

	cache := NewAddressCache(im.languages)
	if err := cache.LoadCountry(ctx, im.db.DB, cc); err != nil {
		return fmt.Errorf("loading address cache for %q: %w", cc, err)
	}
	im.logger.Info("reading country", "country", cc, "address_places", cache.Len())

	cond, args := countryFilter("p.country_code", cc)

	var places int
	add := func(docs []*model.Doc) error {
		if len(docs) == 0 {
			return nil
		}
		places++
		return sink.Add(ctx, docs)
	}

	err := im.eachPlace(ctx, false,
		placeSelect(im.useGeometries)+` FROM placex p
 WHERE p.linked_place_id IS NULL AND p.centroid IS NOT NULL AND `+cond+`
   AND p.rank_search < 30
 ORDER BY p.geometry_sector, p.parent_place_id`, args,
		func(r *placeRow) error {
			lines, err := cache.AddressList(r.addressLines.String)
			if err != nil {
				return err
			}
			return add(composePlace(r, lines, cnames, im.languages))
		})
	if err != nil {
		return fmt.Errorf("reading places of %q: %w", cc, err)
	}

	err = im.eachPlace(ctx, true,
		placeSelect(im.useGeometries)+", "+parentColumns+`
  FROM placex p LEFT JOIN placex parent ON p.parent_place_id = parent.place_id
 WHERE p.linked_place_id IS NULL AND p.centroid IS NOT NULL AND `+cond+`
   AND p.rank_search = 30
 ORDER BY p.geometry_sector`, args,
		func(r *placeRow) error {
			lines, err := cache.AddressList(r.addressLines.String)
			if err != nil {
				return err
			}
			return add(composePlace(r, lines, cnames, im.languages))
		})
	if err != nil {
		return fmt.Errorf("reading POIs of %q: %w", cc, err)
	}

	rows, err := im.db.DB.QueryContext(ctx,
		osmlineSelect+" AND "+cond+" ORDER BY p.geometry_sector, p.parent_place_id", args...)
	if err != nil {
		return fmt.Errorf("querying interpolations of %q: %w", cc, err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanOsmline(rows)
		if err != nil {
			return err
		}
		lines, err := cache.AddressList(r.addressLines.String)
		if err != nil {
			return err
		}
		if err := add(composeInterpolation(r, lines, cnames, im.languages)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading interpolations of %q: %w", cc, err)
	}

	im.logger.Info("country done", "country", cc, "places", places)
	return nil
}

func (im *Importer) eachPlace(ctx context.Context, withParent bool, query string, args []any, fn func(*placeRow) error) error {
	rows, err := im.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanPlace(rows, im.useGeometries, withParent)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}
