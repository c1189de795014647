package nominatim

import (
	"context"
	"fmt"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/lib/pq"
)

const addressCacheSelect = `SELECT place_id, name, class, type, rank_address FROM placex
 WHERE rank_address BETWEEN 5 AND 25 AND linked_place_id IS NULL`

// AddressCache keeps the address-relevant places (rank 5 to 25) in memory so
// that address lines can be resolved without a join per place.
type AddressCache struct {
	languages []string

	mu   sync.RWMutex
	rows map[int64]model.AddressRow
}

func NewAddressCache(languages []string) *AddressCache {
	return &AddressCache{
		languages: languages,
		rows:      make(map[int64]model.AddressRow),
	}
}

// Len returns the number of cached rows.
func (c *AddressCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rows)
}

// Put adds a row to the cache.
func (c *AddressCache) Put(row model.AddressRow) {
	c.mu.Lock()
	c.rows[row.PlaceID] = row
	c.mu.Unlock()
}

// LoadCountry fills the cache with the address places of one country.
func (c *AddressCache) LoadCountry(ctx context.Context, db querier, cc string) error {
	cond, args := countryFilter("country_code", cc)
	return c.load(ctx, db, addressCacheSelect+" AND "+cond, args...)
}

func (c *AddressCache) load(ctx context.Context, db querier, query string, args ...any) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying address places: %w", err)
	}
	defer rows.Close()

	loaded := make(map[int64]model.AddressRow)
	for rows.Next() {
		var (
			placeID     int64
			name        hstoreMap
			class, typ  string
			rankAddress int
		)
		if err := rows.Scan(&placeID, &name, &class, &typ, &rankAddress); err != nil {
			return fmt.Errorf("scanning address place: %w", err)
		}
		loaded[placeID] = model.NewAddressRow(placeID, name.Map(), class, typ, rankAddress, c.languages)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading address places: %w", err)
	}

	c.mu.Lock()
	for id, row := range loaded {
		c.rows[id] = row
	}
	c.mu.Unlock()
	return nil
}

// AddressList resolves an address line array against the cache. Ids that
// are not cached are skipped.
func (c *AddressCache) AddressList(lines string) ([]model.AddressRow, error) {
	ids, err := parseAddressLines(lines)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.AddressRow, 0, len(ids))
	for _, id := range ids {
		if row, ok := c.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// LoadAddressList is AddressList for the updater: ids missing from the cache
// are fetched from the database first.
func (c *AddressCache) LoadAddressList(ctx context.Context, db querier, lines string) ([]model.AddressRow, error) {
	ids, err := parseAddressLines(lines)
	if err != nil {
		return nil, err
	}

	var missing []int64
	c.mu.RLock()
	for _, id := range ids {
		if _, ok := c.rows[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.mu.RUnlock()

	if len(missing) > 0 {
		if err := c.load(ctx, db, addressCacheSelect+" AND place_id = ANY($1)", pq.Array(missing)); err != nil {
			return nil, err
		}
	}
	return c.AddressList(lines)
}
