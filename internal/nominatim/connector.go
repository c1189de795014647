// Package nominatim reads places from a Nominatim database and turns them
// into index documents, both for a full import and for incremental updates
// driven by the photon_updates tracking table.
package nominatim

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/postgres"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Connector holds what the importer and updater share: the database, the
// document settings from the index properties and the country names.
type Connector struct {
	db            *postgres.Client
	languages     []string
	useGeometries bool
	logger        *slog.Logger

	mu           sync.RWMutex
	countryNames map[string]model.NameMap
}

func newConnector(db *postgres.Client, props *model.DatabaseProperties, component string) *Connector {
	return &Connector{
		db:            db,
		languages:     props.LanguageList(),
		useGeometries: props.SupportGeometries,
		logger:        slog.Default().With("component", component),
	}
}

// LoadCountryNames (re)reads the country_name table. The empty country code
// stands for places outside any country and always has an empty name set.
func (c *Connector) LoadCountryNames(ctx context.Context) error {
	rows, err := c.db.DB.QueryContext(ctx, "SELECT country_code, name FROM country_name")
	if err != nil {
		return fmt.Errorf("querying country names: %w", err)
	}
	defer rows.Close()

	names := map[string]model.NameMap{"": {}}
	for rows.Next() {
		var cc sql.NullString
		var raw hstoreMap
		if err := rows.Scan(&cc, &raw); err != nil {
			return fmt.Errorf("scanning country name: %w", err)
		}
		if !cc.Valid {
			continue
		}
		names[cc.String] = model.NameMapForPlace(raw.Map(), c.languages)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading country names: %w", err)
	}

	c.mu.Lock()
	c.countryNames = names
	c.mu.Unlock()
	c.logger.Debug("country names loaded", "count", len(names))
	return nil
}

// CountryNames returns the names for a lower-case country code.
func (c *Connector) CountryNames(cc string) (model.NameMap, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names, ok := c.countryNames[cc]
	return names, ok
}

// CountryCodes lists the known country codes, including "" for places
// without a country.
func (c *Connector) CountryCodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.countryNames))
	for cc := range c.countryNames {
		out = append(out, cc)
	}
	return out
}

// ImportDate returns the data timestamp of the database from
// import_status. A database without the table yields the zero time.
func (c *Connector) ImportDate(ctx context.Context) (time.Time, error) {
	ok, err := c.db.HasTable(ctx, "import_status")
	if err != nil || !ok {
		return time.Time{}, err
	}
	var ts sql.NullTime
	err = c.db.DB.QueryRowContext(ctx, "SELECT lastimportdate FROM import_status LIMIT 1").Scan(&ts)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("reading import date: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time.UTC(), nil
}

// countryFilter returns the SQL condition selecting a country and its
// arguments. The column may carry a table alias prefix.
func countryFilter(column, cc string) (string, []any) {
	if cc == "" {
		return column + " IS NULL", nil
	}
	return column + " = $1", []any{cc}
}
