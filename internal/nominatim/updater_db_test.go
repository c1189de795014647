package nominatim

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/postgres"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(testPostgresConfig())
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPostgresConfig() config.PostgresConfig {
	return config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "photon_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "photon"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGetPlacesConsumesQueue(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()

	if _, err := db.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS photon_updates (
		rel TEXT, place_id BIGINT, operation TEXT, indexed_date TIMESTAMP WITH TIME ZONE)`); err != nil {
		t.Fatalf("creating photon_updates: %v", err)
	}
	t.Cleanup(func() { db.DB.Exec("DELETE FROM photon_updates WHERE place_id >= 900000000") })

	_, err := db.DB.ExecContext(ctx, `INSERT INTO photon_updates VALUES
		('placex', 900000001, 'UPDATE', now() - interval '1 minute'),
		('placex', 900000001, 'DELETE', now()),
		('placex', 900000002, 'UPDATE', now()),
		('location_property_osmline', 900000003, 'UPDATE', now())`)
	if err != nil {
		t.Fatalf("seeding queue: %v", err)
	}

	u := NewUpdater(db, model.NewDatabaseProperties(), nil, 3)
	rows, err := u.getPlaces(ctx, tablePlacex)
	if err != nil {
		t.Fatalf("getPlaces: %v", err)
	}

	var mine []updateRow
	for _, r := range rows {
		if r.placeID >= 900000000 {
			mine = append(mine, r)
		}
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 places, got %+v", mine)
	}
	if !mine[0].isDelete || mine[1].isDelete {
		t.Errorf("expected delete for first and update for second place, got %+v", mine)
	}

	var left int
	if err := db.DB.QueryRowContext(ctx,
		"SELECT count(*) FROM photon_updates WHERE rel = 'placex' AND place_id >= 900000000").Scan(&left); err != nil {
		t.Fatal(err)
	}
	if left != 0 {
		t.Errorf("expected placex queue to be consumed, %d rows left", left)
	}

	ok, err := u.IsSetUpForUpdates(ctx)
	if err != nil || !ok {
		t.Errorf("expected tracking table to be detected, got %v %v", ok, err)
	}
}
