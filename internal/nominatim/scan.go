package nominatim

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq/hstore"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// hstoreMap scans a Postgres hstore column, dropping NULL values.
type hstoreMap struct {
	hstore.Hstore
}

func (h hstoreMap) Map() map[string]string {
	out := make(map[string]string, len(h.Hstore.Map))
	for k, v := range h.Hstore.Map {
		if v.Valid {
			out[k] = v.String
		}
	}
	return out
}

// geometry scans a WKB column produced by ST_AsBinary.
type geometry struct {
	orb.Geometry
}

func (g *geometry) Scan(src any) error {
	s := wkb.Scanner(nil)
	if err := s.Scan(src); err != nil {
		return fmt.Errorf("decoding wkb: %w", err)
	}
	if !s.Valid {
		g.Geometry = nil
		return nil
	}
	g.Geometry = s.Geometry
	return nil
}

// parseAddressLines decodes the JSON array of address place ids built by
// the base queries.
func parseAddressLines(lines string) ([]int64, error) {
	if strings.TrimSpace(lines) == "" {
		return nil, nil
	}
	var ids []*int64
	if err := json.Unmarshal([]byte(lines), &ids); err != nil {
		return nil, fmt.Errorf("parsing address lines %q: %w", lines, err)
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != nil {
			out = append(out, *id)
		}
	}
	return out, nil
}

func nullString(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}
