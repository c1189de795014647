package nominatim

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/postgres"
	"github.com/lib/pq"
)

const (
	tablePlacex  = "placex"
	tableOsmline = "location_property_osmline"

	opDelete = "DELETE"
	opUpdate = "UPDATE"
)

const triggerSQL = `
DROP TABLE IF EXISTS photon_updates;
CREATE TABLE photon_updates (rel TEXT, place_id BIGINT,
                             operation TEXT,
                             indexed_date TIMESTAMP WITH TIME ZONE);
CREATE OR REPLACE FUNCTION photon_update_func()
 RETURNS TRIGGER AS $$
BEGIN
  INSERT INTO photon_updates(
     VALUES (TG_TABLE_NAME, OLD.place_id, TG_OP, statement_timestamp()));
  RETURN NEW;
END; $$ LANGUAGE plpgsql;
CREATE OR REPLACE TRIGGER photon_trigger_update_placex
   AFTER UPDATE ON placex FOR EACH ROW
   WHEN (OLD.indexed_status > 0 AND NEW.indexed_status = 0)
   EXECUTE FUNCTION photon_update_func();
CREATE OR REPLACE TRIGGER photon_trigger_delete_placex
   AFTER DELETE ON placex FOR EACH ROW
   EXECUTE FUNCTION photon_update_func();
CREATE OR REPLACE TRIGGER photon_trigger_update_interpolation
   AFTER UPDATE ON location_property_osmline FOR EACH ROW
   WHEN (OLD.indexed_status > 0 AND NEW.indexed_status = 0)
   EXECUTE FUNCTION photon_update_func();
CREATE OR REPLACE TRIGGER photon_trigger_delete_interpolation
   AFTER DELETE ON location_property_osmline FOR EACH ROW
   EXECUTE FUNCTION photon_update_func()`

// IndexUpdater applies place changes to the search index. AddOrUpdate
// replaces the whole document set of a place; an empty set removes it.
type IndexUpdater interface {
	AddOrUpdate(ctx context.Context, placeID string, docs []*model.Doc) error
	Delete(ctx context.Context, placeID string) error
	Finish(ctx context.Context) error
}

// Change describes one place touched by an update run.
type Change struct {
	Table     string    `json:"table"`
	PlaceID   string    `json:"place_id"`
	Operation string    `json:"operation"`
	Time      time.Time `json:"time"`
}

// UpdateResult summarizes an update run.
type UpdateResult struct {
	Updated  int      `json:"updated"`
	Deleted  int      `json:"deleted"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Retrying int      `json:"retrying"`
	Changes  []Change `json:"-"`
}

type updateRow struct {
	placeID  int64
	isDelete bool
	date     time.Time
}

type retryEntry struct {
	row      updateRow
	attempts int
}

// Updater consumes the photon_updates table filled by the database
// triggers and applies the changes to an IndexUpdater.
type Updater struct {
	*Connector
	index      IndexUpdater
	cache      *AddressCache
	maxRetries int

	running sync.Mutex

	retryMu sync.Mutex
	retries map[string]map[int64]*retryEntry
}

func NewUpdater(db *postgres.Client, props *model.DatabaseProperties, index IndexUpdater, maxRetries int) *Updater {
	c := newConnector(db, props, "nominatim-updater")
	return &Updater{
		Connector:  c,
		index:      index,
		cache:      NewAddressCache(c.languages),
		maxRetries: maxRetries,
		retries: map[string]map[int64]*retryEntry{
			tablePlacex:  {},
			tableOsmline: {},
		},
	}
}

// IsBusy reports whether an update run is in progress.
func (u *Updater) IsBusy() bool {
	if u.running.TryLock() {
		u.running.Unlock()
		return false
	}
	return true
}

// IsSetUpForUpdates reports whether the tracking table exists.
func (u *Updater) IsSetUpForUpdates(ctx context.Context) (bool, error) {
	return u.db.HasTable(ctx, "photon_updates")
}

// InitUpdates installs the tracking table and triggers and allows user to
// consume the table. Existing tracking data is discarded.
func (u *Updater) InitUpdates(ctx context.Context, user string) error {
	u.logger.Info("creating tracking tables", "user", user)
	return u.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, triggerSQL); err != nil {
			return fmt.Errorf("creating update triggers: %w", err)
		}
		grant := "GRANT SELECT, DELETE ON photon_updates TO " + pq.QuoteIdentifier(user)
		if _, err := tx.ExecContext(ctx, grant); err != nil {
			return fmt.Errorf("granting access to photon_updates: %w", err)
		}
		return nil
	})
}

// Update runs one update pass. It returns ErrUpdateInProgress right away
// when another pass is running.
func (u *Updater) Update(ctx context.Context) (*UpdateResult, error) {
	if !u.running.TryLock() {
		u.logger.Info("update already in progress")
		return nil, apperrors.ErrUpdateInProgress
	}
	defer u.running.Unlock()

	if err := u.LoadCountryNames(ctx); err != nil {
		return nil, err
	}

	res := &UpdateResult{}
	if err := u.updateTable(ctx, tablePlacex, res); err != nil {
		return res, err
	}
	if err := u.updateTable(ctx, tableOsmline, res); err != nil {
		return res, err
	}
	if err := u.index.Finish(ctx); err != nil {
		return res, fmt.Errorf("finishing index update: %w", err)
	}
	res.Retrying = u.pendingRetries()

	u.logger.Info("finished updating",
		"updated", res.Updated,
		"deleted", res.Deleted,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"retrying", res.Retrying,
	)
	return res, nil
}

func (u *Updater) updateTable(ctx context.Context, table string, res *UpdateResult) error {
	rows, err := u.getPlaces(ctx, table)
	if err != nil {
		return err
	}
	rows = u.mergeRetries(table, rows)
	u.logger.Info("starting updates", "table", table, "places", len(rows))
	return u.applyRows(ctx, table, rows, res)
}

// applyRows indexes the consumed queue entries of one table. When ctx ends
// the unprocessed rows are kept for the next run, since the database queue
// no longer holds them.
func (u *Updater) applyRows(ctx context.Context, table string, rows []updateRow, res *UpdateResult) error {
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			for _, rest := range rows[i:] {
				u.requeue(table, rest)
			}
			u.logger.Warn("update interrupted", "table", table, "requeued", len(rows)-i)
			return err
		}
		placeID := strconv.FormatInt(row.placeID, 10)

		if row.isDelete {
			if err := u.index.Delete(ctx, placeID); err != nil {
				u.fail(table, row, err, res)
				continue
			}
			res.Deleted++
			u.clearRetry(table, row.placeID)
			res.Changes = append(res.Changes, Change{Table: table, PlaceID: placeID, Operation: opDelete, Time: row.date})
			continue
		}

		docs, found, err := u.loadPlace(ctx, table, row.placeID)
		if err != nil {
			u.fail(table, row, err, res)
			continue
		}
		if !found {
			res.Skipped++
			u.clearRetry(table, row.placeID)
			continue
		}
		if err := u.index.AddOrUpdate(ctx, placeID, docs); err != nil {
			u.fail(table, row, err, res)
			continue
		}
		res.Updated++
		u.clearRetry(table, row.placeID)
		res.Changes = append(res.Changes, Change{Table: table, PlaceID: placeID, Operation: opUpdate, Time: row.date})
	}
	return nil
}

func (u *Updater) loadPlace(ctx context.Context, table string, placeID int64) ([]*model.Doc, bool, error) {
	if table == tableOsmline {
		return u.InterpolationsByPlaceID(ctx, placeID)
	}
	return u.ByPlaceID(ctx, placeID)
}

// getPlaces consumes the queue of one table and keeps the newest entry per
// place.
func (u *Updater) getPlaces(ctx context.Context, table string) ([]updateRow, error) {
	var rows []updateRow
	err := u.db.InTx(ctx, func(tx *sql.Tx) error {
		rs, err := tx.QueryContext(ctx,
			"DELETE FROM photon_updates WHERE rel = $1 RETURNING place_id, operation, indexed_date", table)
		if err != nil {
			return err
		}
		defer rs.Close()
		for rs.Next() {
			var (
				r  updateRow
				op sql.NullString
				ts sql.NullTime
			)
			if err := rs.Scan(&r.placeID, &op, &ts); err != nil {
				return err
			}
			r.isDelete = op.String == opDelete
			r.date = ts.Time
			rows = append(rows, r)
		}
		return rs.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("reading update queue for %s: %w", table, err)
	}
	return latestPerPlace(rows), nil
}

// latestPerPlace orders rows by place id and keeps only the newest row of
// each place.
func latestPerPlace(rows []updateRow) []updateRow {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].placeID != rows[j].placeID {
			return rows[i].placeID < rows[j].placeID
		}
		return rows[i].date.After(rows[j].date)
	})
	out := make([]updateRow, 0, len(rows))
	for i, r := range rows {
		if i > 0 && rows[i-1].placeID == r.placeID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// mergeRetries adds places that failed in earlier runs. A fresh queue
// entry for the same place wins over the retry.
func (u *Updater) mergeRetries(table string, rows []updateRow) []updateRow {
	u.retryMu.Lock()
	defer u.retryMu.Unlock()
	pending := u.retries[table]
	if len(pending) == 0 {
		return rows
	}
	seen := make(map[int64]bool, len(rows))
	for _, r := range rows {
		seen[r.placeID] = true
	}
	for id, e := range pending {
		if !seen[id] {
			rows = append(rows, e.row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].placeID < rows[j].placeID })
	return rows
}

// fail records a failed place. It is retried in the next run until it has
// failed maxRetries times.
func (u *Updater) fail(table string, row updateRow, err error, res *UpdateResult) {
	res.Failed++
	u.retryMu.Lock()
	defer u.retryMu.Unlock()
	e, ok := u.retries[table][row.placeID]
	if !ok {
		e = &retryEntry{row: row}
		u.retries[table][row.placeID] = e
	}
	e.attempts++
	if u.maxRetries > 0 && e.attempts >= u.maxRetries {
		delete(u.retries[table], row.placeID)
		u.logger.Error("giving up on place", "table", table, "place_id", row.placeID, "attempts", e.attempts, "error", err)
		return
	}
	u.logger.Warn("place update failed, will retry", "table", table, "place_id", row.placeID, "attempts", e.attempts, "error", err)
}

// requeue keeps an unprocessed row for the next run without counting it
// as a failure.
func (u *Updater) requeue(table string, row updateRow) {
	u.retryMu.Lock()
	defer u.retryMu.Unlock()
	if _, ok := u.retries[table][row.placeID]; !ok {
		u.retries[table][row.placeID] = &retryEntry{row: row}
	}
}

func (u *Updater) clearRetry(table string, placeID int64) {
	u.retryMu.Lock()
	delete(u.retries[table], placeID)
	u.retryMu.Unlock()
}

// PendingRetries lists the places waiting for another attempt as
// "table/place_id", sorted.
func (u *Updater) PendingRetries() []string {
	u.retryMu.Lock()
	defer u.retryMu.Unlock()
	var out []string
	for table, m := range u.retries {
		for id := range m {
			out = append(out, table+"/"+strconv.FormatInt(id, 10))
		}
	}
	sort.Strings(out)
	return out
}

func (u *Updater) pendingRetries() int {
	u.retryMu.Lock()
	defer u.retryMu.Unlock()
	n := 0
	for _, m := range u.retries {
		n += len(m)
	}
	return n
}

// ByPlaceID builds the document set of a placex row. found is false when
// the place does not exist or is still waiting for indexing.
func (u *Updater) ByPlaceID(ctx context.Context, placeID int64) ([]*model.Doc, bool, error) {
	rows, err := u.db.DB.QueryContext(ctx,
		placeSelect(u.useGeometries)+", "+parentColumns+`
  FROM placex p LEFT JOIN placex parent ON p.parent_place_id = parent.place_id
 WHERE p.place_id = $1 AND p.indexed_status = 0`, placeID)
	if err != nil {
		return nil, false, fmt.Errorf("querying place %d: %w", placeID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	r, err := scanPlace(rows, u.useGeometries, true)
	if err != nil {
		return nil, false, err
	}
	if r.rankSearch < 30 {
		r.parent = parentRow{}
	}
	lines, err := u.cache.LoadAddressList(ctx, u.db.DB, r.addressLines.String)
	if err != nil {
		return nil, false, err
	}
	cnames, _ := u.CountryNames(nullString(r.countryCode))
	return composePlace(r, lines, cnames, u.languages), true, nil
}

// InterpolationsByPlaceID builds the documents of an interpolation line.
func (u *Updater) InterpolationsByPlaceID(ctx context.Context, placeID int64) ([]*model.Doc, bool, error) {
	rows, err := u.db.DB.QueryContext(ctx,
		osmlineSelect+" AND p.place_id = $1 AND p.indexed_status = 0", placeID)
	if err != nil {
		return nil, false, fmt.Errorf("querying interpolation %d: %w", placeID, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	r, err := scanOsmline(rows)
	if err != nil {
		return nil, false, err
	}
	lines, err := u.cache.LoadAddressList(ctx, u.db.DB, r.addressLines.String)
	if err != nil {
		return nil, false, err
	}
	cnames, _ := u.CountryNames(nullString(r.countryCode))
	return composeInterpolation(r, lines, cnames, u.languages), true, nil
}
