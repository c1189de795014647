package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
)

const idPageSize = 1000

// Updater replaces the document sets of single places. Every call is
// applied as one index batch.
type Updater struct {
	store   *Store
	logger  *slog.Logger
	indexed atomic.Int64
	deleted atomic.Int64
}

func NewUpdater(store *Store) *Updater {
	return &Updater{
		store:  store,
		logger: slog.Default().With("component", "index-updater"),
	}
}

// AddOrUpdate indexes docs as the complete document set of placeID. Any
// document of the place not overwritten by the new set is removed, so a
// place never has more than one set in the index. An empty set deletes
// the place.
func (u *Updater) AddOrUpdate(ctx context.Context, placeID string, docs []*model.Doc) error {
	existing, err := u.idsOf(ctx, placeID)
	if err != nil {
		return err
	}
	props := u.store.Properties()
	batch := u.store.idx.NewBatch()
	keep := make(map[string]bool, len(docs))
	for i, d := range docs {
		m, err := indexDocument(d, props)
		if err != nil {
			return err
		}
		uid := model.UID(placeID, i)
		keep[uid] = true
		if err := batch.Index(uid, m); err != nil {
			return fmt.Errorf("queueing %s: %w", uid, err)
		}
	}
	stale := 0
	for _, id := range existing {
		if !keep[id] {
			batch.Delete(id)
			stale++
		}
	}
	if batch.Size() == 0 {
		return nil
	}
	if err := u.store.idx.Batch(batch); err != nil {
		return fmt.Errorf("updating place %s: %w", placeID, err)
	}
	u.indexed.Add(int64(len(docs)))
	u.deleted.Add(int64(stale))
	u.logger.Debug("place updated", "place_id", placeID, "docs", len(docs), "removed", stale)
	return nil
}

// Delete removes every document of placeID.
func (u *Updater) Delete(ctx context.Context, placeID string) error {
	return u.AddOrUpdate(ctx, placeID, nil)
}

// Exists reports whether a document with the given id is indexed.
func (u *Updater) Exists(uid string) (bool, error) {
	doc, err := u.store.idx.Document(uid)
	if err != nil {
		return false, fmt.Errorf("loading document %s: %w", uid, err)
	}
	return doc != nil, nil
}

// Finish logs the totals of the update run and resets them.
func (u *Updater) Finish(ctx context.Context) error {
	u.logger.Info("index updates applied",
		"docs_indexed", u.indexed.Swap(0),
		"docs_deleted", u.deleted.Swap(0),
	)
	return nil
}

// idsOf returns the ids of all documents belonging to placeID.
func (u *Updater) idsOf(ctx context.Context, placeID string) ([]string, error) {
	q := bleve.NewTermQuery(placeID)
	q.SetField(fieldPlaceID)

	var ids []string
	for from := 0; ; from += idPageSize {
		req := bleve.NewSearchRequestOptions(q, idPageSize, from, false)
		res, err := u.store.idx.SearchInContext(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("looking up documents of place %s: %w", placeID, err)
		}
		for _, hit := range res.Hits {
			ids = append(ids, hit.ID)
		}
		if len(res.Hits) < idPageSize {
			return ids, nil
		}
	}
}
