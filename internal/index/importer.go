package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/model"
)

// DefaultBatchSize is the number of documents written per index batch.
const DefaultBatchSize = 10000

// Importer writes document sets into the index in batches. It is safe for
// concurrent use by several import workers.
type Importer struct {
	store     *Store
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	batch   *bleve.Batch
	pending int
	total   int64
	started time.Time
}

func NewImporter(store *Store, batchSize int) *Importer {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Importer{
		store:     store,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "index-importer"),
		batch:     store.idx.NewBatch(),
		started:   time.Now(),
	}
}

// Add queues the document set of one place. The n-th document of the set
// gets the id model.UID(placeID, n).
func (im *Importer) Add(ctx context.Context, docs []*model.Doc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	props := im.store.Properties()
	prepared := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		m, err := indexDocument(d, props)
		if err != nil {
			return err
		}
		prepared = append(prepared, m)
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	for i, m := range prepared {
		if err := im.batch.Index(model.UID(docs[i].PlaceID, i), m); err != nil {
			return fmt.Errorf("queueing place %s: %w", docs[i].PlaceID, err)
		}
		im.pending++
	}
	if im.pending >= im.batchSize {
		return im.flushLocked()
	}
	return nil
}

func (im *Importer) flushLocked() error {
	if im.pending == 0 {
		return nil
	}
	if err := im.store.idx.Batch(im.batch); err != nil {
		return fmt.Errorf("writing batch of %d documents: %w", im.pending, err)
	}
	im.total += int64(im.pending)
	im.logger.Debug("batch written",
		"docs", im.pending,
		"total", im.total,
		"docs_per_sec", int(float64(im.total)/time.Since(im.started).Seconds()),
	)
	im.batch.Reset()
	im.pending = 0
	return nil
}

// Finish flushes the remaining documents.
func (im *Importer) Finish(ctx context.Context) error {
	im.mu.Lock()
	defer im.mu.Unlock()
	if err := im.flushLocked(); err != nil {
		return err
	}
	im.logger.Info("import finished",
		"docs", im.total,
		"duration", time.Since(im.started).Round(time.Second),
	)
	return nil
}

// Total returns the number of documents written so far.
func (im *Importer) Total() int64 {
	im.mu.Lock()
	defer im.mu.Unlock()
	return im.total
}
