package update

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/nominatim"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/kafka"
)

// ChangeEvent is the Kafka message for one changed place.
type ChangeEvent struct {
	PlaceID   string    `json:"place_id"`
	Table     string    `json:"table"`
	Operation string    `json:"operation"`
	Time      time.Time `json:"time"`
}

// BatchPublisher writes a batch of events.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Notifier buffers change events and flushes them to Kafka when the buffer
// is full or the flush interval passes. Failed batches are kept for the
// next flush up to a bound, beyond which the oldest events are dropped.
type Notifier struct {
	producer      BatchPublisher
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
}

func NewNotifier(producer BatchPublisher, batchSize int, flushInterval time.Duration) *Notifier {
	if batchSize <= 0 {
		batchSize = 500
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &Notifier{
		producer:      producer,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "change-notifier"),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. It returns at once; Close waits for the
// loop to finish after ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) {
	go func() {
		defer close(n.done)
		ticker := time.NewTicker(n.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				n.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	n.logger.Info("change notifier started", "batch_size", n.batchSize, "flush_interval", n.flushInterval)
}

// Publish queues one event per change.
func (n *Notifier) Publish(changes []nominatim.Change) {
	n.mu.Lock()
	for _, c := range changes {
		n.buffer = append(n.buffer, kafka.Event{
			Key: c.PlaceID,
			Value: ChangeEvent{
				PlaceID:   c.PlaceID,
				Table:     c.Table,
				Operation: c.Operation,
				Time:      c.Time,
			},
			Time: c.Time,
		})
	}
	full := len(n.buffer) >= n.batchSize
	n.mu.Unlock()
	if full {
		go n.Flush(context.Background())
	}
}

// Pending returns the number of buffered events.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.buffer)
}

// Flush writes the buffered events now.
func (n *Notifier) Flush(ctx context.Context) {
	n.mu.Lock()
	if len(n.buffer) == 0 {
		n.mu.Unlock()
		return
	}
	batch := n.buffer
	n.buffer = make([]kafka.Event, 0, n.batchSize)
	n.mu.Unlock()

	if err := n.producer.PublishBatch(ctx, batch); err != nil {
		n.logger.Error("publishing changes failed", "count", len(batch), "error", err)
		n.mu.Lock()
		n.buffer = append(batch, n.buffer...)
		if limit := n.batchSize * 4; len(n.buffer) > limit {
			dropped := len(n.buffer) - limit
			n.buffer = n.buffer[dropped:]
			n.logger.Warn("change buffer overflow", "dropped", dropped)
		}
		n.mu.Unlock()
		return
	}
	n.logger.Debug("changes published", "count", len(batch))
}

// Close waits for the flush loop started by Start.
func (n *Notifier) Close() {
	<-n.done
}
