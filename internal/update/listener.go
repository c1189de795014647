package update

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/kafka"
)

// Listener turns change events from other instances into cache
// invalidations. Bursts of events are coalesced so that a large update
// clears the cache once per quiet period instead of once per place.
type Listener struct {
	cache    Invalidator
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending *time.Timer
	seen    int64
}

func NewListener(cache Invalidator, debounce time.Duration) *Listener {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Listener{
		cache:    cache,
		debounce: debounce,
		logger:   slog.Default().With("component", "change-listener"),
	}
}

// Handle is the kafka.MessageHandler for the place change topic. Events
// that cannot be decoded are logged and skipped.
func (l *Listener) Handle(ctx context.Context, msg kafka.Message) error {
	event, err := kafka.DecodeJSON[ChangeEvent](msg.Value)
	if err != nil {
		l.logger.Warn("skipping undecodable change event", "key", string(msg.Key), "error", err)
		return nil
	}
	l.logger.Debug("change event", "place_id", event.PlaceID, "operation", event.Operation)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen++
	if l.pending != nil {
		return nil
	}
	l.pending = time.AfterFunc(l.debounce, func() {
		l.mu.Lock()
		l.pending = nil
		n := l.seen
		l.seen = 0
		l.mu.Unlock()

		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := l.cache.Invalidate(ictx); err != nil {
			l.logger.Error("cache invalidation failed", "error", err)
			return
		}
		l.logger.Info("cache invalidated after place changes", "events", n)
	})
	return nil
}

// Stop cancels a pending invalidation.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending != nil {
		l.pending.Stop()
		l.pending = nil
	}
}
