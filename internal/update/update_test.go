package update

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/nominatim"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fakeRunner struct {
	calls   atomic.Int32
	failFor int32
	result  *nominatim.UpdateResult
	called  chan struct{}
}

func (f *fakeRunner) Update(ctx context.Context) (*nominatim.UpdateResult, error) {
	n := f.calls.Add(1)
	if f.called != nil {
		defer func() { f.called <- struct{}{} }()
	}
	if n <= f.failFor {
		return nil, errors.New("connection refused")
	}
	return f.result, nil
}

// scriptedRunner plays back one step per call and repeats the last one.
type scriptedRunner struct {
	calls atomic.Int32
	steps []runStep
}

type runStep struct {
	result *nominatim.UpdateResult
	err    error
}

func (f *scriptedRunner) Update(ctx context.Context) (*nominatim.UpdateResult, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.steps) {
		n = len(f.steps) - 1
	}
	return f.steps[n].result, f.steps[n].err
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []nominatim.Change
}

func (p *recordingPublisher) Publish(changes []nominatim.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, changes...)
}

type countingCache struct {
	calls atomic.Int32
	done  chan struct{}
}

func (c *countingCache) Invalidate(ctx context.Context) error {
	c.calls.Add(1)
	if c.done != nil {
		c.done <- struct{}{}
	}
	return nil
}

type fakeProducer struct {
	mu     sync.Mutex
	fail   bool
	events []kafka.Event
}

func (p *fakeProducer) PublishBatch(ctx context.Context, events []kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.events = append(p.events, events...)
	return nil
}

func sampleResult() *nominatim.UpdateResult {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &nominatim.UpdateResult{
		Updated: 1,
		Deleted: 1,
		Changes: []nominatim.Change{
			{Table: "placex", PlaceID: "10", Operation: "update", Time: now},
			{Table: "placex", PlaceID: "11", Operation: "delete", Time: now},
		},
	}
}

func newTestService(runner Runner, enabled bool) *Service {
	s := NewService(runner, config.UpdateConfig{Enabled: enabled, MaxRetries: 3}, nil)
	s.retry.InitialDelay = time.Millisecond
	s.retry.MaxDelay = 5 * time.Millisecond
	return s
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestTriggerDisabled(t *testing.T) {
	s := newTestService(&fakeRunner{result: sampleResult()}, false)
	err := s.Trigger()
	if !errors.Is(err, apperrors.ErrUpdatesDisabled) {
		t.Fatalf("expected ErrUpdatesDisabled, got %v", err)
	}
	if got := apperrors.HTTPStatusCode(err); got != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", got)
	}
}

func TestTriggerBusy(t *testing.T) {
	s := newTestService(&fakeRunner{result: sampleResult()}, true)
	s.running.Store(true)
	err := s.Trigger()
	if !errors.Is(err, apperrors.ErrUpdateInProgress) {
		t.Fatalf("expected ErrUpdateInProgress, got %v", err)
	}
	if got := apperrors.HTTPStatusCode(err); got != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", got)
	}
}

func TestRunOncePublishesAndInvalidates(t *testing.T) {
	runner := &fakeRunner{result: sampleResult()}
	pub := &recordingPublisher{}
	cache := &countingCache{}
	s := newTestService(runner, true)
	s.SetPublisher(pub)
	s.SetInvalidator(cache)

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Updated != 1 || res.Deleted != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if len(pub.changes) != 2 {
		t.Errorf("expected 2 published changes, got %d", len(pub.changes))
	}
	if cache.calls.Load() != 1 {
		t.Errorf("expected one invalidation, got %d", cache.calls.Load())
	}
	st := s.Status()
	if st.Running || st.Runs != 1 || st.LastError != "" || st.LastResult == nil {
		t.Errorf("unexpected status %+v", st)
	}
	if st.Breaker != "closed" {
		t.Errorf("expected closed breaker, got %s", st.Breaker)
	}
}

func TestRunOnceRetries(t *testing.T) {
	runner := &fakeRunner{failFor: 2, result: sampleResult()}
	s := newTestService(runner, true)
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := runner.calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestRunOnceKeepsChangesOfFailedAttempt(t *testing.T) {
	runner := &scriptedRunner{steps: []runStep{
		{result: sampleResult(), err: errors.New("reading osmline queue: connection reset")},
		{result: &nominatim.UpdateResult{}},
	}}
	pub := &recordingPublisher{}
	cache := &countingCache{}
	s := newTestService(runner, true)
	s.SetPublisher(pub)
	s.SetInvalidator(cache)

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Updated != 1 || res.Deleted != 1 || len(res.Changes) != 2 {
		t.Errorf("expected changes of the first attempt in the result, got %+v", res)
	}
	if len(pub.changes) != 2 {
		t.Errorf("expected 2 published changes, got %d", len(pub.changes))
	}
	if cache.calls.Load() != 1 {
		t.Errorf("expected one invalidation, got %d", cache.calls.Load())
	}
}

func TestRunOnceFailureStillInvalidates(t *testing.T) {
	runner := &scriptedRunner{steps: []runStep{
		{result: sampleResult(), err: errors.New("connection reset")},
		{err: errors.New("connection refused")},
	}}
	pub := &recordingPublisher{}
	cache := &countingCache{}
	s := newTestService(runner, true)
	s.SetPublisher(pub)
	s.SetInvalidator(cache)

	res, err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if res == nil || len(res.Changes) != 2 {
		t.Fatalf("expected applied changes in the result, got %+v", res)
	}
	if len(pub.changes) != 2 || cache.calls.Load() != 1 {
		t.Errorf("expected publish and invalidation after partial failure, got %d changes / %d invalidations",
			len(pub.changes), cache.calls.Load())
	}
	if st := s.Status(); st.LastError == "" || st.LastResult == nil || st.LastResult.Updated != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestRunOnceCountsDocumentsOnce(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	s := NewService(&fakeRunner{result: sampleResult()}, config.UpdateConfig{Enabled: true, MaxRetries: 1}, m)
	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got := testutil.ToFloat64(m.DocsDeletedTotal); got != 1 {
		t.Errorf("expected 1 deleted document, got %v", got)
	}
	if got := testutil.ToFloat64(m.DocsIndexedTotal); got != 1 {
		t.Errorf("expected 1 indexed document, got %v", got)
	}
	if got := testutil.ToFloat64(m.UpdateRunsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 successful run, got %v", got)
	}
}

func TestRunOnceRecordsFailure(t *testing.T) {
	runner := &fakeRunner{failFor: 10}
	s := newTestService(runner, true)
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if st := s.Status(); st.LastError == "" || st.Running {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestTriggerRunsPass(t *testing.T) {
	runner := &fakeRunner{result: sampleResult(), called: make(chan struct{}, 1)}
	s := newTestService(runner, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	if err := s.Trigger(); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	select {
	case <-runner.called:
	case <-time.After(2 * time.Second):
		t.Fatal("update did not run")
	}
}

func TestNotifierFlush(t *testing.T) {
	prod := &fakeProducer{}
	n := NewNotifier(prod, 100, time.Hour)
	n.Publish(sampleResult().Changes)
	if n.Pending() != 2 {
		t.Fatalf("expected 2 pending, got %d", n.Pending())
	}
	n.Flush(context.Background())
	if n.Pending() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", n.Pending())
	}
	if len(prod.events) != 2 || prod.events[0].Key != "10" {
		t.Fatalf("unexpected events %+v", prod.events)
	}
	ev, ok := prod.events[1].Value.(ChangeEvent)
	if !ok || ev.Operation != "delete" || ev.PlaceID != "11" {
		t.Errorf("unexpected event value %+v", prod.events[1].Value)
	}
}

func TestNotifierKeepsFailedBatch(t *testing.T) {
	prod := &fakeProducer{fail: true}
	n := NewNotifier(prod, 100, time.Hour)
	n.Publish(sampleResult().Changes)
	n.Flush(context.Background())
	if n.Pending() != 2 {
		t.Fatalf("expected failed batch to be requeued, got %d pending", n.Pending())
	}
	prod.fail = false
	n.Flush(context.Background())
	if n.Pending() != 0 || len(prod.events) != 2 {
		t.Errorf("expected requeued events to be published")
	}
}

func TestListenerCoalescesEvents(t *testing.T) {
	cache := &countingCache{done: make(chan struct{}, 4)}
	l := NewListener(cache, 20*time.Millisecond)
	defer l.Stop()

	for _, id := range []string{"1", "2", "3"} {
		value, _ := json.Marshal(ChangeEvent{PlaceID: id, Operation: "update"})
		if err := l.Handle(context.Background(), kafka.Message{Key: []byte(id), Value: value}); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	select {
	case <-cache.done:
	case <-time.After(2 * time.Second):
		t.Fatal("cache was not invalidated")
	}
	time.Sleep(50 * time.Millisecond)
	if got := cache.calls.Load(); got != 1 {
		t.Errorf("expected a single invalidation, got %d", got)
	}
}

func TestListenerSkipsBadEvents(t *testing.T) {
	cache := &countingCache{}
	l := NewListener(cache, time.Millisecond)
	defer l.Stop()
	if err := l.Handle(context.Background(), kafka.Message{Value: []byte("not json")}); err != nil {
		t.Errorf("expected bad event to be skipped, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if cache.calls.Load() != 0 {
		t.Error("bad event must not invalidate the cache")
	}
}
