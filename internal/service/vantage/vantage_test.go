package vantage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mekleo/dnsvantage/internal/domain"
	"github.com/mekleo/dnsvantage/internal/live"
	"github.com/mekleo/dnsvantage/internal/probe"
)

// stubStore mimics the transactional save contract: on failure every drained
// event is requeued on its domain.
type stubStore struct {
	mu      sync.Mutex
	domains []*domain.Domain
	loadErr error
	saveErr error
	saves   int
	batches [][]domain.Event
}

func (s *stubStore) LoadDomains(ctx context.Context) ([]*domain.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.domains, nil
}

func (s *stubStore) AddDomains(ctx context.Context, domains []*domain.Domain) error {
	return nil
}

func (s *stubStore) DeleteDomains(ctx context.Context, names []string) error {
	return nil
}

func (s *stubStore) SaveDomains(ctx context.Context, domains []*domain.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	drained := make(map[*domain.Domain][]domain.Event)
	var all []domain.Event
	for _, d := range domains {
		evs := d.DrainEvents()
		if len(evs) > 0 {
			drained[d] = evs
			all = append(all, evs...)
		}
	}
	if s.saveErr != nil {
		for d, evs := range drained {
			d.Requeue(evs)
		}
		return s.saveErr
	}
	s.batches = append(s.batches, all)
	return nil
}

func (s *stubStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *stubStore) savedBatches() [][]domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]domain.Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *stubStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

type stubPublisher struct {
	mu           sync.Mutex
	measurements []live.Measurement
	closed       bool
}

func (p *stubPublisher) Publish(m live.Measurement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.measurements = append(p.measurements, m)
}

func (p *stubPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *stubPublisher) snapshot() []live.Measurement {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]live.Measurement, len(p.measurements))
	copy(out, p.measurements)
	return out
}

// scriptedQuerier answers with increasing durations, or fails every attempt.
type scriptedQuerier struct {
	dom   *domain.Domain
	fail  bool
	mu    sync.Mutex
	calls int
}

func (q *scriptedQuerier) SendQuery(ctx context.Context) (domain.Reply, error) {
	q.mu.Lock()
	q.calls++
	n := q.calls
	q.mu.Unlock()

	reply := domain.Reply{
		Time:       int64(n),
		Target:     "abcd." + q.dom.Name(),
		Kind:       domain.KindReceiveData,
		DurationMS: float64(10 * n),
	}
	if q.fail {
		reply.Kind = domain.KindError
		reply.DurationMS = 0
		return reply, errors.New("probe failed")
	}
	return reply, nil
}

func registerScripted(kind string, failFor map[string]bool) {
	probe.Register(kind, func(cfg probe.Config, dom *domain.Domain) (probe.Querier, error) {
		return &scriptedQuerier{dom: dom, fail: failFor[dom.Name()]}, nil
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func trackedDomains(names ...string) []*domain.Domain {
	out := make([]*domain.Domain, 0, len(names))
	for i, name := range names {
		out = append(out, domain.Restore(int64(i+1), name, 0, 0, 0, 0, 0))
	}
	return out
}

func TestNewDefaults(t *testing.T) {
	c := New(&stubStore{}, Options{})
	if c.interval != time.Second {
		t.Fatalf("expected default interval 1s, got %v", c.interval)
	}
	if c.flushEvery != 4 {
		t.Fatalf("expected default flush cadence 4, got %d", c.flushEvery)
	}
	if c.probeKind != "dns" {
		t.Fatalf("expected default probe kind dns, got %q", c.probeKind)
	}
	if c.instanceID == "" {
		t.Fatal("expected a generated instance id")
	}
	if c.State() != StateUninitialized {
		t.Fatalf("expected uninitialized state, got %s", c.State())
	}
}

func TestRunReturnsWhenNoDomains(t *testing.T) {
	store := &stubStore{}
	c := New(store, Options{ProbeKind: "vantage-test-unused"})

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("expected nil for an empty domain set, got %v", err)
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", c.State())
	}
	if store.saveCount() != 0 {
		t.Fatalf("expected no saves, got %d", store.saveCount())
	}
}

func TestRunFailsWhenLoadFails(t *testing.T) {
	loadErr := errors.New("database gone")
	store := &stubStore{loadErr: loadErr}
	c := New(store, Options{})

	err := c.Run(context.Background())
	if !errors.Is(err, loadErr) {
		t.Fatalf("expected load error, got %v", err)
	}
	if c.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", c.State())
	}
}

func TestRunFailsWhenNothingBinds(t *testing.T) {
	store := &stubStore{domains: trackedDomains("one.example")}
	c := New(store, Options{ProbeKind: "vantage-test-unregistered"})

	err := c.Run(context.Background())
	if !errors.Is(err, probe.ErrUnknownKind) {
		t.Fatalf("expected unknown probe kind error, got %v", err)
	}
}

func TestTickFlushCadence(t *testing.T) {
	registerScripted("vantage-test-cadence", nil)
	store := &stubStore{domains: trackedDomains("one.example")}
	c := New(store, Options{ProbeKind: "vantage-test-cadence", FlushEvery: 4})

	if err := c.prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	for i := 0; i < 8; i++ {
		c.tick(context.Background())
		c.probes.Wait()
	}

	if store.saveCount() != 2 {
		t.Fatalf("expected flushes on the 4th and 8th tick, got %d", store.saveCount())
	}
	batches := store.savedBatches()
	if len(batches[0]) != 3 {
		t.Fatalf("expected 3 events in the first flush, got %d", len(batches[0]))
	}
	if len(batches[1]) != 4 {
		t.Fatalf("expected 4 events in the second flush, got %d", len(batches[1]))
	}
	if pending := store.domains[0].Stats().Pending; pending != 1 {
		t.Fatalf("expected the 8th tick's event still queued, got %d", pending)
	}
}

func TestRunFlushesOnceMoreOnShutdown(t *testing.T) {
	registerScripted("vantage-test-shutdown", nil)
	store := &stubStore{domains: trackedDomains("one.example", "two.example")}
	c := New(store, Options{
		ProbeKind:     "vantage-test-shutdown",
		ProbeInterval: time.Hour,
		FlushEvery:    1000,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return c.State() == StateRunning })
	waitFor(t, 2*time.Second, func() bool {
		return store.domains[0].Stats().QueryCount == 1 && store.domains[1].Stats().QueryCount == 1
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not stop after context cancel")
	}

	if c.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", c.State())
	}
	if store.saveCount() != 1 {
		t.Fatalf("expected exactly one final flush, got %d", store.saveCount())
	}
	batches := store.savedBatches()
	if len(batches[0]) != 2 {
		t.Fatalf("expected both first-cycle events flushed, got %d", len(batches[0]))
	}
}

func TestProbeCycleIsolatesFailingDomain(t *testing.T) {
	registerScripted("vantage-test-isolation", map[string]bool{"bad.example": true})
	store := &stubStore{domains: trackedDomains("good.example", "bad.example")}
	c := New(store, Options{ProbeKind: "vantage-test-isolation"})

	if err := c.prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	c.probeCycle(context.Background())
	c.probes.Wait()

	good := store.domains[0].Stats()
	bad := store.domains[1].Stats()
	if good.QueryCount != 1 {
		t.Fatalf("expected healthy domain measured, count %d", good.QueryCount)
	}
	if bad.QueryCount != 0 {
		t.Fatalf("expected failing domain statistics untouched, count %d", bad.QueryCount)
	}
	if bad.Pending != 1 {
		t.Fatalf("expected failed attempt queued on its domain, pending %d", bad.Pending)
	}
}

func TestPrepareSkipsUnbindableDomains(t *testing.T) {
	bindErr := errors.New("resolv.conf unreadable")
	probe.Register("vantage-test-partial", func(cfg probe.Config, dom *domain.Domain) (probe.Querier, error) {
		if dom.Name() == "broken.example" {
			return nil, bindErr
		}
		return &scriptedQuerier{dom: dom}, nil
	})
	store := &stubStore{domains: trackedDomains("ok.example", "broken.example")}
	c := New(store, Options{ProbeKind: "vantage-test-partial"})

	if err := c.prepare(context.Background()); err != nil {
		t.Fatalf("expected prepare to tolerate one unbindable domain, got %v", err)
	}
	if len(c.bindings) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(c.bindings))
	}
	if c.bindings[0].Domain().Name() != "ok.example" {
		t.Fatalf("expected ok.example bound, got %s", c.bindings[0].Domain().Name())
	}
}

func TestProbeCyclePublishesMeasurements(t *testing.T) {
	registerScripted("vantage-test-publish", nil)
	store := &stubStore{domains: trackedDomains("one.example")}
	pub := &stubPublisher{}
	c := New(store, Options{
		ProbeKind:  "vantage-test-publish",
		Publisher:  pub,
		InstanceID: "agent-1",
	})

	if err := c.prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	c.probeCycle(context.Background())
	c.probes.Wait()

	measurements := pub.snapshot()
	if len(measurements) != 1 {
		t.Fatalf("expected 1 published measurement, got %d", len(measurements))
	}
	m := measurements[0]
	if m.InstanceID != "agent-1" {
		t.Fatalf("expected instance agent-1, got %q", m.InstanceID)
	}
	if m.Domain != "one.example" {
		t.Fatalf("expected domain one.example, got %q", m.Domain)
	}
	if m.Kind != "receive_data" {
		t.Fatalf("expected receive_data kind, got %q", m.Kind)
	}
	if m.DurationMS != 10 {
		t.Fatalf("expected duration 10ms, got %v", m.DurationMS)
	}
}

func TestFailedFlushKeepsEventsForTheNext(t *testing.T) {
	registerScripted("vantage-test-requeue", nil)
	store := &stubStore{domains: trackedDomains("one.example")}
	store.setSaveErr(errors.New("connection refused"))
	c := New(store, Options{ProbeKind: "vantage-test-requeue", FlushEvery: 4})

	if err := c.prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	for i := 0; i < 4; i++ {
		c.tick(context.Background())
		c.probes.Wait()
	}

	if store.saveCount() != 1 {
		t.Fatalf("expected one failed flush attempt, got %d", store.saveCount())
	}
	if pending := store.domains[0].Stats().Pending; pending != 4 {
		t.Fatalf("expected requeued and new events to add up to 4, got %d", pending)
	}

	store.setSaveErr(nil)
	c.flush(context.Background())

	batches := store.savedBatches()
	if len(batches) != 1 || len(batches[0]) != 4 {
		t.Fatalf("expected the retry to carry all 4 events, got %v", batches)
	}
	if pending := store.domains[0].Stats().Pending; pending != 0 {
		t.Fatalf("expected empty queue after successful flush, got %d", pending)
	}
}
