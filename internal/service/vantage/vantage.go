// Package vantage coordinates the probe schedule for the tracked domains of
// one agent instance.
package vantage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mekleo/dnsvantage/internal/domain"
	"github.com/mekleo/dnsvantage/internal/live"
	"github.com/mekleo/dnsvantage/internal/metrics"
	"github.com/mekleo/dnsvantage/internal/probe"
	"github.com/mekleo/dnsvantage/internal/repository"
)

// State tracks the coordinator lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	defaultProbeInterval = time.Second
	defaultFlushEvery    = 4
	defaultProbeKind     = "dns"
)

// Options configure a Coordinator. Zero values fall back to defaults.
type Options struct {
	// ProbeInterval is the pause between probe cycles.
	ProbeInterval time.Duration
	// FlushEvery is the number of cycles between storage flushes.
	FlushEvery int
	// ProbeKind selects the registered probe implementation.
	ProbeKind string
	// ProbeConfig is handed to the probe factory for every domain.
	ProbeConfig probe.Config
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Publisher   live.Publisher
	// InstanceID names this agent in published measurements.
	InstanceID string
}

// Coordinator drives the probe cycle: load tracked domains once, probe each
// on a fixed interval, and flush accumulated statistics to storage every few
// cycles. Several coordinators can run in one process against separate
// stores.
type Coordinator struct {
	store      repository.DomainStore
	domains    []*domain.Domain
	bindings   []*probe.Binding
	interval   time.Duration
	flushEvery int
	probeKind  string
	probeCfg   probe.Config
	instanceID string
	logger     *slog.Logger
	metrics    *metrics.Metrics
	publisher  live.Publisher
	state      atomic.Int32
	ticks      int
	probes     sync.WaitGroup
	once       sync.Once
}

// New constructs a Coordinator with sane defaults.
func New(store repository.DomainStore, opts Options) *Coordinator {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = defaultProbeInterval
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}
	if opts.ProbeKind == "" {
		opts.ProbeKind = defaultProbeKind
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("component", "vantage", "instance_id", opts.InstanceID)
	}
	if opts.ProbeConfig.Logger == nil {
		opts.ProbeConfig.Logger = logger
	}
	return &Coordinator{
		store:      store,
		interval:   opts.ProbeInterval,
		flushEvery: opts.FlushEvery,
		probeKind:  opts.ProbeKind,
		probeCfg:   opts.ProbeConfig,
		instanceID: opts.InstanceID,
		logger:     logger,
		metrics:    opts.Metrics,
		publisher:  opts.Publisher,
	}
}

// State reports the current lifecycle state.
func (c *Coordinator) State() State {
	if c == nil {
		return StateUninitialized
	}
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// InstanceID returns the identifier stamped on published measurements.
func (c *Coordinator) InstanceID() string {
	return c.instanceID
}

// Run loads the tracked domains and drives the probe cycle until ctx is
// cancelled. Statistics accumulated since the last flush are always written
// once more before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	if c == nil {
		return errors.New("vantage coordinator not initialised")
	}
	if err := c.prepare(ctx); err != nil {
		c.setState(StateStopped)
		return err
	}
	if len(c.bindings) == 0 {
		if c.logger != nil {
			c.logger.Info("no domain to probe")
		}
		c.setState(StateStopped)
		return nil
	}

	c.setState(StateRunning)
	c.once.Do(func() {
		if c.logger != nil {
			c.logger.Info("vantage started",
				"domains", len(c.bindings), "probe", c.probeKind,
				"interval", c.interval, "flush_every", c.flushEvery)
		}
	})

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// The first cycle fires immediately; the ticker covers the rest.
	c.probeCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			c.setState(StateStopping)
			c.probes.Wait()
			c.flush(context.Background())
			c.setState(StateStopped)
			if c.logger != nil {
				c.logger.Info("vantage stopped")
			}
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) prepare(ctx context.Context) error {
	c.setState(StateLoading)
	domains, err := c.store.LoadDomains(ctx)
	if err != nil {
		return fmt.Errorf("load domains: %w", err)
	}
	c.domains = domains

	var lastErr error
	c.bindings = make([]*probe.Binding, 0, len(domains))
	for _, d := range domains {
		b, err := probe.Bind(c.probeKind, c.probeCfg, d)
		if err != nil {
			lastErr = err
			if c.logger != nil {
				c.logger.Error("cannot bind probe", "domain", d.Name(), "kind", c.probeKind, "error", err)
			}
			continue
		}
		c.bindings = append(c.bindings, b)
	}
	if len(domains) > 0 && len(c.bindings) == 0 {
		return fmt.Errorf("no probe bound: %w", lastErr)
	}
	return nil
}

// tick advances the flush counter before probing, so a cycle's own events
// wait for the next flush.
func (c *Coordinator) tick(ctx context.Context) {
	c.ticks++
	if c.ticks >= c.flushEvery {
		c.flush(ctx)
		c.ticks = 0
	}
	c.probeCycle(ctx)
}

// probeCycle fires one probe per domain. Each runs in its own goroutine so a
// slow or failing target never delays the others.
func (c *Coordinator) probeCycle(ctx context.Context) {
	for _, b := range c.bindings {
		b := b
		c.probes.Add(1)
		go func() {
			defer c.probes.Done()
			reply, err := b.Probe(ctx)
			name := b.Domain().Name()
			if err != nil {
				c.metrics.ObserveSendFailure(name)
			}
			c.metrics.ObserveEvent(name, reply)
			c.metrics.ObserveDomain(b.Domain().Stats())
			c.publish(name, reply)
		}()
	}
}

func (c *Coordinator) publish(name string, reply domain.Reply) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(live.Measurement{
		InstanceID: c.instanceID,
		Domain:     name,
		Target:     reply.Target,
		Kind:       reply.Kind.String(),
		DurationMS: reply.DurationMS,
		Time:       reply.Time,
	})
}

func (c *Coordinator) flush(ctx context.Context) {
	if err := c.store.SaveDomains(ctx, c.domains); err != nil {
		c.metrics.ObserveFlushFailure()
		if c.logger != nil {
			c.logger.Error("flush failed, measurements stay queued", "error", err)
		}
		return
	}
	c.metrics.ObserveFlush()
	if c.logger != nil {
		c.logger.Debug("domains flushed", "domains", len(c.domains))
	}
}
