// Package probe sends single measurement queries against the synthetic
// targets of tracked domains and folds the outcome into their statistics.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mekleo/dnsvantage/internal/domain"
)

// ErrUnknownKind reports a probe kind with no registered factory.
var ErrUnknownKind = fmt.Errorf("unknown probe kind")

// Querier performs one probe attempt and reports its outcome. The returned
// reply is valid even when err is non-nil, so callers can record the failed
// attempt.
type Querier interface {
	SendQuery(ctx context.Context) (domain.Reply, error)
}

// Config carries the knobs shared by probe implementations. Fields a given
// kind does not use are ignored by it.
type Config struct {
	// ResolvConf locates the resolver configuration for DNS probes.
	ResolvConf string
	// Retry caps how many attempts a single query makes.
	Retry int
	// Timeout bounds one attempt.
	Timeout time.Duration
	// QType is the DNS query type, such as "A" or "TXT".
	QType string
	// QClass is the DNS query class, such as "IN" or "CH".
	QClass string
	// Recurse asks the resolver to recurse on DNS queries.
	Recurse bool
	// Privileged switches ICMP probes to raw sockets.
	Privileged bool
	// Logger receives per-attempt diagnostics.
	Logger *slog.Logger
}

// Factory builds a Querier bound to one domain.
type Factory func(cfg Config, dom *domain.Domain) (Querier, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a probe kind available to New. Implementations call it from
// init.
func Register(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

// New builds a Querier of the given kind for dom.
func New(kind string, cfg Config, dom *domain.Domain) (Querier, error) {
	factoriesMu.RLock()
	f, ok := factories[kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
	return f(cfg, dom)
}

// Binding ties a domain to the querier that measures it.
type Binding struct {
	dom     *domain.Domain
	querier Querier
	log     *slog.Logger
}

// Bind builds a querier of the given kind for dom and wraps both.
func Bind(kind string, cfg Config, dom *domain.Domain) (*Binding, error) {
	q, err := New(kind, cfg, dom)
	if err != nil {
		return nil, err
	}
	return &Binding{dom: dom, querier: q, log: cfg.Logger}, nil
}

// Domain returns the bound domain.
func (b *Binding) Domain() *domain.Domain {
	return b.dom
}

// Probe runs one attempt and folds its reply into the domain. A failed send
// is still recorded, so the statistics keep track of unhealthy targets.
func (b *Binding) Probe(ctx context.Context) (domain.Reply, error) {
	reply, err := b.querier.SendQuery(ctx)
	if err != nil && b.log != nil {
		b.log.Error("cannot send query", "domain", b.dom.Name(), "target", reply.Target, "error", err)
	}
	b.dom.Update(reply)
	return reply, err
}
