package domain

import (
	"math"
	"math/rand"
	"sync"
)

// Domain is one tracked zone under latency measurement. It keeps running
// query-time statistics and a FIFO queue of events awaiting flush. A Domain
// may be touched by its bound probe and the flushing coordinator at the same
// time, so all mutable state is guarded internally.
type Domain struct {
	mu              sync.Mutex
	rank            int64
	name            string
	queryTimeAvg    float64
	queryTimeStdDev float64
	queryCount      uint64
	timeFirst       int64
	timeLast        int64
	pending         []Event
	rng             *rand.Rand
}

// Stats is a consistent read-only snapshot of a Domain.
type Stats struct {
	Rank            int64
	Name            string
	QueryTimeAvg    float64
	QueryTimeStdDev float64
	QueryCount      uint64
	TimeFirst       int64
	TimeLast        int64
	Pending         int
}

// New returns a fresh, not-yet-persisted Domain (rank 0, zero statistics).
func New(name string) *Domain {
	return &Domain{
		name: name,
		rng:  rand.New(rand.NewSource(nameSeed(name))),
	}
}

// Restore rebuilds a Domain from a persisted record. The target generator is
// reseeded from the name, so the generated sequence restarts identically on
// every process run.
func Restore(rank int64, name string, avg, stddev float64, count uint64, first, last int64) *Domain {
	d := New(name)
	d.rank = rank
	d.queryTimeAvg = avg
	d.queryTimeStdDev = stddev
	d.queryCount = count
	d.timeFirst = first
	d.timeLast = last
	return d
}

// nameSeed is the 8-bit XOR fold of every byte of the name. Two names that
// fold to the same byte share a target sequence; that is accepted.
func nameSeed(name string) int64 {
	var h byte
	for i := 0; i < len(name); i++ {
		h ^= name[i]
	}
	return int64(h)
}

func (d *Domain) Name() string {
	return d.name
}

func (d *Domain) Rank() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rank
}

// SetRank records the identity assigned by storage after an insert.
func (d *Domain) SetRank(rank int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rank = rank
}

// Stats returns a snapshot of the running statistics and queue depth.
func (d *Domain) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Rank:            d.rank,
		Name:            d.name,
		QueryTimeAvg:    d.queryTimeAvg,
		QueryTimeStdDev: d.queryTimeStdDev,
		QueryCount:      d.queryCount,
		TimeFirst:       d.timeFirst,
		TimeLast:        d.timeLast,
		Pending:         len(d.pending),
	}
}

// Update queues ev for the next flush and, when ev carries received data,
// folds its duration into the running statistics. Reports whether the
// statistics changed.
func (d *Domain) Update(ev Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = append(d.pending, ev)
	if ev.Kind != KindReceiveData {
		return false
	}

	if d.timeFirst == 0 {
		d.timeFirst = ev.Time
	}
	d.timeLast = ev.Time

	// Single-pass update of mean and standard deviation: recover the running
	// sums from the current estimates, fold in the new duration, divide by
	// the new count. Biased (population) estimator, no Bessel correction;
	// multiply the variance by n/(n-1) if the unbiased form is ever needed.
	n := float64(d.queryCount)
	sum := d.queryTimeAvg*n + ev.DurationMS
	sqAvg := d.queryTimeAvg*d.queryTimeAvg + d.queryTimeStdDev*d.queryTimeStdDev
	sqSum := sqAvg*n + ev.DurationMS*ev.DurationMS

	d.queryCount++
	n = float64(d.queryCount)
	d.queryTimeAvg = sum / n

	variance := sqSum/n - d.queryTimeAvg*d.queryTimeAvg
	if variance < 0 {
		// Rounding can push the difference of two near-equal squares below
		// zero; clamp before the square root.
		variance = 0
	}
	d.queryTimeStdDev = math.Sqrt(variance)

	return true
}

// Target draws the next pseudo-random probe label for this domain: 4 to 10
// characters from [a-z0-9], deterministic per domain name.
func (d *Domain) Target() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	b := make([]byte, 4+d.rng.Intn(7))
	for i := range b {
		c := d.rng.Intn(36)
		if c < 26 {
			b[i] = 'a' + byte(c)
		} else {
			b[i] = '0' + byte(c-26)
		}
	}
	return string(b)
}

// DrainEvents atomically removes and returns all queued events, oldest first.
func (d *Domain) DrainEvents() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	evs := d.pending
	d.pending = nil
	return evs
}

// Requeue puts previously drained events back at the head of the queue,
// ahead of anything folded in since the drain. Used when a flush fails so
// the data is retried on the next one.
func (d *Domain) Requeue(evs []Event) {
	if len(evs) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	merged := make([]Event, 0, len(evs)+len(d.pending))
	merged = append(merged, evs...)
	merged = append(merged, d.pending...)
	d.pending = merged
}
