package probe

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-ping/ping"

	"github.com/mekleo/dnsvantage/internal/domain"
)

func init() {
	Register("icmp", newICMPQuerier)
}

// icmpQuerier pings the domain apex instead of resolving a synthetic label,
// for zones that answer ICMP but delegate DNS elsewhere.
type icmpQuerier struct {
	dom        *domain.Domain
	timeout    time.Duration
	privileged bool
	log        *slog.Logger
	now        func() time.Time
	run        func(target string, timeout time.Duration, privileged bool) (int, time.Duration, error)
}

func newICMPQuerier(cfg Config, dom *domain.Domain) (Querier, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &icmpQuerier{
		dom:        dom,
		timeout:    timeout,
		privileged: cfg.Privileged,
		log:        cfg.Logger,
		now:        time.Now,
		run:        runPinger,
	}, nil
}

func (q *icmpQuerier) SendQuery(ctx context.Context) (domain.Reply, error) {
	target := q.dom.Name()
	start := q.now()
	reply := domain.Reply{
		Time:   start.Unix(),
		Target: target,
		Kind:   domain.KindSendRequest,
	}

	recv, rtt, err := q.run(target, q.timeout, q.privileged)
	reply.DurationMS = float64(q.now().Sub(start)) / float64(time.Millisecond)
	switch {
	case err != nil:
		reply.Kind = domain.KindError
		return reply, err
	case recv == 0:
		reply.Kind = domain.KindTimeout
		if q.log != nil {
			q.log.Debug("ping timed out", "domain", target, "timeout", q.timeout)
		}
	default:
		reply.Kind = domain.KindReceiveData
		reply.Time = q.now().Unix()
		reply.DurationMS = float64(rtt) / float64(time.Millisecond)
	}
	return reply, nil
}

func runPinger(target string, timeout time.Duration, privileged bool) (int, time.Duration, error) {
	pinger, err := ping.NewPinger(target)
	if err != nil {
		return 0, 0, err
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(privileged)
	if err := pinger.Run(); err != nil {
		return 0, 0, err
	}
	stats := pinger.Statistics()
	return stats.PacketsRecv, stats.AvgRtt, nil
}
