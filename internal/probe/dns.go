package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/mekleo/dnsvantage/internal/domain"
)

func init() {
	Register("dns", newDNSQuerier)
}

// exchanger is the slice of dns.Client the querier needs.
type exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, addr string) (*dns.Msg, time.Duration, error)
}

// dnsQuerier resolves one synthetic label under the domain per attempt. The
// label is random, so replies come from the authoritative path rather than a
// cache.
type dnsQuerier struct {
	dom     *domain.Domain
	client  exchanger
	servers []string
	retry   int
	qtype   uint16
	qclass  uint16
	recurse bool
	log     *slog.Logger
	now     func() time.Time
}

func newDNSQuerier(cfg Config, dom *domain.Domain) (Querier, error) {
	resolv := cfg.ResolvConf
	if resolv == "" {
		resolv = "/etc/resolv.conf"
	}
	cc, err := dns.ClientConfigFromFile(resolv)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", resolv, err)
	}
	if len(cc.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", resolv)
	}
	servers := make([]string, 0, len(cc.Servers))
	for _, srv := range cc.Servers {
		servers = append(servers, net.JoinHostPort(srv, cc.Port))
	}

	retry := cfg.Retry
	if retry <= 0 {
		retry = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	return &dnsQuerier{
		dom:     dom,
		client:  &dns.Client{Timeout: timeout},
		servers: servers,
		retry:   retry,
		qtype:   parseQType(cfg.QType),
		qclass:  parseQClass(cfg.QClass),
		recurse: cfg.Recurse,
		log:     cfg.Logger,
		now:     time.Now,
	}, nil
}

// SendQuery always reports a reply: an answered exchange is a receive event
// with the measured round trip, anything else stays a send event with the
// wall clock spent waiting.
func (q *dnsQuerier) SendQuery(ctx context.Context) (domain.Reply, error) {
	target := q.dom.Target() + "." + q.dom.Name()
	start := q.now()
	reply := domain.Reply{
		Time:   start.Unix(),
		Target: target,
		Kind:   domain.KindSendRequest,
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(target), q.qtype)
	// SetQuestion hardcodes class IN with recursion desired; apply the
	// configured values after it.
	msg.Question[0].Qclass = q.qclass
	msg.RecursionDesired = q.recurse

	var (
		resp *dns.Msg
		rtt  time.Duration
		err  error
	)
	for attempt := 0; attempt < q.retry; attempt++ {
		server := q.servers[attempt%len(q.servers)]
		resp, rtt, err = q.client.ExchangeContext(ctx, msg, server)
		if resp != nil {
			break
		}
		if q.log != nil {
			q.log.Debug("query attempt failed",
				"domain", q.dom.Name(), "target", target, "server", server, "error", err)
		}
	}

	reply.DurationMS = float64(q.now().Sub(start)) / float64(time.Millisecond)
	if resp != nil && resp.Response {
		reply.Kind = domain.KindReceiveData
		if err == nil {
			reply.Time = q.now().Unix()
			reply.DurationMS = float64(rtt) / float64(time.Millisecond)
		}
		if q.log != nil {
			q.log.Debug("reply received",
				"domain", q.dom.Name(), "target", target,
				"rcode", dns.RcodeToString[resp.Rcode], "duration_ms", reply.DurationMS)
		}
	}
	return reply, nil
}

func parseQType(s string) uint16 {
	if s == "" {
		return dns.TypeA
	}
	if t, ok := dns.StringToType[strings.ToUpper(s)]; ok {
		return t
	}
	return dns.TypeA
}

func parseQClass(s string) uint16 {
	if s == "" {
		return dns.ClassINET
	}
	if c, ok := dns.StringToClass[strings.ToUpper(s)]; ok {
		return c
	}
	return dns.ClassINET
}
