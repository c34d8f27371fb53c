package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/mekleo/dnsvantage/internal/domain"
)

type stubQuerier struct {
	reply domain.Reply
	err   error
	calls int
}

func (q *stubQuerier) SendQuery(ctx context.Context) (domain.Reply, error) {
	q.calls++
	return q.reply, q.err
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("carrier-pigeon", Config{}, domain.New("example.com"))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestRegisterMakesKindAvailable(t *testing.T) {
	stub := &stubQuerier{reply: domain.Reply{Target: "abcd.example.com", Kind: domain.KindReceiveData, DurationMS: 7, Time: 42}}
	Register("probe-test-stub", func(cfg Config, dom *domain.Domain) (Querier, error) {
		return stub, nil
	})

	dom := domain.New("example.com")
	b, err := Bind("probe-test-stub", Config{}, dom)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	reply, err := b.Probe(context.Background())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected 1 querier call, got %d", stub.calls)
	}
	if reply.Kind != domain.KindReceiveData {
		t.Fatalf("expected receive_data reply, got %s", reply.Kind)
	}

	st := dom.Stats()
	if st.QueryCount != 1 {
		t.Fatalf("expected reply folded into statistics, count %d", st.QueryCount)
	}
	if st.Pending != 1 {
		t.Fatalf("expected reply queued, pending %d", st.Pending)
	}
}

func TestProbeRecordsFailedSend(t *testing.T) {
	stub := &stubQuerier{
		reply: domain.Reply{Target: "abcd.example.com", Kind: domain.KindError, Time: 42},
		err:   errors.New("socket exploded"),
	}
	Register("probe-test-failing", func(cfg Config, dom *domain.Domain) (Querier, error) {
		return stub, nil
	})

	dom := domain.New("example.com")
	b, err := Bind("probe-test-failing", Config{}, dom)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	_, err = b.Probe(context.Background())
	if err == nil {
		t.Fatal("expected probe error to surface")
	}

	st := dom.Stats()
	if st.Pending != 1 {
		t.Fatalf("expected failed attempt queued, pending %d", st.Pending)
	}
	if st.QueryCount != 0 {
		t.Fatalf("expected statistics untouched by error event, count %d", st.QueryCount)
	}
}

func TestBindPropagatesFactoryError(t *testing.T) {
	factoryErr := errors.New("no resolver")
	Register("probe-test-broken", func(cfg Config, dom *domain.Domain) (Querier, error) {
		return nil, factoryErr
	})

	_, err := Bind("probe-test-broken", Config{}, domain.New("example.com"))
	if !errors.Is(err, factoryErr) {
		t.Fatalf("expected factory error, got %v", err)
	}
}
