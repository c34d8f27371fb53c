package domain

// Kind classifies a probe observation.
type Kind int16

const (
	// KindSendRequest marks a probe that was dispatched but not (yet) answered.
	KindSendRequest Kind = iota
	// KindReceiveData marks an answered probe carrying a measured latency.
	KindReceiveData
	// KindTimeout marks a probe that expired without any reply.
	KindTimeout
	// KindError marks a probe that failed before or during dispatch.
	KindError
)

// Numeric kind values are persisted in the measurements table and must not be
// reordered.

func (k Kind) String() string {
	switch k {
	case KindSendRequest:
		return "send_request"
	case KindReceiveData:
		return "receive_data"
	case KindTimeout:
		return "timeout"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single probe observation. The probe layer builds one per attempt
// and folds it into the bound Domain, which queues it for the next flush.
// Immutable once created.
type Event struct {
	Time       int64 // seconds since epoch
	Target     string
	Kind       Kind
	DurationMS float64
}

// Reply is the outcome of one probe attempt before it is folded into a
// Domain. It carries the same shape as Event.
type Reply = Event
