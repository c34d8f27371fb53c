// Package live fans probe measurements out to streaming consumers: hub
// subscribers over websocket or SSE, a Redis channel, and InfluxDB.
package live

// Measurement is the streaming view of one probe event.
type Measurement struct {
	InstanceID string  `json:"instance_id"`
	Domain     string  `json:"domain"`
	Target     string  `json:"target"`
	Kind       string  `json:"kind"`
	DurationMS float64 `json:"duration_ms"`
	Time       int64   `json:"time"`
}

// Publisher delivers measurements to one downstream audience. Publish must
// not block the probe path.
type Publisher interface {
	Publish(m Measurement)
	Close()
}

// Fanout publishes to every member in order.
type Fanout []Publisher

func (f Fanout) Publish(m Measurement) {
	for _, p := range f {
		p.Publish(m)
	}
}

func (f Fanout) Close() {
	for _, p := range f {
		p.Close()
	}
}
