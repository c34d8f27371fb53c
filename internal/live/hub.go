package live

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// AllDomains subscribes a client to every domain's measurements.
const AllDomains = "*"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by domain name. A single goroutine owns
// the subscriber map; registration and broadcast go through channels.
type Hub struct {
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

// message couples payload with the domain it belongs to.
type message struct {
	domain  string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	domain string
	client Subscriber
}

// NewHub creates a running hub.
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		done:      make(chan struct{}),
		log:       logger,
	}
	go h.run()
	return h
}

var _ Publisher = (*Hub)(nil)

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.domain]; !ok {
				h.clients[sub.domain] = make(map[Subscriber]struct{})
			}
			h.clients[sub.domain][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.domain]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.domain)
				}
			}
		case msg := <-h.broadcast:
			h.deliver(msg.domain, msg.payload)
			if msg.domain != AllDomains {
				h.deliver(AllDomains, msg.payload)
			}
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = make(map[string]map[Subscriber]struct{})
			return
		}
	}
}

func (h *Hub) deliver(key string, payload []byte) {
	clients, ok := h.clients[key]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, key)
	}
}

// Register adds a client to one domain's stream. Use AllDomains to follow
// every domain.
func (h *Hub) Register(domain string, client Subscriber) {
	select {
	case h.register <- subscription{domain: domain, client: client}:
	case <-h.done:
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(domain string, client Subscriber) {
	select {
	case h.unreg <- subscription{domain: domain, client: client}:
	case <-h.done:
	}
}

// Publish broadcasts the measurement to its domain's subscribers and to
// wildcard subscribers.
func (h *Hub) Publish(m Measurement) {
	payload, err := json.Marshal(m)
	if err != nil {
		if h.log != nil {
			h.log.Warn("cannot encode measurement", "domain", m.Domain, "error", err)
		}
		return
	}
	select {
	case h.broadcast <- message{domain: m.Domain, payload: payload}:
	case <-h.done:
	}
}

// Close stops the hub and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
