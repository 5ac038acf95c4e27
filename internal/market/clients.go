package market

import (
	"log/slog"
	"sync"

	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
	"github.com/GoPolymarket/feedgate/internal/pkg/metrics"
)

// ClientRegistry tracks connected subscribers.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Subscriber
	max     int

	router  *Router
	journal Journal
	logger  *slog.Logger
}

// NewClientRegistry limits connections to maxClients; zero means no limit.
func NewClientRegistry(maxClients int, router *Router, journal Journal, l *slog.Logger) *ClientRegistry {
	if journal == nil {
		journal = nopJournal{}
	}
	return &ClientRegistry{
		clients: make(map[string]*Subscriber),
		max:     maxClients,
		router:  router,
		journal: journal,
		logger:  logger.Component(l, "clients"),
	}
}

// Connect registers a new subscriber on t.
func (c *ClientRegistry) Connect(t Transport, principal string) (*Subscriber, error) {
	c.mu.Lock()
	if c.max > 0 && len(c.clients) >= c.max {
		c.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCapacity, "too many connected clients", nil)
	}
	sub := newSubscriber(t, principal)
	c.clients[sub.ID] = sub
	n := len(c.clients)
	c.mu.Unlock()

	metrics.ClientsConnected.Set(float64(n))
	c.logger.Info("client connected", "subscriber", sub.ID, "principal", principal, "clients", n)
	return sub, nil
}

// Disconnect removes sub, drops its subscriptions and closes its transport.
// Only the first call has effect.
func (c *ClientRegistry) Disconnect(sub *Subscriber) {
	if !sub.markClosed() {
		return
	}

	c.mu.Lock()
	delete(c.clients, sub.ID)
	n := len(c.clients)
	c.mu.Unlock()

	if c.router != nil {
		c.router.UnsubscribeAll(sub)
	}
	if err := sub.closeTransport(); err != nil {
		c.logger.Debug("transport close failed", "subscriber", sub.ID, "error", err)
	}
	metrics.ClientsConnected.Set(float64(n))
	c.logger.Info("client disconnected", "subscriber", sub.ID, "clients", n)
}

// SendPersonal sends msg to sub alone, disconnecting it on failure.
func (c *ClientRegistry) SendPersonal(sub *Subscriber, msg []byte) {
	if err := sub.Send(msg); err != nil {
		c.logger.Warn("personal send failed", "subscriber", sub.ID, "error", err)
		c.journal.Record(model.FeedEvent{
			Kind:       model.EventSubscriberDropped,
			Subscriber: sub.ID,
			Detail:     err.Error(),
		})
		c.Disconnect(sub)
	}
}

func (c *ClientRegistry) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// All returns a snapshot of connected subscribers.
func (c *ClientRegistry) All() []*Subscriber {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Subscriber, 0, len(c.clients))
	for _, s := range c.clients {
		out = append(out, s)
	}
	return out
}
