package market

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/GoPolymarket/feedgate/internal/exchange"
	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
	"github.com/GoPolymarket/feedgate/internal/pkg/metrics"
)

type ConnState string

const (
	ConnOpen    ConnState = "open"
	ConnClosing ConnState = "closing"
	ConnClosed  ConnState = "closed"
)

// Connection is a shared, reference counted handle to one exchange client.
// Fields other than the exchange and limiter are guarded by the pool lock.
type Connection struct {
	id      string
	ex      exchange.Exchange
	limiter *rate.Limiter
	refs    int
	state   ConnState
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Exchange() exchange.Exchange { return c.ex }

// Wait blocks until the exchange rate limit admits one more call. It fails
// only when ctx ends.
func (c *Connection) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func newLimiter(s exchange.Settings) *rate.Limiter {
	if s.RatePerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := s.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.RatePerSec), burst)
}

type ConnectionStats struct {
	Exchange string    `json:"exchange"`
	Refs     int       `json:"refs"`
	State    ConnState `json:"state"`
}

// ConnectionPool keeps at most one open client per exchange for as long as
// at least one feed task holds a reference to it.
type ConnectionPool struct {
	mu      sync.Mutex
	factory ExchangeFactory
	conns   map[string]*Connection
	journal Journal
	logger  *slog.Logger
}

func NewConnectionPool(factory ExchangeFactory, journal Journal, l *slog.Logger) *ConnectionPool {
	if journal == nil {
		journal = nopJournal{}
	}
	return &ConnectionPool{
		factory: factory,
		conns:   make(map[string]*Connection),
		journal: journal,
		logger:  logger.Component(l, "connpool"),
	}
}

// Acquire returns the open connection for id with one more reference,
// creating it if needed. Unknown ids wrap exchange.ErrUnsupportedExchange.
func (p *ConnectionPool) Acquire(id string) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[id]; ok {
		c.refs++
		metrics.ExchangeConnectionRefs.WithLabelValues(id).Set(float64(c.refs))
		return c, nil
	}

	ex, settings, err := p.factory.New(id)
	if err != nil {
		p.logger.Warn("exchange connection failed", "exchange", id, "error", err)
		return nil, err
	}
	c := &Connection{
		id:      id,
		ex:      ex,
		limiter: newLimiter(settings),
		refs:    1,
		state:   ConnOpen,
	}
	p.conns[id] = c
	metrics.ExchangeConnectionRefs.WithLabelValues(id).Set(1)
	p.journal.Record(model.FeedEvent{Kind: model.EventConnectionOpened, Exchange: id})
	p.logger.Info("exchange connection opened", "exchange", id)
	return c, nil
}

// Release drops one reference. The last release closes the client and
// removes the entry.
func (p *ConnectionPool) Release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.conns[id]
	if !ok {
		p.logger.Error("release of unknown exchange connection", "exchange", id)
		return
	}
	c.refs--
	if c.refs > 0 {
		metrics.ExchangeConnectionRefs.WithLabelValues(id).Set(float64(c.refs))
		return
	}

	c.state = ConnClosing
	if err := c.ex.Close(); err != nil {
		p.logger.Warn("exchange close failed", "exchange", id, "error", err)
	}
	c.state = ConnClosed
	delete(p.conns, id)
	metrics.ExchangeConnectionRefs.DeleteLabelValues(id)
	p.journal.Record(model.FeedEvent{Kind: model.EventConnectionClosed, Exchange: id})
	p.logger.Info("exchange connection closed", "exchange", id)
}

// Refs returns the reference count for id, zero when no connection is open.
func (p *ConnectionPool) Refs(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[id]; ok {
		return c.refs
	}
	return 0
}

func (p *ConnectionPool) Snapshot() []ConnectionStats {
	p.mu.Lock()
	out := make([]ConnectionStats, 0, len(p.conns))
	for id, c := range p.conns {
		out = append(out, ConnectionStats{Exchange: id, Refs: c.refs, State: c.state})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}

// With runs fn against a temporarily acquired connection.
func (p *ConnectionPool) With(ctx context.Context, id string, fn func(context.Context, *Connection) error) error {
	c, err := p.Acquire(id)
	if err != nil {
		return err
	}
	defer p.Release(id)
	if err := c.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return fn(ctx, c)
}
