package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/exchange"
	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
)

type Options struct {
	Feeds      config.FeedsConfig
	MaxClients int
	Journal    Journal
	Mirror     *Mirror
	Logger     *slog.Logger
}

// Hub wires the multiplexer together and is the only entry point the
// transport layer uses.
type Hub struct {
	factory     ExchangeFactory
	codec       *Codec
	conns       *ConnectionPool
	feeds       *FeedPool
	router      *Router
	clients     *ClientRegistry
	broadcaster *Broadcaster
	mirror      *Mirror
	logger      *slog.Logger

	reconcileEvery time.Duration
	bookDepth      int
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewHub(factory ExchangeFactory, opts Options) *Hub {
	journal := opts.Journal
	if journal == nil {
		journal = nopJournal{}
	}
	h := &Hub{
		factory:        factory,
		codec:          NewCodec(),
		mirror:         opts.Mirror,
		logger:         logger.Component(opts.Logger, "hub"),
		reconcileEvery: opts.Feeds.ReconcileInterval,
		bookDepth:      opts.Feeds.OrderbookDepth,
	}
	h.conns = NewConnectionPool(factory, journal, opts.Logger)
	h.broadcaster = NewBroadcaster(h.codec, nil, nil, opts.Mirror, journal, opts.Logger)
	h.feeds = NewFeedPool(opts.Feeds, h.conns, h.broadcaster, journal, opts.Logger)
	h.router = NewRouter(h.feeds, h.codec, journal, opts.Logger)
	h.clients = NewClientRegistry(opts.MaxClients, h.router, journal, opts.Logger)

	h.router.disconnect = h.clients.Disconnect
	h.broadcaster.subs = h.router
	h.broadcaster.drop = h.clients.Disconnect
	return h
}

// Start launches the mirror worker and the periodic reconcile loop.
func (h *Hub) Start() {
	if h.mirror != nil {
		h.mirror.Start()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	if h.reconcileEvery <= 0 {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.reconcileEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if reset := h.router.Reconcile(); len(reset) > 0 {
					h.logger.Warn("reconcile reset keys", "count", len(reset))
				}
			}
		}
	}()
}

// Shutdown disconnects every client, stops all feeds and drains the mirror.
func (h *Hub) Shutdown(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()

	for _, s := range h.clients.All() {
		h.clients.Disconnect(s)
	}
	err := h.feeds.Shutdown(ctx)
	if h.mirror != nil {
		if merr := h.mirror.Stop(ctx); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}

func (h *Hub) Connect(t Transport, principal string) (*Subscriber, error) {
	return h.clients.Connect(t, principal)
}

func (h *Hub) Disconnect(sub *Subscriber) {
	h.clients.Disconnect(sub)
}

// HandleFrame processes one client frame. Every failure is answered with an
// error frame; none of them closes the connection.
func (h *Hub) HandleFrame(sub *Subscriber, raw []byte) {
	var f model.ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.clients.SendPersonal(sub, h.codec.ProtocolError("Invalid message format"))
		return
	}

	switch f.Type {
	case "subscribe":
		key := f.Key()
		if err := h.router.Subscribe(sub, key); err != nil {
			h.replyError(sub, key, err)
		}
	case "unsubscribe":
		key := f.Key()
		if err := h.router.Unsubscribe(sub, key); err != nil {
			h.replyError(sub, key, err)
		}
	case "ping":
		h.clients.SendPersonal(sub, h.codec.Pong())
	default:
		h.clients.SendPersonal(sub, h.codec.ProtocolError("Unsupported message type: "+f.Type))
	}
}

func (h *Hub) replyError(sub *Subscriber, key model.ChannelKey, err error) {
	if apperrors.IsType(err, apperrors.ErrTransport) {
		return
	}
	h.clients.SendPersonal(sub, h.codec.Error(key, apperrors.Public(err)))
}

// Subscribe and Unsubscribe expose the router for in-process callers.
func (h *Hub) Subscribe(sub *Subscriber, key model.ChannelKey) error {
	return h.router.Subscribe(sub, key)
}

func (h *Hub) Unsubscribe(sub *Subscriber, key model.ChannelKey) error {
	return h.router.Unsubscribe(sub, key)
}

func (h *Hub) Exchanges() []string {
	return h.factory.IDs()
}

// Markets lists an exchange's markets through the shared connection pool.
func (h *Hub) Markets(ctx context.Context, exchangeID string) ([]model.Market, error) {
	id := normalizeID(exchangeID)
	var markets []model.Market
	err := h.conns.With(ctx, id, func(ctx context.Context, c *Connection) error {
		var err error
		markets, err = c.Exchange().FetchMarkets(ctx)
		return err
	})
	if err != nil {
		return nil, fetchError(id, "markets", err)
	}
	return markets, nil
}

// Ticker fetches one ticker outside of any feed. It shares the connection,
// and with it the rate limit, of feeds on the same exchange.
func (h *Hub) Ticker(ctx context.Context, exchangeID, symbol string) (*model.Ticker, error) {
	key, err := oneShotKey(exchangeID, symbol)
	if err != nil {
		return nil, err
	}
	var t *model.Ticker
	err = h.conns.With(ctx, key.Exchange, func(ctx context.Context, c *Connection) error {
		var err error
		t, err = c.Exchange().FetchTicker(ctx, key.Symbol)
		return err
	})
	if err != nil {
		return nil, fetchError(key.Exchange, "ticker", err)
	}
	return t, nil
}

// OrderBook fetches one book trimmed to depth levels per side. A depth of
// zero uses the feed default.
func (h *Hub) OrderBook(ctx context.Context, exchangeID, symbol string, depth int) (*model.OrderBook, error) {
	key, err := oneShotKey(exchangeID, symbol)
	if err != nil {
		return nil, err
	}
	if depth < 0 {
		return nil, apperrors.NewInvalidRequest("depth must be positive")
	}
	if depth == 0 {
		depth = h.bookDepth
	}
	var book *model.OrderBook
	err = h.conns.With(ctx, key.Exchange, func(ctx context.Context, c *Connection) error {
		var err error
		book, err = c.Exchange().FetchOrderBook(ctx, key.Symbol, depth)
		return err
	})
	if err != nil {
		return nil, fetchError(key.Exchange, "orderbook", err)
	}
	return normalizeBook(book, depth), nil
}

// OHLCV fetches up to limit candles of the given interval, oldest first.
func (h *Hub) OHLCV(ctx context.Context, exchangeID, symbol, interval string, limit int) ([]model.Candle, error) {
	key, err := oneShotKey(exchangeID, symbol)
	if err != nil {
		return nil, err
	}
	if _, ok := exchange.IntervalDuration(interval); !ok {
		return nil, apperrors.NewInvalidRequest(fmt.Sprintf("Unsupported interval: %s", interval))
	}
	if limit < 0 {
		return nil, apperrors.NewInvalidRequest("limit must be positive")
	}
	var candles []model.Candle
	err = h.conns.With(ctx, key.Exchange, func(ctx context.Context, c *Connection) error {
		var err error
		candles, err = c.Exchange().FetchOHLCV(ctx, key.Symbol, interval, limit)
		return err
	})
	if err != nil {
		return nil, fetchError(key.Exchange, "ohlcv", err)
	}
	return candles, nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// oneShotKey normalizes exchange and symbol the way a subscription would.
// The channel is left empty.
func oneShotKey(exchangeID, symbol string) (model.ChannelKey, error) {
	key := model.NewChannelKey(exchangeID, symbol, "")
	if key.Symbol == "" {
		return key, apperrors.NewInvalidRequest("symbol is required")
	}
	return key, nil
}

func fetchError(id, what string, err error) error {
	if errors.Is(err, exchange.ErrUnsupportedExchange) {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("Unsupported exchange: %s", id), err)
	}
	return apperrors.New(apperrors.ErrUpstreamFetch, fmt.Sprintf("failed to fetch %s data", what), err)
}

type FeedStats struct {
	Key         model.ChannelKey `json:"key"`
	State       TaskState        `json:"state"`
	StartedAt   time.Time        `json:"started_at"`
	Subscribers int              `json:"subscribers"`
}

type Stats struct {
	Feeds       []FeedStats       `json:"feeds"`
	Connections []ConnectionStats `json:"connections"`
	Clients     int               `json:"clients"`
}

func (h *Hub) Stats() Stats {
	subs := h.router.Subscribers()
	tasks := h.feeds.Snapshot()
	feeds := make([]FeedStats, 0, len(tasks))
	for _, t := range tasks {
		feeds = append(feeds, FeedStats{
			Key:         t.Key,
			State:       t.State,
			StartedAt:   t.StartedAt,
			Subscribers: subs[t.Key],
		})
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Key.String() < feeds[j].Key.String() })
	return Stats{
		Feeds:       feeds,
		Connections: h.conns.Snapshot(),
		Clients:     h.clients.Count(),
	}
}

// Reconcile runs one consistency pass immediately.
func (h *Hub) Reconcile() []model.ChannelKey {
	return h.router.Reconcile()
}

// Wait joins the current feed task for key.
func (h *Hub) Wait(ctx context.Context, key model.ChannelKey) error {
	return h.feeds.Wait(ctx, key)
}
