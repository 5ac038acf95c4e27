package market

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/exchange"
	"github.com/GoPolymarket/feedgate/internal/model"
)

const (
	testInterval = 10 * time.Millisecond
	testBackoff  = 30 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 5 * time.Millisecond
)

func testFeedsConfig() config.FeedsConfig {
	c := config.ChannelConfig{Interval: testInterval, FetchTimeout: 8 * time.Millisecond}
	return config.FeedsConfig{
		Ticker:           c,
		Orderbook:        c,
		Trades:           c,
		ErrorBackoff:     testBackoff,
		OrderbookDepth:   10,
		TradesSeed:       5,
		TradeDedupWindow: 512,
	}
}

var errFakeFetch = errors.New("upstream unavailable")

// fakeExchange counts calls and can fail or block on demand.
type fakeExchange struct {
	id string

	mu        sync.Mutex
	calls     int
	failNext  int
	callTimes []time.Time
	trades    func(call int) []model.Trade

	block    chan struct{} // when set, fetches wait for it to close
	inFlight atomic.Int32
	maxIn    atomic.Int32
	closed   atomic.Int32
}

func (f *fakeExchange) ID() string { return f.id }

func (f *fakeExchange) enter(ctx context.Context) (int, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxIn.Load()
		if n <= m || f.maxIn.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.callTimes = append(f.callTimes, time.Now())
	if f.failNext > 0 {
		f.failNext--
		return f.calls, errFakeFetch
	}
	return f.calls, nil
}

func (f *fakeExchange) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	n, err := f.enter(ctx)
	if err != nil {
		return nil, err
	}
	return &model.Ticker{Last: decimal.NewNullDecimal(decimal.NewFromInt(int64(n)))}, nil
}

func (f *fakeExchange) FetchOrderBook(ctx context.Context, symbol string, depth int) (*model.OrderBook, error) {
	if _, err := f.enter(ctx); err != nil {
		return nil, err
	}
	return &model.OrderBook{
		Bids: []model.Level{{Price: decimal.NewFromInt(99), Amount: decimal.NewFromInt(1)}},
		Asks: []model.Level{{Price: decimal.NewFromInt(101), Amount: decimal.NewFromInt(1)}},
	}, nil
}

func (f *fakeExchange) FetchTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, error) {
	n, err := f.enter(ctx)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	gen := f.trades
	f.mu.Unlock()
	if gen == nil {
		return nil, nil
	}
	return gen(n), nil
}

func (f *fakeExchange) FetchMarkets(ctx context.Context) ([]model.Market, error) {
	if _, err := f.enter(ctx); err != nil {
		return nil, err
	}
	return []model.Market{{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Active: true}}, nil
}

func (f *fakeExchange) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	n, err := f.enter(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := exchange.IntervalDuration(interval); !ok {
		return nil, exchange.ErrUnsupportedInterval
	}
	c := decimal.NewFromInt(int64(n))
	return []model.Candle{{Open: c, High: c, Low: c, Close: c, Volume: decimal.NewFromInt(1)}}, nil
}

func (f *fakeExchange) Close() error {
	f.closed.Add(1)
	return nil
}

func (f *fakeExchange) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeExchange) CallTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.callTimes...)
}

// fakeFactory hands out fakeExchanges and remembers them. configure runs on
// every new instance before it is returned.
type fakeFactory struct {
	*exchange.Registry

	mu        sync.Mutex
	created   []*fakeExchange
	configure func(*fakeExchange)
}

func newFakeFactory(ids ...string) *fakeFactory {
	return newFakeFactoryWithSettings(exchange.Settings{}, ids...)
}

// newFakeFactoryWithSettings registers every id with s, e.g. to apply a rate limit.
func newFakeFactoryWithSettings(s exchange.Settings, ids ...string) *fakeFactory {
	f := &fakeFactory{Registry: exchange.NewRegistry()}
	for _, id := range ids {
		id := id
		_ = f.Register(id, func(exchange.Settings) (exchange.Exchange, error) {
			ex := &fakeExchange{id: id}
			f.mu.Lock()
			if f.configure != nil {
				f.configure(ex)
			}
			f.created = append(f.created, ex)
			f.mu.Unlock()
			return ex, nil
		}, s)
	}
	return f
}

func (f *fakeFactory) Created() []*fakeExchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeExchange(nil), f.created...)
}

func (f *fakeFactory) Last() *fakeExchange {
	c := f.Created()
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

// fakeTransport records every frame sent to it.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   atomic.Bool
	closed atomic.Bool
}

func (t *fakeTransport) Send(msg []byte) error {
	if t.closed.Load() {
		return errors.New("transport closed")
	}
	if t.fail.Load() {
		return errors.New("send buffer full")
	}
	t.mu.Lock()
	t.frames = append(t.frames, msg)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *fakeTransport) Raw() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.frames...)
}

func (t *fakeTransport) Frames() []map[string]any {
	var out []map[string]any
	for _, raw := range t.Raw() {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (t *fakeTransport) OfType(typ string) []map[string]any {
	var out []map[string]any
	for _, f := range t.Frames() {
		if f["type"] == typ {
			out = append(out, f)
		}
	}
	return out
}

func newTestHub(t *testing.T, f *fakeFactory) *Hub {
	t.Helper()
	h := NewHub(f, Options{Feeds: testFeedsConfig()})
	h.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func connect(t *testing.T, h *Hub) (*Subscriber, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	sub, err := h.Connect(tr, "test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return sub, tr
}

// recordingJournal keeps every event.
type recordingJournal struct {
	mu     sync.Mutex
	events []model.FeedEvent
}

func (j *recordingJournal) Record(ev model.FeedEvent) {
	j.mu.Lock()
	j.events = append(j.events, ev)
	j.mu.Unlock()
}

func (j *recordingJournal) Kinds() []model.FeedEventKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.FeedEventKind, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.Kind)
	}
	return out
}
