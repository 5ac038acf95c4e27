package exchange

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/feedgate/internal/model"
)

// mockBasePrices seeds the walk for well known bases; others start at 100.
var mockBasePrices = map[string]float64{
	"BTC": 50000,
	"ETH": 3000,
	"SOL": 150,
}

const mockTradeHistory = 200

// Mock is an offline exchange producing a deterministic random walk per
// symbol. The same sequence of calls always yields the same data.
type Mock struct {
	mu      sync.Mutex
	symbols map[string]*mockSymbol
	now     func() time.Time
}

type mockSymbol struct {
	rng    *rand.Rand
	price  float64
	open   float64
	high   float64
	low    float64
	volume float64
	nextID int64
	trades []model.Trade
}

func NewMock(Settings) (Exchange, error) {
	return &Mock{
		symbols: make(map[string]*mockSymbol),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func (m *Mock) ID() string { return "mock" }

func (m *Mock) state(symbol string) *mockSymbol {
	s, ok := m.symbols[symbol]
	if ok {
		return s
	}
	h := fnv.New64a()
	h.Write([]byte(symbol))
	seed := h.Sum64()

	base, _ := splitSymbol(symbol)
	price, ok := mockBasePrices[base]
	if !ok {
		price = 100
	}
	s = &mockSymbol{
		rng:    rand.New(rand.NewPCG(seed, seed>>1)),
		price:  price,
		open:   price,
		high:   price,
		low:    price,
		nextID: 1,
	}
	m.symbols[symbol] = s
	return s
}

// step moves the price by up to 0.1% in either direction.
func (s *mockSymbol) step() {
	s.price *= 1 + (s.rng.Float64()-0.5)*0.002
	if s.price > s.high {
		s.high = s.price
	}
	if s.price < s.low {
		s.low = s.price
	}
}

func money(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

func (m *Mock) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(symbol)
	s.step()
	spread := s.price * 0.0001
	change := s.price - s.open
	return &model.Ticker{
		Bid:        decimal.NewNullDecimal(money(s.price - spread)),
		Ask:        decimal.NewNullDecimal(money(s.price + spread)),
		Last:       decimal.NewNullDecimal(money(s.price)),
		High:       decimal.NewNullDecimal(money(s.high)),
		Low:        decimal.NewNullDecimal(money(s.low)),
		Volume:     decimal.NewNullDecimal(decimal.NewFromFloat(s.volume).Round(6)),
		Change:     decimal.NewNullDecimal(money(change)),
		Percentage: decimal.NewNullDecimal(decimal.NewFromFloat(change / s.open * 100).Round(4)),
	}, nil
}

func (m *Mock) FetchOrderBook(ctx context.Context, symbol string, depth int) (*model.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(symbol)
	s.step()
	tick := s.price * 0.0001
	book := &model.OrderBook{
		Bids: make([]model.Level, 0, depth),
		Asks: make([]model.Level, 0, depth),
	}
	for i := 1; i <= depth; i++ {
		off := tick * float64(i)
		book.Bids = append(book.Bids, model.Level{
			Price:  money(s.price - off),
			Amount: decimal.NewFromFloat(s.rng.Float64() * 2).Round(6),
		})
		book.Asks = append(book.Asks, model.Level{
			Price:  money(s.price + off),
			Amount: decimal.NewFromFloat(s.rng.Float64() * 2).Round(6),
		})
	}
	ts := m.now()
	book.Timestamp = &ts
	return book, nil
}

// FetchTrades prints between one and three new trades per call and returns
// the most recent limit trades, newest first as most exchanges do.
func (m *Mock) FetchTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(symbol)
	now := m.now()
	n := 1 + s.rng.IntN(3)
	for i := 0; i < n; i++ {
		s.step()
		amount := s.rng.Float64()
		side := model.SideBuy
		if s.rng.IntN(2) == 0 {
			side = model.SideSell
		}
		s.volume += amount
		s.trades = append(s.trades, model.Trade{
			ID:        strconv.FormatInt(s.nextID, 10),
			Price:     money(s.price),
			Amount:    decimal.NewFromFloat(amount).Round(6),
			Side:      side,
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
		})
		s.nextID++
	}
	if len(s.trades) > mockTradeHistory {
		s.trades = s.trades[len(s.trades)-mockTradeHistory:]
	}

	if limit <= 0 || limit > len(s.trades) {
		limit = len(s.trades)
	}
	out := make([]model.Trade, 0, limit)
	for i := len(s.trades) - 1; i >= len(s.trades)-limit; i-- {
		out = append(out, s.trades[i])
	}
	return out, nil
}

func (m *Mock) FetchMarkets(ctx context.Context) ([]model.Market, error) {
	bases := make([]string, 0, len(mockBasePrices))
	for b := range mockBasePrices {
		bases = append(bases, b)
	}
	sort.Strings(bases)
	markets := make([]model.Market, 0, len(bases))
	for _, b := range bases {
		markets = append(markets, model.Market{
			Symbol: b + "/USD",
			Base:   b,
			Quote:  "USD",
			Native: b + "USD",
			Active: true,
		})
	}
	return markets, nil
}

const mockCandleLimit = 500

// FetchOHLCV builds candles backwards from the current price, so the last
// close is always the symbol's latest price.
func (m *Mock) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := IntervalDuration(interval)
	if !ok {
		return nil, ErrUnsupportedInterval
	}
	if limit <= 0 || limit > mockCandleLimit {
		limit = mockCandleLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(symbol)
	open := m.now().Truncate(d)
	closePrice := s.price
	candles := make([]model.Candle, limit)
	for i := limit - 1; i >= 0; i-- {
		openPrice := closePrice * (1 + (s.rng.Float64()-0.5)*0.004)
		wick := closePrice * s.rng.Float64() * 0.001
		candles[i] = model.Candle{
			Timestamp: open,
			Open:      money(openPrice),
			High:      money(max(openPrice, closePrice) + wick),
			Low:       money(min(openPrice, closePrice) - wick),
			Close:     money(closePrice),
			Volume:    decimal.NewFromFloat(s.rng.Float64() * 10).Round(6),
		}
		closePrice = openPrice
		open = open.Add(-d)
	}
	return candles, nil
}

func (m *Mock) Close() error { return nil }
