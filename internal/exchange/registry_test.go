package exchange

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/feedgate/internal/config"
)

func TestRegistryUnsupported(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.New("nowhere")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedExchange))
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("mock", NewMock, Settings{}))
	assert.Error(t, r.Register("MOCK", NewMock, Settings{}))
}

func TestRegistryConstructorError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register("broken", func(Settings) (Exchange, error) { return nil, boom }, Settings{}))

	_, _, err := r.New("broken")
	assert.ErrorIs(t, err, boom)
}

func TestFromConfig(t *testing.T) {
	r, err := FromConfig(map[string]config.ExchangeConfig{
		"binance": {Enabled: true, RatePerSec: 10, Burst: 20},
		"kraken":  {Enabled: false},
		"mock":    {Enabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "mock"}, r.IDs())
	assert.False(t, r.Has("kraken"))

	_, s, err := r.New("binance")
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.RatePerSec)
	assert.Equal(t, 20, s.Burst)
}

func TestFromConfigUnknownExchange(t *testing.T) {
	_, err := FromConfig(map[string]config.ExchangeConfig{"ftx": {Enabled: true}})
	assert.ErrorIs(t, err, ErrUnsupportedExchange)
}

func TestMockDeterministic(t *testing.T) {
	a, _ := NewMock(Settings{})
	b, _ := NewMock(Settings{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ta, err := a.FetchTicker(ctx, "BTC/USD")
		require.NoError(t, err)
		tb, err := b.FetchTicker(ctx, "BTC/USD")
		require.NoError(t, err)
		assert.True(t, ta.Last.Decimal.Equal(tb.Last.Decimal))
	}
}

func TestMockTradesMonotonicIDs(t *testing.T) {
	m, _ := NewMock(Settings{})
	ctx := context.Background()

	first, err := m.FetchTrades(ctx, "ETH/USD", 5)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	second, err := m.FetchTrades(ctx, "ETH/USD", 5)
	require.NoError(t, err)
	// newest first; the next batch always starts beyond the previous newest
	prev, err := strconv.Atoi(first[0].ID)
	require.NoError(t, err)
	next, err := strconv.Atoi(second[0].ID)
	require.NoError(t, err)
	assert.Greater(t, next, prev)
}

func TestMockOrderBookDepth(t *testing.T) {
	m, _ := NewMock(Settings{})
	book, err := m.FetchOrderBook(context.Background(), "SOL/USD", 4)
	require.NoError(t, err)
	assert.Len(t, book.Bids, 4)
	assert.Len(t, book.Asks, 4)
	assert.True(t, book.Bids[0].Price.GreaterThan(book.Bids[3].Price))
	assert.True(t, book.Asks[0].Price.LessThan(book.Asks[3].Price))
}

func TestMockCancelledContext(t *testing.T) {
	m, _ := NewMock(Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.FetchTicker(ctx, "BTC/USD")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockOHLCV(t *testing.T) {
	m, _ := NewMock(Settings{})
	candles, err := m.FetchOHLCV(context.Background(), "ETH/USD", "5m", 12)
	require.NoError(t, err)
	require.Len(t, candles, 12)
	for i, c := range candles {
		assert.True(t, c.High.GreaterThanOrEqual(c.Open), "candle %d", i)
		assert.True(t, c.Low.LessThanOrEqual(c.Close), "candle %d", i)
		if i > 0 {
			assert.Equal(t, 5*time.Minute, c.Timestamp.Sub(candles[i-1].Timestamp))
			assert.True(t, c.Open.Equal(candles[i-1].Close), "candle %d", i)
		}
	}

	_, err = m.FetchOHLCV(context.Background(), "ETH/USD", "3m", 12)
	assert.ErrorIs(t, err, ErrUnsupportedInterval)
}
