package market

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/feedgate/internal/exchange"
	"github.com/GoPolymarket/feedgate/internal/model"
)

func TestConnectionPoolRefcount(t *testing.T) {
	f := newFakeFactory("binance")
	journal := &recordingJournal{}
	p := NewConnectionPool(f, journal, nil)

	a, err := p.Acquire("binance")
	require.NoError(t, err)
	b, err := p.Acquire("binance")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 2, p.Refs("binance"))
	assert.Len(t, f.Created(), 1)

	p.Release("binance")
	assert.Equal(t, 1, p.Refs("binance"))
	assert.Equal(t, int32(0), f.Last().closed.Load())

	p.Release("binance")
	assert.Equal(t, 0, p.Refs("binance"))
	assert.Equal(t, int32(1), f.Last().closed.Load())
	assert.Empty(t, p.Snapshot())
	assert.Equal(t, ConnClosed, a.state)

	assert.Equal(t, []model.FeedEventKind{model.EventConnectionOpened, model.EventConnectionClosed}, journal.Kinds())
}

func TestConnectionPoolReopensAfterClose(t *testing.T) {
	f := newFakeFactory("binance")
	p := NewConnectionPool(f, nil, nil)

	_, err := p.Acquire("binance")
	require.NoError(t, err)
	p.Release("binance")
	_, err = p.Acquire("binance")
	require.NoError(t, err)

	assert.Len(t, f.Created(), 2)
	assert.Equal(t, 1, p.Refs("binance"))
}

func TestConnectionPoolUnsupported(t *testing.T) {
	p := NewConnectionPool(newFakeFactory("binance"), nil, nil)
	_, err := p.Acquire("nowhere")
	assert.True(t, errors.Is(err, exchange.ErrUnsupportedExchange))
	assert.Empty(t, p.Snapshot())
}

func TestConnectionPoolReleaseUnknownIsHarmless(t *testing.T) {
	p := NewConnectionPool(newFakeFactory("binance"), nil, nil)
	p.Release("binance")
	assert.Equal(t, 0, p.Refs("binance"))
}

func TestConnectionPoolWith(t *testing.T) {
	f := newFakeFactory("binance")
	p := NewConnectionPool(f, nil, nil)

	err := p.With(context.Background(), "binance", func(ctx context.Context, c *Connection) error {
		assert.Equal(t, 1, p.Refs("binance"))
		assert.Equal(t, "binance", c.ID())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Refs("binance"))
}

func TestLimiterDefaults(t *testing.T) {
	assert.True(t, newLimiter(exchange.Settings{}).Allow())
	l := newLimiter(exchange.Settings{RatePerSec: 1})
	assert.Equal(t, 1, l.Burst())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
