// Package exchange adapts upstream exchange REST APIs to a single polling
// interface.
package exchange

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/GoPolymarket/feedgate/internal/model"
)

var (
	// ErrUnsupportedExchange is returned for ids with no registered constructor.
	ErrUnsupportedExchange = errors.New("unsupported exchange")
	ErrUnsupportedInterval = errors.New("unsupported candle interval")
)

// intervals maps the accepted candle intervals to their length.
var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// IntervalDuration reports the length of a candle interval such as "15m".
func IntervalDuration(interval string) (time.Duration, bool) {
	d, ok := intervals[interval]
	return d, ok
}

// Exchange is the upstream capability a feed polls.
type Exchange interface {
	ID() string
	FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*model.OrderBook, error)
	FetchTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, error)
	FetchMarkets(ctx context.Context) ([]model.Market, error)
	// FetchOHLCV returns up to limit candles, oldest first.
	FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
	Close() error
}

// Settings configure one exchange client. RatePerSec and Burst are enforced
// by the connection that wraps the client, not by the client itself.
type Settings struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
}

// lastCandles keeps the newest limit candles of an oldest-first slice.
func lastCandles(c []model.Candle, limit int) []model.Candle {
	if limit > 0 && len(c) > limit {
		return c[len(c)-limit:]
	}
	return c
}

// splitSymbol turns "BTC/USDT", "btc-usdt" or "BTC_USDT" into base and quote.
// A symbol without a separator is returned whole as base.
func splitSymbol(symbol string) (string, string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_"} {
		if i := strings.Index(s, sep); i > 0 {
			return s[:i], s[i+len(sep):]
		}
	}
	return s, ""
}
