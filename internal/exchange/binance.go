package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/feedgate/internal/model"
)

const binanceBaseURL = "https://api.binance.com"

// Binance polls the Binance spot REST API.
type Binance struct {
	rest *restClient
}

func NewBinance(s Settings) (Exchange, error) {
	return &Binance{rest: newRESTClient(s, binanceBaseURL)}, nil
}

func (b *Binance) ID() string { return "binance" }

// BinanceSymbol maps "BTC/USDT" to "BTCUSDT".
func BinanceSymbol(symbol string) string {
	base, quote := splitSymbol(symbol)
	return base + quote
}

type binanceTicker struct {
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	CloseTime          int64  `json:"closeTime"`
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	var raw binanceTicker
	q := url.Values{"symbol": {BinanceSymbol(symbol)}}
	if err := b.rest.getJSON(ctx, "/api/v3/ticker/24hr", q, &raw); err != nil {
		return nil, err
	}
	t := &model.Ticker{
		Bid:        nullDecimal(raw.BidPrice),
		Ask:        nullDecimal(raw.AskPrice),
		Last:       nullDecimal(raw.LastPrice),
		High:       nullDecimal(raw.HighPrice),
		Low:        nullDecimal(raw.LowPrice),
		Volume:     nullDecimal(raw.Volume),
		Change:     nullDecimal(raw.PriceChange),
		Percentage: nullDecimal(raw.PriceChangePercent),
	}
	if raw.CloseTime > 0 {
		ts := time.UnixMilli(raw.CloseTime).UTC()
		t.Timestamp = &ts
	}
	return t, nil
}

type binanceDepth struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// binanceDepthLimits are the only limit values /api/v3/depth accepts.
var binanceDepthLimits = []int{5, 10, 20, 50, 100, 500, 1000, 5000}

func (b *Binance) FetchOrderBook(ctx context.Context, symbol string, depth int) (*model.OrderBook, error) {
	limit := binanceDepthLimits[len(binanceDepthLimits)-1]
	for _, l := range binanceDepthLimits {
		if l >= depth {
			limit = l
			break
		}
	}

	var raw binanceDepth
	q := url.Values{"symbol": {BinanceSymbol(symbol)}, "limit": {strconv.Itoa(limit)}}
	if err := b.rest.getJSON(ctx, "/api/v3/depth", q, &raw); err != nil {
		return nil, err
	}

	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return &model.OrderBook{Bids: bids, Asks: asks}, nil
}

type binanceTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

func (b *Binance) FetchTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, error) {
	var raw []binanceTrade
	q := url.Values{"symbol": {BinanceSymbol(symbol)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if err := b.rest.getJSON(ctx, "/api/v3/trades", q, &raw); err != nil {
		return nil, err
	}

	trades := make([]model.Trade, 0, len(raw))
	for _, t := range raw {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("trade %d price: %w", t.ID, err)
		}
		amount, err := decimal.NewFromString(t.Qty)
		if err != nil {
			return nil, fmt.Errorf("trade %d qty: %w", t.ID, err)
		}
		// The maker was the buyer, so the aggressor sold.
		side := model.SideBuy
		if t.IsBuyerMaker {
			side = model.SideSell
		}
		trades = append(trades, model.Trade{
			ID:        strconv.FormatInt(t.ID, 10),
			Price:     price,
			Amount:    amount,
			Side:      side,
			Timestamp: time.UnixMilli(t.Time).UTC(),
		})
	}
	return trades, nil
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

func (b *Binance) FetchMarkets(ctx context.Context) ([]model.Market, error) {
	var raw binanceExchangeInfo
	if err := b.rest.getJSON(ctx, "/api/v3/exchangeInfo", nil, &raw); err != nil {
		return nil, err
	}
	markets := make([]model.Market, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		markets = append(markets, model.Market{
			Symbol: s.BaseAsset + "/" + s.QuoteAsset,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Native: s.Symbol,
			Active: s.Status == "TRADING",
		})
	}
	return markets, nil
}

// binanceKlineLimit is the most candles /api/v3/klines returns per call.
const binanceKlineLimit = 1000

// FetchOHLCV reads /api/v3/klines. Rows are
// [openTime, open, high, low, close, volume, closeTime, ...]; the interval
// names match the ones Binance accepts.
func (b *Binance) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if _, ok := IntervalDuration(interval); !ok {
		return nil, ErrUnsupportedInterval
	}
	q := url.Values{"symbol": {BinanceSymbol(symbol)}, "interval": {interval}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(min(limit, binanceKlineLimit)))
	}
	var raw json.RawMessage
	if err := b.rest.getJSON(ctx, "/api/v3/klines", q, &raw); err != nil {
		return nil, err
	}
	rows, err := decodeRows(raw)
	if err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	candles, err := parseCandles(rows, func(v decimal.Decimal) time.Time {
		return time.UnixMilli(v.IntPart()).UTC()
	}, 5)
	if err != nil {
		return nil, fmt.Errorf("klines: %w", err)
	}
	return lastCandles(candles, limit), nil
}

func (b *Binance) Close() error {
	b.rest.close()
	return nil
}

func parseLevels(raw [][2]string) ([]model.Level, error) {
	levels := make([]model.Level, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r[0])
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(r[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, model.Level{Price: price, Amount: amount})
	}
	return levels, nil
}

// nullDecimal parses s, leaving the value null when s is empty or malformed.
func nullDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// parseCandles reads rows laid out as [time, open, high, low, close, ...]
// with the volume in column volCol.
func parseCandles(rows [][]any, ts func(decimal.Decimal) time.Time, volCol int) ([]model.Candle, error) {
	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		var cols [5]decimal.Decimal
		for i := range cols {
			d, err := cellDecimal(row, i)
			if err != nil {
				return nil, err
			}
			cols[i] = d
		}
		vol, err := cellDecimal(row, volCol)
		if err != nil {
			return nil, err
		}
		candles = append(candles, model.Candle{
			Timestamp: ts(cols[0]),
			Open:      cols[1],
			High:      cols[2],
			Low:       cols[3],
			Close:     cols[4],
			Volume:    vol,
		})
	}
	return candles, nil
}
