package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GoPolymarket/feedgate/internal/model"
)

const krakenBaseURL = "https://api.kraken.com"

// krakenAssets holds the asset codes where Kraken departs from common usage.
var krakenAssets = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// Kraken polls the Kraken public REST API.
type Kraken struct {
	rest *restClient
}

func NewKraken(s Settings) (Exchange, error) {
	return &Kraken{rest: newRESTClient(s, krakenBaseURL)}, nil
}

func (k *Kraken) ID() string { return "kraken" }

// KrakenSymbol maps "BTC/USD" to "XBTUSD".
func KrakenSymbol(symbol string) string {
	base, quote := splitSymbol(symbol)
	if a, ok := krakenAssets[base]; ok {
		base = a
	}
	if a, ok := krakenAssets[quote]; ok {
		quote = a
	}
	return base + quote
}

func commonAsset(a string) string {
	for common, kr := range krakenAssets {
		if a == kr {
			return common
		}
	}
	return a
}

type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// public calls a /0/public endpoint and returns the result object.
func (k *Kraken) public(ctx context.Context, method string, q url.Values) (json.RawMessage, error) {
	var env krakenEnvelope
	if err := k.rest.getJSON(ctx, "/0/public/"+method, q, &env); err != nil {
		return nil, err
	}
	if len(env.Error) > 0 {
		return nil, errors.New("kraken: " + strings.Join(env.Error, "; "))
	}
	return env.Result, nil
}

// pairResult returns the single pair entry of a per-pair result. The result
// key is Kraken's canonical name, which can differ from the requested pair.
func pairResult(result json.RawMessage) (json.RawMessage, error) {
	var byPair map[string]json.RawMessage
	if err := json.Unmarshal(result, &byPair); err != nil {
		return nil, err
	}
	for name, v := range byPair {
		if name == "last" {
			continue
		}
		return v, nil
	}
	return nil, errors.New("kraken: empty result")
}

type krakenTicker struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Close  []string `json:"c"`
	Volume []string `json:"v"`
	Low    []string `json:"l"`
	High   []string `json:"h"`
	Open   string   `json:"o"`
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// last24h returns the rolling 24h entry of a [today, last24h] pair.
func last24h(vals []string) string {
	if len(vals) < 2 {
		return first(vals)
	}
	return vals[1]
}

func (k *Kraken) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	result, err := k.public(ctx, "Ticker", url.Values{"pair": {KrakenSymbol(symbol)}})
	if err != nil {
		return nil, err
	}
	body, err := pairResult(result)
	if err != nil {
		return nil, err
	}
	var raw krakenTicker
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}

	t := &model.Ticker{
		Bid:    nullDecimal(first(raw.Bid)),
		Ask:    nullDecimal(first(raw.Ask)),
		Last:   nullDecimal(first(raw.Close)),
		High:   nullDecimal(last24h(raw.High)),
		Low:    nullDecimal(last24h(raw.Low)),
		Volume: nullDecimal(last24h(raw.Volume)),
	}
	open := nullDecimal(raw.Open)
	if open.Valid && t.Last.Valid {
		change := t.Last.Decimal.Sub(open.Decimal)
		t.Change = decimal.NewNullDecimal(change)
		if !open.Decimal.IsZero() {
			t.Percentage = decimal.NewNullDecimal(change.Div(open.Decimal).Mul(decimal.NewFromInt(100)).Round(4))
		}
	}
	return t, nil
}

func decodeRows(body json.RawMessage) ([][]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows [][]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func cellDecimal(row []any, i int) (decimal.Decimal, error) {
	if i >= len(row) {
		return decimal.Decimal{}, fmt.Errorf("missing column %d", i)
	}
	switch v := row[i].(type) {
	case string:
		return decimal.NewFromString(v)
	case json.Number:
		return decimal.NewFromString(v.String())
	default:
		return decimal.Decimal{}, fmt.Errorf("column %d: unexpected %T", i, v)
	}
}

func krakenLevels(rows [][]any) ([]model.Level, error) {
	levels := make([]model.Level, 0, len(rows))
	for _, row := range rows {
		price, err := cellDecimal(row, 0)
		if err != nil {
			return nil, err
		}
		amount, err := cellDecimal(row, 1)
		if err != nil {
			return nil, err
		}
		levels = append(levels, model.Level{Price: price, Amount: amount})
	}
	return levels, nil
}

func (k *Kraken) FetchOrderBook(ctx context.Context, symbol string, depth int) (*model.OrderBook, error) {
	q := url.Values{"pair": {KrakenSymbol(symbol)}}
	if depth > 0 {
		q.Set("count", strconv.Itoa(depth))
	}
	result, err := k.public(ctx, "Depth", q)
	if err != nil {
		return nil, err
	}
	body, err := pairResult(result)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Asks json.RawMessage `json:"asks"`
		Bids json.RawMessage `json:"bids"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}

	book := &model.OrderBook{}
	for _, side := range []struct {
		raw json.RawMessage
		dst *[]model.Level
	}{{raw.Bids, &book.Bids}, {raw.Asks, &book.Asks}} {
		rows, err := decodeRows(side.raw)
		if err != nil {
			return nil, fmt.Errorf("decode depth: %w", err)
		}
		if *side.dst, err = krakenLevels(rows); err != nil {
			return nil, err
		}
	}
	return book, nil
}

// FetchTrades returns recent prints. Kraken rows are
// [price, volume, time, side, ordertype, misc, trade_id]; older responses omit
// the id, which leaves Trade.ID empty.
func (k *Kraken) FetchTrades(ctx context.Context, symbol string, limit int) ([]model.Trade, error) {
	q := url.Values{"pair": {KrakenSymbol(symbol)}}
	if limit > 0 {
		q.Set("count", strconv.Itoa(limit))
	}
	result, err := k.public(ctx, "Trades", q)
	if err != nil {
		return nil, err
	}
	body, err := pairResult(result)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}

	trades := make([]model.Trade, 0, len(rows))
	for _, row := range rows {
		price, err := cellDecimal(row, 0)
		if err != nil {
			return nil, err
		}
		amount, err := cellDecimal(row, 1)
		if err != nil {
			return nil, err
		}
		secs, err := cellDecimal(row, 2)
		if err != nil {
			return nil, err
		}
		t := model.Trade{
			Price:     price,
			Amount:    amount,
			Side:      model.SideBuy,
			Timestamp: time.UnixMicro(secs.Shift(6).IntPart()).UTC(),
		}
		if len(row) > 3 && row[3] == "s" {
			t.Side = model.SideSell
		}
		if len(row) > 6 {
			if n, ok := row[6].(json.Number); ok {
				t.ID = n.String()
			}
		}
		trades = append(trades, t)
	}
	return trades, nil
}

type krakenPair struct {
	Altname string `json:"altname"`
	Wsname  string `json:"wsname"`
	Status  string `json:"status"`
}

func (k *Kraken) FetchMarkets(ctx context.Context) ([]model.Market, error) {
	result, err := k.public(ctx, "AssetPairs", nil)
	if err != nil {
		return nil, err
	}
	var pairs map[string]krakenPair
	if err := json.Unmarshal(result, &pairs); err != nil {
		return nil, fmt.Errorf("decode asset pairs: %w", err)
	}

	markets := make([]model.Market, 0, len(pairs))
	for _, p := range pairs {
		base, quote := splitSymbol(p.Wsname)
		if quote == "" {
			continue
		}
		base, quote = commonAsset(base), commonAsset(quote)
		markets = append(markets, model.Market{
			Symbol: base + "/" + quote,
			Base:   base,
			Quote:  quote,
			Native: p.Altname,
			Active: p.Status == "" || p.Status == "online",
		})
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	return markets, nil
}

// FetchOHLCV reads /0/public/OHLC, which takes the interval in minutes and
// always returns up to 720 rows of
// [time, open, high, low, close, vwap, volume, count].
func (k *Kraken) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	d, ok := IntervalDuration(interval)
	if !ok {
		return nil, ErrUnsupportedInterval
	}
	q := url.Values{
		"pair":     {KrakenSymbol(symbol)},
		"interval": {strconv.Itoa(int(d / time.Minute))},
	}
	result, err := k.public(ctx, "OHLC", q)
	if err != nil {
		return nil, err
	}
	body, err := pairResult(result)
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("decode ohlc: %w", err)
	}
	candles, err := parseCandles(rows, func(v decimal.Decimal) time.Time {
		return time.Unix(v.IntPart(), 0).UTC()
	}, 6)
	if err != nil {
		return nil, fmt.Errorf("ohlc: %w", err)
	}
	return lastCandles(candles, limit), nil
}

func (k *Kraken) Close() error {
	k.rest.close()
	return nil
}
