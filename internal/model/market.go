package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is a 24h summary. Fields the exchange does not report stay null.
// Timestamp is the exchange-reported time, if any; it is carried on the
// frame rather than in the data.
type Ticker struct {
	Bid        decimal.NullDecimal `json:"bid"`
	Ask        decimal.NullDecimal `json:"ask"`
	Last       decimal.NullDecimal `json:"last"`
	High       decimal.NullDecimal `json:"high"`
	Low        decimal.NullDecimal `json:"low"`
	Volume     decimal.NullDecimal `json:"volume"`
	Change     decimal.NullDecimal `json:"change"`
	Percentage decimal.NullDecimal `json:"percentage"`
	Timestamp  *time.Time          `json:"-"`
}

// Level is one price level. It encodes as [price, amount].
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]decimal.Decimal{l.Price, l.Amount})
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var pair []decimal.Decimal
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) < 2 {
		return fmt.Errorf("level needs price and amount, got %d values", len(pair))
	}
	l.Price, l.Amount = pair[0], pair[1]
	return nil
}

// OrderBook holds bids sorted high to low and asks sorted low to high.
type OrderBook struct {
	Bids      []Level    `json:"bids"`
	Asks      []Level    `json:"asks"`
	Timestamp *time.Time `json:"-"`
}

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

type Trade struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Side      TradeSide       `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

// Market describes one tradable pair listed by an exchange.
type Market struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Native string `json:"native"` // exchange-specific pair name
	Active bool   `json:"active"`
}

// Candle is one OHLCV bar. Timestamp is the bar's open time.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}
