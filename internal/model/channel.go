package model

import (
	"fmt"
	"strings"
)

// ChannelType names the kind of market data a feed carries.
type ChannelType string

const (
	ChannelTicker    ChannelType = "ticker"
	ChannelOrderbook ChannelType = "orderbook"
	ChannelTrades    ChannelType = "trades"
)

// Channels lists every supported channel type.
var Channels = []ChannelType{ChannelTicker, ChannelOrderbook, ChannelTrades}

func (c ChannelType) Valid() bool {
	switch c {
	case ChannelTicker, ChannelOrderbook, ChannelTrades:
		return true
	}
	return false
}

// ChannelKey identifies one upstream feed. It is comparable and used as a map key.
type ChannelKey struct {
	Exchange string      `json:"exchange"`
	Symbol   string      `json:"symbol"`
	Channel  ChannelType `json:"channel"`
}

// NewChannelKey trims every part, lower-cases the exchange id and channel and
// upper-cases the symbol, so differently cased requests share one feed.
func NewChannelKey(exchange, symbol, channel string) ChannelKey {
	return ChannelKey{
		Exchange: strings.ToLower(strings.TrimSpace(exchange)),
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Channel:  ChannelType(strings.ToLower(strings.TrimSpace(channel))),
	}
}

func (k ChannelKey) String() string {
	return k.Exchange + ":" + k.Symbol + ":" + string(k.Channel)
}

// Validate reports the first missing or unsupported part of the key.
func (k ChannelKey) Validate() error {
	if k.Exchange == "" {
		return fmt.Errorf("exchange is required")
	}
	if k.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !k.Channel.Valid() {
		return fmt.Errorf("Unsupported channel: %s", k.Channel)
	}
	return nil
}
