package model

import "time"

// Frame types sent to WebSocket clients.
const (
	TypeSubscription = "subscription"
	TypeError        = "error"
	TypePong         = "pong"
)

const (
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
)

// WireMessage is a market data frame produced by a feed.
type WireMessage struct {
	Type      string    `json:"type"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionAck confirms a subscribe or unsubscribe request.
type SubscriptionAck struct {
	Type      string      `json:"type"`
	Status    string      `json:"status"`
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol"`
	Channel   ChannelType `json:"channel"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorFrame reports a failure. Feed errors carry the key; protocol errors do not.
type ErrorFrame struct {
	Type      string      `json:"type"`
	Exchange  string      `json:"exchange,omitempty"`
	Symbol    string      `json:"symbol,omitempty"`
	Channel   ChannelType `json:"channel,omitempty"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

type Pong struct {
	Type string `json:"type"`
}

// ClientFrame is any frame a client may send.
type ClientFrame struct {
	Type     string `json:"type"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Channel  string `json:"channel"`
}

func (f ClientFrame) Key() ChannelKey {
	return NewChannelKey(f.Exchange, f.Symbol, f.Channel)
}
