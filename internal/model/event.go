package model

import "time"

type FeedEventKind string

const (
	EventFeedStarted       FeedEventKind = "feed_started"
	EventFeedStopped       FeedEventKind = "feed_stopped"
	EventFetchError        FeedEventKind = "fetch_error"
	EventConnectionOpened  FeedEventKind = "connection_opened"
	EventConnectionClosed  FeedEventKind = "connection_closed"
	EventSubscriberDropped FeedEventKind = "subscriber_dropped"
	EventInvariantReset    FeedEventKind = "invariant_reset"
)

// FeedEvent is one lifecycle record in the feed journal.
type FeedEvent struct {
	ID         string        `json:"id" db:"id"`
	Kind       FeedEventKind `json:"kind" db:"kind"`
	Exchange   string        `json:"exchange" db:"exchange"`
	Symbol     string        `json:"symbol,omitempty" db:"symbol"`
	Channel    string        `json:"channel,omitempty" db:"channel"`
	Subscriber string        `json:"subscriber,omitempty" db:"subscriber"`
	Detail     string        `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// NewKeyEvent builds an event scoped to a channel key.
func NewKeyEvent(kind FeedEventKind, key ChannelKey, detail string) FeedEvent {
	return FeedEvent{
		Kind:     kind,
		Exchange: key.Exchange,
		Symbol:   key.Symbol,
		Channel:  string(key.Channel),
		Detail:   detail,
	}
}
