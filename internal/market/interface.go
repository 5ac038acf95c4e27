package market

import (
	"context"

	"github.com/GoPolymarket/feedgate/internal/exchange"
	"github.com/GoPolymarket/feedgate/internal/model"
)

// Transport carries encoded frames to one client. Send must not block: it
// either queues the frame or fails. Close is called once.
type Transport interface {
	Send(msg []byte) error
	Close() error
}

// ExchangeFactory builds exchange clients by id. *exchange.Registry satisfies it.
type ExchangeFactory interface {
	New(id string) (exchange.Exchange, exchange.Settings, error)
	IDs() []string
}

// Journal records feed lifecycle events. Record must not block.
type Journal interface {
	Record(ev model.FeedEvent)
}

// MirrorSink receives a copy of every market data frame.
type MirrorSink interface {
	Name() string
	Publish(ctx context.Context, key model.ChannelKey, msg []byte) error
	Close() error
}

type nopJournal struct{}

func (nopJournal) Record(model.FeedEvent) {}
