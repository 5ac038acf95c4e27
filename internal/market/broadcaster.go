package market

import (
	"log/slog"

	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
	"github.com/GoPolymarket/feedgate/internal/pkg/metrics"
)

type snapshotter interface {
	Snapshot(key model.ChannelKey) []*Subscriber
}

// Broadcaster fans feed output out to the current subscribers of a key.
type Broadcaster struct {
	codec   *Codec
	subs    snapshotter
	drop    func(*Subscriber)
	mirror  *Mirror
	journal Journal
	logger  *slog.Logger
}

func NewBroadcaster(codec *Codec, subs snapshotter, drop func(*Subscriber), mirror *Mirror, journal Journal, l *slog.Logger) *Broadcaster {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Broadcaster{
		codec:   codec,
		subs:    subs,
		drop:    drop,
		mirror:  mirror,
		journal: journal,
		logger:  logger.Component(l, "broadcaster"),
	}
}

// Deliver encodes payload once and sends it to every subscriber of key.
func (b *Broadcaster) Deliver(key model.ChannelKey, payload any) {
	msg, err := b.codec.Encode(key, payload)
	if err != nil {
		b.logger.Error("encode failed", "key", key.String(), "error", err)
		return
	}
	b.fanout(key, msg, string(key.Channel))
	if b.mirror != nil {
		b.mirror.Enqueue(key, msg)
	}
}

func (b *Broadcaster) DeliverError(key model.ChannelKey, message string) {
	b.fanout(key, b.codec.Error(key, message), model.TypeError)
}

// fanout sends msg to a snapshot of key's subscribers. A subscriber whose
// send fails is disconnected; the others are unaffected.
func (b *Broadcaster) fanout(key model.ChannelKey, msg []byte, frameType string) {
	for _, s := range b.subs.Snapshot(key) {
		if err := s.Send(msg); err != nil {
			metrics.DeliveryFailures.Inc()
			b.logger.Warn("delivery failed, dropping subscriber",
				"key", key.String(),
				"subscriber", s.ID,
				"error", err,
			)
			ev := model.NewKeyEvent(model.EventSubscriberDropped, key, err.Error())
			ev.Subscriber = s.ID
			b.journal.Record(ev)
			b.drop(s)
			continue
		}
		metrics.MessagesDelivered.WithLabelValues(frameType).Inc()
	}
}
