package market

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoPolymarket/feedgate/internal/exchange"
	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
	"github.com/GoPolymarket/feedgate/internal/pkg/metrics"
)

const resetMessage = "Subscription reset, please resubscribe"

// feeds is the part of FeedPool the router drives.
type feeds interface {
	Start(key model.ChannelKey) error
	Stop(key model.ChannelKey)
	Active(key model.ChannelKey) bool
	ActiveKeys() []model.ChannelKey
}

// Router owns the subscriber <-> key mapping and keeps exactly one feed task
// alive per key with subscribers.
//
// Acks are queued while the lock is held so a subscriber always sees its ack
// before the first frame of the feed; Subscriber.Send only enqueues. Any
// subscriber whose send fails is disconnected after the lock is released.
type Router struct {
	mu    sync.Mutex
	byKey map[model.ChannelKey]map[string]*Subscriber
	bySub map[string]map[model.ChannelKey]struct{}

	feeds      feeds
	codec      *Codec
	disconnect func(*Subscriber)
	journal    Journal
	logger     *slog.Logger
}

func NewRouter(f feeds, codec *Codec, journal Journal, l *slog.Logger) *Router {
	if journal == nil {
		journal = nopJournal{}
	}
	return &Router{
		byKey:      make(map[model.ChannelKey]map[string]*Subscriber),
		bySub:      make(map[string]map[model.ChannelKey]struct{}),
		feeds:      f,
		codec:      codec,
		disconnect: func(*Subscriber) {},
		journal:    journal,
		logger:     logger.Component(l, "router"),
	}
}

// Subscribe adds sub to key, starting the feed for the first subscriber.
// Repeating a subscription only re-sends the ack.
func (r *Router) Subscribe(sub *Subscriber, key model.ChannelKey) error {
	if err := key.Validate(); err != nil {
		metrics.SubscriptionOps.WithLabelValues("subscribe", "invalid").Inc()
		return apperrors.NewProtocol(err.Error())
	}

	r.mu.Lock()
	if sub.Closed() {
		r.mu.Unlock()
		return apperrors.New(apperrors.ErrTransport, "subscriber closed", nil)
	}

	if _, ok := r.bySub[sub.ID][key]; ok {
		failed := sub.Send(r.codec.Ack(key, model.StatusSubscribed)) != nil
		r.mu.Unlock()
		metrics.SubscriptionOps.WithLabelValues("subscribe", "duplicate").Inc()
		r.afterSend(sub, failed)
		return nil
	}

	r.link(sub, key)
	if len(r.byKey[key]) == 1 {
		if err := r.feeds.Start(key); err != nil {
			r.unlink(sub.ID, key)
			r.mu.Unlock()
			metrics.SubscriptionOps.WithLabelValues("subscribe", "error").Inc()
			r.logger.Warn("feed start failed", "key", key.String(), "error", err)
			return startError(key, err)
		}
	}
	failed := sub.Send(r.codec.Ack(key, model.StatusSubscribed)) != nil
	r.mu.Unlock()

	metrics.SubscriptionOps.WithLabelValues("subscribe", "ok").Inc()
	r.logger.Info("client subscribed", "key", key.String(), "subscriber", sub.ID)
	r.afterSend(sub, failed)
	return nil
}

func startError(key model.ChannelKey, err error) error {
	if errors.Is(err, exchange.ErrUnsupportedExchange) {
		return apperrors.NewUpstreamInit(fmt.Sprintf("Unsupported exchange: %s", key.Exchange), err)
	}
	if errors.Is(err, ErrPoolClosed) {
		return apperrors.New(apperrors.ErrCapacity, "server is shutting down", err)
	}
	return apperrors.NewUpstreamInit(fmt.Sprintf("Failed to connect to exchange: %s", key.Exchange), err)
}

// Unsubscribe removes sub from key, stopping the feed after the last
// subscriber. It always acks, even when sub was not subscribed.
func (r *Router) Unsubscribe(sub *Subscriber, key model.ChannelKey) error {
	if err := key.Validate(); err != nil {
		metrics.SubscriptionOps.WithLabelValues("unsubscribe", "invalid").Inc()
		return apperrors.NewProtocol(err.Error())
	}

	r.mu.Lock()
	if _, ok := r.bySub[sub.ID][key]; ok {
		r.unlink(sub.ID, key)
		if len(r.byKey[key]) == 0 {
			r.feeds.Stop(key)
		}
		r.logger.Info("client unsubscribed", "key", key.String(), "subscriber", sub.ID)
	}
	failed := sub.Send(r.codec.Ack(key, model.StatusUnsubscribed)) != nil
	r.mu.Unlock()

	metrics.SubscriptionOps.WithLabelValues("unsubscribe", "ok").Inc()
	r.afterSend(sub, failed)
	return nil
}

// UnsubscribeAll drops every key sub holds without sending anything.
func (r *Router) UnsubscribeAll(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.bySub[sub.ID] {
		r.unlink(sub.ID, key)
		if len(r.byKey[key]) == 0 {
			r.feeds.Stop(key)
		}
	}
	delete(r.bySub, sub.ID)
}

// Snapshot copies the current subscribers of key.
func (r *Router) Snapshot(key model.ChannelKey) []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.byKey[key]
	out := make([]*Subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	return out
}

// Keys returns the keys sub is subscribed to.
func (r *Router) Keys(sub *Subscriber) []model.ChannelKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ChannelKey, 0, len(r.bySub[sub.ID]))
	for k := range r.bySub[sub.ID] {
		out = append(out, k)
	}
	return out
}

// Subscribers returns the subscriber count per key.
func (r *Router) Subscribers() map[model.ChannelKey]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.ChannelKey]int, len(r.byKey))
	for k, subs := range r.byKey {
		out[k] = len(subs)
	}
	return out
}

// Reconcile checks the mapping against itself and against the running
// feeds. Each inconsistent key is reset on its own: its task is stopped,
// its mappings dropped and its subscribers told to resubscribe. It returns
// the keys that were reset.
func (r *Router) Reconcile() []model.ChannelKey {
	r.mu.Lock()

	broken := make(map[model.ChannelKey]string)
	for key, subs := range r.byKey {
		if len(subs) == 0 {
			broken[key] = "empty subscriber set"
			continue
		}
		for id := range subs {
			if _, ok := r.bySub[id][key]; !ok {
				broken[key] = "subscriber missing reverse mapping"
				break
			}
		}
		if _, ok := broken[key]; !ok && !r.feeds.Active(key) {
			broken[key] = "subscribers without a running feed"
		}
	}
	for id, keys := range r.bySub {
		for key := range keys {
			if _, ok := r.byKey[key][id]; !ok {
				broken[key] = "key missing forward mapping"
			}
		}
	}
	for _, key := range r.feeds.ActiveKeys() {
		if len(r.byKey[key]) == 0 {
			broken[key] = "feed running without subscribers"
		}
	}

	var notify []*Subscriber
	var frames [][]byte
	reset := make([]model.ChannelKey, 0, len(broken))
	for key, reason := range broken {
		affected := make(map[string]*Subscriber)
		for id, s := range r.byKey[key] {
			affected[id] = s
		}
		delete(r.byKey, key)
		for id, keys := range r.bySub {
			if _, ok := keys[key]; !ok {
				continue
			}
			delete(keys, key)
			if len(keys) == 0 {
				delete(r.bySub, id)
			}
		}
		r.feeds.Stop(key)

		frame := r.codec.Error(key, resetMessage)
		for _, s := range affected {
			notify = append(notify, s)
			frames = append(frames, frame)
		}
		reset = append(reset, key)

		metrics.InvariantResets.Inc()
		r.journal.Record(model.NewKeyEvent(model.EventInvariantReset, key, reason))
		r.logger.Error("invariant violation, key reset",
			"key", key.String(),
			"reason", reason,
			"error", apperrors.New(apperrors.ErrInvariantViolation, reason, nil),
		)
	}
	r.mu.Unlock()

	for i, s := range notify {
		r.afterSend(s, s.Send(frames[i]) != nil)
	}
	return reset
}

func (r *Router) afterSend(sub *Subscriber, failed bool) {
	if failed {
		r.disconnect(sub)
	}
}

// link and unlink keep both maps in step; callers hold r.mu.
func (r *Router) link(sub *Subscriber, key model.ChannelKey) {
	subs, ok := r.byKey[key]
	if !ok {
		subs = make(map[string]*Subscriber)
		r.byKey[key] = subs
	}
	subs[sub.ID] = sub

	keys, ok := r.bySub[sub.ID]
	if !ok {
		keys = make(map[model.ChannelKey]struct{})
		r.bySub[sub.ID] = keys
	}
	keys[key] = struct{}{}
}

func (r *Router) unlink(subID string, key model.ChannelKey) {
	if subs, ok := r.byKey[key]; ok {
		delete(subs, subID)
		if len(subs) == 0 {
			delete(r.byKey, key)
		}
	}
	if keys, ok := r.bySub[subID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.bySub, subID)
		}
	}
}
