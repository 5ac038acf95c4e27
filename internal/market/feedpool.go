package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/feedgate/internal/config"
	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
	"github.com/GoPolymarket/feedgate/internal/pkg/metrics"
)

// ErrPoolClosed is returned by Start once Shutdown has begun.
var ErrPoolClosed = errors.New("feed pool is shut down")

type TaskState string

const (
	TaskStarting   TaskState = "starting"
	TaskRunning    TaskState = "running"
	TaskCancelling TaskState = "cancelling"
	TaskStopped    TaskState = "stopped"
)

// deliverer receives what feed tasks produce.
type deliverer interface {
	Deliver(key model.ChannelKey, payload any)
	DeliverError(key model.ChannelKey, message string)
}

// feedTask is the running poller for one key. state is guarded by FeedPool.mu.
type feedTask struct {
	key     model.ChannelKey
	state   TaskState
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	prev    *feedTask // predecessor still cancelling, if any
	conn    *Connection
	started time.Time
	poller  poller
}

type TaskStats struct {
	Key       model.ChannelKey `json:"key"`
	State     TaskState        `json:"state"`
	StartedAt time.Time        `json:"started_at"`
}

// FeedPool runs at most one polling task per channel key.
type FeedPool struct {
	mu     sync.Mutex
	tasks  map[model.ChannelKey]*feedTask
	closed bool
	wg     sync.WaitGroup

	conns   *ConnectionPool
	out     deliverer
	journal Journal
	cfg     config.FeedsConfig
	logger  *slog.Logger
}

func NewFeedPool(cfg config.FeedsConfig, conns *ConnectionPool, out deliverer, journal Journal, l *slog.Logger) *FeedPool {
	if journal == nil {
		journal = nopJournal{}
	}
	return &FeedPool{
		tasks:   make(map[model.ChannelKey]*feedTask),
		conns:   conns,
		out:     out,
		journal: journal,
		cfg:     cfg,
		logger:  logger.Component(l, "feedpool"),
	}
}

// Start ensures a task is polling key. It is a no-op while a task is
// starting or running. A task still cancelling is replaced by one that
// waits for it to stop before its first poll. The exchange connection is
// acquired before Start returns, so unsupported exchanges fail here.
func (p *FeedPool) Start(key model.ChannelKey) error {
	cadence, ok := p.cfg.For(string(key.Channel))
	if !ok {
		return fmt.Errorf("unsupported channel: %s", key.Channel)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	cur := p.tasks[key]
	if cur != nil && (cur.state == TaskStarting || cur.state == TaskRunning) {
		return nil
	}

	conn, err := p.conns.Acquire(key.Exchange)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &feedTask{
		key:     key,
		state:   TaskStarting,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		prev:    cur,
		conn:    conn,
		started: time.Now().UTC(),
		poller:  newPoller(key, p.cfg),
	}
	p.tasks[key] = t
	metrics.FeedTasks.WithLabelValues(string(key.Channel)).Inc()

	p.wg.Add(1)
	go p.run(t, cadence)
	return nil
}

// Stop cancels the task for key. The task leaves the table once it exits.
func (p *FeedPool) Stop(key model.ChannelKey) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.tasks[key]
	if t == nil || t.state == TaskCancelling || t.state == TaskStopped {
		return
	}
	t.state = TaskCancelling
	t.cancel()
}

// Active reports whether a task for key is starting or running.
func (p *FeedPool) Active(key model.ChannelKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.tasks[key]
	return t != nil && (t.state == TaskStarting || t.state == TaskRunning)
}

// ActiveKeys lists keys with a starting or running task.
func (p *FeedPool) ActiveKeys() []model.ChannelKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]model.ChannelKey, 0, len(p.tasks))
	for k, t := range p.tasks {
		if t.state == TaskStarting || t.state == TaskRunning {
			keys = append(keys, k)
		}
	}
	return keys
}

func (p *FeedPool) State(key model.ChannelKey) (TaskState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tasks[key]; ok {
		return t.state, true
	}
	return TaskStopped, false
}

func (p *FeedPool) Snapshot() []TaskStats {
	p.mu.Lock()
	out := make([]TaskStats, 0, len(p.tasks))
	for k, t := range p.tasks {
		out = append(out, TaskStats{Key: k, State: t.state, StartedAt: t.started})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Wait blocks until the current task for key, if any, has stopped.
func (p *FeedPool) Wait(ctx context.Context, key model.ChannelKey) error {
	p.mu.Lock()
	t := p.tasks[key]
	p.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every task and waits for all of them to exit.
func (p *FeedPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	for _, t := range p.tasks {
		if t.state == TaskStarting || t.state == TaskRunning {
			t.state = TaskCancelling
		}
		t.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("feed pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *FeedPool) run(t *feedTask, cadence config.ChannelConfig) {
	defer p.wg.Done()
	defer p.finish(t)

	log := p.logger.With("key", t.key.String())

	if t.prev != nil {
		<-t.prev.done
		t.prev = nil
		if t.ctx.Err() != nil {
			return
		}
	}

	p.mu.Lock()
	if t.state == TaskStarting {
		t.state = TaskRunning
	}
	p.mu.Unlock()

	p.journal.Record(model.NewKeyEvent(model.EventFeedStarted, t.key, ""))
	log.Info("feed started", "interval", cadence.Interval)

	for {
		// The limiter waits on the task, not on the fetch deadline.
		if err := t.conn.Wait(t.ctx); err != nil {
			return
		}

		payload, err := p.fetch(t, cadence.FetchTimeout)

		// The fetch ran on its own deadline; drop its result if the task was
		// cancelled meanwhile.
		if t.ctx.Err() != nil {
			return
		}

		if err != nil {
			log.Warn("upstream fetch failed", "error", err, "retry_in", p.cfg.ErrorBackoff)
			metrics.UpstreamFetchErrors.WithLabelValues(t.key.Exchange, string(t.key.Channel)).Inc()
			p.journal.Record(model.NewKeyEvent(model.EventFetchError, t.key, err.Error()))
			p.out.DeliverError(t.key, fmt.Sprintf("failed to fetch %s data", t.key.Channel))
			if !sleepCtx(t.ctx, p.cfg.ErrorBackoff) {
				return
			}
			continue
		}

		if payload != nil {
			p.out.Deliver(t.key, payload)
		}
		if !sleepCtx(t.ctx, cadence.Interval) {
			return
		}
	}
}

// fetch polls once under its own deadline, detached from the task context.
func (p *FeedPool) fetch(t *feedTask, timeout time.Duration) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	payload, err := t.poller.poll(ctx, t.conn.Exchange())
	metrics.UpstreamFetchLatency.WithLabelValues(t.key.Exchange, string(t.key.Channel)).Observe(time.Since(start).Seconds())
	return payload, err
}

// finish releases the task's connection and removes it from the table,
// leaving any replacement in place.
func (p *FeedPool) finish(t *feedTask) {
	p.conns.Release(t.key.Exchange)

	p.mu.Lock()
	t.state = TaskStopped
	if p.tasks[t.key] == t {
		delete(p.tasks, t.key)
	}
	p.mu.Unlock()

	metrics.FeedTasks.WithLabelValues(string(t.key.Channel)).Dec()
	p.journal.Record(model.NewKeyEvent(model.EventFeedStopped, t.key, ""))
	p.logger.Info("feed stopped", "key", t.key.String())
	close(t.done)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
