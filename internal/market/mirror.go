package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
	"github.com/GoPolymarket/feedgate/internal/pkg/metrics"
)

const mirrorPublishTimeout = 2 * time.Second

type mirrorItem struct {
	key model.ChannelKey
	msg []byte
}

// Mirror copies market data frames to external sinks off the feed path.
// Frames are dropped when the queue is full.
type Mirror struct {
	sinks  []MirrorSink
	queue  chan mirrorItem
	logger *slog.Logger

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMirror(bufferSize int, l *slog.Logger, sinks ...MirrorSink) *Mirror {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Mirror{
		sinks:  sinks,
		queue:  make(chan mirrorItem, bufferSize),
		logger: logger.Component(l, "mirror"),
	}
}

func (m *Mirror) Start() {
	m.wg.Add(1)
	go m.worker()
}

// Enqueue never blocks. Frames enqueued after Stop are dropped.
func (m *Mirror) Enqueue(key model.ChannelKey, msg []byte) {
	if len(m.sinks) == 0 {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return
	}
	select {
	case m.queue <- mirrorItem{key: key, msg: msg}:
	default:
		metrics.MirrorDropped.Inc()
	}
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for item := range m.queue {
		for _, s := range m.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), mirrorPublishTimeout)
			if err := s.Publish(ctx, item.key, item.msg); err != nil {
				m.logger.Warn("mirror publish failed", "sink", s.Name(), "key", item.key.String(), "error", err)
			}
			cancel()
		}
	}
}

// Stop drains the queue and closes every sink.
func (m *Mirror) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		close(m.queue)
		m.mu.Unlock()
		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		for _, s := range m.sinks {
			if cerr := s.Close(); cerr != nil {
				m.logger.Warn("mirror sink close failed", "sink", s.Name(), "error", cerr)
			}
		}
	})
	return err
}
