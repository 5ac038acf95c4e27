// Package journal keeps a bounded, queryable record of feed lifecycle events.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoPolymarket/feedgate/internal/model"
	"github.com/GoPolymarket/feedgate/internal/pkg/logger"
)

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Exchange string
	Kind     model.FeedEventKind
}

func (f Filter) match(ev *model.FeedEvent) bool {
	if f.Exchange != "" && ev.Exchange != f.Exchange {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	return true
}

// Repo persists events.
type Repo interface {
	Insert(ctx context.Context, ev *model.FeedEvent) error
	List(ctx context.Context, f Filter, limit int) ([]*model.FeedEvent, error)
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Service records events asynchronously into a ring buffer and, when
// configured, a repository.
type Service struct {
	events chan *model.FeedEvent
	buffer *ringBuffer
	repo   Repo
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New starts the consumer goroutine. repo may be nil.
func New(bufferSize, ringSize int, repo Repo, l *slog.Logger) *Service {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	s := &Service{
		events: make(chan *model.FeedEvent, bufferSize),
		buffer: newRingBuffer(ringSize),
		repo:   repo,
		logger: logger.Component(l, "journal"),
		done:   make(chan struct{}),
	}
	go s.consume()
	return s
}

// Record stores ev without blocking; when the queue is full the event only
// reaches the ring buffer.
func (s *Service) Record(ev model.FeedEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	entry := &ev
	s.buffer.Add(entry)
	if s.repo == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- entry:
	default:
		s.logger.Warn("journal queue full, event not persisted", "kind", ev.Kind)
	}
}

// List prefers the repository and falls back to the ring buffer.
func (s *Service) List(ctx context.Context, f Filter, limit int) ([]*model.FeedEvent, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, f, limit)
		if err == nil {
			return records, nil
		}
		s.logger.Warn("journal repo list failed, serving buffer", "error", err)
	}
	return s.buffer.List(f, limit), nil
}

// RunRetention deletes persisted events older than retention once per
// interval until ctx ends.
func (s *Service) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if s.repo == nil || retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.repo.Cleanup(ctx, retention); err != nil && ctx.Err() == nil {
			s.logger.Warn("journal cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) consume() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Insert(ctx, ev); err != nil {
			s.logger.Error("failed to persist journal event", "kind", ev.Kind, "error", err)
		}
		cancel()
	}
}

// Close flushes queued events. Later events only reach the ring buffer.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	<-s.done
}
