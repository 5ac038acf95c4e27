package journal

import (
	"sync"

	"github.com/GoPolymarket/feedgate/internal/model"
)

type ringBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.FeedEvent
	nextIndex int
}

func newRingBuffer(maxSize int) *ringBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ringBuffer{
		maxSize: maxSize,
		records: make([]*model.FeedEvent, 0, maxSize),
	}
}

func (b *ringBuffer) Add(ev *model.FeedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, ev)
		return
	}
	b.records[b.nextIndex] = ev
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List returns matching events, newest first.
func (b *ringBuffer) List(f Filter, limit int) []*model.FeedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.FeedEvent, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		ev := b.records[idx]
		if !f.match(ev) {
			continue
		}
		results = append(results, ev)
		if len(results) >= limit {
			break
		}
	}
	return results
}
