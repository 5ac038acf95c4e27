package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/feedgate/internal/model"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Insert(ctx context.Context, ev *model.FeedEvent) error {
	return m.Called(ev).Error(0)
}

func (m *MockRepo) List(ctx context.Context, f Filter, limit int) ([]*model.FeedEvent, error) {
	args := m.Called(f, limit)
	records, _ := args.Get(0).([]*model.FeedEvent)
	return records, args.Error(1)
}

func (m *MockRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	return m.Called(olderThan).Error(0)
}

func TestRingBufferNewestFirst(t *testing.T) {
	b := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		b.Add(&model.FeedEvent{ID: fmt.Sprint(i)})
	}
	got := b.List(Filter{}, 0)
	require.Len(t, got, 3)
	assert.Equal(t, "4", got[0].ID)
	assert.Equal(t, "2", got[2].ID)
}

func TestRingBufferFilter(t *testing.T) {
	b := newRingBuffer(10)
	b.Add(&model.FeedEvent{ID: "1", Exchange: "binance", Kind: model.EventFeedStarted})
	b.Add(&model.FeedEvent{ID: "2", Exchange: "kraken", Kind: model.EventFeedStarted})
	b.Add(&model.FeedEvent{ID: "3", Exchange: "binance", Kind: model.EventFetchError})

	got := b.List(Filter{Exchange: "binance"}, 10)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].ID)

	got = b.List(Filter{Kind: model.EventFeedStarted}, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

func TestRecordWithoutRepo(t *testing.T) {
	s := New(10, 10, nil, nil)
	defer s.Close()

	s.Record(model.FeedEvent{Kind: model.EventConnectionOpened, Exchange: "binance"})

	got, err := s.List(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestRecordPersists(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Insert", mock.MatchedBy(func(ev *model.FeedEvent) bool {
		return ev.Kind == model.EventFeedStopped && ev.Symbol == "BTC/USDT"
	})).Return(nil).Once()

	s := New(10, 10, repo, nil)
	s.Record(model.NewKeyEvent(model.EventFeedStopped, model.NewChannelKey("binance", "BTC/USDT", "ticker"), ""))
	s.Close()

	repo.AssertExpectations(t)
}

func TestListFallsBackToBuffer(t *testing.T) {
	repo := new(MockRepo)
	repo.On("Insert", mock.Anything).Return(nil)
	repo.On("List", Filter{Exchange: "kraken"}, 5).Return(nil, errors.New("db down"))

	s := New(10, 10, repo, nil)
	defer s.Close()
	s.Record(model.FeedEvent{Kind: model.EventFeedStarted, Exchange: "kraken"})
	s.Record(model.FeedEvent{Kind: model.EventFeedStarted, Exchange: "binance"})

	got, err := s.List(context.Background(), Filter{Exchange: "kraken"}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kraken", got[0].Exchange)
}

func TestListPrefersRepo(t *testing.T) {
	repo := new(MockRepo)
	stored := []*model.FeedEvent{{ID: "db"}}
	repo.On("List", Filter{}, 10).Return(stored, nil)

	s := New(10, 10, repo, nil)
	defer s.Close()

	got, err := s.List(context.Background(), Filter{}, 10)
	require.NoError(t, err)
	assert.Equal(t, stored, got)
}

func TestRunRetention(t *testing.T) {
	repo := new(MockRepo)
	called := make(chan struct{}, 1)
	repo.On("Cleanup", 24*time.Hour).Return(nil).Run(func(mock.Arguments) {
		select {
		case called <- struct{}{}:
		default:
		}
	})

	s := New(10, 10, repo, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunRetention(ctx, 24*time.Hour, time.Hour)
		close(done)
	}()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("cleanup was not called")
	}
	cancel()
	<-done
}

func TestRecordAfterClose(t *testing.T) {
	repo := new(MockRepo)
	s := New(10, 10, repo, nil)
	s.Close()
	s.Close()

	assert.NotPanics(t, func() {
		s.Record(model.FeedEvent{Kind: model.EventFeedStopped})
	})
	assert.Len(t, s.buffer.List(Filter{}, 10), 1)
	repo.AssertNotCalled(t, "Insert", mock.Anything)
}
