package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GoPolymarket/feedgate/internal/model"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Publish(ctx context.Context, key model.ChannelKey, msg []byte) error {
	args := m.Called(key, msg)
	return args.Error(0)
}

func (m *mockSink) Close() error {
	return m.Called().Error(0)
}

func TestMirrorPublishesToEverySink(t *testing.T) {
	a, b := &mockSink{}, &mockSink{}
	msg := []byte(`{"type":"ticker"}`)
	a.On("Publish", btcTicker, msg).Return(nil).Once()
	b.On("Publish", btcTicker, msg).Return(errors.New("down")).Once()
	a.On("Close").Return(nil).Once()
	b.On("Close").Return(nil).Once()

	m := NewMirror(4, nil, a, b)
	m.Start()
	m.Enqueue(btcTicker, msg)
	require.NoError(t, m.Stop(context.Background()))

	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

type blockingSink struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	count   int
	mu      sync.Mutex
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Publish(ctx context.Context, key model.ChannelKey, msg []byte) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

func (s *blockingSink) Close() error { return nil }

func TestMirrorDropsWhenFull(t *testing.T) {
	s := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	m := NewMirror(1, nil, s)
	m.Start()

	m.Enqueue(btcTicker, []byte("1"))
	<-s.entered // worker holds item 1
	m.Enqueue(btcTicker, []byte("2")) // queued
	m.Enqueue(btcTicker, []byte("3")) // dropped
	close(s.release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, 2, s.count)
}

func TestMirrorWithoutSinksIgnoresFrames(t *testing.T) {
	m := NewMirror(1, nil)
	m.Start()
	m.Enqueue(btcTicker, []byte("1"))
	m.Enqueue(btcTicker, []byte("2"))
	assert.NoError(t, m.Stop(context.Background()))
}

func TestHubMirrorsDataFrames(t *testing.T) {
	sink := &mockSink{}
	got := make(chan []byte, 16)
	sink.On("Publish", btcTicker, mock.Anything).Run(func(args mock.Arguments) {
		select {
		case got <- args.Get(1).([]byte):
		default:
		}
	}).Return(nil)
	sink.On("Close").Return(nil)

	h := NewHub(newFakeFactory("binance"), Options{Feeds: testFeedsConfig(), Mirror: NewMirror(16, nil, sink)})
	h.Start()
	sub, tr := connect(t, h)
	require.NoError(t, h.Subscribe(sub, btcTicker))

	select {
	case msg := <-got:
		assert.Contains(t, string(msg), `"type":"ticker"`)
	case <-time.After(waitFor):
		t.Fatal("no frame mirrored")
	}
	require.NoError(t, h.Shutdown(context.Background()))
	assert.NotEmpty(t, tr.OfType("ticker"))
	sink.AssertCalled(t, "Close")
}

func TestMirrorEnqueueAfterStopIsDropped(t *testing.T) {
	sink := &mockSink{}
	sink.On("Close").Return(nil).Once()

	m := NewMirror(4, nil, sink)
	m.Start()
	require.NoError(t, m.Stop(context.Background()))

	assert.NotPanics(t, func() { m.Enqueue(btcTicker, []byte("late")) })
	sink.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	sink.AssertExpectations(t)
}

func TestShutdownTimeoutLeavesMirrorSafe(t *testing.T) {
	sink := &mockSink{}
	sink.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	sink.On("Close").Return(nil)

	f := newFakeFactory("binance")
	block := make(chan struct{})
	f.configure = func(ex *fakeExchange) { ex.block = block }
	cfg := testFeedsConfig()
	cfg.Ticker.FetchTimeout = time.Second
	h := NewHub(f, Options{Feeds: cfg, Mirror: NewMirror(4, nil, sink)})
	h.Start()

	sub, _ := connect(t, h)
	require.NoError(t, h.Subscribe(sub, btcTicker))
	ex := f.Last()
	require.Eventually(t, func() bool { return ex.inFlight.Load() == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Shutdown(ctx), context.DeadlineExceeded)

	close(block)
	wait, cancelWait := context.WithTimeout(context.Background(), waitFor)
	defer cancelWait()
	require.NoError(t, h.Wait(wait, btcTicker))
	h.mirror.Enqueue(btcTicker, []byte("late"))
}
