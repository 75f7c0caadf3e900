package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/fundflow/internal/logging"
)

type event struct {
	mu  sync.Mutex
	log []string
}

func (e *event) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *event) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type blocking struct {
	name   string
	events *event
	fail   error
	stop   chan struct{}
	once   sync.Once
}

func newBlocking(name string, events *event, fail error) *blocking {
	return &blocking{name: name, events: events, fail: fail, stop: make(chan struct{})}
}

func (b *blocking) Start(ctx context.Context) error {
	if b.fail != nil {
		return b.fail
	}
	select {
	case <-b.stop:
	case <-ctx.Done():
	}
	return nil
}

func (b *blocking) Stop(context.Context) error {
	b.once.Do(func() { close(b.stop) })
	b.events.add("stop " + b.name)
	return nil
}

func TestRunStopsInReverseOrderOnCancel(t *testing.T) {
	events := &event{}
	a := New(logging.Discard(), time.Second)
	a.Add("worker", newBlocking("worker", events, nil))
	a.Add("http", newBlocking("http", events, nil))
	a.OnClose("broker", func() error { events.add("close broker"); return nil })
	a.OnClose("db", func() error { events.add("close db"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	require.Equal(t, []string{"stop http", "stop worker", "close db", "close broker"}, events.all())
}

func TestRunReturnsFirstComponentError(t *testing.T) {
	events := &event{}
	boom := errors.New("listen: address in use")
	a := New(logging.Discard(), time.Second)
	a.Add("worker", newBlocking("worker", events, nil))
	a.Add("http", newBlocking("http", events, boom))

	err := a.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "http")
	require.Contains(t, events.all(), "stop worker")
}
