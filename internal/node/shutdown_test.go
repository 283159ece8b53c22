package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_TriggerOnce(t *testing.T) {
	s := NewShutdown()
	assert.False(t, s.IsSet())
	assert.False(t, isClosed(s.Done()))

	var wg sync.WaitGroup
	firsts := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			firsts <- s.Trigger("test")
		}()
	}
	wg.Wait()
	close(firsts)

	count := 0
	for first := range firsts {
		if first {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.True(t, s.IsSet())
	assert.True(t, isClosed(s.Done()))
	assert.Equal(t, "test", s.Reason())

	assert.False(t, s.Trigger("again"))
	assert.Equal(t, "test", s.Reason())
}

func TestWatchSignals_Returns(t *testing.T) {
	t.Run("context cancelled", func(t *testing.T) {
		s := NewShutdown()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			WatchSignals(ctx, s)
			close(done)
		}()

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("watcher did not return")
		}
		assert.False(t, s.IsSet())
	})

	t.Run("flag set elsewhere", func(t *testing.T) {
		s := NewShutdown()
		done := make(chan struct{})
		go func() {
			WatchSignals(context.Background(), s)
			close(done)
		}()

		s.Trigger("stop requested by hub")
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("watcher did not return")
		}
	})
}
