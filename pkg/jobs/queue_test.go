package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRoutesByType(t *testing.T) {
	q := NewQueue("test", QueueConfig{Workers: 2})
	got := make(chan string, 2)
	q.Register("a", func(_ context.Context, j Job) error { got <- "a:" + j.Payload.(string); return nil })
	q.Register("b", func(_ context.Context, j Job) error { got <- "b:" + j.Payload.(string); return nil })
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "a", Payload: "1"}))
	require.NoError(t, q.Enqueue(Job{Type: "b", Payload: "2"}))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-got:
			seen[v] = true
		case <-time.After(time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.True(t, seen["a:1"])
	assert.True(t, seen["b:2"])
}

func TestQueueRetriesThenGivesUp(t *testing.T) {
	q := NewQueue("retry", QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond})
	var calls int32
	done := make(chan struct{}, 3)
	q.Register("flaky", func(context.Context, Job) error {
		atomic.AddInt32(&calls, 1)
		done <- struct{}{}
		return errors.New("boom")
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "flaky"}))
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("attempt %d not observed", i+1)
		}
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestQueueRejectsUnknownTypeAndStoppedQueue(t *testing.T) {
	q := NewQueue("strict", QueueConfig{})
	q.Register("known", func(context.Context, Job) error { return nil })
	assert.Error(t, q.Enqueue(Job{Type: "known"}), "not started")

	q.Start(context.Background())
	assert.Error(t, q.Enqueue(Job{Type: "unknown"}))
	q.Stop()
	assert.Error(t, q.Enqueue(Job{Type: "known"}))
}
