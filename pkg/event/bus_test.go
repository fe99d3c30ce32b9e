package event

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_OnRunsInlineInOrder(t *testing.T) {
	b := New()
	ctx := context.Background()

	var got []string
	b.On("job:finished", func(ctx context.Context, e Envelope) { got = append(got, "first:"+e.Payload.(string)) })
	b.On(Wildcard, func(ctx context.Context, e Envelope) { got = append(got, "any:"+e.Name) })
	b.On("job:finished", func(ctx context.Context, e Envelope) { got = append(got, "second") })

	b.Emit(ctx, "job:finished", "1")
	b.Emit(ctx, "job:failed", "2")

	assert.Equal(t, []string{"first:1", "any:job:finished", "second", "any:job:failed"}, got)
}

func TestBus_OffRemovesListener(t *testing.T) {
	b := New()

	calls := 0
	off := b.On("x", func(ctx context.Context, e Envelope) { calls++ })
	b.Emit(context.Background(), "x", nil)
	off()
	off()
	b.Emit(context.Background(), "x", nil)

	assert.Equal(t, 1, calls)
}

func TestBus_ListenerPanicIsRecovered(t *testing.T) {
	var buf bytes.Buffer
	b := New(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	reached := false
	b.On("x", func(ctx context.Context, e Envelope) { panic("boom") })
	b.On("x", func(ctx context.Context, e Envelope) { reached = true })

	require.NotPanics(t, func() { b.Emit(context.Background(), "x", nil) })
	assert.True(t, reached)
	assert.Contains(t, buf.String(), "event listener panicked")
}

func TestBus_SubscribeFilters(t *testing.T) {
	b := New()
	ctx := context.Background()

	finished := b.Subscribe("job:finished")
	all := b.Subscribe()

	b.Emit(ctx, "job:failed", nil)
	b.Emit(ctx, "job:finished", map[string]string{"jobId": "1"})

	select {
	case e := <-finished:
		assert.Equal(t, "job:finished", e.Name)
		assert.Equal(t, map[string]string{"jobId": "1"}, e.Payload)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected job:finished")
	}
	assert.Len(t, finished, 0)
	assert.Len(t, all, 2)
}

func TestBus_SubscribeDropsWhenFull(t *testing.T) {
	b := New(WithBuffer(1))
	ch := b.Subscribe("x")

	b.Emit(context.Background(), "x", 1)
	b.Emit(context.Background(), "x", 2)

	assert.Equal(t, int64(1), b.Dropped())
	e := <-ch
	assert.Equal(t, 1, e.Payload)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe("x")

	b.Unsubscribe(ch)
	b.Emit(context.Background(), "x", nil)

	assert.Len(t, ch, 0)
	b.Unsubscribe(ch)
}

func TestBus_ConcurrentEmit(t *testing.T) {
	b := New()

	var mu sync.Mutex
	count := 0
	b.On("x", func(ctx context.Context, e Envelope) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Emit(context.Background(), "x", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, count)
}
