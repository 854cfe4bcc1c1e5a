package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_TypedAndWildcard(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var mu sync.Mutex
	var typed, all []Kind
	var wg sync.WaitGroup
	wg.Add(3) // one typed delivery, two wildcard deliveries

	_, err := b.Subscribe(MemoryEncoded, func(e Event) {
		mu.Lock()
		typed = append(typed, e.Kind)
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, err)
	_, err = b.Subscribe("", func(e Event) {
		mu.Lock()
		all = append(all, e.Kind)
		mu.Unlock()
		wg.Done()
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(New(MemoryEncoded, time.Now())))
	require.NoError(t, b.Publish(New(FusionCompleted, time.Now())))

	waitOrFail(t, &wg)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Kind{MemoryEncoded}, typed)
	assert.ElementsMatch(t, []Kind{MemoryEncoded, FusionCompleted}, all)
}

func TestBus_HistoryBounded(t *testing.T) {
	b := NewBusWithHistory(2)
	defer b.Close()
	for _, k := range []Kind{MemoryEncoded, MemoriesPruned, FusionCompleted} {
		require.NoError(t, b.Publish(New(k, time.Now())))
	}
	h := b.History(0)
	require.Len(t, h, 2)
	assert.Equal(t, MemoriesPruned, h[0].Kind)
	assert.Equal(t, FusionCompleted, h[1].Kind)
	assert.Len(t, b.History(1), 1)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()
	id, err := b.Subscribe("", func(Event) {})
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe(id))
	assert.Error(t, b.Unsubscribe(id))
}

func TestBus_ClosedRejects(t *testing.T) {
	b := NewBus()
	b.Close()
	assert.ErrorIs(t, b.Publish(New(MemoryEncoded, time.Now())), ErrClosed)
	_, err := b.Subscribe("", func(Event) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSink_NilSafe(t *testing.T) {
	var s Sink
	assert.NotPanics(t, func() { s.Emit(New(MemoryEncoded, time.Now())) })
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}
}
