package signals

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kol-signals/pkg/models"
)

type fakeLister struct {
	calls   atomic.Int32
	release chan struct{}
	values  map[string][]models.Signal
	err     error
}

func (f *fakeLister) ListSignals(ctx context.Context, handle string) ([]models.Signal, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.values[handle], nil
}

func sig(permalink string) models.Signal {
	return models.Signal{Permalink: permalink, Sentiment: models.Bullish, ProjectHandle: "uniswap"}
}

func TestCache_EnsureFetchesOncePerAuthor(t *testing.T) {
	l := &fakeLister{
		release: make(chan struct{}),
		values: map[string][]models.Signal{
			"alice": {sig("https://x.com/alice/status/1"), sig("https://x.com/alice/status/2")},
		},
	}
	c := NewCache(l)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Ensure(context.Background(), "@Alice")
		}()
	}
	require.Eventually(t, func() bool { return c.Loaded("alice") }, time.Second, time.Millisecond)
	close(l.release)
	wg.Wait()

	assert.EqualValues(t, 1, l.calls.Load())
	_, ok := c.Lookup("https://x.com/alice/status/2")
	assert.True(t, ok, "waiters return after the shared load lands")

	c.Ensure(context.Background(), "alice")
	assert.EqualValues(t, 1, l.calls.Load())
}

func TestCache_ErrorCountsAsLoaded(t *testing.T) {
	l := &fakeLister{err: errors.New("502")}
	c := NewCache(l)

	c.Ensure(context.Background(), "bob")
	c.Ensure(context.Background(), "bob")

	assert.EqualValues(t, 1, l.calls.Load(), "no retry after failure")
	assert.True(t, c.Loaded("bob"))
	assert.Zero(t, c.Len())
}

func TestCache_StaleLoadDiscarded(t *testing.T) {
	l := &fakeLister{
		release: make(chan struct{}),
		values:  map[string][]models.Signal{"alice": {sig("https://x.com/alice/status/1")}},
	}
	c := NewCache(l)

	done := make(chan struct{})
	go func() {
		c.Ensure(context.Background(), "alice")
		close(done)
	}()
	require.Eventually(t, func() bool { return l.calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Reset()
	close(l.release)
	<-done

	_, ok := c.Lookup("https://x.com/alice/status/1")
	assert.False(t, ok)
	assert.False(t, c.Loaded("alice"), "reset forgets loaded authors")
}

func TestCache_Put(t *testing.T) {
	c := NewCache(&fakeLister{})
	gen := c.Generation()

	assert.True(t, c.Put(gen, sig("p1")))
	assert.False(t, c.Put(gen, models.Signal{Permalink: "p1", Sentiment: models.Bearish}), "first signal wins")
	s, ok := c.Lookup("p1")
	require.True(t, ok)
	assert.Equal(t, models.Bullish, s.Sentiment)

	next := c.Reset()
	assert.Equal(t, gen+1, next)
	assert.False(t, c.Put(gen, sig("p2")), "old generation")
	assert.True(t, c.Put(next, sig("p2")))
	assert.False(t, c.Put(next, sig("")))
}

func TestCache_LookupAcrossHosts(t *testing.T) {
	c := NewCache(&fakeLister{})
	require.True(t, c.Put(c.Generation(), sig("https://twitter.com/alice/status/7")))

	s, ok := c.Lookup("https://x.com/alice/status/7")
	require.True(t, ok)
	assert.Equal(t, "https://twitter.com/alice/status/7", s.Permalink)
	assert.False(t, c.Put(c.Generation(), sig("https://x.com/alice/status/7?s=20")), "same post")
}
