package injector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/kol-signals/pkg/dom"
	"github.com/kol-signals/pkg/extractor"
	"github.com/kol-signals/pkg/models"
	"github.com/kol-signals/pkg/testutil"
)

type fakeCache struct {
	mu      sync.Mutex
	ensured map[string]int
	signals map[string]models.Signal
}

func newFakeCache(signals ...models.Signal) *fakeCache {
	c := &fakeCache{ensured: map[string]int{}, signals: map[string]models.Signal{}}
	for _, s := range signals {
		c.signals[s.Permalink] = s
	}
	return c
}

func (c *fakeCache) Ensure(_ context.Context, author string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensured[author]++
}

func (c *fakeCache) Lookup(permalink string) (models.Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.signals[permalink]
	return s, ok
}

type fakePrices struct {
	pct   float64
	ok    bool
	gate  chan struct{}
	calls int
	mu    sync.Mutex
}

func (f *fakePrices) PercentChange(_ context.Context, _ string, _ time.Time) (float64, bool) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	return f.pct, f.ok
}

type recorder struct {
	mu      sync.Mutex
	patches []Patch
}

func (r *recorder) Patch(p Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, p)
}

func (r *recorder) ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Op
	for _, p := range r.patches {
		out = append(out, p.Op)
	}
	return out
}

const pageURL = "https://x.com/home"

type harness struct {
	doc    *dom.Document
	inj    *Injector
	sink   *recorder
	cache  *fakeCache
	prices *fakePrices
}

func newHarness(cache *fakeCache, prices *fakePrices) *harness {
	h := &harness{doc: dom.NewDocument(), sink: &recorder{}, cache: cache, prices: prices}
	deps := Deps{Document: h.doc, Signals: cache, Sink: h.sink}
	if prices != nil {
		deps.Prices = prices
	}
	h.inj = New(deps)
	return h
}

// add appends markup and returns the candidates found in it.
func (h *harness) add(t *testing.T, fragments ...string) []Candidate {
	t.Helper()
	added, err := h.doc.Append(fragments...)
	require.NoError(t, err)
	var out []Candidate
	h.doc.Do(func(*html.Node) {
		for _, n := range added {
			for _, item := range (extractor.X{}).FeedItems(n) {
				post, ok := extractor.X{}.ExtractPost(item, pageURL)
				if ok {
					out = append(out, Candidate{Item: item, Post: post})
				}
			}
		}
	})
	return out
}

func (h *harness) buttons() []*html.Node {
	var out []*html.Node
	h.doc.Do(func(body *html.Node) {
		out = dom.FindAll(body, dom.HasAttrKey(ButtonMarker))
	})
	return out
}

func (h *harness) badge(postID string) (*html.Node, string) {
	var (
		n    *html.Node
		text string
	)
	h.doc.Do(func(body *html.Node) {
		n = dom.FindFirst(body, func(x *html.Node) bool {
			v, _ := dom.Attr(x, PostIDAttr)
			return dom.HasAttrKey(BadgeMarker)(x) && v == postID
		})
		if n != nil {
			text = dom.TextContent(n)
		}
	})
	return n, text
}

func savedSignal(author, id string) models.Signal {
	return models.Signal{
		Permalink:     fmt.Sprintf("https://x.com/%s/status/%s", author, id),
		Sentiment:     models.Bullish,
		ProjectHandle: "uniswap",
		NotedDate:     "2024-03-09",
	}
}

func TestProcess_ExactlyOnePerPost(t *testing.T) {
	h := newHarness(newFakeCache(), nil)

	var frags []string
	for i := 0; i < 20; i++ {
		frags = append(frags, testutil.Tweet{ID: fmt.Sprint(1000 + i), Author: "alice"}.HTML())
	}
	cands := h.add(t, frags...)
	require.Len(t, cands, 20)

	// every candidate delivered three times from competing goroutines
	var wg sync.WaitGroup
	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, c := range cands {
				h.inj.Process(context.Background(), c)
			}
		}()
	}
	wg.Wait()
	h.inj.Wait()

	assert.Len(t, h.buttons(), 20)
	assert.Equal(t, 20, h.inj.State().Len())
	for _, b := range h.buttons() {
		state, _ := dom.Attr(b, ButtonMarker)
		assert.Equal(t, StateSave, state)
		assert.Equal(t, b, b.Parent.FirstChild, "button is the leftmost control")
	}
}

func TestProcess_RejectsMissingIdentity(t *testing.T) {
	h := newHarness(newFakeCache(), nil)
	assert.False(t, h.inj.Process(context.Background(), Candidate{Item: &html.Node{}, Post: models.Post{}}))
	assert.Zero(t, h.inj.State().Len())
}

func TestProcess_ExistingMarkerLeftAlone(t *testing.T) {
	h := newHarness(newFakeCache(), nil)
	markup := strings.Replace(testutil.Tweet{ID: "5", Author: "a"}.HTML(),
		`<div role="group">`, `<div role="group"><button data-signal-button="saved">x</button>`, 1)
	cands := h.add(t, markup)
	require.Len(t, cands, 1)

	require.True(t, h.inj.Process(context.Background(), cands[0]))
	h.inj.Wait()

	assert.Len(t, h.buttons(), 1)
	assert.Empty(t, h.sink.ops())
}

func TestProcess_NoActionRow(t *testing.T) {
	h := newHarness(newFakeCache(), nil)
	cands := h.add(t, testutil.Tweet{ID: "6", Author: "a", NoActions: true}.HTML())
	require.Len(t, cands, 1)

	h.inj.Process(context.Background(), cands[0])
	h.inj.Wait()
	assert.Empty(t, h.buttons())
}

func TestProcess_EnsuresAuthorBeforeDeciding(t *testing.T) {
	cache := newFakeCache(savedSignal("alice", "1"))
	h := newHarness(cache, nil)
	cands := h.add(t,
		testutil.Tweet{ID: "1", Author: "alice"}.HTML(),
		testutil.Tweet{ID: "2", Author: "alice"}.HTML(),
	)
	for _, c := range cands {
		h.inj.Process(context.Background(), c)
	}
	h.inj.Wait()

	assert.Equal(t, 2, cache.ensured["alice"])
	assert.True(t, h.inj.Saved("1"))
	assert.False(t, h.inj.Saved("2"))

	assert.Equal(t, ActionOpenURL, h.inj.Click("1").Kind)
	assert.Equal(t, "https://x.com/uniswap", h.inj.Click("1").URL)
	a := h.inj.Click("2")
	assert.Equal(t, ActionOpenDialog, a.Kind)
	assert.Equal(t, "2", a.Post.ID)
	assert.Equal(t, ActionNone, h.inj.Click("404").Kind)
}

func TestBadge(t *testing.T) {
	t.Run("rendered for saved original post", func(t *testing.T) {
		prices := &fakePrices{pct: 12.34, ok: true}
		h := newHarness(newFakeCache(savedSignal("alice", "1")), prices)
		cands := h.add(t, testutil.Tweet{ID: "1", Author: "alice", Timestamp: "2024-03-09T12:00:00Z"}.HTML())
		h.inj.Process(context.Background(), cands[0])
		h.inj.Wait()

		b, text := h.badge("1")
		require.NotNil(t, b)
		assert.Equal(t, "+12.3%", text)
		prev := b.PrevSibling
		href, _ := dom.Attr(prev, "href")
		assert.True(t, strings.HasSuffix(href, "/analytics"), "badge trails the view count")
		assert.Equal(t, []Op{OpPrepend, OpInsertAfter, OpReplace}, h.sink.ops())
	})

	t.Run("removed when unavailable", func(t *testing.T) {
		h := newHarness(newFakeCache(savedSignal("alice", "1")), &fakePrices{ok: false})
		cands := h.add(t, testutil.Tweet{ID: "1", Author: "alice"}.HTML())
		h.inj.Process(context.Background(), cands[0])
		h.inj.Wait()

		b, _ := h.badge("1")
		assert.Nil(t, b)
		assert.Equal(t, []Op{OpPrepend, OpInsertAfter, OpRemove}, h.sink.ops())
	})

	t.Run("not for replies or unsaved posts", func(t *testing.T) {
		prices := &fakePrices{pct: 1, ok: true}
		h := newHarness(newFakeCache(savedSignal("alice", "1")), prices)
		cands := h.add(t,
			testutil.Tweet{ID: "1", Author: "alice", Reply: true}.HTML(),
			testutil.Tweet{ID: "2", Author: "alice"}.HTML(),
		)
		for _, c := range cands {
			h.inj.Process(context.Background(), c)
		}
		h.inj.Wait()
		assert.Zero(t, prices.calls)
	})

	t.Run("stale result discarded after reset", func(t *testing.T) {
		prices := &fakePrices{pct: 50, ok: true, gate: make(chan struct{})}
		h := newHarness(newFakeCache(savedSignal("alice", "1")), prices)
		cands := h.add(t, testutil.Tweet{ID: "1", Author: "alice"}.HTML())
		h.inj.Process(context.Background(), cands[0])

		require.Eventually(t, func() bool {
			prices.mu.Lock()
			defer prices.mu.Unlock()
			return prices.calls == 1
		}, time.Second, time.Millisecond)
		h.inj.Reset()
		close(prices.gate)
		h.inj.Wait()

		b, _ := h.badge("1")
		assert.Nil(t, b)
		assert.Empty(t, h.buttons())
	})
}

func TestHover_DoesNotChangeState(t *testing.T) {
	h := newHarness(newFakeCache(), nil)
	cands := h.add(t, testutil.Tweet{ID: "1", Author: "a"}.HTML())
	h.inj.Process(context.Background(), cands[0])
	h.inj.Wait()

	h.inj.Hover("1", true)
	btn := h.buttons()[0]
	cls, _ := dom.Attr(btn, "class")
	assert.Contains(t, cls, HoverClass)
	state, _ := dom.Attr(btn, ButtonMarker)
	assert.Equal(t, StateSave, state)

	h.inj.Hover("1", false)
	cls, _ = dom.Attr(btn, "class")
	assert.NotContains(t, cls, HoverClass)
	assert.False(t, h.inj.Saved("1"))
}

func TestMarkSaved(t *testing.T) {
	h := newHarness(newFakeCache(), nil)
	cands := h.add(t, testutil.Tweet{ID: "1", Author: "a"}.HTML())
	h.inj.Process(context.Background(), cands[0])
	h.inj.Wait()

	h.inj.MarkSaved("1", savedSignal("a", "1"))

	state, _ := dom.Attr(h.buttons()[0], ButtonMarker)
	assert.Equal(t, StateSaved, state)
	assert.Equal(t, ActionOpenURL, h.inj.Click("1").Kind)
}

func TestReset_AllowsReprocessing(t *testing.T) {
	cache := newFakeCache()
	h := newHarness(cache, nil)
	cands := h.add(t, testutil.Tweet{ID: "1", Author: "alice"}.HTML())
	h.inj.Process(context.Background(), cands[0])
	h.inj.Wait()
	require.False(t, h.inj.Saved("1"))

	h.inj.Reset()
	assert.Zero(t, h.inj.State().Len())
	assert.Empty(t, h.buttons())

	cache.mu.Lock()
	cache.signals["https://x.com/alice/status/1"] = savedSignal("alice", "1")
	cache.mu.Unlock()

	require.True(t, h.inj.Process(context.Background(), cands[0]))
	h.inj.Wait()
	assert.True(t, h.inj.Saved("1"))
	require.Len(t, h.buttons(), 1)
}
