// Package signals caches, per page, the signals already saved against the
// posts of every author seen on that page.
package signals

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kol-signals/pkg/metrics"
	"github.com/kol-signals/pkg/models"
)

type Lister interface {
	ListSignals(ctx context.Context, handle string) ([]models.Signal, error)
}

type authorLoad struct {
	done chan struct{}
}

// Cache maps canonical permalink to signal for every author loaded this page lifetime.
// Authors are reserved before their fetch starts, so each author is fetched at
// most once per generation; Reset starts a new generation and any fetch still
// in flight from an older one is discarded when it resolves.
type Cache struct {
	lister Lister

	mu          sync.Mutex
	generation  uint64
	authors     map[string]*authorLoad
	byPermalink map[string]models.Signal
}

func NewCache(lister Lister) *Cache {
	return &Cache{
		lister:      lister,
		authors:     make(map[string]*authorLoad),
		byPermalink: make(map[string]models.Signal),
	}
}

// Ensure makes sure author's signals are in the cache, fetching them if this
// is the first request for author. Callers that arrive while a fetch is in
// flight wait for it. Fetch errors are swallowed: the author counts as loaded
// with no signals.
func (c *Cache) Ensure(ctx context.Context, author string) {
	author = models.NormalizeHandle(author)
	if author == "" {
		return
	}

	c.mu.Lock()
	if load, ok := c.authors[author]; ok {
		c.mu.Unlock()
		select {
		case <-load.done:
		case <-ctx.Done():
		}
		return
	}
	load := &authorLoad{done: make(chan struct{})}
	c.authors[author] = load
	gen := c.generation
	c.mu.Unlock()

	defer close(load.done)

	signals, err := c.lister.ListSignals(ctx, author)
	metrics.RecordSignalCacheLoad(err)
	if err != nil {
		log.Debug().Err(err).Str("author", author).Msg("signal cache fill failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		log.Debug().Str("author", author).Msg("discarding signals loaded before navigation")
		metrics.RecordStaleDiscarded("signals")
		return
	}
	for _, s := range signals {
		key := models.CanonicalPermalink(s.Permalink)
		if key == "" {
			continue
		}
		if _, exists := c.byPermalink[key]; !exists {
			c.byPermalink[key] = s
		}
	}
}

// Loaded reports whether author has been reserved this generation.
func (c *Cache) Loaded(author string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.authors[models.NormalizeHandle(author)]
	return ok
}

func (c *Cache) Lookup(permalink string) (models.Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byPermalink[models.CanonicalPermalink(permalink)]
	return s, ok
}

// Put stores a freshly saved signal if gen is still current. The first signal
// for a permalink wins.
func (c *Cache) Put(gen uint64, s models.Signal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := models.CanonicalPermalink(s.Permalink)
	if gen != c.generation || key == "" {
		return false
	}
	if _, exists := c.byPermalink[key]; exists {
		return false
	}
	c.byPermalink[key] = s
	return true
}

func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byPermalink)
}

// Reset empties the cache and starts a new generation.
func (c *Cache) Reset() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.authors = make(map[string]*authorLoad)
	c.byPermalink = make(map[string]models.Signal)
	return c.generation
}
