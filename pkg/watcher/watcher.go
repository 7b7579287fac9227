// Package watcher turns DOM mutation batches into injection candidates. Batches
// go through one channel with a single consumer, so scanning is serial even
// though injection is not.
package watcher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/kol-signals/pkg/dom"
	"github.com/kol-signals/pkg/extractor"
	"github.com/kol-signals/pkg/injector"
	"github.com/kol-signals/pkg/metrics"
)

const DefaultSettleDelay = 500 * time.Millisecond

// Batch is one mutation callback: the page URL at the time and the nodes
// added to the document.
type Batch struct {
	URL   string
	Added []*html.Node

	barrier chan struct{}
}

type Processor interface {
	Process(ctx context.Context, c injector.Candidate) bool
}

// Resetter clears page-scoped state on navigation.
type Resetter interface {
	Reset()
}

type ResetFunc func()

func (f ResetFunc) Reset() { f() }

type Config struct {
	Document    *dom.Document
	Strategy    extractor.Strategy
	Processor   Processor
	Resetter    Resetter
	SettleDelay time.Duration
	InitialURL  string
	QueueSize   int
}

type Watcher struct {
	doc       *dom.Document
	strategy  extractor.Strategy
	processor Processor
	resetter  Resetter
	settle    time.Duration

	batches chan Batch
	done    chan struct{}

	// owned by Run
	url string
}

func New(cfg Config) *Watcher {
	if cfg.Strategy == nil {
		cfg.Strategy = extractor.X{}
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Resetter == nil {
		cfg.Resetter = ResetFunc(func() {})
	}
	return &Watcher{
		doc:       cfg.Document,
		strategy:  cfg.Strategy,
		processor: cfg.Processor,
		resetter:  cfg.Resetter,
		settle:    cfg.SettleDelay,
		batches:   make(chan Batch, cfg.QueueSize),
		done:      make(chan struct{}),
		url:       cfg.InitialURL,
	}
}

// Enqueue hands a batch to Run. It returns false once Run has stopped.
func (w *Watcher) Enqueue(b Batch) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.batches <- b:
		return true
	case <-w.done:
		return false
	}
}

// Sync waits until every batch enqueued before it has been scanned.
func (w *Watcher) Sync(ctx context.Context) error {
	barrier := make(chan struct{})
	if !w.Enqueue(Batch{barrier: barrier}) {
		return context.Canceled
	}
	select {
	case <-barrier:
		return nil
	case <-w.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run scans the whole document once, then consumes batches until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)

	settle := time.NewTimer(time.Hour)
	if !settle.Stop() {
		<-settle.C
	}
	defer settle.Stop()

	w.scanAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-settle.C:
			log.Debug().Str("url", w.url).Msg("rescanning after navigation")
			w.scanAll(ctx)

		case b := <-w.batches:
			if b.barrier != nil {
				close(b.barrier)
				continue
			}
			if b.URL != "" && b.URL != w.url {
				w.navigate(b.URL)
				if !settle.Stop() {
					select {
					case <-settle.C:
					default:
					}
				}
				settle.Reset(w.settle)
				continue
			}
			w.scan(ctx, b.Added)
		}
	}
}

func (w *Watcher) navigate(url string) {
	log.Debug().Str("from", w.url).Str("to", url).Msg("navigation")
	metrics.RecordNavigation()
	w.url = url
	w.resetter.Reset()
}

func (w *Watcher) scanAll(ctx context.Context) {
	var body *html.Node
	w.doc.Do(func(b *html.Node) { body = b })
	w.scan(ctx, []*html.Node{body})
}

// scan collects candidates under the document lock and hands them to the
// processor after releasing it.
func (w *Watcher) scan(ctx context.Context, roots []*html.Node) {
	var cands []injector.Candidate
	w.doc.Do(func(body *html.Node) {
		seen := make(map[*html.Node]bool)
		for _, root := range roots {
			if root == nil || !dom.Attached(body, root) {
				continue
			}
			if root != body && w.strategy.IsOverlay(root) {
				metrics.RecordPostSkipped("overlay")
				continue
			}
			for _, item := range w.strategy.FeedItems(root) {
				if seen[item] {
					continue
				}
				seen[item] = true
				if c, ok := w.candidate(item); ok {
					cands = append(cands, c)
				}
			}
		}
	})

	for _, c := range cands {
		w.processor.Process(ctx, c)
	}
}

func (w *Watcher) candidate(item *html.Node) (injector.Candidate, bool) {
	post, ok := w.strategy.ExtractPost(item, w.url)
	if !ok {
		metrics.RecordPostSkipped("no-id")
		return injector.Candidate{}, false
	}
	if w.strategy.ActionRow(item) == nil {
		// not rendered yet; a later batch inside the item brings it back
		metrics.RecordPostSkipped("no-action-row")
		return injector.Candidate{}, false
	}
	metrics.RecordPostScanned()
	return injector.Candidate{Item: item, Post: post}, true
}
