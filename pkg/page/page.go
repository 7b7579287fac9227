// Package page wires one page load: its shadow document, processed set, signal
// cache, injector, watcher and open dialogs. Nothing here outlives the page
// except the recent-project list and the backend client it was given.
package page

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/kol-signals/pkg/dialog"
	"github.com/kol-signals/pkg/directory"
	"github.com/kol-signals/pkg/dom"
	"github.com/kol-signals/pkg/extractor"
	"github.com/kol-signals/pkg/injector"
	"github.com/kol-signals/pkg/models"
	"github.com/kol-signals/pkg/price"
	"github.com/kol-signals/pkg/signals"
	"github.com/kol-signals/pkg/watcher"
)

var (
	ErrUnknownPost = errors.New("no injected button for post")
	ErrNoDialog    = errors.New("no open dialog for post")
)

// Backend is everything the page asks of the signals API.
type Backend interface {
	directory.ProjectLister
	signals.Lister
	price.Source
	dialog.Submitter
}

type RecentProjects interface {
	IDs(ctx context.Context) []string
	Touch(ctx context.Context, id string) ([]string, error)
}

// Sink receives everything the page wants shown on the host page.
type Sink interface {
	Patch(p injector.Patch)
	Notify(n dialog.Notification)
	OpenURL(url string)
	DialogView(v dialog.View)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Patch(injector.Patch)       {}
func (Discard) Notify(dialog.Notification) {}
func (Discard) OpenURL(string)             {}
func (Discard) DialogView(dialog.View)     {}

type Deps struct {
	Backend     Backend
	Recent      RecentProjects
	Tokens      dialog.TokenSource
	Journal     dialog.Journal
	Strategy    extractor.Strategy
	Sink        Sink
	URL         string
	SettleDelay time.Duration
	NotifyTTL   time.Duration
	ProfileURL  func(handle string) string
}

// MutationNode is one added subtree. Into names the post whose feed item the
// markup was added inside; empty means it was added at page level.
type MutationNode struct {
	HTML string `json:"html"`
	Into string `json:"into,omitempty"`
}

type openDialog struct {
	mu sync.Mutex
	d  *dialog.Dialog
}

type Page struct {
	deps     Deps
	doc      *dom.Document
	strategy extractor.Strategy
	dir      *directory.Directory
	cache    *signals.Cache
	inj      *injector.Injector
	watcher  *watcher.Watcher
	ctrl     *dialog.Controller

	mu      sync.Mutex
	url     string
	dialogs map[string]*openDialog

	cancel context.CancelFunc
	done   chan struct{}
}

func New(deps Deps) *Page {
	if deps.Strategy == nil {
		deps.Strategy = extractor.X{}
	}
	if deps.Sink == nil {
		deps.Sink = Discard{}
	}
	if deps.ProfileURL == nil {
		deps.ProfileURL = func(h string) string { return "https://x.com/" + models.NormalizeHandle(h) }
	}

	p := &Page{
		deps:     deps,
		doc:      dom.NewDocument(),
		strategy: deps.Strategy,
		url:      deps.URL,
		dialogs:  make(map[string]*openDialog),
	}
	p.dir = directory.New(deps.Backend)
	p.cache = signals.NewCache(deps.Backend)
	p.inj = injector.New(injector.Deps{
		Document:   p.doc,
		Strategy:   deps.Strategy,
		Signals:    p.cache,
		Prices:     price.NewAggregator(deps.Backend, p.dir),
		Sink:       injector.SinkFunc(deps.Sink.Patch),
		ProfileURL: deps.ProfileURL,
	})
	p.watcher = watcher.New(watcher.Config{
		Document:    p.doc,
		Strategy:    deps.Strategy,
		Processor:   p.inj,
		Resetter:    watcher.ResetFunc(p.reset),
		SettleDelay: deps.SettleDelay,
		InitialURL:  deps.URL,
	})

	cdeps := dialog.Deps{
		Submitter: deps.Backend,
		Cache:     p.cache,
		Marker:    p.inj,
		Notifier:  dialog.NotifierFunc(deps.Sink.Notify),
		NotifyTTL: deps.NotifyTTL,
		OnView:    deps.Sink.DialogView,
		OnClose:   p.dialogClosed,
	}
	if deps.Tokens != nil {
		cdeps.Tokens = deps.Tokens
	}
	if deps.Recent != nil {
		cdeps.Recent = deps.Recent
	}
	if deps.Journal != nil {
		cdeps.Journal = deps.Journal
	}
	p.ctrl = dialog.NewController(cdeps)
	return p
}

// Start begins watching and loads the project directory in the background.
func (p *Page) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.dir.Load(ctx)
	go func() {
		defer close(p.done)
		if err := p.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("watcher stopped")
		}
	}()
}

// Close stops the watcher and waits for in-flight injections.
func (p *Page) Close() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	p.inj.Wait()
}

// Settle waits until every mutation handed in so far has been scanned and
// injected.
func (p *Page) Settle(ctx context.Context) error {
	if err := p.watcher.Sync(ctx); err != nil {
		return err
	}
	p.inj.Wait()
	return nil
}

func (p *Page) Document() *dom.Document { return p.doc }
func (p *Page) Cache() *signals.Cache   { return p.cache }

// Mutate mirrors added nodes into the shadow document and queues them for
// scanning. A batch for a new URL replaces the document: after navigation the
// shim sends the new route's timeline as added nodes.
func (p *Page) Mutate(url string, nodes []MutationNode) error {
	if p.navigated(url) {
		p.doc.Reset()
	}

	var added []*html.Node
	for _, n := range nodes {
		var (
			frags []*html.Node
			err   error
		)
		if n.Into == "" {
			frags, err = p.doc.Append(n.HTML)
		} else {
			frags, err = p.appendInto(n.Into, url, n.HTML)
		}
		if err != nil {
			return fmt.Errorf("parse added node: %w", err)
		}
		added = append(added, frags...)
	}
	if !p.watcher.Enqueue(watcher.Batch{URL: url, Added: added}) {
		return errors.New("page closed")
	}
	return nil
}

func (p *Page) navigated(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if url == "" || url == p.url {
		return false
	}
	p.url = url
	return true
}

// appendInto adds markup inside postID's feed item, or at page level when the
// item is not in the document.
func (p *Page) appendInto(postID, url, src string) ([]*html.Node, error) {
	frags, err := dom.ParseFragment(src)
	if err != nil {
		return nil, err
	}
	p.doc.Do(func(body *html.Node) {
		parent := body
		if item := p.findItem(body, postID, url); item != nil {
			parent = item
		}
		for _, f := range frags {
			parent.AppendChild(f)
		}
	})
	return frags, nil
}

// findItem locates the feed item for postID. Caller holds the document lock.
func (p *Page) findItem(body *html.Node, postID, url string) *html.Node {
	for _, item := range p.strategy.FeedItems(body) {
		if post, ok := p.strategy.ExtractPost(item, url); ok && post.ID == postID {
			return item
		}
	}
	return nil
}

// Click handles a click on an injected button.
func (p *Page) Click(ctx context.Context, postID string) error {
	a := p.inj.Click(postID)
	switch a.Kind {
	case injector.ActionOpenURL:
		p.deps.Sink.OpenURL(a.URL)
		return nil
	case injector.ActionOpenDialog:
		_, err := p.OpenDialog(ctx, postID)
		return err
	}
	return ErrUnknownPost
}

func (p *Page) Hover(postID string, enter bool) {
	p.inj.Hover(postID, enter)
}

// OpenDialog opens, or re-shows, the save dialog for an unsaved post.
func (p *Page) OpenDialog(ctx context.Context, postID string) (dialog.View, error) {
	post, ok := p.inj.Post(postID)
	if !ok {
		return dialog.View{}, ErrUnknownPost
	}

	p.mu.Lock()
	od, exists := p.dialogs[postID]
	p.mu.Unlock()
	if exists {
		od.mu.Lock()
		v := od.d.View()
		od.mu.Unlock()
		p.deps.Sink.DialogView(v)
		return v, nil
	}

	p.dir.Load(ctx)
	var recent []string
	if p.deps.Recent != nil {
		recent = p.deps.Recent.IDs(ctx)
	}
	d := dialog.New(post, p.dir.Projects(), recent, dialog.WithProfileURL(p.deps.ProfileURL))

	p.mu.Lock()
	if existing, raced := p.dialogs[postID]; raced {
		od = existing
	} else {
		od = &openDialog{d: d}
		p.dialogs[postID] = od
	}
	p.mu.Unlock()

	od.mu.Lock()
	v := od.d.View()
	od.mu.Unlock()
	p.deps.Sink.DialogView(v)
	return v, nil
}

// DialogEvent feeds one user event to a post's open dialog.
func (p *Page) DialogEvent(ctx context.Context, postID string, ev dialog.Event) (dialog.View, error) {
	p.mu.Lock()
	od, ok := p.dialogs[postID]
	p.mu.Unlock()
	if !ok {
		return dialog.View{}, fmt.Errorf("%w %s", ErrNoDialog, postID)
	}

	od.mu.Lock()
	defer od.mu.Unlock()
	if _, isQuery := ev.(dialog.Query); isQuery && p.deps.Recent != nil {
		od.d.SetRecent(p.deps.Recent.IDs(ctx))
	}
	v, err := p.ctrl.Dispatch(ctx, od.d, ev)
	p.deps.Sink.DialogView(v)
	return v, err
}

func (p *Page) dialogClosed(d *dialog.Dialog, saved bool) {
	p.mu.Lock()
	delete(p.dialogs, d.Post().ID)
	p.mu.Unlock()
	log.Debug().Str("post", d.Post().ID).Bool("saved", saved).Msg("dialog closed")
}

// reset runs on navigation. The directory, recent projects and open dialogs
// survive it; a dialog holds its own post snapshot.
func (p *Page) reset() {
	p.inj.Reset()
	p.cache.Reset()
}
