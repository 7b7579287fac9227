// Package injector renders the save affordance into feed items exactly once and
// keeps the page shim in step through patches.
package injector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kol-signals/pkg/dom"
	"github.com/kol-signals/pkg/extractor"
	"github.com/kol-signals/pkg/metrics"
	"github.com/kol-signals/pkg/models"
	"github.com/kol-signals/pkg/price"
)

// DOM markers. The button marker value is the button state.
const (
	ButtonMarker = "data-signal-button"
	BadgeMarker  = "data-signal-badge"
	PostIDAttr   = "data-post-id"

	StateSave  = "save"
	StateSaved = "saved"

	HoverClass = "signal-button--hover"
)

type SignalCache interface {
	Ensure(ctx context.Context, author string)
	Lookup(permalink string) (models.Signal, bool)
}

type PriceSource interface {
	PercentChange(ctx context.Context, projectHandle string, postTime time.Time) (float64, bool)
}

// Candidate is a feed item the watcher extracted a post from.
type Candidate struct {
	Item *html.Node
	Post models.Post
}

type Deps struct {
	Document   *dom.Document
	Strategy   extractor.Strategy
	State      *State
	Signals    SignalCache
	Prices     PriceSource
	Sink       Sink
	ProfileURL func(handle string) string
}

type tracked struct {
	item   *html.Node
	post   models.Post
	button *html.Node
	badge  *html.Node
	signal *models.Signal
}

type Injector struct {
	doc        *dom.Document
	strategy   extractor.Strategy
	state      *State
	signals    SignalCache
	prices     PriceSource
	sink       Sink
	profileURL func(string) string

	wg sync.WaitGroup

	// guarded by the document lock
	items map[string]*tracked
}

func New(d Deps) *Injector {
	if d.Strategy == nil {
		d.Strategy = extractor.X{}
	}
	if d.State == nil {
		d.State = NewState()
	}
	if d.Sink == nil {
		d.Sink = SinkFunc(func(Patch) {})
	}
	if d.ProfileURL == nil {
		d.ProfileURL = func(h string) string { return "https://x.com/" + models.NormalizeHandle(h) }
	}
	return &Injector{
		doc:        d.Document,
		strategy:   d.Strategy,
		state:      d.State,
		signals:    d.Signals,
		prices:     d.Prices,
		sink:       d.Sink,
		profileURL: d.ProfileURL,
		items:      make(map[string]*tracked),
	}
}

func (i *Injector) State() *State { return i.state }

// Process reserves the post and starts injection in the background. It
// returns false if the post has no id or was already taken.
func (i *Injector) Process(ctx context.Context, c Candidate) bool {
	if c.Post.ID == "" || c.Item == nil {
		return false
	}
	if !i.state.MarkProcessed(c.Post.ID) {
		return false
	}
	gen := i.state.Generation()

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.inject(ctx, gen, c)
	}()
	return true
}

// Wait blocks until every injection and badge started so far has finished.
func (i *Injector) Wait() {
	i.wg.Wait()
}

func (i *Injector) inject(ctx context.Context, gen uint64, c Candidate) {
	if author := c.Post.AuthorHandle(); author != "" && i.signals != nil {
		i.signals.Ensure(ctx, author)
	}

	var signal *models.Signal
	if i.signals != nil {
		if s, ok := i.signals.Lookup(c.Post.URL()); ok && c.Post.URL() != "" {
			signal = &s
		}
	}

	var (
		patches []Patch
		badge   *tracked
	)
	i.doc.Do(func(body *html.Node) {
		if gen != i.state.Generation() {
			metrics.RecordStaleDiscarded("button")
			return
		}
		if !dom.Attached(body, c.Item) {
			return
		}
		row := i.strategy.ActionRow(c.Item)
		if row == nil {
			metrics.RecordPostSkipped("no-action-row")
			return
		}
		if dom.FindFirst(row, dom.HasAttrKey(ButtonMarker)) != nil {
			return
		}

		btn := renderButton(c.Post.ID, signal != nil)
		dom.Prepend(row, btn)
		t := &tracked{item: c.Item, post: c.Post, button: btn, signal: signal}
		i.items[c.Post.ID] = t
		patches = append(patches, Patch{Op: OpPrepend, PostID: c.Post.ID, HTML: dom.Render(btn)})

		state := StateSave
		if signal != nil {
			state = StateSaved
		}
		metrics.RecordButtonInjected(state)
		log.Debug().Str("post", c.Post.ID).Str("state", state).Msg("button injected")

		if signal != nil && i.prices != nil && i.strategy.IsOriginalPost(c.Item) {
			if p, ok := i.insertBadge(t); ok {
				patches = append(patches, p)
				badge = t
			}
		}
	})
	i.emit(patches)

	if badge != nil {
		i.fillBadge(ctx, gen, badge)
	}
}

// insertBadge places a loading badge after the view count. Caller holds the
// document lock.
func (i *Injector) insertBadge(t *tracked) (Patch, bool) {
	if dom.FindFirst(t.item, dom.HasAttrKey(BadgeMarker)) != nil {
		return Patch{}, false
	}
	views := i.strategy.ViewCount(t.item)
	if views == nil || views.Parent == nil {
		return Patch{}, false
	}
	t.badge = renderBadge(t.post.ID)
	dom.InsertAfter(views, t.badge)
	return Patch{Op: OpInsertAfter, PostID: t.post.ID, HTML: dom.Render(t.badge)}, true
}

func (i *Injector) fillBadge(ctx context.Context, gen uint64, t *tracked) {
	callTime, ok := callTime(t.post, *t.signal)
	var pct float64
	if ok {
		pct, ok = i.prices.PercentChange(ctx, t.signal.ProjectHandle, callTime)
	}
	metrics.RecordPriceLookup(ok)

	var patches []Patch
	i.doc.Do(func(body *html.Node) {
		if gen != i.state.Generation() {
			metrics.RecordStaleDiscarded("badge")
			return
		}
		if t.badge == nil || !dom.Attached(body, t.badge) {
			return
		}
		sel := badgeSelector(t.post.ID)
		if !ok {
			dom.Remove(t.badge)
			t.badge = nil
			patches = append(patches, Patch{Op: OpRemove, PostID: t.post.ID, Selector: sel})
			return
		}
		setBadgeValue(t.badge, pct)
		patches = append(patches, Patch{Op: OpReplace, PostID: t.post.ID, Selector: sel, HTML: dom.Render(t.badge)})
	})
	i.emit(patches)
}

// callTime is the post's own timestamp, or the one recorded on its signal.
func callTime(p models.Post, s models.Signal) (time.Time, bool) {
	if p.Timestamp != nil {
		return *p.Timestamp, true
	}
	return s.PostTime()
}

// ActionKind is what a click on the button asks the page to do.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionOpenDialog
	ActionOpenURL
)

type Action struct {
	Kind ActionKind
	Post models.Post
	URL  string
}

// Click resolves a click on a post's button. Saved posts open the project
// profile, unsaved ones open the dialog.
func (i *Injector) Click(postID string) Action {
	var a Action
	i.doc.Do(func(*html.Node) {
		t, ok := i.items[postID]
		if !ok {
			return
		}
		if t.signal != nil {
			a = Action{Kind: ActionOpenURL, Post: t.post, URL: i.profileURL(t.signal.ProjectHandle)}
			return
		}
		a = Action{Kind: ActionOpenDialog, Post: t.post}
	})
	return a
}

// Post returns the post behind an injected button.
func (i *Injector) Post(postID string) (models.Post, bool) {
	var (
		p  models.Post
		ok bool
	)
	i.doc.Do(func(*html.Node) {
		if t, found := i.items[postID]; found {
			p, ok = t.post, true
		}
	})
	return p, ok
}

// Hover toggles the hover style. It never touches the saved state.
func (i *Injector) Hover(postID string, enter bool) {
	var patches []Patch
	i.doc.Do(func(*html.Node) {
		t, ok := i.items[postID]
		if !ok || t.button == nil {
			return
		}
		dom.ToggleClass(t.button, HoverClass, enter)
		patches = append(patches, Patch{Op: OpToggleClass, PostID: postID, Selector: buttonSelector(postID), Class: HoverClass, On: enter})
	})
	i.emit(patches)
}

// MarkSaved flips a post's button to saved after a successful save.
func (i *Injector) MarkSaved(postID string, s models.Signal) {
	var patches []Patch
	i.doc.Do(func(body *html.Node) {
		t, ok := i.items[postID]
		if !ok || t.button == nil || !dom.Attached(body, t.button) {
			return
		}
		t.signal = &s
		setButtonState(t.button, true)
		patches = append(patches, Patch{Op: OpReplace, PostID: postID, Selector: buttonSelector(postID), HTML: dom.Render(t.button)})
	})
	i.emit(patches)
}

// Saved reports whether the post's button is in the saved state.
func (i *Injector) Saved(postID string) bool {
	var saved bool
	i.doc.Do(func(*html.Node) {
		if t, ok := i.items[postID]; ok {
			saved = t.signal != nil
		}
	})
	return saved
}

// Reset starts a new page generation: processed ids are forgotten and every
// injected button and badge is taken down so a rescan renders afresh.
func (i *Injector) Reset() {
	i.state.Reset()

	var patches []Patch
	i.doc.Do(func(*html.Node) {
		for id, t := range i.items {
			if t.badge != nil {
				dom.Remove(t.badge)
				patches = append(patches, Patch{Op: OpRemove, PostID: id, Selector: badgeSelector(id)})
			}
			dom.Remove(t.button)
			patches = append(patches, Patch{Op: OpRemove, PostID: id, Selector: buttonSelector(id)})
		}
		i.items = make(map[string]*tracked)
	})
	i.emit(patches)
}

func (i *Injector) emit(patches []Patch) {
	for _, p := range patches {
		i.sink.Patch(p)
	}
}

// ---- rendering ----

func renderButton(postID string, saved bool) *html.Node {
	btn := dom.Element(atom.Button, "", "type", "button", PostIDAttr, postID)
	setButtonState(btn, saved)
	return btn
}

func setButtonState(btn *html.Node, saved bool) {
	state, label, icon, class := StateSave, "Save signal", "☆", "signal-button"
	if saved {
		state, label, icon, class = StateSaved, "Signal saved", "★", "signal-button signal-button--saved"
	}
	dom.SetAttr(btn, ButtonMarker, state)
	dom.SetAttr(btn, "aria-label", label)
	dom.SetAttr(btn, "class", class)
	dom.SetText(btn, icon)
}

func renderBadge(postID string) *html.Node {
	return dom.Element(atom.Span, "…", BadgeMarker, "loading", PostIDAttr, postID, "class", "signal-badge signal-badge--loading")
}

func setBadgeValue(badge *html.Node, pct float64) {
	class := "signal-badge signal-badge--up"
	if pct < 0 {
		class = "signal-badge signal-badge--down"
	}
	dom.SetAttr(badge, BadgeMarker, "ready")
	dom.SetAttr(badge, "class", class)
	dom.SetText(badge, price.Format(pct))
}

func buttonSelector(postID string) string {
	return fmt.Sprintf(`[%s][%s="%s"]`, ButtonMarker, PostIDAttr, postID)
}

func badgeSelector(postID string) string {
	return fmt.Sprintf(`[%s][%s="%s"]`, BadgeMarker, PostIDAttr, postID)
}
