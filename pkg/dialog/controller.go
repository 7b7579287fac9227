package dialog

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kol-signals/pkg/metrics"
	"github.com/kol-signals/pkg/models"
)

type Submitter interface {
	CreateSignal(ctx context.Context, req models.SignalRequest, token string) (*models.Signal, error)
}

// TokenSource yields the bearer token for the save call, or "" when the user
// has none.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type SignalStore interface {
	Generation() uint64
	Put(gen uint64, s models.Signal) bool
}

type RecentTracker interface {
	Touch(ctx context.Context, id string) ([]string, error)
}

type SavedMarker interface {
	MarkSaved(postID string, s models.Signal)
}

type Journal interface {
	JournalSignal(ctx context.Context, s models.Signal) error
}

type Notification struct {
	Level   Level         `json:"level"`
	Message string        `json:"message"`
	Link    string        `json:"link,omitempty"`
	TTL     time.Duration `json:"ttl"`
}

type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Deps are the collaborators a Controller drives. Only Submitter is required.
type Deps struct {
	Submitter Submitter
	Tokens    TokenSource
	Cache     SignalStore
	Recent    RecentTracker
	Marker    SavedMarker
	Journal   Journal
	Notifier  Notifier
	NotifyTTL time.Duration
	// OnView receives intermediate views, e.g. the busy state before the save
	// call goes out.
	OnView func(View)
	// OnClose is told when a dialog closes and whether it saved.
	OnClose func(d *Dialog, saved bool)
}

// Controller carries out dialog effects.
type Controller struct {
	deps Deps
}

func NewController(deps Deps) *Controller {
	if deps.NotifyTTL <= 0 {
		deps.NotifyTTL = 3 * time.Second
	}
	return &Controller{deps: deps}
}

// Dispatch applies ev to d and runs every resulting effect, feeding the save
// outcome back into the machine. The returned error is the save failure, if
// one happened.
func (c *Controller) Dispatch(ctx context.Context, d *Dialog, ev Event) (View, error) {
	var (
		saveErr error
		gen     uint64
	)
	queue := d.Apply(ev)
	for len(queue) > 0 {
		eff := queue[0]
		queue = queue[1:]

		switch e := eff.(type) {
		case EffectSubmit:
			if c.deps.OnView != nil {
				c.deps.OnView(d.View())
			}
			if c.deps.Cache != nil {
				gen = c.deps.Cache.Generation()
			}
			created, err := c.submit(ctx, e.Request)
			metrics.RecordSave(err)
			if err != nil {
				saveErr = err
				log.Warn().Err(err).Str("post", d.Post().ID).Msg("signal save failed")
				queue = append(queue, d.Apply(SubmitFailed{Err: err})...)
				continue
			}
			log.Info().Str("post", d.Post().ID).Str("project", e.Project.Handle()).Str("sentiment", string(e.Request.Sentiment)).Msg("signal saved")
			queue = append(queue, d.Apply(SubmitSucceeded{Signal: *created})...)

		case EffectRemember:
			c.remember(ctx, gen, e)

		case EffectClose:
			if c.deps.OnClose != nil {
				c.deps.OnClose(d, e.Saved)
			}

		case EffectNotify:
			if c.deps.Notifier != nil {
				c.deps.Notifier.Notify(Notification{Level: e.Level, Message: e.Message, Link: e.Link, TTL: c.deps.NotifyTTL})
			}
		}
	}
	return d.View(), saveErr
}

// Save selects sentiment and project and submits in one go. It is the
// non-interactive path used by the CLI.
func (c *Controller) Save(ctx context.Context, d *Dialog, s models.Sentiment, projectID string) error {
	if d.Sentiment() != s {
		d.Apply(ChooseSentiment{Sentiment: s})
	}
	d.Apply(ChooseProject{ID: projectID})
	if !d.CanSubmit() {
		return ErrNotReady
	}
	_, err := c.Dispatch(ctx, d, Submit{})
	return err
}

func (c *Controller) submit(ctx context.Context, req models.SignalRequest) (*models.Signal, error) {
	var token string
	if c.deps.Tokens != nil {
		t, err := c.deps.Tokens.Token(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("no auth token, saving unauthenticated")
		}
		token = t
	}
	return c.deps.Submitter.CreateSignal(ctx, req, token)
}

func (c *Controller) remember(ctx context.Context, gen uint64, e EffectRemember) {
	if c.deps.Cache != nil && !c.deps.Cache.Put(gen, e.Signal) {
		log.Debug().Str("permalink", e.Signal.Permalink).Msg("saved signal not cached")
	}
	if c.deps.Recent != nil {
		if _, err := c.deps.Recent.Touch(ctx, e.ProjectID); err != nil {
			log.Warn().Err(err).Msg("recent projects not updated")
		}
	}
	if c.deps.Marker != nil {
		c.deps.Marker.MarkSaved(e.Post.ID, e.Signal)
	}
	if c.deps.Journal != nil {
		if err := c.deps.Journal.JournalSignal(ctx, e.Signal); err != nil {
			log.Warn().Err(err).Msg("signal journal write failed")
		}
	}
}
