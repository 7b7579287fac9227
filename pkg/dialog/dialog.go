// Package dialog is the save-signal dialog as a state machine. Apply is the one
// transition function; everything it wants done outside the machine comes back
// as effects for a Controller (or a test) to carry out.
package dialog

import (
	"errors"
	"time"

	"github.com/kol-signals/pkg/directory"
	"github.com/kol-signals/pkg/models"
)

// ErrNotReady is returned when a save is asked for before both a sentiment
// and a project are chosen.
var ErrNotReady = errors.New("choose a sentiment and a project first")

type Phase int

const (
	PhaseOpen Phase = iota
	PhaseSentimentChosen
	PhaseProjectChosen
	PhaseSubmitting
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseSentimentChosen:
		return "sentiment-chosen"
	case PhaseProjectChosen:
		return "project-chosen"
	case PhaseSubmitting:
		return "submitting"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// ---- events ----

type Event interface{ event() }

type ChooseSentiment struct{ Sentiment models.Sentiment }
type Query struct{ Text string }
type ChooseProject struct{ ID string }
type Submit struct{}
type SubmitSucceeded struct{ Signal models.Signal }
type SubmitFailed struct{ Err error }
type Cancel struct{}

// BackdropClick closes the dialog unless the click landed on its content.
type BackdropClick struct{ OnContent bool }

func (ChooseSentiment) event() {}
func (Query) event()           {}
func (ChooseProject) event()   {}
func (Submit) event()          {}
func (SubmitSucceeded) event() {}
func (SubmitFailed) event()    {}
func (Cancel) event()          {}
func (BackdropClick) event()   {}

// ---- effects ----

type Effect interface{ effect() }

// EffectSubmit asks for Request to be sent to the backend. The outcome must be
// fed back as SubmitSucceeded or SubmitFailed.
type EffectSubmit struct {
	Request models.SignalRequest
	Project models.TrackedProject
}

// EffectRemember records a saved signal in the page cache and recent projects.
type EffectRemember struct {
	Post      models.Post
	Signal    models.Signal
	ProjectID string
}

type EffectClose struct{ Saved bool }

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

type EffectNotify struct {
	Level   Level
	Message string
	Link    string
}

func (EffectSubmit) effect()   {}
func (EffectRemember) effect() {}
func (EffectClose) effect()    {}
func (EffectNotify) effect()   {}

// ---- machine ----

type Dialog struct {
	post       models.Post
	projects   []models.TrackedProject
	recent     []string
	now        func() time.Time
	profileURL func(handle string) string

	phase     Phase
	sentiment models.Sentiment
	query     string
	project   *models.TrackedProject
}

type Option func(*Dialog)

// WithClock sets the clock used for the noted date of posts without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(d *Dialog) { d.now = now }
}

func WithProfileURL(fn func(handle string) string) Option {
	return func(d *Dialog) { d.profileURL = fn }
}

// New opens a dialog for post over a snapshot of the project directory and the
// recent-project ids.
func New(post models.Post, projects []models.TrackedProject, recent []string, opts ...Option) *Dialog {
	d := &Dialog{
		post:       post,
		projects:   projects,
		recent:     recent,
		now:        time.Now,
		profileURL: func(h string) string { return "https://x.com/" + h },
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dialog) Post() models.Post                 { return d.post }
func (d *Dialog) Phase() Phase                      { return d.phase }
func (d *Dialog) Sentiment() models.Sentiment       { return d.sentiment }
func (d *Dialog) Project() *models.TrackedProject   { return d.project }
func (d *Dialog) Closed() bool                      { return d.phase == PhaseClosed }
func (d *Dialog) SetRecent(ids []string)            { d.recent = ids }
func (d *Dialog) Results() directory.Results        { return directory.Search(d.projects, d.query, d.recent) }
func (d *Dialog) Projects() []models.TrackedProject { return d.projects }

// CanSubmit holds iff both selections are made and no save is in flight.
func (d *Dialog) CanSubmit() bool {
	return d.sentiment.Valid() && d.project != nil &&
		d.phase != PhaseSubmitting && d.phase != PhaseClosed
}

func (d *Dialog) Apply(ev Event) []Effect {
	if d.phase == PhaseClosed {
		return nil
	}

	switch e := ev.(type) {
	case ChooseSentiment:
		if d.phase == PhaseSubmitting || !e.Sentiment.Valid() {
			return nil
		}
		if d.sentiment == e.Sentiment {
			d.sentiment = ""
		} else {
			d.sentiment = e.Sentiment
		}
		d.settle()

	case Query:
		if d.phase == PhaseSubmitting {
			return nil
		}
		d.query = e.Text
		d.project = nil
		d.settle()

	case ChooseProject:
		if d.phase == PhaseSubmitting {
			return nil
		}
		for i := range d.projects {
			if d.projects[i].ID == e.ID {
				p := d.projects[i]
				d.project = &p
				d.query = p.DisplayName
				break
			}
		}
		d.settle()

	case Submit:
		if !d.CanSubmit() {
			return nil
		}
		d.phase = PhaseSubmitting
		return []Effect{EffectSubmit{
			Request: models.NewSignalRequest(d.post, d.sentiment, *d.project, d.now()),
			Project: *d.project,
		}}

	case SubmitSucceeded:
		if d.phase != PhaseSubmitting {
			return nil
		}
		d.phase = PhaseClosed
		return []Effect{
			EffectRemember{Post: d.post, Signal: e.Signal, ProjectID: d.project.ID},
			EffectClose{Saved: true},
			EffectNotify{
				Level:   LevelSuccess,
				Message: "Signal saved for " + d.project.DisplayName,
				Link:    d.profileURL(d.project.Handle()),
			},
		}

	case SubmitFailed:
		if d.phase != PhaseSubmitting {
			return nil
		}
		d.settle()
		msg := "Failed to save signal"
		if e.Err != nil {
			msg += ": " + e.Err.Error()
		}
		return []Effect{EffectNotify{Level: LevelError, Message: msg}}

	case Cancel:
		return d.dismiss()

	case BackdropClick:
		if e.OnContent {
			return nil
		}
		return d.dismiss()
	}
	return nil
}

// dismiss closes without saving. A save in flight keeps the dialog open until
// it resolves.
func (d *Dialog) dismiss() []Effect {
	if d.phase == PhaseSubmitting {
		return nil
	}
	d.phase = PhaseClosed
	return []Effect{EffectClose{Saved: false}}
}

// settle derives the selection phase from the current selections.
func (d *Dialog) settle() {
	switch {
	case d.project != nil:
		d.phase = PhaseProjectChosen
	case d.sentiment != "":
		d.phase = PhaseSentimentChosen
	default:
		d.phase = PhaseOpen
	}
}
