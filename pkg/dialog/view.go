package dialog

import (
	"encoding/json"
	"fmt"

	"github.com/kol-signals/pkg/models"
)

const (
	LabelSave   = "Save signal"
	LabelSaving = "Saving…"

	EmptyResults = "No projects found"
)

type ProjectOption struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Selected    bool   `json:"selected,omitempty"`
}

// View is a render-ready snapshot of the dialog.
type View struct {
	PostID        string          `json:"postId"`
	Phase         string          `json:"phase"`
	Sentiment     string          `json:"sentiment,omitempty"`
	Query         string          `json:"query"`
	Recent        []ProjectOption `json:"recent"`
	Others        []ProjectOption `json:"others"`
	Empty         string          `json:"empty,omitempty"`
	SubmitLabel   string          `json:"submitLabel"`
	SubmitEnabled bool            `json:"submitEnabled"`
	Closed        bool            `json:"closed,omitempty"`
}

func (d *Dialog) View() View {
	v := View{
		PostID:        d.post.ID,
		Phase:         d.phase.String(),
		Sentiment:     string(d.sentiment),
		Query:         d.query,
		SubmitLabel:   LabelSave,
		SubmitEnabled: d.CanSubmit(),
		Closed:        d.phase == PhaseClosed,
	}
	if d.phase == PhaseSubmitting {
		v.SubmitLabel = LabelSaving
	}

	res := d.Results()
	if res.Empty() {
		v.Empty = EmptyResults
	}
	v.Recent = d.options(res.Recent)
	v.Others = d.options(res.Others)
	return v
}

func (d *Dialog) options(ps []models.TrackedProject) []ProjectOption {
	out := make([]ProjectOption, 0, len(ps))
	for _, p := range ps {
		out = append(out, ProjectOption{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Handle:      p.TwitterHandle,
			AvatarURL:   p.AvatarURL,
			Selected:    d.project != nil && d.project.ID == p.ID,
		})
	}
	return out
}

// WireEvent is an event as the page shim sends it.
type WireEvent struct {
	Type      string `json:"type"`
	Sentiment string `json:"sentiment,omitempty"`
	Text      string `json:"text,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	OnContent bool   `json:"onContent,omitempty"`
}

// DecodeEvent turns a shim event into a dialog event. Submission outcomes are
// never accepted from the wire.
func DecodeEvent(raw json.RawMessage) (Event, error) {
	var w WireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode dialog event: %w", err)
	}
	switch w.Type {
	case "sentiment":
		return ChooseSentiment{Sentiment: models.Sentiment(w.Sentiment)}, nil
	case "query":
		return Query{Text: w.Text}, nil
	case "project":
		return ChooseProject{ID: w.ProjectID}, nil
	case "submit":
		return Submit{}, nil
	case "cancel":
		return Cancel{}, nil
	case "backdrop":
		return BackdropClick{OnContent: w.OnContent}, nil
	}
	return nil, fmt.Errorf("unknown dialog event %q", w.Type)
}
