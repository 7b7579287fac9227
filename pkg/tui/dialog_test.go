package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kol-signals/pkg/dialog"
	"github.com/kol-signals/pkg/models"
)

type submitter struct {
	err error
	got *models.SignalRequest
}

func (s *submitter) CreateSignal(_ context.Context, req models.SignalRequest, _ string) (*models.Signal, error) {
	s.got = &req
	if s.err != nil {
		return nil, s.err
	}
	sig := req.Signal("sig")
	return &sig, nil
}

var projects = []models.TrackedProject{
	{ID: "u", DisplayName: "Uniswap", TwitterHandle: "uniswap"},
	{ID: "a", DisplayName: "Aave", TwitterHandle: "aave"},
}

func newModel(s *submitter) Model {
	author := "alice"
	d := dialog.New(models.Post{ID: "1", Author: &author, Text: "gm"}, projects, nil)
	return New(context.Background(), dialog.Deps{Submitter: s}, d)
}

func press(t *testing.T, m Model, keys ...tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		m = next.(Model)
	}
	return m, cmd
}

func typed(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestModel_SaveFlow(t *testing.T) {
	s := &submitter{}
	m := newModel(s)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyLeft}, typed("aa"))
	assert.Equal(t, "bullish", m.view.Sentiment)
	require.Len(t, m.options(), 1)
	assert.Equal(t, "a", m.options()[0].ID)

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Nil(t, cmd, "save needs a project first")

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, m.view.SubmitEnabled)

	m, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Equal(t, dialog.LabelSaving, m.view.SubmitLabel)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.d.Closed(), "keys are ignored while saving")

	next, quit := m.Update(cmd())
	m = next.(Model)
	require.NotNil(t, quit)
	res := m.Result()
	assert.True(t, res.Saved)
	require.NotNil(t, res.Notification)
	assert.Equal(t, "https://x.com/aave", res.Notification.Link)
	assert.Equal(t, "aave", s.got.ProjectHandle)
}

func TestModel_FailedSaveStaysOpen(t *testing.T) {
	m := newModel(&submitter{err: errors.New("backend down")})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyRight}, tea.KeyMsg{Type: tea.KeyEnter})
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NotNil(t, cmd)

	next, after := m.Update(cmd())
	m = next.(Model)
	assert.Nil(t, after)
	assert.False(t, m.Result().Saved)
	assert.True(t, m.view.SubmitEnabled)
	assert.Equal(t, "bearish", m.view.Sentiment)
	assert.Contains(t, m.View(), "backend down")
}

func TestModel_TypingAndCursor(t *testing.T) {
	m := newModel(&submitter{})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown}, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor, "cursor stops at the last option")

	m, _ = press(t, m, typed("zzz"))
	assert.Equal(t, 0, m.cursor)
	assert.Equal(t, dialog.EmptyResults, m.view.Empty)
	assert.Contains(t, m.View(), dialog.EmptyResults)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Equal(t, "zz", m.view.Query)
}

func TestModel_Cancel(t *testing.T) {
	m := newModel(&submitter{})
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.True(t, m.d.Closed())
	assert.False(t, m.Result().Saved)
	assert.Empty(t, m.View())
}
