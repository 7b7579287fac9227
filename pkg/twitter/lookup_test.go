package twitter

import (
	"context"
	"errors"
	"testing"
	"time"

	twitterscraper "github.com/imperatrona/twitter-scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherFunc func(id string) (*twitterscraper.Tweet, error)

func (f fetcherFunc) GetTweet(id string) (*twitterscraper.Tweet, error) { return f(id) }

func TestToPost(t *testing.T) {
	at := time.Date(2024, 3, 9, 23, 30, 0, 0, time.UTC)
	post := ToPost(&twitterscraper.Tweet{
		ID:           "1766",
		Username:     "alice",
		Text:         "  $UNI looks ready  ",
		TimeParsed:   at,
		PermanentURL: "https://twitter.com/alice/status/1766",
	})

	assert.Equal(t, "1766", post.ID)
	assert.Equal(t, "alice", post.AuthorHandle())
	assert.Equal(t, "$UNI looks ready", post.Text)
	require.NotNil(t, post.Timestamp)
	assert.True(t, at.Equal(*post.Timestamp))
	assert.Equal(t, "https://x.com/alice/status/1766", post.URL(), "permalinks use the host the page keys on")

	bare := ToPost(&twitterscraper.Tweet{ID: "1"})
	assert.Nil(t, bare.Author)
	assert.Nil(t, bare.Timestamp)
	assert.Nil(t, bare.Permalink)
}

func TestLookup_Post(t *testing.T) {
	var asked string
	l := NewWithFetcher(fetcherFunc(func(id string) (*twitterscraper.Tweet, error) {
		asked = id
		return &twitterscraper.Tweet{ID: id, Text: "gm"}, nil
	}))

	post, err := l.Post(context.Background(), "https://x.com/bob/status/99?s=20")
	require.NoError(t, err)
	assert.Equal(t, "99", asked)
	assert.Equal(t, "bob", post.AuthorHandle(), "author falls back to the url")
	assert.Equal(t, "https://x.com/bob/status/99", post.URL())
}

func TestLookup_Errors(t *testing.T) {
	boom := errors.New("rate limited")
	l := NewWithFetcher(fetcherFunc(func(string) (*twitterscraper.Tweet, error) { return nil, boom }))

	_, err := l.Post(context.Background(), "https://x.com/home")
	assert.ErrorIs(t, err, ErrNotATweet)

	_, err = l.Post(context.Background(), "https://x.com/bob/status/1")
	assert.ErrorIs(t, err, boom)

	block := make(chan struct{})
	defer close(block)
	slow := NewWithFetcher(fetcherFunc(func(string) (*twitterscraper.Tweet, error) {
		<-block
		return nil, nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = slow.Post(ctx, "https://x.com/bob/status/1")
	assert.ErrorIs(t, err, context.Canceled)
}
