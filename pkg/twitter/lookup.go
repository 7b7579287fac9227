// Package twitter resolves a tweet URL into a models.Post for the command-line
// save flow, using the private web API.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	twitterscraper "github.com/imperatrona/twitter-scraper"
	"github.com/rs/zerolog/log"

	"github.com/kol-signals/pkg/config"
	"github.com/kol-signals/pkg/extractor"
	"github.com/kol-signals/pkg/models"
)

var ErrNotATweet = errors.New("not a tweet url")

type Fetcher interface {
	GetTweet(id string) (*twitterscraper.Tweet, error)
}

type Lookup struct {
	fetcher Fetcher
}

func New(cfg *config.Config) *Lookup {
	s := twitterscraper.New()
	if cfg.HasTwitterAuth() {
		s.SetAuthToken(twitterscraper.AuthToken{
			Token:     cfg.TwitterAuthToken,
			CSRFToken: cfg.TwitterCSRFToken,
		})
	} else {
		log.Warn().Msg("TWITTER_AUTH_TOKEN / TWITTER_CSRF_TOKEN not set, tweet lookups may be refused")
	}
	return &Lookup{fetcher: s}
}

func NewWithFetcher(f Fetcher) *Lookup {
	return &Lookup{fetcher: f}
}

// Post fetches the tweet behind tweetURL.
func (l *Lookup) Post(ctx context.Context, tweetURL string) (models.Post, error) {
	id := extractor.StatusID(tweetURL)
	if id == "" {
		return models.Post{}, fmt.Errorf("%w: %s", ErrNotATweet, tweetURL)
	}

	type result struct {
		tweet *twitterscraper.Tweet
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		t, err := l.fetcher.GetTweet(id)
		ch <- result{t, err}
	}()

	select {
	case <-ctx.Done():
		return models.Post{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return models.Post{}, fmt.Errorf("fetch tweet %s: %w", id, r.err)
		}
		if r.tweet == nil {
			return models.Post{}, fmt.Errorf("fetch tweet %s: empty response", id)
		}
		post := ToPost(r.tweet)
		if post.Author == nil {
			if h := extractor.HandleFromURL(tweetURL); h != "" {
				post.Author = &h
			}
		}
		if post.Permalink == nil {
			u := models.CanonicalPermalink(tweetURL)
			post.Permalink = &u
		}
		return post, nil
	}
}

// ToPost maps a scraped tweet onto the fields a signal needs.
func ToPost(t *twitterscraper.Tweet) models.Post {
	post := models.Post{ID: t.ID, Text: strings.TrimSpace(t.Text)}
	if t.Username != "" {
		u := t.Username
		post.Author = &u
	}
	if !t.TimeParsed.IsZero() {
		ts := t.TimeParsed.UTC()
		post.Timestamp = &ts
	}
	if t.PermanentURL != "" {
		u := models.CanonicalPermalink(t.PermanentURL)
		post.Permalink = &u
	}
	return post
}
