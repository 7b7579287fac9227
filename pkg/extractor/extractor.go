// Package extractor maps feed-item markup to posts. The heuristics are the one
// part of the system coupled to markup we do not control, so they sit behind
// Strategy and can be swapped per host.
package extractor

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kol-signals/pkg/dom"
	"github.com/kol-signals/pkg/models"
)

type Strategy interface {
	// FeedItems returns the feed items in the subtree rooted at n: n itself if it
	// is one, its descendants, and the item enclosing n if n was added inside one.
	FeedItems(n *html.Node) []*html.Node
	// ExtractPost returns false when the item has no resolvable identity.
	ExtractPost(item *html.Node, pageURL string) (models.Post, bool)
	ActionRow(item *html.Node) *html.Node
	ViewCount(item *html.Node) *html.Node
	IsOriginalPost(item *html.Node) bool
	IsOverlay(n *html.Node) bool
}

var (
	statusIDRe = regexp.MustCompile(`/status/(\d+)`)

	// first path segments that are routes, not handles
	reservedRoutes = map[string]bool{
		"home": true, "explore": true, "search": true, "i": true, "notifications": true,
		"messages": true, "settings": true, "compose": true, "login": true, "logout": true,
		"tos": true, "privacy": true, "hashtag": true,
	}

	overlayFragments = []string{"modal", "overlay", "lightbox", "dialog"}
)

// X understands the x.com / twitter.com timeline markup.
type X struct{}

func (X) isItem(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.Article && dom.HasAttr("data-testid", "tweet")(n)
}

func (s X) FeedItems(n *html.Node) []*html.Node {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	if enclosing := dom.Closest(n.Parent, s.isItem); enclosing != nil {
		return []*html.Node{enclosing}
	}
	return dom.FindAll(n, s.isItem)
}

func (s X) ExtractPost(item *html.Node, pageURL string) (models.Post, bool) {
	timeEl := dom.FindFirst(item, dom.IsElement(atom.Time))
	if timeEl == nil {
		return models.Post{}, false
	}
	anchor := dom.Closest(timeEl, dom.IsElement(atom.A))
	href, _ := dom.Attr(anchor, "href")
	id := StatusID(href)
	if id == "" {
		return models.Post{}, false
	}

	post := models.Post{ID: id}
	permalink := resolve(pageURL, href)
	post.Permalink = &permalink

	if author := s.author(item, pageURL); author != "" {
		post.Author = &author
	}
	if text := dom.FindFirst(item, dom.HasAttr("data-testid", "tweetText")); text != nil {
		post.Text = strings.TrimSpace(dom.TextContent(text))
	}
	if dt, ok := dom.Attr(timeEl, "datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, dt); err == nil {
			post.Timestamp = &ts
		}
	}
	return post, true
}

func (X) author(item *html.Node, pageURL string) string {
	if region := dom.FindFirst(item, dom.HasAttr("data-testid", "User-Name")); region != nil {
		for _, frag := range dom.TextFragments(region) {
			if strings.HasPrefix(frag, "@") && len(frag) > 1 {
				return strings.TrimPrefix(frag, "@")
			}
		}
	}
	return HandleFromURL(pageURL)
}

func (X) ActionRow(item *html.Node) *html.Node {
	return dom.FindFirst(item, dom.HasAttr("role", "group"))
}

func (X) ViewCount(item *html.Node) *html.Node {
	return dom.FindFirst(item, func(n *html.Node) bool {
		if n.DataAtom != atom.A {
			return false
		}
		href, _ := dom.Attr(n, "href")
		return strings.HasSuffix(href, "/analytics")
	})
}

func (s X) IsOriginalPost(item *html.Node) bool {
	if s.ViewCount(item) == nil {
		return false
	}
	for _, frag := range dom.TextFragments(item) {
		if strings.HasPrefix(frag, "Replying to") {
			return false
		}
	}
	return true
}

func (X) IsOverlay(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if role, _ := dom.Attr(n, "role"); role == "dialog" {
		return true
	}
	return dom.ClassContains(overlayFragments...)(n)
}

// StatusID pulls the numeric post id out of a permalink path.
func StatusID(href string) string {
	m := statusIDRe.FindStringSubmatch(href)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// HandleFromURL returns the handle segment of a profile or status URL.
func HandleFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	seg := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
	if seg == "" || reservedRoutes[strings.ToLower(seg)] {
		return ""
	}
	return seg
}

func resolve(pageURL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Scheme == "" {
		return href
	}
	return base.ResolveReference(ref).String()
}
