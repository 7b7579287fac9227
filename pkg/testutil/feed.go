// Package testutil builds timeline markup for tests.
package testutil

import (
	"fmt"
	"strings"
)

type Tweet struct {
	ID        string
	Author    string // without @; empty omits the handle fragment
	Text      string
	Timestamp string // RFC 3339; empty omits the datetime attribute
	NoTime    bool   // drop the <time> element entirely
	NoActions bool   // drop the role=group action row
	NoViews   bool   // drop the analytics link
	Reply     bool   // add a "Replying to" indicator
}

// HTML renders the tweet the way the timeline does, trimmed to what the
// extractor looks at.
func (t Tweet) HTML() string {
	var b strings.Builder
	b.WriteString(`<article data-testid="tweet" role="article"><div class="css-175oi2r">`)
	b.WriteString(`<div data-testid="User-Name"><span>Display Name</span>`)
	if t.Author != "" {
		fmt.Fprintf(&b, `<span>@%s</span>`, t.Author)
	}
	if !t.NoTime {
		author := t.Author
		if author == "" {
			author = "someone"
		}
		fmt.Fprintf(&b, `<a href="/%s/status/%s">`, author, t.ID)
		if t.Timestamp != "" {
			fmt.Fprintf(&b, `<time datetime="%s">Mar 9</time>`, t.Timestamp)
		} else {
			b.WriteString(`<time>Mar 9</time>`)
		}
		b.WriteString(`</a>`)
	}
	b.WriteString(`</div>`)
	if t.Reply {
		b.WriteString(`<div><span>Replying to</span> <a href="/bob">@bob</a></div>`)
	}
	fmt.Fprintf(&b, `<div data-testid="tweetText"><span>%s</span></div>`, t.Text)
	if !t.NoActions {
		b.WriteString(`<div role="group"><button data-testid="reply">0</button><button data-testid="retweet">0</button>`)
		if !t.NoViews {
			fmt.Fprintf(&b, `<a href="/%s/status/%s/analytics">1.2K</a>`, t.Author, t.ID)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div></article>`)
	return b.String()
}

// Cell wraps markup in the timeline cell container.
func Cell(inner ...string) string {
	return `<div data-testid="cellInnerDiv">` + strings.Join(inner, "") + `</div>`
}
