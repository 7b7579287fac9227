// Package dom holds the shadow copy of the host page as x/net/html trees and the
// small set of traversal and mutation helpers the injector needs.
package dom

import (
	"bytes"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document guards a tree that is read by the watcher and written by injector
// goroutines. Every access to nodes under Root goes through Do.
type Document struct {
	mu   sync.Mutex
	root *html.Node
	body *html.Node
}

// NewDocument returns an empty <html><body> document.
func NewDocument() *Document {
	doc, _ := html.Parse(strings.NewReader("<html><head></head><body></body></html>"))
	return &Document{root: doc, body: FindFirst(doc, IsElement(atom.Body))}
}

// Do runs fn with the document locked.
func (d *Document) Do(fn func(body *html.Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.body)
}

// Append parses fragments in body context, appends them to the body and returns
// the new top-level nodes.
func (d *Document) Append(fragments ...string) ([]*html.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var added []*html.Node
	for _, f := range fragments {
		nodes, err := ParseFragment(f)
		if err != nil {
			return added, err
		}
		for _, n := range nodes {
			d.body.AppendChild(n)
			added = append(added, n)
		}
	}
	return added, nil
}

// HTML renders the whole document.
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Render(d.root)
}

// Reset drops everything under body.
func (d *Document) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := d.body.FirstChild; c != nil; {
		next := c.NextSibling
		d.body.RemoveChild(c)
		c = next
	}
}

// ---- parsing / rendering ----

func ParseFragment(src string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	return html.ParseFragment(strings.NewReader(src), ctx)
}

func Render(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// ---- predicates ----

type Predicate func(*html.Node) bool

func IsElement(a atom.Atom) Predicate {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.DataAtom == a }
}

func HasAttr(key, val string) Predicate {
	return func(n *html.Node) bool {
		v, ok := Attr(n, key)
		return ok && v == val
	}
}

func HasAttrKey(key string) Predicate {
	return func(n *html.Node) bool {
		_, ok := Attr(n, key)
		return ok
	}
}

// ClassContains matches elements whose class attribute contains any fragment, case-insensitively.
func ClassContains(fragments ...string) Predicate {
	return func(n *html.Node) bool {
		cls, ok := Attr(n, "class")
		if !ok {
			return false
		}
		cls = strings.ToLower(cls)
		for _, f := range fragments {
			if strings.Contains(cls, f) {
				return true
			}
		}
		return false
	}
}

// ---- traversal ----

// Walk visits n and its descendants depth-first; returning false prunes the subtree.
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// FindAll returns matching element nodes under n, n included.
func FindAll(n *html.Node, match Predicate) []*html.Node {
	var out []*html.Node
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.ElementNode && match(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

func FindFirst(n *html.Node, match Predicate) *html.Node {
	var found *html.Node
	Walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && match(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

// Closest returns the nearest of n and its ancestors that matches.
func Closest(n *html.Node, match Predicate) *html.Node {
	for c := n; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
	}
	return nil
}

// TextFragments returns the non-empty text nodes under n, trimmed.
func TextFragments(n *html.Node) []string {
	var out []string
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			if t := strings.TrimSpace(c.Data); t != "" {
				out = append(out, t)
			}
		}
		return true
	})
	return out
}

// TextContent concatenates all text under n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	Walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// ---- attributes ----

func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func ToggleClass(n *html.Node, class string, on bool) {
	cls, _ := Attr(n, "class")
	fields := strings.Fields(cls)
	out := fields[:0]
	for _, f := range fields {
		if f != class {
			out = append(out, f)
		}
	}
	if on {
		out = append(out, class)
	}
	SetAttr(n, "class", strings.Join(out, " "))
}

// ---- mutation ----

// Prepend inserts child as the first child of parent.
func Prepend(parent, child *html.Node) {
	parent.InsertBefore(child, parent.FirstChild)
}

// InsertAfter inserts node directly after ref.
func InsertAfter(ref, node *html.Node) {
	ref.Parent.InsertBefore(node, ref.NextSibling)
}

// Remove detaches n from its parent, if any.
func Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Attached reports whether n is still reachable from root.
func Attached(root, n *html.Node) bool {
	for c := n; c != nil; c = c.Parent {
		if c == root {
			return true
		}
	}
	return false
}

// Element builds an element with attributes given as key, value pairs and optional text.
func Element(a atom.Atom, text string, kv ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: kv[i], Val: kv[i+1]})
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return n
}

// SetText replaces all children of n with one text node.
func SetText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}
