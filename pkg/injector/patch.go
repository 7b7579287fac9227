package injector

// Op names a DOM edit for the page shim to replay.
type Op string

const (
	OpPrepend     Op = "prepend"      // into the post's action row
	OpInsertAfter Op = "insert-after" // after the post's view count
	OpReplace     Op = "replace"      // element matching Selector
	OpRemove      Op = "remove"       // element matching Selector
	OpToggleClass Op = "toggle-class" // Class on the element matching Selector
)

// Patch is one edit already applied to the shadow document.
type Patch struct {
	Op       Op     `json:"op"`
	PostID   string `json:"postId"`
	Selector string `json:"selector,omitempty"`
	HTML     string `json:"html,omitempty"`
	Class    string `json:"class,omitempty"`
	On       bool   `json:"on,omitempty"`
}

type Sink interface {
	Patch(p Patch)
}

type SinkFunc func(Patch)

func (f SinkFunc) Patch(p Patch) { f(p) }
