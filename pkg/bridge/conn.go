package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kol-signals/pkg/auth"
	"github.com/kol-signals/pkg/dialog"
	"github.com/kol-signals/pkg/injector"
	"github.com/kol-signals/pkg/metrics"
	"github.com/kol-signals/pkg/page"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Mutations carry serialized subtrees, so frames can be large.
	maxMessageSize = 4 << 20

	sendBuffer = 256
)

// Inbound message types. The auth types are auth.MsgGetAuthToken and
// auth.MsgSaveAuthToken.
const (
	MsgMutation = "mutation"
	MsgClick    = "click"
	MsgHover    = "hover"
	MsgDialog   = "dialog"
)

// Outbound message types besides the auth replies.
const (
	OutPatch   = "patch"
	OutNotify  = "notify"
	OutOpenURL = "open-url"
	OutDialog  = "dialog"
	OutError   = "error"
)

type inbound struct {
	Type   string              `json:"type"`
	URL    string              `json:"url,omitempty"`
	Nodes  []page.MutationNode `json:"nodes,omitempty"`
	PostID string              `json:"postId,omitempty"`
	Enter  bool                `json:"enter,omitempty"`
	Event  json.RawMessage     `json:"event,omitempty"`
}

type notification struct {
	Level   dialog.Level `json:"level"`
	Message string       `json:"message"`
	Link    string       `json:"link,omitempty"`
	TTLMs   int64        `json:"ttlMs"`
}

type outbound struct {
	Type         string          `json:"type"`
	Patch        *injector.Patch `json:"patch,omitempty"`
	Notification *notification   `json:"notification,omitempty"`
	URL          string          `json:"url,omitempty"`
	View         *dialog.View    `json:"view,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// conn is one websocket and the page it drives. It is the page's Sink.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	page *page.Page

	send   chan []byte
	closed chan struct{}
	// clicks and dialog events may wait on the backend; they run in order on
	// their own goroutine so mutations keep flowing.
	slow chan inbound
}

func newConn(srv *Server, ws *websocket.Conn) *conn {
	return &conn{
		srv:    srv,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		slow:   make(chan inbound, 16),
	}
}

func (c *conn) readPump(ctx context.Context, url string) {
	ctx, cancel := context.WithCancel(ctx)

	c.page = c.srv.newPage(c, url)
	c.page.Start(ctx)
	metrics.PageOpened()
	log.Debug().Str("url", url).Msg("page connected")

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		c.slowLoop(ctx)
	}()
	go func() {
		<-ctx.Done()
		c.ws.Close()
	}()

	defer func() {
		cancel()
		<-slowDone
		c.page.Close()
		close(c.closed)
		metrics.PageClosed()
		log.Debug().Str("url", url).Msg("page disconnected")
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		c.dispatch(ctx, raw)
	}
}

func (c *conn) dispatch(ctx context.Context, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.sendError(fmt.Errorf("invalid message: %w", err))
		return
	}
	metrics.RecordBridgeMessage("in", in.Type)

	switch in.Type {
	case MsgMutation:
		if err := c.page.Mutate(in.URL, in.Nodes); err != nil {
			c.sendError(err)
		}
	case MsgHover:
		c.page.Hover(in.PostID, in.Enter)
	case MsgClick, MsgDialog:
		select {
		case c.slow <- in:
		case <-ctx.Done():
		}
	case auth.MsgGetAuthToken, auth.MsgSaveAuthToken:
		c.handleAuth(ctx, raw)
	default:
		c.sendError(fmt.Errorf("unknown message type %q", in.Type))
	}
}

func (c *conn) slowLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-c.slow:
			var err error
			switch in.Type {
			case MsgClick:
				err = c.page.Click(ctx, in.PostID)
			case MsgDialog:
				var ev dialog.Event
				if ev, err = dialog.DecodeEvent(in.Event); err == nil {
					_, err = c.page.DialogEvent(ctx, in.PostID, ev)
				}
			}
			switch {
			case err == nil:
			case errors.Is(err, page.ErrUnknownPost), errors.Is(err, page.ErrNoDialog):
				c.sendError(err)
			default:
				// save failures already reached the page as a notification
				log.Debug().Err(err).Str("post", in.PostID).Str("type", in.Type).Msg("page action failed")
			}
		}
	}
}

func (c *conn) handleAuth(ctx context.Context, raw []byte) {
	if c.srv.deps.Broker == nil {
		c.sendError(errors.New("auth storage not configured"))
		return
	}
	var msg auth.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError(fmt.Errorf("invalid auth message: %w", err))
		return
	}
	reply, err := c.srv.deps.Broker.Handle(ctx, msg)
	if err != nil && reply.Type == "" {
		c.sendError(err)
		return
	}
	c.write(reply.Type, reply)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *conn) write(typ string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("encode outbound message")
		return
	}
	select {
	case <-c.closed:
		return
	default:
	}
	select {
	case c.send <- b:
		metrics.RecordBridgeMessage("out", typ)
	case <-c.closed:
	default:
		log.Warn().Str("type", typ).Msg("send buffer full, message dropped")
	}
}

func (c *conn) sendError(err error) {
	c.write(OutError, outbound{Type: OutError, Error: err.Error()})
}

func (c *conn) Patch(p injector.Patch) {
	c.write(OutPatch, outbound{Type: OutPatch, Patch: &p})
}

func (c *conn) Notify(n dialog.Notification) {
	c.write(OutNotify, outbound{Type: OutNotify, Notification: &notification{
		Level:   n.Level,
		Message: n.Message,
		Link:    n.Link,
		TTLMs:   n.TTL.Milliseconds(),
	}})
}

func (c *conn) OpenURL(url string) {
	c.write(OutOpenURL, outbound{Type: OutOpenURL, URL: url})
}

func (c *conn) DialogView(v dialog.View) {
	c.write(OutDialog, outbound{Type: OutDialog, View: &v})
}
