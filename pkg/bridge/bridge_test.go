package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kol-signals/pkg/auth"
	"github.com/kol-signals/pkg/config"
	"github.com/kol-signals/pkg/db"
	"github.com/kol-signals/pkg/directory"
	"github.com/kol-signals/pkg/models"
	"github.com/kol-signals/pkg/testutil"
)

type stubBackend struct{}

func (stubBackend) ListProjects(context.Context) ([]models.TrackedProject, error) {
	return []models.TrackedProject{
		{ID: "u", DisplayName: "Uniswap", TwitterHandle: "uniswap", Kind: models.KindToken, CoinGeckoID: "uniswap"},
	}, nil
}

func (stubBackend) ListSignals(context.Context, string) ([]models.Signal, error) { return nil, nil }

func (stubBackend) TokenPrice(context.Context, models.Chain, string, *time.Time) (float64, error) {
	return 1, nil
}

func (stubBackend) CoinGeckoPrice(context.Context, string, *time.Time) (float64, error) {
	return 1, nil
}

func (stubBackend) NFTFloorPrice(context.Context, models.Chain, string, *time.Time) (float64, error) {
	return 1, nil
}

func (stubBackend) CreateSignal(_ context.Context, req models.SignalRequest, _ string) (*models.Signal, error) {
	s := req.Signal("sig-1")
	return &s, nil
}

type rig struct {
	server *httptest.Server
	store  *db.Store
}

func newRig(t *testing.T) *rig {
	t.Helper()
	store, err := db.NewStore(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Default()
	cfg.SettleDelay = 10 * time.Millisecond
	srv := New(cfg, Deps{
		Backend: stubBackend{},
		Recent:  directory.NewRecent(store, cfg.RecentProjectsLimit),
		Broker:  auth.NewBroker(store),
		Journal: store,
		Stats:   store,
	})
	server := httptest.NewServer(srv.Handler())
	t.Cleanup(server.Close)
	return &rig{server: server, store: store}
}

func (r *rig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	u := strings.Replace(r.server.URL, "http://", "ws://", 1) + "/ws?url=" + "https://x.com/home"
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// next reads until a message of the wanted type arrives.
func next(t *testing.T, ws *websocket.Conn, typ string) map[string]json.RawMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg map[string]json.RawMessage
		require.NoError(t, ws.ReadJSON(&msg))
		var got string
		require.NoError(t, json.Unmarshal(msg["type"], &got))
		if got == typ {
			return msg
		}
	}
}

func TestBridge_MutationGetsButton(t *testing.T) {
	r := newRig(t)
	ws := r.dial(t)

	send(t, ws, map[string]interface{}{
		"type":  MsgMutation,
		"url":   "https://x.com/home",
		"nodes": []map[string]string{{"html": testutil.Tweet{ID: "42", Author: "alice"}.HTML()}},
	})

	msg := next(t, ws, OutPatch)
	var p struct {
		Op     string `json:"op"`
		PostID string `json:"postId"`
		HTML   string `json:"html"`
	}
	require.NoError(t, json.Unmarshal(msg["patch"], &p))
	assert.Equal(t, "prepend", p.Op)
	assert.Equal(t, "42", p.PostID)
	assert.Contains(t, p.HTML, `data-signal-button="save"`)

	send(t, ws, map[string]string{"type": MsgClick, "postId": "42"})
	msg = next(t, ws, OutDialog)
	var view struct {
		PostID string `json:"postId"`
		Phase  string `json:"phase"`
	}
	require.NoError(t, json.Unmarshal(msg["view"], &view))
	assert.Equal(t, "42", view.PostID)

	send(t, ws, map[string]interface{}{"type": MsgDialog, "postId": "42", "event": map[string]string{"type": "sentiment", "sentiment": "bullish"}})
	send(t, ws, map[string]interface{}{"type": MsgDialog, "postId": "42", "event": map[string]string{"type": "project", "projectId": "u"}})
	send(t, ws, map[string]interface{}{"type": MsgDialog, "postId": "42", "event": map[string]string{"type": "submit"}})

	msg = next(t, ws, OutNotify)
	var n notification
	require.NoError(t, json.Unmarshal(msg["notification"], &n))
	assert.Equal(t, "https://x.com/uniswap", n.Link)
	assert.EqualValues(t, 3000, n.TTLMs)

	assert.Eventually(t, func() bool {
		ids, err := r.store.RecentProjects(context.Background())
		return err == nil && len(ids) == 1 && ids[0] == "u"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBridge_UnknownPostAndType(t *testing.T) {
	r := newRig(t)
	ws := r.dial(t)

	send(t, ws, map[string]string{"type": MsgClick, "postId": "nope"})
	msg := next(t, ws, OutError)
	assert.Contains(t, string(msg["error"]), "no injected button")

	send(t, ws, map[string]string{"type": "RELOAD"})
	msg = next(t, ws, OutError)
	assert.Contains(t, string(msg["error"]), "unknown message type")
}

func TestBridge_AuthMessages(t *testing.T) {
	r := newRig(t)
	ws := r.dial(t)

	send(t, ws, map[string]string{"type": auth.MsgGetAuthToken})
	msg := next(t, ws, auth.ReplyAuthToken)
	assert.Equal(t, "null", string(msg["token"]))

	send(t, ws, map[string]interface{}{
		"type":   auth.MsgSaveAuthToken,
		"token":  "jwt",
		"expiry": time.Now().Add(time.Hour).UnixMilli(),
	})
	msg = next(t, ws, auth.ReplyAck)
	assert.Equal(t, "true", string(msg["ok"]))

	send(t, ws, map[string]string{"type": auth.MsgGetAuthToken})
	msg = next(t, ws, auth.ReplyAuthToken)
	assert.Equal(t, `"jwt"`, string(msg["token"]))
}

func TestBridge_HTTP(t *testing.T) {
	r := newRig(t)

	resp, err := http.Get(r.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ := http.NewRequest(http.MethodOptions, r.server.URL+"/stats", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "OPTIONS")

	resp, err = http.Get(r.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBridge_RejectsForeignOrigin(t *testing.T) {
	r := newRig(t)
	u := strings.Replace(r.server.URL, "http://", "ws://", 1) + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
