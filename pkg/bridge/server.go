// Package bridge connects page shims to the Go side over a websocket. Each
// connection is one page load and owns one page.Page.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/kol-signals/pkg/auth"
	"github.com/kol-signals/pkg/config"
	"github.com/kol-signals/pkg/dialog"
	"github.com/kol-signals/pkg/metrics"
	"github.com/kol-signals/pkg/page"
)

type Stats interface {
	GetStats(ctx context.Context) (map[string]int64, error)
}

type Deps struct {
	Backend page.Backend
	Recent  page.RecentProjects
	Broker  *auth.Broker
	Journal dialog.Journal
	Stats   Stats
}

type Server struct {
	cfg      *config.Config
	deps     Deps
	upgrader websocket.Upgrader
}

func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", cors(s.handleHealth))
	mux.HandleFunc("/stats", cors(s.handleStats))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.BridgePort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("🌐 bridge started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return ctx.Err()
	}
}

// checkOrigin lets non-browser clients through and browsers only from the
// configured origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	log.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newConn(s, ws)
	go c.writePump()
	c.readPump(r.Context(), r.URL.Query().Get("url"))
}

func (s *Server) newPage(sink page.Sink, url string) *page.Page {
	deps := page.Deps{
		Backend:     s.deps.Backend,
		Recent:      s.deps.Recent,
		Sink:        sink,
		URL:         url,
		SettleDelay: s.cfg.SettleDelay,
		NotifyTTL:   s.cfg.NotifyTTL,
		ProfileURL:  s.cfg.ProfileURL,
	}
	if s.deps.Broker != nil {
		deps.Tokens = s.deps.Broker
	}
	if s.deps.Journal != nil {
		deps.Journal = s.deps.Journal
	}
	return page.New(deps)
}

func cors(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		writeJSON(w, map[string]int64{})
		return
	}
	stats, err := s.deps.Stats.GetStats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}
