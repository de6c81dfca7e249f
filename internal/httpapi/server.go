// Package httpapi exposes the relay over HTTP: the game-client websocket,
// the reputation API, and the usual health and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/overcastgames/npcvoice/internal/config"
	"github.com/overcastgames/npcvoice/internal/observability"
	"github.com/overcastgames/npcvoice/internal/reputation"
	"github.com/overcastgames/npcvoice/internal/session"
)

// Bridge relays one upgraded client connection until it closes.
type Bridge interface {
	Run(ctx context.Context, client *websocket.Conn) error
}

type Server struct {
	cfg        config.Config
	sessions   *session.Manager
	bridge     Bridge
	reputation reputation.Store
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, bridge Bridge, rep reputation.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		bridge:     bridge,
		reputation: rep,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Game clients are not browsers and omit Origin; the check
				// only guards against hostile pages driving a local relay.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws", s.handleWS)
	r.Get("/v1/reputation", s.handleGetReputation)
	r.Post("/v1/reputation", s.handleAdjustReputation)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"tts_enabled": s.cfg.TTSEnabled,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"active_connections": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "engine bridge not configured")
		return
	}

	playerID := strings.TrimSpace(r.URL.Query().Get("player_id"))
	if playerID == "" {
		playerID = "anonymous"
	}
	npcID := strings.TrimSpace(r.URL.Query().Get("npc_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.sessions.Create(playerID, npcID)
	s.metrics.ActiveConnections.Set(float64(s.sessions.ActiveCount()))
	s.metrics.RelayEvents.WithLabelValues("ws_connected").Inc()
	defer func() {
		_, _ = s.sessions.End(sess.ID)
		s.metrics.ActiveConnections.Set(float64(s.sessions.ActiveCount()))
		s.metrics.RelayEvents.WithLabelValues("ws_disconnected").Inc()
	}()

	conn.SetReadLimit(2 << 20)
	_ = s.bridge.Run(r.Context(), conn)
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	playerID := strings.TrimSpace(r.URL.Query().Get("player_id"))
	factionID := strings.TrimSpace(r.URL.Query().Get("faction_id"))
	if playerID == "" || factionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "player_id and faction_id are required")
		return
	}

	st, err := s.reputation.Get(r.Context(), playerID, factionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

type adjustRequest struct {
	PlayerID  string `json:"player_id"`
	FactionID string `json:"faction_id"`
	Delta     int    `json:"delta"`
}

func (s *Server) handleAdjustReputation(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.PlayerID) == "" || strings.TrimSpace(req.FactionID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "player_id and faction_id are required")
		return
	}

	st, err := s.reputation.Adjust(r.Context(), req.PlayerID, req.FactionID, req.Delta)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
