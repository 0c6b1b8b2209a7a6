package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcdev12/seatboard/go/internal/admin"
	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/mcdev12/seatboard/go/internal/boardsync"
	"github.com/mcdev12/seatboard/go/internal/session"
	"github.com/rs/zerolog/log"
)

var errMissingBox = errors.New("box is required")

// Users records signed-in users and returns their stored role
type Users interface {
	EnsureUser(ctx context.Context, id auth.Identity) (admin.User, error)
}

// WebSocketHandler authenticates tabs and attaches a session to each
type WebSocketHandler struct {
	service *Service
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(s *Service) *WebSocketHandler {
	return &WebSocketHandler{service: s}
}

// HandleBoardConnection handles GET /ws/board?box=&event=&slot=&token=
func (h *WebSocketHandler) HandleBoardConnection(w http.ResponseWriter, r *http.Request) {
	s := h.service
	id, err := s.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		log.Debug().Err(err).Msg("rejected websocket connection")
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	params, err := h.navParams(r, id.UID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := s.users.EnsureUser(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("uid", id.UID).Msg("failed to load user")
		http.Error(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	id.Role = user.Role

	target, mode := s.resolveTarget(params)
	caps := auth.Resolve(id.Role, mode)

	_, err = s.connections.UpgradeConnection(w, r, id.UID, target.String(), func(sink session.Sink) *session.Session {
		return session.New(session.Config{
			Identity:      id,
			Capabilities:  caps,
			Target:        target,
			Adapter:       s.adapter,
			Clock:         s.clock,
			Sink:          sink,
			FrameInterval: s.config.FrameInterval,
			TickInterval:  s.config.TickInterval,
		})
	})
	if err != nil {
		// the response is hijacked by now, nothing left to write
		log.Error().
			Err(err).
			Str("target", target.String()).
			Str("user_id", id.UID).
			Msg("failed to establish board connection")
	}
}

// navParams reads navigation from a one-shot slot when given, else from the query
func (h *WebSocketHandler) navParams(r *http.Request, uid string) (NavParams, error) {
	q := r.URL.Query()
	var params NavParams
	if slot := q.Get("slot"); slot != "" {
		p, ok := h.service.slots.Take(uid, slot)
		if !ok {
			return NavParams{}, errors.New("navigation slot expired or unknown")
		}
		params = p
	} else {
		params = NavParams{BoxID: q.Get("box"), EventID: q.Get("event")}
	}
	if !params.Tournament() && params.BoxID == "" {
		return NavParams{}, errMissingBox
	}
	return params, nil
}

// HandleNavSlot handles POST /api/nav, storing params for the next page
func (h *WebSocketHandler) HandleNavSlot(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var params NavParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !params.Tournament() && params.BoxID == "" {
		http.Error(w, errMissingBox.Error(), http.StatusBadRequest)
		return
	}
	slot := h.service.slots.Put(id.UID, params)
	writeJSON(w, http.StatusCreated, map[string]string{"slot": slot})
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.connections.GetConnectionStats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/board", h.HandleBoardConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
	mux.Handle("POST /api/nav", h.service.verifier.Middleware(http.HandlerFunc(h.HandleNavSlot)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// resolveTarget builds the sync target and page mode for a nav request
func (s *Service) resolveTarget(p NavParams) (boardsync.Target, auth.PageMode) {
	if p.Tournament() {
		return boardsync.Target{Collection: s.config.TournamentCollection, DocID: p.EventID}, auth.ModeTournament
	}
	return boardsync.Target{Collection: s.config.BoardCollection, DocID: s.config.BoardDocID, BoxID: p.BoxID}, auth.ModeBoard
}
