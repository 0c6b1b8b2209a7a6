package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/mcdev12/seatboard/go/internal/board"
	"github.com/mcdev12/seatboard/go/internal/boardsync"
	"github.com/mcdev12/seatboard/go/internal/docstore"
	"github.com/rs/zerolog/log"
)

// StateHandler serves the shared documents over plain HTTP, for pages that
// only need a snapshot
type StateHandler struct {
	service *Service
}

// NewStateHandler creates a new state handler
func NewStateHandler(s *Service) *StateHandler {
	return &StateHandler{service: s}
}

// HandleGetBoardState handles GET /api/boards/{id}/state
func (h *StateHandler) HandleGetBoardState(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, boardsync.Target{Collection: h.service.config.BoardCollection, DocID: r.PathValue("id")})
}

// HandleGetTournamentState handles GET /api/tournaments/{id}/state
func (h *StateHandler) HandleGetTournamentState(w http.ResponseWriter, r *http.Request) {
	h.serveState(w, r, boardsync.Target{Collection: h.service.config.TournamentCollection, DocID: r.PathValue("id")})
}

func (h *StateHandler) serveState(w http.ResponseWriter, r *http.Request, target boardsync.Target) {
	state, err := h.service.adapter.Load(r.Context(), target)
	if errors.Is(err, docstore.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("target", target.String()).Msg("failed to load state")
		http.Error(w, "failed to load state", http.StatusInternalServerError)
		return
	}
	// join codes are for the people in the room, not for API readers
	state.JoinCode = ""
	writeJSON(w, http.StatusOK, stateResponse{ID: target.DocID, State: state})
}

// HandleSetJoinCode handles PUT /api/tournaments/{id}/code. Only admins,
// by stored role, may change it.
func (h *StateHandler) HandleSetJoinCode(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	user, err := h.service.users.EnsureUser(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("uid", id.UID).Msg("failed to load user")
		http.Error(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	if user.Role != auth.RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	target := boardsync.Target{Collection: h.service.config.TournamentCollection, DocID: r.PathValue("id")}
	if err := h.service.adapter.SetJoinCode(r.Context(), target, strings.TrimSpace(req.Code)); err != nil {
		log.Error().Err(err).Str("target", target.String()).Msg("failed to set join code")
		http.Error(w, "failed to set join code", http.StatusInternalServerError)
		return
	}
	log.Info().Str("target", target.String()).Str("uid", id.UID).Msg("join code updated")
	w.WriteHeader(http.StatusNoContent)
}

type stateResponse struct {
	ID    string            `json:"id"`
	State board.SharedState `json:"state"`
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	verify := h.service.verifier.Middleware
	mux.Handle("GET /api/boards/{id}/state", verify(http.HandlerFunc(h.HandleGetBoardState)))
	mux.Handle("GET /api/tournaments/{id}/state", verify(http.HandlerFunc(h.HandleGetTournamentState)))
	mux.Handle("PUT /api/tournaments/{id}/code", verify(http.HandlerFunc(h.HandleSetJoinCode)))
}
