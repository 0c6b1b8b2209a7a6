package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/seatboard/go/internal/auth"
	"github.com/rs/zerolog/log"
)

// Handler serves the admin panel API. Routes must sit behind auth.Verifier.Middleware.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the admin routes and the admin RPC service on mux
func (h *Handler) Register(mux *http.ServeMux, verifier *auth.Verifier) {
	mux.Handle("GET /api/admin/users", verifier.Middleware(h.requireAdmin(h.listUsers)))
	mux.Handle("PUT /api/admin/users/{uid}/role", verifier.Middleware(h.requireAdmin(h.setRole)))
	mux.Handle("POST /api/admin/users/{uid}/toggle", verifier.Middleware(h.requireAdmin(h.toggleRole)))
	mux.Handle("GET /api/me", verifier.Middleware(http.HandlerFunc(h.me)))

	rpc := NewRPCServer(h.service)
	path, handler := NewAdminServiceHandler(rpc, connect.WithInterceptors(rpc.RequireAdmin()))
	mux.Handle(path, verifier.Middleware(handler))
}

// requireAdmin checks the stored role, not the token claim
func (h *Handler) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		role, err := h.service.ResolveRole(r.Context(), id.UID)
		if err != nil {
			log.Error().Err(err).Str("uid", id.UID).Msg("failed to resolve role")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !auth.Resolve(role, auth.ModeAdmin).ManageUsers {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	u, err := h.service.EnsureUser(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("uid", id.UID).Msg("failed to ensure user")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list users")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type roleRequest struct {
	Role auth.Role `json:"role"`
}

func (h *Handler) setRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	uid := r.PathValue("uid")
	if err := h.service.SetRole(r.Context(), uid, req.Role); err != nil {
		h.writeServiceError(w, uid, err)
		return
	}
	writeJSON(w, http.StatusOK, roleRequest{Role: req.Role})
}

func (h *Handler) toggleRole(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	role, err := h.service.ToggleRole(r.Context(), uid)
	if err != nil {
		h.writeServiceError(w, uid, err)
		return
	}
	writeJSON(w, http.StatusOK, roleRequest{Role: role})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, uid string, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ErrInvalidRole):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("uid", uid).Msg("admin operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
