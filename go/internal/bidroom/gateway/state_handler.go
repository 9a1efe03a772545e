package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// StateHandler serves read-only room state over HTTP
type StateHandler struct {
	service *Service
}

// NewStateHandler creates a new state handler
func NewStateHandler(service *Service) *StateHandler {
	return &StateHandler{service: service}
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleGetRoom handles GET /api/rooms/{roomID}
func (h *StateHandler) HandleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	snap, err := h.service.Snapshot(r.Context(), roomID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case isNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "room not found"})
	case isInvalidArgument(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room state")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to get room state"})
	}
}

// HandleListRooms handles GET /api/rooms
func (h *StateHandler) HandleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ListRooms(r.Context()))
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(r chi.Router) {
	r.Route("/api/rooms", func(r chi.Router) {
		r.Get("/", h.HandleListRooms)
		r.Get("/{roomID}", h.HandleGetRoom)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
