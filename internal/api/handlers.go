package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"blob-battle/internal/room"
)

const deleteTimeout = 5 * time.Second

type createRoomRequest struct {
	ID string `json:"id"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	room.Stats
	Connections int               `json:"connections"`
	RateLimit   map[string]uint64 `json:"rateLimit"`
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  len(h.rooms.Rooms()),
	})
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Stats:     h.rooms.Stats(),
		RateLimit: h.limiter.GetStats(),
	}
	if h.hub != nil {
		resp.Connections = h.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *routerHandlers) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rooms.Rooms())
}

func (h *routerHandlers) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	info, ok := h.rooms.Room(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, room.ErrRoomNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *routerHandlers) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<12)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	info, err := h.rooms.CreateRoom(req.ID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *routerHandlers) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), deleteTimeout)
	defer cancel()

	if err := h.rooms.DeleteRoom(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps room errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrPlayerUnknown):
		return http.StatusNotFound
	case errors.Is(err, room.ErrRoomExists), errors.Is(err, room.ErrPlayerExists):
		return http.StatusConflict
	case errors.Is(err, room.ErrTooManyRooms), errors.Is(err, room.ErrRoomFull), errors.Is(err, room.ErrRoomClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, room.ErrInvalidPlayer):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}
