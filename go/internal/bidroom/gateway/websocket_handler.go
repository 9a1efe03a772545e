package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/nexahaul/bidroom/go/internal/bidroom/room"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler upgrades room socket requests and dispatches the frames clients send
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	service           *Service

	// identity each connection last joined with, used for its bids
	mu         sync.Mutex
	identities map[string]identity
}

type identity struct {
	userID      string
	displayName string
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, service *Service) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		service:           service,
		identities:        make(map[string]identity),
	}
}

// HandleRoomConnection handles GET /ws/room. When room_id is given the connection joins that room
// right away, otherwise the client sends a join frame.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomID := query.Get("room_id")
	userID := query.Get("user_id")
	displayName := query.Get("display_name")
	role := query.Get("role")

	if roomID != "" {
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		if _, err := room.ParseRole(role); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, userID, displayName, role, h)
	if err != nil {
		// the upgrader has already written the error response
		log.Error().
			Err(err).
			Str("room_id", roomID).
			Str("user_id", userID).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	if roomID == "" {
		return
	}
	h.join(conn.ctx, conn, "", JoinFrame{RoomID: roomID})
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.connectionManager.GetConnectionStats())
}

// HandleFrame dispatches one client frame and replies to it
func (h *WebSocketHandler) HandleFrame(ctx context.Context, c *Connection, raw []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.reply(c, ReplyFrame{Error: "malformed frame"})
		return
	}

	log.Debug().
		Str("connection_id", c.ID).
		Str("frame_type", frame.Type).
		Str("request_id", frame.RequestID).
		Msg("received client frame")

	switch frame.Type {
	case FrameJoin:
		var data JoinFrame
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			h.reply(c, ReplyFrame{RequestID: frame.RequestID, Error: "malformed join data"})
			return
		}
		h.join(ctx, c, frame.RequestID, data)

	case FramePlaceBid:
		var data PlaceBidFrame
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			h.reply(c, ReplyFrame{RequestID: frame.RequestID, Error: "malformed bid data"})
			return
		}
		h.placeBid(ctx, c, frame.RequestID, data)

	case FrameLeave:
		rooms, err := h.service.Leave(ctx, c.ID)
		if err != nil {
			h.reply(c, ReplyFrame{RequestID: frame.RequestID, Error: err.Error()})
			return
		}
		h.reply(c, ReplyFrame{RequestID: frame.RequestID, OK: true, Data: LeaveReply{Rooms: rooms}})

	default:
		h.reply(c, ReplyFrame{
			RequestID: frame.RequestID,
			Error:     fmt.Errorf("%w: %q", ErrUnknownFrame, frame.Type).Error(),
		})
	}
}

// HandleDisconnect leaves every room the connection joined
func (h *WebSocketHandler) HandleDisconnect(c *Connection) {
	h.mu.Lock()
	delete(h.identities, c.ID)
	h.mu.Unlock()

	if _, err := h.service.Leave(context.Background(), c.ID); err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to leave rooms on disconnect")
	}
}

func (h *WebSocketHandler) join(ctx context.Context, c *Connection, requestID string, data JoinFrame) {
	cmd := JoinCommand{
		RoomID:        data.RoomID,
		UserID:        firstNonEmpty(data.UserID, c.UserID),
		DisplayName:   firstNonEmpty(data.DisplayName, c.DisplayName),
		Role:          firstNonEmpty(data.Role, c.Role),
		ConnectionID:  c.ID,
		StartingPrice: data.StartingPrice,
	}
	// the snapshot itself reaches the client as a room-state-snapshot event
	if _, err := h.service.Join(ctx, cmd); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Str("room_id", data.RoomID).Msg("join refused")
		h.reply(c, ReplyFrame{RequestID: requestID, Error: err.Error()})
		return
	}

	h.mu.Lock()
	h.identities[c.ID] = identity{userID: cmd.UserID, displayName: firstNonEmpty(cmd.DisplayName, cmd.UserID)}
	h.mu.Unlock()

	h.reply(c, ReplyFrame{RequestID: requestID, OK: true})
}

func (h *WebSocketHandler) placeBid(ctx context.Context, c *Connection, requestID string, data PlaceBidFrame) {
	h.mu.Lock()
	who, joined := h.identities[c.ID]
	h.mu.Unlock()
	if !joined {
		who = identity{
			userID:      firstNonEmpty(data.UserID, c.UserID),
			displayName: firstNonEmpty(data.DisplayName, c.DisplayName),
		}
	}

	result, err := h.service.PlaceBid(ctx, BidCommand{
		RoomID:       data.RoomID,
		UserID:       who.userID,
		DisplayName:  who.displayName,
		Amount:       data.Amount,
		ConnectionID: c.ID,
	})
	if err != nil {
		h.reply(c, ReplyFrame{RequestID: requestID, Error: err.Error()})
		return
	}
	h.reply(c, ReplyFrame{RequestID: requestID, OK: result.Accepted, Error: result.Reason, Data: result})
}

func (h *WebSocketHandler) reply(c *Connection, reply ReplyFrame) {
	reply.Type = FrameReply
	data, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to encode reply")
		return
	}
	h.connectionManager.SendRaw(c.ID, data)
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/room", h.HandleRoomConnection)
	r.Get("/ws/stats", h.HandleConnectionStats)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
