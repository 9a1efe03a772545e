package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/nexahaul/bidroom/go/internal/bidroom/registry"
	"github.com/nexahaul/bidroom/go/internal/bidroom/room"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Broadcaster is the part of the connection hub the command gateway needs
type Broadcaster interface {
	SendTo(connectionID string, ev events.Event)
	Unsubscribe(connectionID string) []string
}

// JoinCommand asks to enter a room, creating it on first use
type JoinCommand struct {
	RoomID       string
	UserID       string
	DisplayName  string
	Role         string
	ConnectionID string
	// StartingPrice applies only when the room does not exist yet. Zero means the default.
	StartingPrice decimal.Decimal
}

// BidCommand offers a price in a room
type BidCommand struct {
	RoomID       string
	UserID       string
	DisplayName  string
	Amount       decimal.Decimal
	ConnectionID string
}

// BidResult is the acknowledgement for a bid. Rejections carry one of the fixed reasons.
type BidResult struct {
	Accepted bool             `json:"accepted"`
	Reason   string           `json:"reason,omitempty"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

// RoomSummary is a short listing entry for a room
type RoomSummary struct {
	RoomID           string          `json:"roomId"`
	Active           bool            `json:"active"`
	BiddingStarted   bool            `json:"biddingStarted"`
	CurrentLowestBid decimal.Decimal `json:"currentLowestBid"`
	ContractorCount  int             `json:"contractorCount"`
	BidCount         int             `json:"bidCount"`
}

// Service is the command gateway: it validates commands from every transport and routes them to
// rooms. It also remembers which rooms each connection joined so a disconnect can leave them all.
type Service struct {
	rooms     *registry.Registry
	broadcast Broadcaster
	clock     room.Clock

	mu       sync.Mutex
	sessions map[string]map[string]struct{} // connection id -> room ids
}

// NewService creates a command gateway over the registry
func NewService(rooms *registry.Registry, broadcast Broadcaster, clock room.Clock) *Service {
	return &Service{
		rooms:     rooms,
		broadcast: broadcast,
		clock:     clock,
		sessions:  make(map[string]map[string]struct{}),
	}
}

// Join adds the user to the room and returns the room snapshot
func (s *Service) Join(ctx context.Context, cmd JoinCommand) (events.RoomStatePayload, error) {
	cmd.RoomID = strings.TrimSpace(cmd.RoomID)
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	if cmd.RoomID == "" {
		return events.RoomStatePayload{}, ErrMissingRoomID
	}
	if cmd.UserID == "" {
		return events.RoomStatePayload{}, ErrMissingUserID
	}
	role, err := room.ParseRole(cmd.Role)
	if err != nil {
		return events.RoomStatePayload{}, err
	}
	if cmd.StartingPrice.IsNegative() {
		return events.RoomStatePayload{}, fmt.Errorf("%w: %s", ErrInvalidStartingPrice, cmd.StartingPrice)
	}
	if cmd.DisplayName == "" {
		cmd.DisplayName = cmd.UserID
	}

	rm, err := s.rooms.GetOrCreate(cmd.RoomID, cmd.StartingPrice)
	if err != nil {
		return events.RoomStatePayload{}, fmt.Errorf("failed to open room: %w", err)
	}

	if cmd.ConnectionID != "" {
		s.mu.Lock()
		if s.sessions[cmd.ConnectionID] == nil {
			s.sessions[cmd.ConnectionID] = make(map[string]struct{})
		}
		s.sessions[cmd.ConnectionID][cmd.RoomID] = struct{}{}
		s.mu.Unlock()
	}

	snap := rm.Join(room.Participant{
		UserID:       cmd.UserID,
		DisplayName:  cmd.DisplayName,
		Role:         role,
		ConnectionID: cmd.ConnectionID,
	})
	return snap, nil
}

// PlaceBid submits a bid. Auction rejections are returned in the result and, when the command
// names a connection, also sent to it as a bid-rejected event.
func (s *Service) PlaceBid(ctx context.Context, cmd BidCommand) (BidResult, error) {
	if cmd.RoomID == "" {
		return BidResult{}, ErrMissingRoomID
	}
	if cmd.UserID == "" {
		return BidResult{}, ErrMissingUserID
	}
	if cmd.DisplayName == "" {
		cmd.DisplayName = cmd.UserID
	}

	rm, ok := s.rooms.Get(cmd.RoomID)
	if !ok {
		return s.reject(cmd, room.ErrRoomNotFound), nil
	}

	bid, err := rm.PlaceBid(cmd.UserID, cmd.DisplayName, cmd.Amount)
	if err != nil {
		if room.IsRejection(err) {
			return s.reject(cmd, err), nil
		}
		return BidResult{}, fmt.Errorf("failed to place bid: %w", err)
	}
	return BidResult{Accepted: true, Amount: &bid.Amount}, nil
}

func (s *Service) reject(cmd BidCommand, reason error) BidResult {
	if cmd.ConnectionID != "" {
		s.broadcast.SendTo(cmd.ConnectionID, events.New(cmd.RoomID, 0, s.clock.Now(), events.BidRejectedPayload{
			Reason: reason.Error(),
		}))
	}
	return BidResult{Accepted: false, Reason: reason.Error()}
}

// Leave removes the connection from every room it joined and returns those room ids.
// Leaving twice is a no-op.
func (s *Service) Leave(ctx context.Context, connectionID string) ([]string, error) {
	if connectionID == "" {
		return nil, ErrMissingConnectionID
	}

	s.mu.Lock()
	joined := s.sessions[connectionID]
	delete(s.sessions, connectionID)
	s.mu.Unlock()

	for _, roomID := range s.broadcast.Unsubscribe(connectionID) {
		if joined == nil {
			joined = make(map[string]struct{})
		}
		joined[roomID] = struct{}{}
	}

	var left []string
	for roomID := range joined {
		rm, ok := s.rooms.Get(roomID)
		if !ok {
			continue
		}
		if rm.Leave(connectionID) {
			left = append(left, roomID)
		}
	}

	if len(left) > 0 {
		log.Debug().
			Str("connection_id", connectionID).
			Strs("rooms", left).
			Msg("connection left rooms")
	}
	return left, nil
}

// Snapshot returns the current state of a room
func (s *Service) Snapshot(ctx context.Context, roomID string) (events.RoomStatePayload, error) {
	if roomID == "" {
		return events.RoomStatePayload{}, ErrMissingRoomID
	}
	rm, ok := s.rooms.Get(roomID)
	if !ok {
		return events.RoomStatePayload{}, fmt.Errorf("%w: %s", room.ErrRoomNotFound, roomID)
	}
	return rm.Snapshot(), nil
}

// ListRooms summarizes every registered room
func (s *Service) ListRooms(ctx context.Context) []RoomSummary {
	rooms := s.rooms.Rooms()
	out := make([]RoomSummary, 0, len(rooms))
	for _, rm := range rooms {
		snap := rm.Snapshot()
		out = append(out, RoomSummary{
			RoomID:           snap.RoomID,
			Active:           snap.Active,
			BiddingStarted:   snap.BiddingStarted,
			CurrentLowestBid: snap.CurrentLowestBid,
			ContractorCount:  snap.ContractorCount,
			BidCount:         len(snap.BidHistory),
		})
	}
	return out
}

// isNotFound reports whether err means the room does not exist
func isNotFound(err error) bool {
	return errors.Is(err, room.ErrRoomNotFound)
}
