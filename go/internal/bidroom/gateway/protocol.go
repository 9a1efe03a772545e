package gateway

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Frame types a client may send over the room socket, plus the reply type
const (
	FrameJoin     = "join"
	FramePlaceBid = "place-bid"
	FrameLeave    = "leave"
	FrameReply    = "reply"
)

// ClientFrame is a command sent by a client. RequestID is echoed in the reply.
type ClientFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// JoinFrame is the data of a join frame. Empty identity fields fall back to the query parameters
// the socket was opened with.
type JoinFrame struct {
	RoomID        string          `json:"roomId"`
	UserID        string          `json:"userId,omitempty"`
	DisplayName   string          `json:"displayName,omitempty"`
	Role          string          `json:"role,omitempty"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
}

// PlaceBidFrame is the data of a place-bid frame
type PlaceBidFrame struct {
	RoomID      string          `json:"roomId"`
	Amount      decimal.Decimal `json:"amount"`
	UserID      string          `json:"userId,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
}

// ReplyFrame acknowledges a client frame
type ReplyFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// LeaveReply lists the rooms a leave frame removed the connection from
type LeaveReply struct {
	Rooms []string `json:"rooms"`
}
