package gateway

import (
	"errors"

	"github.com/nexahaul/bidroom/go/internal/bidroom/room"
)

// Command validation errors. Bid rejections are not errors here, they come back in BidResult.
var (
	ErrMissingRoomID        = errors.New("room id is required")
	ErrMissingUserID        = errors.New("user id is required")
	ErrMissingConnectionID  = errors.New("connection id is required")
	ErrInvalidStartingPrice = errors.New("starting price must be positive")
	ErrUnknownFrame         = errors.New("unknown frame type")
)

// isInvalidArgument reports whether err was caused by a malformed command
func isInvalidArgument(err error) bool {
	return errors.Is(err, ErrMissingRoomID) ||
		errors.Is(err, ErrMissingUserID) ||
		errors.Is(err, ErrMissingConnectionID) ||
		errors.Is(err, ErrInvalidStartingPrice) ||
		errors.Is(err, ErrUnknownFrame) ||
		errors.Is(err, room.ErrInvalidRole) ||
		errors.Is(err, room.ErrInvalidSettings)
}
