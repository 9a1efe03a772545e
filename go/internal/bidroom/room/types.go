package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/shopspring/decimal"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Publisher fans room events out to subscribed sessions.
// Implementations must not block: the room calls them while holding its lock.
type Publisher interface {
	Subscribe(roomID, connectionID string)
	Publish(roomID string, ev events.Event)
	SendTo(connectionID string, ev events.Event)
}

// Settings are the per-room auction parameters
type Settings struct {
	StartingPrice    decimal.Decimal
	MainDuration     int // ticks
	CooldownDuration int // ticks
	StartThreshold   int // contractors needed to start bidding
	TickInterval     time.Duration
}

// DefaultSettings returns a 30 minute auction with a 60 second cooldown, started by two contractors
func DefaultSettings() Settings {
	return Settings{
		StartingPrice:    decimal.NewFromInt(1000000),
		MainDuration:     1800,
		CooldownDuration: 60,
		StartThreshold:   2,
		TickInterval:     time.Second,
	}
}

// Validate checks that the settings describe a runnable auction
func (s Settings) Validate() error {
	switch {
	case !s.StartingPrice.IsPositive():
		return fmt.Errorf("%w: starting price must be positive", ErrInvalidSettings)
	case s.MainDuration <= 0:
		return fmt.Errorf("%w: main duration must be positive", ErrInvalidSettings)
	case s.CooldownDuration <= 0:
		return fmt.Errorf("%w: cooldown duration must be positive", ErrInvalidSettings)
	case s.StartThreshold <= 0:
		return fmt.Errorf("%w: start threshold must be positive", ErrInvalidSettings)
	case s.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalidSettings)
	}
	return nil
}

// State is the lifecycle position of a room
type State int

const (
	StateWaiting State = iota
	StateBidding
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateBidding:
		return "BIDDING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Role of a participant
type Role string

const (
	RoleContractor Role = "contractor"
	RoleShipper    Role = "shipper"
)

// ErrInvalidRole is returned by ParseRole for anything but contractor or shipper
var ErrInvalidRole = errors.New("invalid role")

// ParseRole validates a role name
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleContractor, RoleShipper:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Participant is a session connected to a room
type Participant struct {
	UserID       string
	DisplayName  string
	Role         Role
	ConnectionID string
	JoinedAt     time.Time
}

// Bid is an accepted bid. Bids are never mutated once recorded.
type Bid struct {
	UserID      string
	DisplayName string
	Amount      decimal.Decimal
	Timestamp   time.Time
}

// EndReason explains why bidding completed
type EndReason string

const (
	ReasonTimeLimit       EndReason = "time limit reached"
	ReasonTimeLimitNoBids EndReason = "time limit reached, no bids"
	ReasonCooldown        EndReason = "cooldown expired"
	ReasonCooldownNoBids  EndReason = "cooldown expired, no bids"
	reasonInternalFailure EndReason = "internal error"
)

// Bid rejections. These are normal auction outcomes, not faults.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrBiddingNotStarted = errors.New("bidding not started")
	ErrBiddingEnded      = errors.New("bidding ended")
	ErrBidNotLower       = errors.New("bid not lower than current")
	ErrInvalidAmount     = errors.New("invalid bid amount")
)

// ErrInvalidSettings is wrapped by Settings.Validate
var ErrInvalidSettings = errors.New("invalid room settings")

// IsRejection reports whether err is one of the bid rejection outcomes
func IsRejection(err error) bool {
	return errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrBiddingNotStarted) ||
		errors.Is(err, ErrBiddingEnded) ||
		errors.Is(err, ErrBidNotLower) ||
		errors.Is(err, ErrInvalidAmount)
}
