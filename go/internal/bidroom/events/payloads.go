package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event payload types that are shared between the room engine, the gateway and the relays.

func init() {
	// Clients read amounts as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Type identifies the kind of a room event
type Type string

const (
	TypeRoomState         Type = "room-state-snapshot"
	TypeBiddingStarted    Type = "bidding-started"
	TypeBidUpdate         Type = "bid-update"
	TypeTimerUpdate       Type = "timer-update"
	TypeParticipantUpdate Type = "participant-update"
	TypeBiddingCompleted  Type = "bidding-completed"
	TypeBidRejected       Type = "bid-rejected"
)

// Payload is the body of a room event. The set of implementations is closed to this package.
type Payload interface {
	Type() Type
	isPayload()
}

// BidView is the public form of an accepted bid
type BidView struct {
	UserID      string          `json:"userId"`
	DisplayName string          `json:"displayName"`
	Amount      decimal.Decimal `json:"amount"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ParticipantView is the public form of a participant
type ParticipantView struct {
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// RoomStatePayload is a full point-in-time read of a room. It is unicast to a joining session.
type RoomStatePayload struct {
	RoomID                   string            `json:"roomId"`
	StartingPrice            decimal.Decimal   `json:"startingPrice"`
	CurrentLowestBid         decimal.Decimal   `json:"currentLowestBid"`
	BidHistory               []BidView         `json:"bidHistory"`
	MainSecondsRemaining     int               `json:"mainSecondsRemaining"`
	CooldownSecondsRemaining int               `json:"cooldownSecondsRemaining"`
	MainActive               bool              `json:"mainActive"`
	CooldownActive           bool              `json:"cooldownActive"`
	BiddingStarted           bool              `json:"biddingStarted"`
	Active                   bool              `json:"active"`
	ContractorCount          int               `json:"contractorCount"`
	Participants             []ParticipantView `json:"participants"`
	Winner                   *string           `json:"winner"`
	FinalAmount              *decimal.Decimal  `json:"finalAmount"`
	Reason                   *string           `json:"reason"`
}

// BiddingStartedPayload is broadcast once, when the contractor threshold is first met
type BiddingStartedPayload struct {
	ContractorCount int `json:"contractorCount"`
}

// BidUpdatePayload is broadcast for every accepted bid
type BidUpdatePayload struct {
	Amount            decimal.Decimal `json:"amount"`
	BidderDisplayName string          `json:"bidderDisplayName"`
	BidHistory        []BidView       `json:"bidHistory"`
}

// TimerUpdatePayload is broadcast on every countdown tick and carries both counters
type TimerUpdatePayload struct {
	MainSecondsRemaining     int  `json:"mainSecondsRemaining"`
	CooldownSecondsRemaining int  `json:"cooldownSecondsRemaining"`
	MainActive               bool `json:"mainActive"`
}

// ParticipantUpdatePayload is broadcast when the participant list changes
type ParticipantUpdatePayload struct {
	ParticipantDisplayNames []string `json:"participantDisplayNames"`
	ContractorCount         int      `json:"contractorCount"`
}

// BiddingCompletedPayload is broadcast exactly once per room, at termination
type BiddingCompletedPayload struct {
	Winner       *string         `json:"winner"`
	WinnerUserID *string         `json:"winnerUserId,omitempty"`
	FinalAmount  decimal.Decimal `json:"finalAmount"`
	Reason       string          `json:"reason"`
	BidCount     int             `json:"bidCount"`
}

// BidRejectedPayload is unicast to the session whose bid was rejected
type BidRejectedPayload struct {
	Reason string `json:"reason"`
}

func (RoomStatePayload) Type() Type         { return TypeRoomState }
func (BiddingStartedPayload) Type() Type    { return TypeBiddingStarted }
func (BidUpdatePayload) Type() Type         { return TypeBidUpdate }
func (TimerUpdatePayload) Type() Type       { return TypeTimerUpdate }
func (ParticipantUpdatePayload) Type() Type { return TypeParticipantUpdate }
func (BiddingCompletedPayload) Type() Type  { return TypeBiddingCompleted }
func (BidRejectedPayload) Type() Type       { return TypeBidRejected }

func (RoomStatePayload) isPayload()         {}
func (BiddingStartedPayload) isPayload()    {}
func (BidUpdatePayload) isPayload()         {}
func (TimerUpdatePayload) isPayload()       {}
func (ParticipantUpdatePayload) isPayload() {}
func (BiddingCompletedPayload) isPayload()  {}
func (BidRejectedPayload) isPayload()       {}
