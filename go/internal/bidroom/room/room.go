package room

import (
	"sync"
	"time"

	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Room is one reverse auction. Every read and write of its state goes through mu, which makes the
// room the single actor for joins, bids, countdown ticks and termination.
type Room struct {
	id       string
	settings Settings
	clock    Clock
	pub      Publisher

	mu               sync.Mutex
	state            State
	currentLowestBid decimal.Decimal
	bidHistory       []Bid // newest first
	participants     map[string]*Participant
	joinOrder        []string

	mainRemaining     int
	cooldownRemaining int
	main              *countdown
	cooldown          *countdown

	winner       *Bid
	reason       EndReason
	terminatedAt time.Time

	// seq numbers broadcasts so subscribers can check room-scoped ordering
	seq uint64
}

// New creates a room in the waiting state
func New(id string, settings Settings, clock Clock, pub Publisher) *Room {
	return &Room{
		id:                id,
		settings:          settings,
		clock:             clock,
		pub:               pub,
		state:             StateWaiting,
		currentLowestBid:  settings.StartingPrice,
		participants:      make(map[string]*Participant),
		mainRemaining:     settings.MainDuration,
		cooldownRemaining: settings.CooldownDuration,
	}
}

// ID returns the room identifier
func (r *Room) ID() string {
	return r.id
}

// Settings returns the auction parameters the room was created with
func (r *Room) Settings() Settings {
	return r.settings
}

// State returns the current lifecycle state
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TerminatedAt returns when bidding completed, if it has
func (r *Room) TerminatedAt() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminatedAt, r.state == StateTerminated
}

// Join adds a participant or, for a known user id, refreshes its connection, name and role.
// The returned snapshot is also unicast to the joining connection. Sessions joining a terminated
// room get the final snapshot only and are not subscribed.
func (r *Room) Join(p Participant) events.RoomStatePayload {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.participants[p.UserID]; ok {
		existing.ConnectionID = p.ConnectionID
		existing.DisplayName = p.DisplayName
		existing.Role = p.Role
	} else {
		if p.JoinedAt.IsZero() {
			p.JoinedAt = r.clock.Now()
		}
		r.participants[p.UserID] = &p
		r.joinOrder = append(r.joinOrder, p.UserID)
	}

	if r.state == StateTerminated {
		snap := r.snapshotLocked()
		r.sendLocked(p.ConnectionID, snap)
		log.Debug().
			Str("room_id", r.id).
			Str("user_id", p.UserID).
			Msg("late join to completed room")
		return snap
	}

	started := r.maybeStartBiddingLocked()
	snap := r.snapshotLocked()

	if p.ConnectionID != "" {
		r.pub.Subscribe(r.id, p.ConnectionID)
	}
	r.sendLocked(p.ConnectionID, snap)
	r.emitLocked(r.participantUpdateLocked())
	if started {
		r.emitLocked(events.BiddingStartedPayload{ContractorCount: r.contractorCountLocked()})
	}

	log.Info().
		Str("room_id", r.id).
		Str("user_id", p.UserID).
		Str("role", string(p.Role)).
		Int("contractors", r.contractorCountLocked()).
		Msg("participant joined bid room")

	return snap
}

// Leave removes the participant currently bound to connectionID. It is a no-op for unknown or
// superseded connections and reports whether anything was removed.
func (r *Room) Leave(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	var userID string
	for id, p := range r.participants {
		if p.ConnectionID == connectionID {
			userID = id
			break
		}
	}
	if userID == "" {
		return false
	}

	delete(r.participants, userID)
	for i, id := range r.joinOrder {
		if id == userID {
			r.joinOrder = append(r.joinOrder[:i], r.joinOrder[i+1:]...)
			break
		}
	}

	if r.state != StateTerminated {
		r.emitLocked(r.participantUpdateLocked())
	}

	log.Info().
		Str("room_id", r.id).
		Str("user_id", userID).
		Str("connection_id", connectionID).
		Int("contractors", r.contractorCountLocked()).
		Msg("participant left bid room")
	return true
}

// PlaceBid applies the acceptance rule. A rejection is reported through one of the Err* outcome
// values and leaves the room untouched.
func (r *Room) PlaceBid(userID, displayName string, amount decimal.Decimal) (Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch {
	case r.state == StateWaiting:
		err = ErrBiddingNotStarted
	case r.state == StateTerminated:
		err = ErrBiddingEnded
	case !amount.IsPositive():
		err = ErrInvalidAmount
	case !amount.LessThan(r.currentLowestBid):
		err = ErrBidNotLower
	}
	if err != nil {
		log.Debug().
			Str("room_id", r.id).
			Str("user_id", userID).
			Str("amount", amount.String()).
			Str("reason", err.Error()).
			Msg("bid rejected")
		return Bid{}, err
	}

	bid := Bid{
		UserID:      userID,
		DisplayName: displayName,
		Amount:      amount,
		Timestamp:   r.clock.Now(),
	}
	r.bidHistory = append([]Bid{bid}, r.bidHistory...)
	r.currentLowestBid = amount
	r.resetCooldownLocked()

	r.emitLocked(events.BidUpdatePayload{
		Amount:            amount,
		BidderDisplayName: displayName,
		BidHistory:        r.bidViewsLocked(),
	})

	log.Info().
		Str("room_id", r.id).
		Str("user_id", userID).
		Str("amount", amount.String()).
		Msg("bid accepted")
	return bid, nil
}

// Snapshot returns a full read of the room's public state
func (r *Room) Snapshot() events.RoomStatePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Close stops any running countdowns without completing the auction. Used on eviction and
// process shutdown.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCountdownsLocked()
}

func (r *Room) maybeStartBiddingLocked() bool {
	if r.state != StateWaiting || r.contractorCountLocked() < r.settings.StartThreshold {
		return false
	}
	r.state = StateBidding
	r.startMainLocked()
	r.resetCooldownLocked()

	log.Info().
		Str("room_id", r.id).
		Int("main_duration", r.settings.MainDuration).
		Int("cooldown_duration", r.settings.CooldownDuration).
		Msg("bidding started")
	return true
}

// terminateLocked completes the auction. Every caller goes through the state check, so at most
// one completion is ever emitted.
func (r *Room) terminateLocked(expired countdownKind) {
	if r.state != StateBidding {
		return
	}
	r.state = StateTerminated
	r.terminatedAt = r.clock.Now()
	r.stopCountdownsLocked()

	hasBids := len(r.bidHistory) > 0
	switch {
	case expired == kindMain && hasBids:
		r.reason = ReasonTimeLimit
	case expired == kindMain:
		r.reason = ReasonTimeLimitNoBids
	case hasBids:
		r.reason = ReasonCooldown
	default:
		r.reason = ReasonCooldownNoBids
	}

	completed := events.BiddingCompletedPayload{
		FinalAmount: r.currentLowestBid,
		Reason:      string(r.reason),
		BidCount:    len(r.bidHistory),
	}
	if hasBids {
		winning := r.bidHistory[0]
		r.winner = &winning
		completed.Winner = &winning.DisplayName
		completed.WinnerUserID = &winning.UserID
	}
	r.emitLocked(completed)

	logEvent := log.Info().
		Str("room_id", r.id).
		Str("reason", string(r.reason)).
		Str("final_amount", r.currentLowestBid.String())
	if r.winner != nil {
		logEvent = logEvent.Str("winner", r.winner.DisplayName)
	}
	logEvent.Msg("bidding completed")
}

// failLocked leaves the room terminated after an internal fault without emitting anything
func (r *Room) failLocked() {
	if r.state == StateTerminated {
		r.stopCountdownsLocked()
		return
	}
	r.state = StateTerminated
	r.terminatedAt = r.clock.Now()
	r.reason = reasonInternalFailure
	r.stopCountdownsLocked()
}

func (r *Room) contractorCountLocked() int {
	n := 0
	for _, p := range r.participants {
		if p.Role == RoleContractor {
			n++
		}
	}
	return n
}

func (r *Room) emitLocked(payload events.Payload) {
	r.seq++
	r.pub.Publish(r.id, events.New(r.id, r.seq, r.clock.Now(), payload))
}

func (r *Room) sendLocked(connectionID string, payload events.Payload) {
	if connectionID == "" {
		return
	}
	r.pub.SendTo(connectionID, events.New(r.id, r.seq, r.clock.Now(), payload))
}

func (r *Room) participantUpdateLocked() events.ParticipantUpdatePayload {
	names := make([]string, 0, len(r.joinOrder))
	for _, id := range r.joinOrder {
		names = append(names, r.participants[id].DisplayName)
	}
	return events.ParticipantUpdatePayload{
		ParticipantDisplayNames: names,
		ContractorCount:         r.contractorCountLocked(),
	}
}

func (r *Room) bidViewsLocked() []events.BidView {
	views := make([]events.BidView, len(r.bidHistory))
	for i, b := range r.bidHistory {
		views[i] = events.BidView{
			UserID:      b.UserID,
			DisplayName: b.DisplayName,
			Amount:      b.Amount,
			Timestamp:   b.Timestamp,
		}
	}
	return views
}

func (r *Room) snapshotLocked() events.RoomStatePayload {
	participants := make([]events.ParticipantView, 0, len(r.joinOrder))
	for _, id := range r.joinOrder {
		p := r.participants[id]
		participants = append(participants, events.ParticipantView{
			DisplayName: p.DisplayName,
			Role:        string(p.Role),
		})
	}

	snap := events.RoomStatePayload{
		RoomID:                   r.id,
		StartingPrice:            r.settings.StartingPrice,
		CurrentLowestBid:         r.currentLowestBid,
		BidHistory:               r.bidViewsLocked(),
		MainSecondsRemaining:     r.mainRemaining,
		CooldownSecondsRemaining: r.cooldownRemaining,
		MainActive:               r.main != nil,
		CooldownActive:           r.cooldown != nil,
		BiddingStarted:           r.state != StateWaiting,
		Active:                   r.state != StateTerminated,
		ContractorCount:          r.contractorCountLocked(),
		Participants:             participants,
	}
	if r.state == StateTerminated {
		final := r.currentLowestBid
		reason := string(r.reason)
		snap.FinalAmount = &final
		snap.Reason = &reason
		if r.winner != nil {
			winner := r.winner.DisplayName
			snap.Winner = &winner
		}
	}
	return snap
}
