package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nexahaul/bidroom/go/internal/bidroom/room"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrRoomExists = errors.New("room already exists")

// Config controls room defaults and how long completed rooms are kept around
type Config struct {
	Defaults room.Settings
	// Retention is how long a terminated room stays addressable. Zero keeps rooms forever.
	Retention     time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns the default registry configuration
func DefaultConfig() Config {
	return Config{
		Defaults:      room.DefaultSettings(),
		Retention:     time.Hour,
		SweepInterval: time.Minute,
	}
}

// Registry maps room ids to live rooms. The lock only guards lookup and insertion; room state is
// protected by each room's own lock.
type Registry struct {
	cfg   Config
	clock room.Clock
	pub   room.Publisher

	mu    sync.RWMutex
	rooms map[string]*room.Room
}

// New creates an empty registry
func New(cfg Config, clock room.Clock, pub room.Publisher) *Registry {
	return &Registry{
		cfg:   cfg,
		clock: clock,
		pub:   pub,
		rooms: make(map[string]*room.Room),
	}
}

// GetOrCreate returns the room for roomID, creating it when absent. A zero startingPrice means the
// configured default. The price of an existing room is never changed.
func (r *Registry) GetOrCreate(roomID string, startingPrice decimal.Decimal) (*room.Room, error) {
	if rm, ok := r.Get(roomID); ok {
		return rm, nil
	}

	settings := r.cfg.Defaults
	if !startingPrice.IsZero() {
		settings.StartingPrice = startingPrice
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("create room %s: %w", roomID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[roomID]; ok {
		return rm, nil
	}
	rm := room.New(roomID, settings, r.clock, r.pub)
	r.rooms[roomID] = rm

	log.Info().
		Str("room_id", roomID).
		Str("starting_price", settings.StartingPrice.String()).
		Msg("bid room created")
	return rm, nil
}

// Create registers a room with explicit settings and fails if the id is taken
func (r *Registry) Create(roomID string, settings room.Settings) (*room.Room, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("create room %s: %w", roomID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, roomID)
	}
	rm := room.New(roomID, settings, r.clock, r.pub)
	r.rooms[roomID] = rm

	log.Info().
		Str("room_id", roomID).
		Str("starting_price", settings.StartingPrice.String()).
		Msg("bid room created")
	return rm, nil
}

// Get returns the room for roomID if it exists
func (r *Registry) Get(roomID string) (*room.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}

// Len returns the number of registered rooms
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Rooms returns every registered room ordered by id
func (r *Registry) Rooms() []*room.Room {
	r.mu.RLock()
	out := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Sweep evicts rooms that terminated more than the retention period ago and returns their ids
func (r *Registry) Sweep() []string {
	if r.cfg.Retention <= 0 {
		return nil
	}
	cutoff := r.clock.Now().Add(-r.cfg.Retention)

	// room locks are taken outside the registry lock
	var expired []string
	for _, rm := range r.Rooms() {
		if at, done := rm.TerminatedAt(); done && !at.After(cutoff) {
			expired = append(expired, rm.ID())
		}
	}
	if len(expired) == 0 {
		return nil
	}

	r.mu.Lock()
	evicted := make([]*room.Room, 0, len(expired))
	for _, id := range expired {
		if rm, ok := r.rooms[id]; ok {
			delete(r.rooms, id)
			evicted = append(evicted, rm)
		}
	}
	r.mu.Unlock()

	for _, rm := range evicted {
		rm.Close()
		log.Info().Str("room_id", rm.ID()).Msg("evicted completed bid room")
	}
	return expired
}

// RunJanitor sweeps on every SweepInterval until ctx is cancelled
func (r *Registry) RunJanitor(ctx context.Context) error {
	if r.cfg.Retention <= 0 || r.cfg.SweepInterval <= 0 {
		log.Info().Msg("room eviction disabled")
		<-ctx.Done()
		return nil
	}

	ticker := r.clock.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	log.Info().
		Dur("retention", r.cfg.Retention).
		Dur("sweep_interval", r.cfg.SweepInterval).
		Msg("room janitor started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if evicted := r.Sweep(); len(evicted) > 0 {
				log.Debug().Int("evicted", len(evicted)).Int("remaining", r.Len()).Msg("janitor sweep")
			}
		}
	}
}

// Close stops the countdowns of every room, used on shutdown
func (r *Registry) Close() {
	for _, rm := range r.Rooms() {
		rm.Close()
	}
}
