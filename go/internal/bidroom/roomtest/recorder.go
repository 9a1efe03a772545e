// Package roomtest provides an in-memory publisher for tests of the room engine and its callers.
package roomtest

import (
	"sync"

	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
)

// Recorder is a Publisher that keeps every event it is handed, in order
type Recorder struct {
	mu            sync.Mutex
	broadcasts    []events.Event
	unicasts      map[string][]events.Event
	subscriptions map[string]map[string]struct{} // connection -> rooms
}

// NewRecorder returns an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		unicasts:      make(map[string][]events.Event),
		subscriptions: make(map[string]map[string]struct{}),
	}
}

func (r *Recorder) Subscribe(roomID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscriptions[connectionID] == nil {
		r.subscriptions[connectionID] = make(map[string]struct{})
	}
	r.subscriptions[connectionID][roomID] = struct{}{}
}

// Unsubscribe drops every subscription of the connection and returns the rooms it had
func (r *Recorder) Unsubscribe(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rooms []string
	for roomID := range r.subscriptions[connectionID] {
		rooms = append(rooms, roomID)
	}
	delete(r.subscriptions, connectionID)
	return rooms
}

func (r *Recorder) Publish(roomID string, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, ev)
}

func (r *Recorder) SendTo(connectionID string, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unicasts[connectionID] = append(r.unicasts[connectionID], ev)
}

// Broadcasts returns the events published to roomID
func (r *Recorder) Broadcasts(roomID string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.broadcasts {
		if ev.RoomID == roomID {
			out = append(out, ev)
		}
	}
	return out
}

// OfType returns the events published to roomID with the given type
func (r *Recorder) OfType(roomID string, t events.Type) []events.Event {
	var out []events.Event
	for _, ev := range r.Broadcasts(roomID) {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

// Unicasts returns the events sent directly to a connection
func (r *Recorder) Unicasts(connectionID string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.unicasts[connectionID]...)
}

// Subscribed reports whether the connection is subscribed to roomID
func (r *Recorder) Subscribed(roomID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subscriptions[connectionID][roomID]
	return ok
}
