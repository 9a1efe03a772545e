package room

import (
	"github.com/jonboulle/clockwork"
	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/rs/zerolog/log"
)

type countdownKind string

const (
	kindMain     countdownKind = "main"
	kindCooldown countdownKind = "cooldown"
)

// countdown is one cancelable per-second task. The pointer itself is the cancellation token: a
// tick is only applied while the room still references the countdown that produced it.
type countdown struct {
	kind   countdownKind
	ticker clockwork.Ticker
	stop   chan struct{}
}

// startMainLocked starts the main countdown. Starting it again while it runs is a no-op.
func (r *Room) startMainLocked() {
	if r.main != nil {
		return
	}
	r.mainRemaining = r.settings.MainDuration
	r.main = r.launchLocked(kindMain)
}

// resetCooldownLocked cancels any running cooldown and starts a fresh one at the full duration.
// The old task is stopped before the new one exists, so a stale tick can never land on the new
// counter.
func (r *Room) resetCooldownLocked() {
	cancelCountdown(r.cooldown)
	r.cooldownRemaining = r.settings.CooldownDuration
	r.cooldown = r.launchLocked(kindCooldown)
}

func (r *Room) stopCountdownsLocked() {
	cancelCountdown(r.main)
	cancelCountdown(r.cooldown)
	r.main = nil
	r.cooldown = nil
}

func (r *Room) launchLocked(kind countdownKind) *countdown {
	c := &countdown{
		kind:   kind,
		ticker: r.clock.NewTicker(r.settings.TickInterval),
		stop:   make(chan struct{}),
	}
	go r.runCountdown(c)
	return c
}

func cancelCountdown(c *countdown) {
	if c == nil {
		return
	}
	c.ticker.Stop()
	close(c.stop)
}

func (r *Room) runCountdown(c *countdown) {
	defer c.ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-c.ticker.Chan():
			if !r.tick(c) {
				return
			}
		}
	}
}

// tick applies one second to the countdown and reports whether it should keep running
func (r *Room) tick(c *countdown) (alive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("room_id", r.id).
				Str("countdown", string(c.kind)).
				Interface("panic", rec).
				Msg("countdown tick panicked, room halted")
			r.failLocked()
			alive = false
		}
	}()

	if r.state != StateBidding || !r.ownsLocked(c) {
		return false
	}

	var remaining int
	switch c.kind {
	case kindMain:
		r.mainRemaining--
		remaining = r.mainRemaining
	case kindCooldown:
		r.cooldownRemaining--
		remaining = r.cooldownRemaining
	}

	r.emitLocked(events.TimerUpdatePayload{
		MainSecondsRemaining:     r.mainRemaining,
		CooldownSecondsRemaining: r.cooldownRemaining,
		MainActive:               r.main != nil,
	})

	if remaining <= 0 {
		r.terminateLocked(c.kind)
		return false
	}
	return true
}

func (r *Room) ownsLocked(c *countdown) bool {
	switch c.kind {
	case kindMain:
		return r.main == c
	case kindCooldown:
		return r.cooldown == c
	}
	return false
}
