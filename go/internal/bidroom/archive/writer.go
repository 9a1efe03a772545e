// Package archive persists the outcome of every completed auction to Postgres.
package archive

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/rs/zerolog/log"
)

// Store is where outcomes go
type Store interface {
	SaveOutcome(ctx context.Context, o Outcome) error
}

type WriterConfig struct {
	BufferSize   int
	WriteTimeout time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BufferSize:   1024,
		WriteTimeout: 5 * time.Second,
		MaxRetries:   5,
		RetryDelay:   200 * time.Millisecond,
	}
}

// Writer follows room broadcasts and archives each bidding-completed event together with the
// room's last known bid history. Only the Run goroutine touches history.
type Writer struct {
	store   Store
	clock   clockwork.Clock
	cfg     WriterConfig
	queue   chan events.Event
	history map[string][]events.BidView
}

func NewWriter(store Store, clock clockwork.Clock, cfg WriterConfig) *Writer {
	return &Writer{
		store:   store,
		clock:   clock,
		cfg:     cfg,
		queue:   make(chan events.Event, cfg.BufferSize),
		history: make(map[string][]events.BidView),
	}
}

// Handle queues the events the writer cares about. It never blocks.
func (w *Writer) Handle(ev events.Event) {
	switch ev.Type() {
	case events.TypeBidUpdate, events.TypeBiddingCompleted:
	default:
		return
	}

	select {
	case w.queue <- ev:
	default:
		log.Warn().
			Str("room_id", ev.RoomID).
			Str("event_type", string(ev.Type())).
			Msg("archive queue full, dropping event")
	}
}

// Run archives queued outcomes until ctx is cancelled
func (w *Writer) Run(ctx context.Context) error {
	log.Info().Msg("outcome archive writer started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("pending", len(w.queue)).Msg("outcome archive writer stopped")
			return nil
		case ev := <-w.queue:
			w.process(ctx, ev)
		}
	}
}

func (w *Writer) process(ctx context.Context, ev events.Event) {
	switch p := ev.Payload.(type) {
	case events.BidUpdatePayload:
		w.history[ev.RoomID] = p.BidHistory
	case events.BiddingCompletedPayload:
		outcome := Outcome{
			EventID:      ev.ID,
			RoomID:       ev.RoomID,
			Winner:       p.Winner,
			WinnerUserID: p.WinnerUserID,
			FinalAmount:  p.FinalAmount,
			Reason:       p.Reason,
			BidCount:     p.BidCount,
			BidHistory:   w.history[ev.RoomID],
			CompletedAt:  ev.Timestamp,
		}
		delete(w.history, ev.RoomID)

		if err := w.save(ctx, outcome); err != nil {
			log.Error().
				Err(err).
				Str("room_id", ev.RoomID).
				Str("event_id", ev.ID).
				Msg("failed to archive outcome")
			return
		}
		log.Info().
			Str("room_id", ev.RoomID).
			Str("final_amount", p.FinalAmount.String()).
			Int("bid_count", p.BidCount).
			Msg("archived auction outcome")
	}
}

func (w *Writer) save(ctx context.Context, o Outcome) error {
	var err error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-w.clock.After(w.cfg.RetryDelay):
			}
		}

		writeCtx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
		err = w.store.SaveOutcome(writeCtx, o)
		cancel()
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Str("room_id", o.RoomID).Msg("archive write failed")
	}
	return err
}
