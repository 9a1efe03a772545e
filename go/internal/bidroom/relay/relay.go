// Package relay forwards room broadcasts to a NATS JetStream stream so other services can follow
// auctions without holding a websocket.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/rs/zerolog/log"
)

type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int
	DuplicateWindow time.Duration // Window for duplicate detection
	PublishTimeout  time.Duration
	BufferSize      int
}

func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "BIDROOM_EVENTS",
		SubjectPrefix:   "bidroom.events",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
		PublishTimeout:  5 * time.Second,
		BufferSize:      4096,
	}
}

// streamPublisher is the part of jetstream.JetStream the relay publishes through
type streamPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Relay queues room events and publishes them to JetStream from a single goroutine, which keeps
// each room's events in order on the stream.
type Relay struct {
	nc     *nats.Conn
	js     streamPublisher
	config Config
	queue  chan events.Event
}

// Connect dials NATS and makes sure the event stream exists
func Connect(ctx context.Context, cfg Config) (*Relay, error) {
	opts := []nats.Option{
		nats.Name("bidroom-relay"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, cfg); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	r := newRelay(js, cfg)
	r.nc = nc
	return r, nil
}

func newRelay(js streamPublisher, cfg Config) *Relay {
	return &Relay{
		js:     js,
		config: cfg,
		queue:  make(chan events.Event, cfg.BufferSize),
	}
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg Config) error {
	sc := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Bid room events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    cfg.Replicas,
		Duplicates:  cfg.DuplicateWindow,
	}

	stream, err := js.CreateOrUpdateStream(ctx, sc)
	if err != nil {
		return err
	}
	log.Info().
		Str("stream", stream.CachedInfo().Config.Name).
		Strs("subjects", sc.Subjects).
		Msg("JetStream stream ready")
	return nil
}

// Handle queues a room event. It never blocks; a full queue drops the event.
func (r *Relay) Handle(ev events.Event) {
	select {
	case r.queue <- ev:
	default:
		log.Warn().
			Str("room_id", ev.RoomID).
			Str("event_type", string(ev.Type())).
			Msg("relay queue full, dropping event")
	}
}

// Run publishes queued events until ctx is cancelled
func (r *Relay) Run(ctx context.Context) error {
	log.Info().Str("stream", r.config.StreamName).Msg("event relay started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("pending", len(r.queue)).Msg("event relay stopped")
			return nil
		case ev := <-r.queue:
			if err := r.publish(ctx, ev); err != nil {
				log.Error().
					Err(err).
					Str("room_id", ev.RoomID).
					Str("event_id", ev.ID).
					Msg("failed to relay event")
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := Subject(r.config.SubjectPrefix, ev)
	pubCtx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
	defer cancel()

	ack, err := r.js.PublishMsg(pubCtx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.Type())},
			"Room-ID":    []string{ev.RoomID},
			"Event-ID":   []string{ev.ID},
		},
	},
		jetstream.WithMsgID(ev.ID),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", ev.ID).
		Uint64("sequence", ack.Sequence).
		Msg("relayed event")
	return nil
}

// Check reports whether events can currently be relayed
func (r *Relay) Check(ctx context.Context) error {
	if r.nc != nil && !r.nc.IsConnected() {
		return fmt.Errorf("NATS %s", strings.ToLower(r.nc.Status().String()))
	}
	if len(r.queue) == cap(r.queue) {
		return fmt.Errorf("relay queue full (%d events)", cap(r.queue))
	}
	return nil
}

// Close drops the NATS connection
func (r *Relay) Close() error {
	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

// Subject returns <prefix>.<roomID>.<type>. Characters NATS treats as separators or wildcards are
// replaced in the room id so one room always maps to one subject token.
func Subject(prefix string, ev events.Event) string {
	roomID := subjectReplacer.Replace(ev.RoomID)
	if roomID == "" {
		roomID = "_"
	}
	return prefix + "." + roomID + "." + string(ev.Type())
}
