package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nexahaul/bidroom/go/internal/bidroom/health"
	"github.com/nexahaul/bidroom/go/internal/bidroom/registry"
	"github.com/nexahaul/bidroom/go/internal/bidroom/room"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// ServerConfig holds configuration for the HTTP surface of the gateway
type ServerConfig struct {
	AllowedOrigins []string
	// Reflection exposes the gRPC reflection handlers for BidRoomService
	Reflection bool
}

// DefaultServerConfig returns a configuration that allows every origin
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		AllowedOrigins: []string{"*"},
		Reflection:     true,
	}
}

// Server puts the websocket, REST and RPC transports of the command gateway on one handler
type Server struct {
	config      ServerConfig
	connections *ConnectionManager
	commands    *Service

	wsHandler    *WebSocketHandler
	stateHandler *StateHandler
	rpcServer    *RPCServer
	readiness    *health.Checker
}

// NewServer creates the gateway server. The connection manager must be the publisher the
// registry's rooms were created with.
func NewServer(config ServerConfig, connections *ConnectionManager, rooms *registry.Registry, clock room.Clock) *Server {
	commands := NewService(rooms, connections, clock)
	return &Server{
		config:       config,
		connections:  connections,
		commands:     commands,
		wsHandler:    NewWebSocketHandler(connections, commands),
		stateHandler: NewStateHandler(commands),
		rpcServer:    NewRPCServer(commands),
	}
}

// Commands returns the command gateway shared by every transport
func (s *Server) Commands() *Service {
	return s.commands
}

// SetReadiness serves the checker at /health/ready and its gauges at /metrics
func (s *Server) SetReadiness(c *health.Checker) {
	s.readiness = c
}

// Start runs the connection manager until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	log.Info().Msg("starting bid room gateway")
	return s.connections.Start(ctx)
}

// Handler builds the HTTP handler with routing, CORS and h2c
func (s *Server) Handler() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	if s.readiness != nil {
		r.Method(http.MethodGet, "/health/ready", s.readiness)
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			if _, err := w.Write([]byte(s.readiness.Export(r.Context()))); err != nil {
				log.Error().Err(err).Msg("failed to write metrics")
			}
		})
	}

	s.wsHandler.RegisterRoutes(r)
	s.stateHandler.RegisterStateRoutes(r)
	r.Mount(NewBidRoomServiceHandler(s.rpcServer))

	if s.config.Reflection {
		if err := RegisterReflection(r); err != nil {
			return nil, err
		}
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	log.Info().Msg("bid room gateway routes registered")
	return h2c.NewHandler(c.Handler(r), &http2.Server{}), nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
