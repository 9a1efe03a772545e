package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nexahaul/bidroom/go/internal/bidroom/events"
	"github.com/rs/zerolog/log"
)

// ConnectionManager owns the websocket connections and fans room events out to them. All
// deliveries go through a single broadcast queue, so events reach every subscriber in the order
// the rooms produced them.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	// Subscriptions in both directions
	roomConnections map[string]map[string]struct{}
	connectionRooms map[string]map[string]struct{}

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
	sinks       []Sink
}

// Sink receives every room broadcast after it was handed to the connections.
// Handle runs on the broadcast goroutine and must not block.
type Sink interface {
	Handle(ev events.Event)
}

// FrameHandler processes what a client sends over its connection
type FrameHandler interface {
	HandleFrame(ctx context.Context, c *Connection, frame []byte)
	HandleDisconnect(c *Connection)
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID          string
	UserID      string
	DisplayName string
	Role        string
	ConnectedAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager
	handler FrameHandler
	ctx     context.Context
	cancel  context.CancelFunc
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one queued delivery. A message with a ConnectionID goes to that connection
// only, otherwise to every subscriber of RoomID.
type BroadcastMessage struct {
	RoomID       string
	ConnectionID string
	Event        *events.Event
	Raw          []byte
}

// ConnectionStats describes the live connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, sinks ...Sink) *ConnectionManager {
	return &ConnectionManager{
		connections:     make(map[string]*Connection),
		roomConnections: make(map[string]map[string]struct{}),
		connectionRooms: make(map[string]map[string]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBuffer),
		sinks:       sinks,
	}
}

// Start processes queued deliveries until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) error {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return nil
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its pumps
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID, displayName, role string, handler FrameHandler) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := cm.newConnection(conn, handler)
	connection.UserID = userID
	connection.DisplayName = displayName
	connection.Role = role
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Msg("WebSocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) newConnection(conn *websocket.Conn, handler FrameHandler) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		conn:        conn,
		send:        make(chan []byte, cm.config.SendBufferSize),
		manager:     cm,
		handler:     handler,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and its subscriptions. It reports whether the
// connection was still registered.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.connections[conn.ID]; !ok {
		return false
	}
	delete(cm.connections, conn.ID)
	cm.unsubscribeLocked(conn.ID)
	close(conn.send)

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
	return true
}

// Subscribe adds the connection to the room's audience. Unknown connections are ignored.
func (cm *ConnectionManager) Subscribe(roomID, connectionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.connections[connectionID]; !ok {
		return
	}
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[string]struct{})
	}
	cm.roomConnections[roomID][connectionID] = struct{}{}
	if cm.connectionRooms[connectionID] == nil {
		cm.connectionRooms[connectionID] = make(map[string]struct{})
	}
	cm.connectionRooms[connectionID][roomID] = struct{}{}
}

// Unsubscribe removes the connection from every room and returns the rooms it was in
func (cm *ConnectionManager) Unsubscribe(connectionID string) []string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.unsubscribeLocked(connectionID)
}

func (cm *ConnectionManager) unsubscribeLocked(connectionID string) []string {
	var rooms []string
	for roomID := range cm.connectionRooms[connectionID] {
		rooms = append(rooms, roomID)
		if conns, ok := cm.roomConnections[roomID]; ok {
			delete(conns, connectionID)
			if len(conns) == 0 {
				delete(cm.roomConnections, roomID)
			}
		}
	}
	delete(cm.connectionRooms, connectionID)
	return rooms
}

// Publish queues an event for every subscriber of the room
func (cm *ConnectionManager) Publish(roomID string, ev events.Event) {
	cm.enqueue(BroadcastMessage{RoomID: roomID, Event: &ev})
}

// SendTo queues an event for a single connection
func (cm *ConnectionManager) SendTo(connectionID string, ev events.Event) {
	cm.enqueue(BroadcastMessage{RoomID: ev.RoomID, ConnectionID: connectionID, Event: &ev})
}

// SendRaw queues an already encoded frame for a single connection
func (cm *ConnectionManager) SendRaw(connectionID string, frame []byte) {
	cm.enqueue(BroadcastMessage{ConnectionID: connectionID, Raw: frame})
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("room_id", message.RoomID).
			Str("connection_id", message.ConnectionID).
			Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast delivers one queued message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	data := message.Raw
	if data == nil {
		var err error
		data, err = json.Marshal(message.Event)
		if err != nil {
			log.Error().Err(err).Str("room_id", message.RoomID).Msg("failed to marshal event for broadcast")
			return
		}
	}

	var slow []*Connection
	delivered := 0

	// sends happen under the read lock so unregisterConnection cannot close a channel mid-send
	cm.mu.RLock()
	if message.ConnectionID != "" {
		if conn, ok := cm.connections[message.ConnectionID]; ok {
			if conn.trySend(data) {
				delivered++
			} else {
				slow = append(slow, conn)
			}
		}
	} else {
		for connID := range cm.roomConnections[message.RoomID] {
			conn, ok := cm.connections[connID]
			if !ok {
				continue
			}
			if conn.trySend(data) {
				delivered++
			} else {
				slow = append(slow, conn)
			}
		}
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.closeConnection(conn)
	}

	if message.Event != nil && message.ConnectionID == "" {
		for _, sink := range cm.sinks {
			sink.Handle(*message.Event)
		}
		log.Debug().
			Str("event_type", string(message.Event.Type())).
			Str("room_id", message.RoomID).
			Int("connections", delivered).
			Msg("event broadcasted")
	}
}

func (cm *ConnectionManager) closeConnection(conn *Connection) {
	cm.unregisterConnection(conn)
	conn.close()
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		cm.closeConnection(conn)
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.roomConnections),
		RoomConnections:  make(map[string]int, len(cm.roomConnections)),
	}
	for roomID, conns := range cm.roomConnections {
		stats.RoomConnections[roomID] = len(conns)
	}
	return stats
}

func (c *Connection) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.cancel()
	if c.conn != nil {
		c.conn.Close()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client frames until the socket closes, then notifies the frame handler once
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregisterConnection(c)
		c.close()
		if c.handler != nil {
			c.handler.HandleDisconnect(c)
		}
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.handler != nil {
			c.handler.HandleFrame(c.ctx, c, message)
		}
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
