package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
)

// MessageHandler receives decoded frames and disconnects from the manager.
type MessageHandler interface {
	HandleMessage(c *Connection, env Envelope)
	HandleDisconnect(c *Connection)
}

// ConnectionManager owns websocket connections and the group addresses used
// for fanout. Membership changes apply immediately. A group delivery resolves
// its recipients when it is queued, so it reaches exactly the members at the
// time it was issued even though the write happens later on broadcastCh.
type ConnectionManager struct {
	connections map[string]*Connection
	groups      map[string]map[string]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock
	handler  MessageHandler

	broadcastCh chan BroadcastMessage
	dropped     atomic.Uint64
}

// Connection represents a websocket connection to a participant.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	lastSeen    atomic.Int64
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one queued delivery.
type BroadcastMessage struct {
	Group      string   // group address; empty for a direct delivery
	Recipients []string // group members when the message was queued
	ConnID     string
	Type       buzzer.EventType
	Payload    any
	Ack        string
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		BroadcastBuffer: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a connection manager. SetHandler must be
// called before connections are accepted.
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		groups:      make(map[string]map[string]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		broadcastCh: make(chan BroadcastMessage, config.BroadcastBuffer),
	}
}

// SetHandler installs the inbound message handler.
func (cm *ConnectionManager) SetHandler(h MessageHandler) {
	cm.handler = h
}

// Start processes queued fanout operations until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request and starts the connection pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := cm.clock.Now()
	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: now,
	}
	connection.lastSeen.Store(now.UnixMilli())

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connection established")

	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and its group memberships. The
// handler is told about the disconnect exactly once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if _, exists := cm.connections[conn.ID]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn.ID)
	close(conn.Send)
	for group, members := range cm.groups {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(cm.groups, group)
		}
	}
	cm.mu.Unlock()

	log.Info().Str("connection_id", conn.ID).Msg("connection unregistered")

	if cm.handler != nil {
		cm.handler.HandleDisconnect(conn)
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		c.Conn.Close()
	}
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		cm.dropped.Add(1)
		log.Warn().
			Str("group", message.Group).
			Str("connection_id", message.ConnID).
			Str("event_type", string(message.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

// Subscribe adds connID to a group address. Unknown connections are ignored.
func (cm *ConnectionManager) Subscribe(group, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, live := cm.connections[connID]; !live {
		return
	}
	if cm.groups[group] == nil {
		cm.groups[group] = make(map[string]bool)
	}
	cm.groups[group][connID] = true
}

// Disband removes every member from a group. Deliveries already queued for
// the group still reach the members they were addressed to.
func (cm *ConnectionManager) Disband(group string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.groups, group)
}

// ToGroup sends an event to every current member of a group.
func (cm *ConnectionManager) ToGroup(group string, evt buzzer.EventType, payload any) {
	cm.enqueue(BroadcastMessage{Group: group, Recipients: cm.GroupMembers(group), Type: evt, Payload: payload})
}

// ToConn sends an event to one connection.
func (cm *ConnectionManager) ToConn(connID string, evt buzzer.EventType, payload any) {
	cm.enqueue(BroadcastMessage{ConnID: connID, Type: evt, Payload: payload})
}

// Reply answers a request carrying an ack id.
func (cm *ConnectionManager) Reply(connID, ack string, evt buzzer.EventType, payload any) {
	cm.enqueue(BroadcastMessage{ConnID: connID, Type: evt, Payload: payload, Ack: ack})
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	env, err := NewEnvelope(message.Type, message.Payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build envelope for broadcast")
		return
	}
	env.Ack = message.Ack
	env.Timestamp = cm.clock.Now().UnixMilli()

	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal envelope for broadcast")
		return
	}

	// Sends happen under the read lock so a concurrent unregister cannot
	// close a Send channel mid-delivery. They never block.
	var delivered int
	var slow []*Connection
	cm.mu.RLock()
	deliver := func(conn *Connection) {
		select {
		case conn.Send <- data:
			delivered++
		default:
			slow = append(slow, conn)
		}
	}
	if message.Group != "" {
		for _, id := range message.Recipients {
			if c, ok := cm.connections[id]; ok {
				deliver(c)
			}
		}
	} else if c, ok := cm.connections[message.ConnID]; ok {
		deliver(c)
	}
	cm.mu.RUnlock()

	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Type)).
		Str("group", message.Group).
		Int("connections", delivered).
		Msg("event delivered")
}

// GetConnectionStats returns statistics about active connections. Group
// addresses are session codes and are not included.
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return map[string]interface{}{
		"total_connections": len(cm.connections),
		"active_groups":     len(cm.groups),
		"dropped_messages":  cm.dropped.Load(),
	}
}

// GroupMembers returns the connection ids subscribed to group.
func (cm *ConnectionManager) GroupMembers(group string) []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	members := make([]string, 0, len(cm.groups[group]))
	for id := range cm.groups[group] {
		members = append(members, id)
	}
	return members
}

// LastSeen returns when the connection last produced a frame or pong.
func (c *Connection) LastSeen() time.Time {
	return time.UnixMilli(c.lastSeen.Load())
}

func (c *Connection) touch() {
	c.lastSeen.Store(c.Manager.clock.Now().UnixMilli())
}

// writePump sends queued frames and periodic pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump decodes inbound frames and hands them to the handler.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}
		c.touch()
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.Manager.ToConn(c.ID, buzzer.EventErrorMsg, "bad json")
			continue
		}
		if c.Manager.handler != nil {
			c.Manager.handler.HandleMessage(c, env)
		}
	}
}
