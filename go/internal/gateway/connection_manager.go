package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/seatboard/go/internal/session"
	"github.com/rs/zerolog/log"
)

var (
	errConnectionClosed = errors.New("connection closed")
	errSlowConsumer     = errors.New("connection send buffer full")
)

// ConnectionManager manages WebSocket connections, pooled by board
type ConnectionManager struct {
	// Connection pools keyed by the synced document
	boardConnections map[string]map[*Connection]bool
	mu               sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection is one tab. It is the frame sink of its session.
type Connection struct {
	ID      string
	UserID  string
	Board   string
	Conn    *websocket.Conn
	Session *session.Session
	Manager *ConnectionManager

	ConnectedAt time.Time

	mu       sync.Mutex
	send     chan []byte
	closed   bool
	lastPing time.Time
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
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  8 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			// origins are enforced by the CORS layer
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		boardConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// UpgradeConnection upgrades the request, builds the tab's session with the
// connection as its sink and starts the pumps
func (cm *ConnectionManager) UpgradeConnection(
	w http.ResponseWriter, r *http.Request, userID, board string,
	newSession func(sink session.Sink) *session.Session,
) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	c := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Board:       board,
		Conn:        conn,
		Manager:     cm,
		ConnectedAt: now,
		send:        make(chan []byte, cm.config.SendBufferSize),
		lastPing:    now,
	}
	c.Session = newSession(c)

	cm.registerConnection(c)

	go c.writePump()
	go c.readPump()

	if err := c.Session.Start(r.Context()); err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to start session")
		c.Session.SendError(err)
		cm.unregisterConnection(c)
		return nil, err
	}

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", userID).
		Str("board", board).
		Str("session_id", c.Session.ID()).
		Msg("WebSocket connection established")
	return c, nil
}

// registerConnection adds a connection to the manager
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.boardConnections[conn.Board] == nil {
		cm.boardConnections[conn.Board] = make(map[*Connection]bool)
	}
	cm.boardConnections[conn.Board][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("board", conn.Board).
		Int("total_connections", len(cm.boardConnections[conn.Board])).
		Msg("connection registered")
}

// unregisterConnection removes a connection and closes its send channel
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.boardConnections[conn.Board]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	conn.closeSend()

	// Clean up empty board pools
	if len(connections) == 0 {
		delete(cm.boardConnections, conn.Board)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("board", conn.Board).
		Msg("connection unregistered")
}

// CloseAll disconnects every tab, used on shutdown
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.boardConnections {
		for c := range connections {
			all = append(all, c)
		}
	}
	cm.mu.RUnlock()

	for _, c := range all {
		cm.unregisterConnection(c)
		c.Session.Close()
	}
}

// ConnectionStats is the /ws/stats payload
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveBoards     int            `json:"active_boards"`
	BoardConnections map[string]int `json:"board_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{BoardConnections: make(map[string]int)}
	for board, connections := range cm.boardConnections {
		stats.TotalConnections += len(connections)
		stats.BoardConnections[board] = len(connections)
	}
	stats.ActiveBoards = len(cm.boardConnections)
	return stats
}

// Send queues a frame for the tab. A tab that cannot keep up is disconnected.
func (c *Connection) Send(f session.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errConnectionClosed
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	log.Warn().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID).
		Msg("connection send buffer full, closing connection")
	c.Manager.unregisterConnection(c)
	c.Conn.Close()
	return errSlowConsumer
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// LastPing is when the client last answered a ping
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
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
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump feeds client commands to the session until the socket closes,
// then tears the session down
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
		c.Session.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage dispatches one command; rejections go back as error frames
func (c *Connection) handleClientMessage(message []byte) {
	cmd, err := session.ParseCommand(message)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("invalid client message")
		c.Session.SendError(fmt.Errorf("invalid command: %w", err))
		return
	}
	if err := c.Session.Dispatch(cmd); err != nil {
		c.Session.SendError(err)
	}
}
