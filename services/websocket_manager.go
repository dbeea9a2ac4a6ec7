package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// Realtime event types pushed to staff clients
const (
	EventNewMessage            = "new_message"
	EventNewConversation       = "new_conversation"
	EventConversationUpdated   = "conversation_updated"
	EventConversationEscalated = "conversation_escalated"
)

// WebSocket errors
var (
	ErrConnectionNotFound   = errors.New("connection not found")
	ErrConnectionBufferFull = errors.New("connection buffer full")
)

// WebSocketManager fans out state deltas to all staff sessions of a company.
// One room per company.
type WebSocketManager struct {
	connections map[string]map[string]*WebSocketConnection
	mu          sync.RWMutex
	broadcast   chan BroadcastMessage
}

// WebSocketConnection represents a single staff WebSocket session
type WebSocketConnection struct {
	Conn      *websocket.Conn
	CompanyID string
	UserID    string
	UserName  string
	Send      chan []byte
}

// BroadcastMessage represents a state delta to broadcast
type BroadcastMessage struct {
	CompanyID string
	PageID    string
	Type      string
	Data      interface{}
}

// MessagePayload is the wire format of fan-out events
type MessagePayload struct {
	Type      string      `json:"type"`
	PageID    string      `json:"page_id,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

var wsManager *WebSocketManager
var wsOnce sync.Once

// GetWebSocketManager returns the singleton WebSocket manager
func GetWebSocketManager() *WebSocketManager {
	wsOnce.Do(func() {
		wsManager = &WebSocketManager{
			connections: make(map[string]map[string]*WebSocketConnection),
			broadcast:   make(chan BroadcastMessage, 100),
		}
		go wsManager.handleBroadcast()
	})
	return wsManager
}

// RegisterConnection registers a new staff WebSocket connection
func (m *WebSocketManager) RegisterConnection(conn *WebSocketConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connections[conn.CompanyID] == nil {
		m.connections[conn.CompanyID] = make(map[string]*WebSocketConnection)
	}

	m.connections[conn.CompanyID][conn.UserID] = conn

	slog.Info("WebSocket connection registered",
		"companyID", conn.CompanyID,
		"userID", conn.UserID,
		"totalConnections", len(m.connections[conn.CompanyID]))
}

// UnregisterConnection removes a staff WebSocket connection
func (m *WebSocketManager) UnregisterConnection(companyID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if companyConns, exists := m.connections[companyID]; exists {
		if conn, exists := companyConns[userID]; exists {
			close(conn.Send)
			delete(companyConns, userID)

			slog.Info("WebSocket connection unregistered",
				"companyID", companyID,
				"userID", userID,
				"remainingConnections", len(companyConns))

			if len(companyConns) == 0 {
				delete(m.connections, companyID)
			}
		}
	}
}

// BroadcastToCompany sends an event to all connections of a company
func (m *WebSocketManager) BroadcastToCompany(companyID string, message BroadcastMessage) {
	message.CompanyID = companyID
	GetMetrics().FanoutEvents.WithLabelValues(message.Type).Inc()
	m.broadcast <- message
}

// handleBroadcast drains the broadcast channel and writes to the room
func (m *WebSocketManager) handleBroadcast() {
	for message := range m.broadcast {
		m.mu.RLock()
		companyConns, exists := m.connections[message.CompanyID]
		m.mu.RUnlock()

		if !exists {
			continue
		}

		payload := MessagePayload{
			Type:      message.Type,
			PageID:    message.PageID,
			Data:      message.Data,
			Timestamp: time.Now().Unix(),
		}

		jsonData, err := json.Marshal(payload)
		if err != nil {
			slog.Error("Failed to marshal WebSocket message", "error", err)
			continue
		}

		// A slow client must not stall the pipeline: full buffers are skipped
		m.mu.RLock()
		for _, conn := range companyConns {
			select {
			case conn.Send <- jsonData:
			default:
				slog.Warn("WebSocket connection buffer full",
					"companyID", message.CompanyID,
					"userID", conn.UserID)
			}
		}
		m.mu.RUnlock()
	}
}

// SendToConnection sends a message to a specific connection
func (m *WebSocketManager) SendToConnection(companyID, userID string, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if companyConns, exists := m.connections[companyID]; exists {
		if conn, exists := companyConns[userID]; exists {
			select {
			case conn.Send <- data:
				return nil
			default:
				return ErrConnectionBufferFull
			}
		}
	}
	return ErrConnectionNotFound
}

// GetConnectionCount returns the number of active connections for a company
func (m *WebSocketManager) GetConnectionCount(companyID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if companyConns, exists := m.connections[companyID]; exists {
		return len(companyConns)
	}
	return 0
}
