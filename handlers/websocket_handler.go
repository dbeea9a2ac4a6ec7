package handlers

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"helpdesk-bot/services"
)

// WebSocketMessage is an inbound client frame
type WebSocketMessage struct {
	Type   string          `json:"type"`
	PageID string          `json:"page_id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// WebSocketUpgrade gates the upgrade handshake
func WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleWebSocket runs one staff realtime session
func HandleWebSocket(c *websocket.Conn) {
	companyID, ok := c.Locals("company_id").(string)
	if !ok || companyID == "" {
		slog.Error("WebSocket connection without company ID")
		c.Close()
		return
	}

	userID, _ := c.Locals("user_id").(string)
	userName, _ := c.Locals("username").(string)
	if userID == "" {
		userID = uuid.New().String()
	}

	conn := &services.WebSocketConnection{
		Conn:      c,
		CompanyID: companyID,
		UserID:    userID,
		UserName:  userName,
		Send:      make(chan []byte, 256),
	}

	wsManager := services.GetWebSocketManager()
	wsManager.RegisterConnection(conn)
	defer wsManager.UnregisterConnection(companyID, userID)

	slog.Info("WebSocket connection established",
		"companyID", companyID,
		"userID", userID)

	welcome := map[string]interface{}{
		"type":    "connected",
		"user_id": userID,
	}
	if data, err := json.Marshal(welcome); err == nil {
		c.WriteMessage(websocket.TextMessage, data)
	}

	go websocketWritePump(conn)

	websocketReadPump(conn)
}

// websocketWritePump drains the send buffer and keeps the connection alive
func websocketWritePump(conn *services.WebSocketConnection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Error("Failed to write WebSocket message", "error", err)
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// websocketReadPump consumes client frames
func websocketReadPump(conn *services.WebSocketConnection) {
	defer conn.Conn.Close()

	conn.Conn.SetReadLimit(512 * 1024)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			break
		}

		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Error("Failed to parse WebSocket message", "error", err)
			continue
		}

		switch msg.Type {
		case "ping":
			pong := map[string]string{"type": "pong"}
			if data, err := json.Marshal(pong); err == nil {
				conn.Send <- data
			}

		case "subscribe":
			// Page filtering happens client-side; the subscription is logged
			// for visibility only
			slog.Info("WebSocket client subscribed",
				"companyID", conn.CompanyID,
				"pageID", msg.PageID)

		default:
			slog.Warn("Unknown WebSocket message type",
				"type", msg.Type,
				"companyID", conn.CompanyID)
		}
	}
}
