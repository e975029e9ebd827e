// Package bridgetunnel implements the relay side of the Bridge Tunnel: a
// single-tenant WebSocket endpoint the operator's bridge client connects
// to, authenticated with a shared bridge token.
package bridgetunnel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/armorclaw/mobilerelay/pkg/logger"
	"github.com/armorclaw/mobilerelay/pkg/metrics"
)

const pingInterval = 25 * time.Second

// MobileSender is the Mobile Gateway's device-delivery surface, used to
// route a bridge_response back to the originating mobile device.
type MobileSender interface {
	SendToDevice(deviceID, content string) bool
}

// Tunnel accepts exactly one authenticated bridge connection at a time.
type Tunnel struct {
	bridgeToken string
	mobile      MobileSender
	upgrader    websocket.Upgrader

	mu            sync.Mutex
	conn          *websocket.Conn
	authenticated bool
	cancelPing    context.CancelFunc
}

// New builds a Tunnel.
func New(bridgeToken string, mobile MobileSender) *Tunnel {
	return &Tunnel{
		bridgeToken: bridgeToken,
		mobile:      mobile,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and services the bridge connection for
// as long as it stays open. A second concurrent bridge is rejected.
func (t *Tunnel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Global().Warn("bridge websocket upgrade failed", "error", err)
		return
	}

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		logger.Global().Warn("bridge connection rejected, another bridge is already connected")
		t.sendJSON(conn, map[string]any{"type": "error", "message": "Another bridge is already connected"})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4000, "Bridge already connected"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	logger.Global().Info("bridge client connecting")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var data map[string]any
		if err := json.Unmarshal(message, &data); err != nil {
			t.sendJSON(conn, map[string]any{"type": "error", "message": "Invalid JSON"})
			continue
		}

		msgType, _ := data["type"].(string)
		switch msgType {
		case "bridge_auth":
			t.handleAuth(ctx, conn, data)
		case "bridge_response":
			t.mu.Lock()
			authed := t.authenticated
			t.mu.Unlock()
			if !authed {
				t.sendJSON(conn, map[string]any{"type": "error", "message": "Not authenticated"})
				continue
			}
			t.handleResponse(data)
		case "bridge_pong":
			// keepalive ack, nothing to do
		default:
			t.sendJSON(conn, map[string]any{"type": "error", "message": fmt.Sprintf("Unknown message type: %s", msgType)})
		}
	}

	t.mu.Lock()
	wasAuthenticated := t.authenticated
	t.conn = nil
	t.authenticated = false
	if t.cancelPing != nil {
		t.cancelPing()
		t.cancelPing = nil
	}
	t.mu.Unlock()

	if wasAuthenticated {
		logger.Global().Warn("bridge client disconnected")
	}
}

func (t *Tunnel) handleAuth(ctx context.Context, conn *websocket.Conn, data map[string]any) {
	token, _ := data["bridge_token"].(string)

	if subtle.ConstantTimeCompare([]byte(token), []byte(t.bridgeToken)) == 1 {
		pingCtx, cancel := context.WithCancel(ctx)

		t.mu.Lock()
		t.authenticated = true
		t.cancelPing = cancel
		t.mu.Unlock()

		t.sendJSON(conn, map[string]any{"type": "bridge_auth_success"})
		go t.pingLoop(pingCtx, conn)
		logger.Global().Info("bridge client authenticated")
		return
	}

	logger.Global().Warn("bridge authentication failed, invalid token")
	t.sendJSON(conn, map[string]any{"type": "error", "message": "Invalid bridge token"})
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(4001, "Auth failed"),
		time.Now().Add(time.Second))
	conn.Close()
}

func (t *Tunnel) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sendJSON(conn, map[string]any{"type": "bridge_ping"})
		}
	}
}

func (t *Tunnel) handleResponse(data map[string]any) {
	deviceID, _ := data["device_id"].(string)
	content, _ := data["content"].(string)
	if deviceID == "" || content == "" {
		return
	}

	if !t.mobile.SendToDevice(deviceID, content) {
		logger.Global().Warn("failed to deliver bridge response, device not connected", "device_id", deviceID)
		return
	}
	metrics.MessagesForwarded.WithLabelValues("bridge_to_mobile").Inc()
}

func (t *Tunnel) sendJSON(conn *websocket.Conn, msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Global().Warn("failed to send to bridge", "error", err)
	}
}

// IsConnected reports whether an authenticated bridge is attached.
func (t *Tunnel) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil && t.authenticated
}

// ForwardToBridge delivers a mobile message to the bridge client. If no
// bridge is connected, it synthesizes an offline notice back to the
// originating mobile device instead.
func (t *Tunnel) ForwardToBridge(ctx context.Context, deviceID, sender, chatID, content string) error {
	t.mu.Lock()
	conn := t.conn
	authenticated := t.authenticated
	t.mu.Unlock()

	if conn == nil || !authenticated {
		logger.Global().Warn("no bridge connected, sending offline notice to device", "device_id", deviceID)
		t.mobile.SendToDevice(deviceID, "Agent is currently offline. The local bridge is not connected. Please try again later.")
		return nil
	}

	msg := map[string]any{
		"type":      "bridge_message",
		"device_id": deviceID,
		"sender":    sender,
		"content":   content,
		"chat_id":   chatID,
	}
	t.sendJSON(conn, msg)
	return nil
}
