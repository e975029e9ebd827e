// Package gateway implements the Mobile Gateway: the public WebSocket
// endpoint mobile clients pair and authenticate against, exchange
// messages over, and keep alive with ping/pong.
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

	"github.com/armorclaw/mobilerelay/pkg/audit"
	"github.com/armorclaw/mobilerelay/pkg/credential"
	"github.com/armorclaw/mobilerelay/pkg/logger"
	"github.com/armorclaw/mobilerelay/pkg/metrics"
	"github.com/armorclaw/mobilerelay/pkg/pairing"
	"github.com/armorclaw/mobilerelay/pkg/security"
)

const maxFrameBytes = 10 * 1024 * 1024 // 10MB, matches the Python server's max_size

// BridgeForwarder is the downstream sink a mobile "message" event is
// published to. Satisfied by the relay's Bridge Tunnel.
type BridgeForwarder interface {
	ForwardToBridge(ctx context.Context, deviceID, sender, chatID, content string) error
}

// client is one connected mobile WebSocket, authenticated or not.
type client struct {
	connID       string
	conn         *websocket.Conn
	send         chan []byte
	deviceID     string
	deviceName   string
	authenticated bool
	remoteAddr   string
}

// authenticatedEntry is the AuthenticatedClient table row.
type authenticatedEntry struct {
	deviceName      string
	client          *client
	authenticatedAt time.Time
}

// Config configures a Gateway.
type Config struct {
	MaxConnections    int
	HeartbeatInterval time.Duration
}

// Gateway is the Mobile Gateway WebSocket handler.
type Gateway struct {
	cfg        Config
	pairing    *pairing.Manager
	credential *credential.Manager
	validator  *security.Validator
	rateLimit  *security.RateLimiter
	auditLog   *audit.Log
	forwarder  BridgeForwarder

	upgrader websocket.Upgrader

	mu                  sync.RWMutex
	authenticatedClients map[string]*authenticatedEntry
}

// New builds a Gateway.
func New(cfg Config, pairingMgr *pairing.Manager, credMgr *credential.Manager, validator *security.Validator, rateLimit *security.RateLimiter, auditLog *audit.Log) *Gateway {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Gateway{
		cfg:                  cfg,
		pairing:              pairingMgr,
		credential:           credMgr,
		validator:            validator,
		rateLimit:            rateLimit,
		auditLog:             auditLog,
		authenticatedClients: make(map[string]*authenticatedEntry),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// SetForwarder wires the Bridge Tunnel as the downstream sink for inbound
// mobile messages. Called once during relay startup.
func (g *Gateway) SetForwarder(f BridgeForwarder) {
	g.forwarder = f
}

// ServeHTTP upgrades the request to a WebSocket and services it until
// the client disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.cfg.MaxConnections > 0 && g.ConnectionCount() >= g.cfg.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Global().Warn("mobile websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		connID:     uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, 64),
		remoteAddr: r.RemoteAddr,
	}

	logger.Global().Info("mobile client connected", "conn_id", c.connID, "remote_addr", c.remoteAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.writePump(c)
	}()

	g.readPump(r.Context(), c)

	close(c.send)
	wg.Wait()

	if c.deviceID != "" {
		g.mu.Lock()
		if entry, ok := g.authenticatedClients[c.deviceID]; ok && entry.client == c {
			delete(g.authenticatedClients, c.deviceID)
		}
		g.mu.Unlock()
		logger.Global().Info("mobile device disconnected", "conn_id", c.connID, "device_id", c.deviceID)
	}
}

func (g *Gateway) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxFrameBytes)
	deadline := 2 * g.cfg.HeartbeatInterval
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Global().Warn("mobile websocket read error", "error", err)
			}
			return
		}
		g.handleMessage(ctx, c, message)
	}
}

func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(g.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeDeadline := g.cfg.HeartbeatInterval

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// frame is the tagged envelope every mobile message uses.
type frame struct {
	Type         string          `json:"type"`
	SessionID    string          `json:"session_id,omitempty"`
	TempToken    string          `json:"temp_token,omitempty"`
	DeviceInfo   json.RawMessage `json:"device_info,omitempty"`
	JWTToken     string          `json:"jwt_token,omitempty"`
	Content      string          `json:"content,omitempty"`
}

func (g *Gateway) handleMessage(ctx context.Context, c *client, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		g.sendError(c, "Invalid JSON")
		return
	}

	switch f.Type {
	case "pair":
		g.handlePair(c, f)
	case "auth":
		g.handleAuth(c, f)
	case "message":
		g.handleClientMessage(ctx, c, f)
	case "ping":
		g.sendJSON(c, map[string]any{"type": "pong"})
	default:
		g.sendError(c, fmt.Sprintf("Unknown message type: %s", f.Type))
	}
}

func (g *Gateway) handlePair(c *client, f frame) {
	if f.SessionID == "" || f.TempToken == "" {
		g.sendError(c, "Missing session_id or temp_token")
		return
	}

	var info struct {
		DeviceName string `json:"device_name"`
		Platform   string `json:"platform"`
	}
	_ = json.Unmarshal(f.DeviceInfo, &info)

	// Schema validation happens before the pairing session is consulted,
	// so a malformed request never burns a one-shot session.
	if err := g.validator.ValidateDeviceInfo(security.DeviceInfo{DeviceName: info.DeviceName, Platform: info.Platform}); err != nil {
		g.sendError(c, err.Error())
		return
	}

	if !g.pairing.ValidatePairing(f.SessionID, f.TempToken, pairing.DeviceInfo{DeviceName: info.DeviceName, Platform: info.Platform}) {
		g.sendError(c, "Invalid pairing credentials")
		metrics.PairingAttempts.WithLabelValues("rejected").Inc()
		if g.auditLog != nil {
			_ = g.auditLog.LogPairing(f.SessionID, "", c.remoteAddr, false)
		}
		return
	}

	deviceID := deviceIDFromSession(f.SessionID)
	jwtToken, err := g.credential.Issue(deviceID, info.DeviceName, nil)
	if err != nil {
		g.sendError(c, "Failed to issue credential")
		return
	}

	g.registerAuthenticated(c, deviceID, info.DeviceName)

	g.sendJSON(c, map[string]any{
		"type":        "auth_success",
		"jwt_token":   jwtToken,
		"device_id":   deviceID,
		"device_name": info.DeviceName,
		"message":     "Pairing successful",
	})

	metrics.PairingAttempts.WithLabelValues("success").Inc()
	if g.auditLog != nil {
		_ = g.auditLog.LogPairing(f.SessionID, deviceID, c.remoteAddr, true)
	}
	logger.Global().Info("device paired", "device_id", deviceID, "device_name", info.DeviceName, "remote_addr", c.remoteAddr)
}

func deviceIDFromSession(sessionID string) string {
	runes := []rune(sessionID)
	if len(runes) > 8 {
		runes = runes[:8]
	}
	return "device_" + string(runes)
}

func (g *Gateway) handleAuth(c *client, f frame) {
	if f.JWTToken == "" {
		g.sendError(c, "Missing jwt_token")
		return
	}

	deviceID, err := g.credential.Validate(f.JWTToken)
	if err != nil {
		g.sendError(c, "Invalid or expired JWT token")
		if g.auditLog != nil {
			_ = g.auditLog.LogAuthentication("", c.remoteAddr, false, "jwt")
		}
		return
	}

	claims, err := g.credential.Inspect(f.JWTToken)
	if err != nil {
		g.sendError(c, "Failed to extract credentials from token")
		return
	}

	g.registerAuthenticated(c, deviceID, claims.DeviceName)

	g.sendJSON(c, map[string]any{
		"type":        "auth_success",
		"device_id":   deviceID,
		"device_name": claims.DeviceName,
		"message":     "Authentication successful",
	})

	if g.auditLog != nil {
		_ = g.auditLog.LogAuthentication(deviceID, c.remoteAddr, true, "jwt")
	}
	logger.Global().Info("device authenticated", "device_id", deviceID, "device_name", claims.DeviceName)
}

// registerAuthenticated installs c as the live connection for deviceID,
// evicting and closing any prior connection already registered for the
// same device so at most one socket is ever reachable per device_id.
func (g *Gateway) registerAuthenticated(c *client, deviceID, deviceName string) {
	c.deviceID = deviceID
	c.deviceName = deviceName
	c.authenticated = true

	g.mu.Lock()
	prev := g.authenticatedClients[deviceID]
	g.authenticatedClients[deviceID] = &authenticatedEntry{
		deviceName:      deviceName,
		client:          c,
		authenticatedAt: time.Now(),
	}
	g.mu.Unlock()

	if prev != nil && prev.client != c {
		logger.Global().Info("evicting prior connection for device", "device_id", deviceID, "conn_id", prev.client.connID)
		prev.client.conn.Close()
	}
}

func (g *Gateway) handleClientMessage(ctx context.Context, c *client, f frame) {
	if !c.authenticated {
		g.sendError(c, "Not authenticated")
		return
	}

	if g.rateLimit != nil {
		if ok, err := g.rateLimit.Check(c.deviceID); !ok {
			g.sendError(c, err.Error())
			metrics.RateLimitRejections.Inc()
			if g.auditLog != nil {
				_ = g.auditLog.LogRateLimit(c.deviceID, "")
			}
			return
		}
	}

	if f.Content == "" {
		g.sendError(c, "Missing message content")
		return
	}

	if err := g.validator.ValidateMessageContent(f.Content); err != nil {
		g.sendError(c, err.Error())
		return
	}
	content := g.validator.SanitizeInput(f.Content, 100_000)

	logger.Global().Info("mobile message received", "device_id", c.deviceID, "device_name", c.deviceName)

	g.sendJSON(c, map[string]any{"type": "ack", "message": "Message received"})

	if g.forwarder != nil {
		if err := g.forwarder.ForwardToBridge(ctx, c.deviceID, c.deviceName, c.deviceID, content); err != nil {
			logger.Global().Warn("failed to forward mobile message to bridge", "device_id", c.deviceID, "error", err)
		}
		metrics.MessagesForwarded.WithLabelValues("mobile_to_bridge").Inc()
	}
}

func (g *Gateway) sendError(c *client, message string) {
	g.sendJSON(c, map[string]any{"type": "error", "message": message})
}

func (g *Gateway) sendJSON(c *client, msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		logger.Global().Warn("mobile client send buffer full, dropping message", "device_id", c.deviceID)
	}
}

// SendToDevice delivers content to a specific connected device, wrapped
// as a pushed message{content} frame. Reports false if the device isn't
// connected.
func (g *Gateway) SendToDevice(deviceID, content string) bool {
	g.mu.RLock()
	entry, ok := g.authenticatedClients[deviceID]
	g.mu.RUnlock()
	if !ok {
		logger.Global().Warn("device not connected", "device_id", deviceID)
		return false
	}

	g.sendJSON(entry.client, map[string]any{"type": "message", "content": content})
	return true
}

// Broadcast delivers content to every connected device except exclude
// (pass "" to exclude none).
func (g *Gateway) Broadcast(content, exclude string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for deviceID, entry := range g.authenticatedClients {
		if deviceID == exclude {
			continue
		}
		g.sendJSON(entry.client, map[string]any{"type": "message", "content": content})
	}
}

// DeviceSummary is an observable snapshot of one connected device.
type DeviceSummary struct {
	DeviceID        string    `json:"device_id"`
	DeviceName      string    `json:"device_name"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// ConnectedDevices returns a snapshot of the authenticated client table.
func (g *Gateway) ConnectedDevices() []DeviceSummary {
	g.mu.RLock()
	defer g.mu.RUnlock()

	devices := make([]DeviceSummary, 0, len(g.authenticatedClients))
	for deviceID, entry := range g.authenticatedClients {
		devices = append(devices, DeviceSummary{
			DeviceID:        deviceID,
			DeviceName:      entry.deviceName,
			AuthenticatedAt: entry.authenticatedAt,
		})
	}
	return devices
}

// IsDeviceConnected reports whether device_id is in the authenticated table.
func (g *Gateway) IsDeviceConnected(deviceID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.authenticatedClients[deviceID]
	return ok
}

// ConnectionCount returns the number of authenticated connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.authenticatedClients)
}
