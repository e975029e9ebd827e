// Package bridgeclient implements the operator-side half of the bridge
// tunnel: a reconnecting WebSocket client that authenticates to the
// relay's /bridge endpoint, forwards inbound mobile traffic to a local
// agent, and relays agent responses back to the relay.
package bridgeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/armorclaw/mobilerelay/pkg/logger"
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

// InboundMessage is a message arriving from a mobile device, bound for
// the local agent.
type InboundMessage struct {
	Channel  string
	SenderID string
	ChatID   string
	Content  string
}

// OutboundMessage is an agent response bound for a mobile device via the
// relay.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}

// AgentBridge is the narrow surface the bridge client uses to hand
// inbound messages to, and receive outbound messages from, the local
// agent loop. The concrete LLM agent is out of scope; Loopback and
// LogOnly below are stand-ins satisfying the same interface.
type AgentBridge interface {
	Deliver(ctx context.Context, msg InboundMessage) error
	Responses() <-chan OutboundMessage
}

// Config configures a Client.
type Config struct {
	RelayURL    string
	BridgeToken string
}

// Client connects outbound to the relay's bridge endpoint and reconnects
// indefinitely with exponential backoff until stopped.
type Client struct {
	cfg   Config
	agent AgentBridge

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	stop    chan struct{}
}

// New builds a bridge Client wired to the given agent.
func New(cfg Config, agent AgentBridge) *Client {
	return &Client{
		cfg:   cfg,
		agent: agent,
		stop:  make(chan struct{}),
	}
}

// Run connects to the relay and processes traffic until ctx is canceled
// or Stop is called. It never returns an error for ordinary
// disconnects — those trigger a reconnect with backoff.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pumpResponses(ctx)
	}()
	defer wg.Wait()

	backoff := initialBackoff

	for c.isRunning() {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		default:
		}

		connected, err := c.connectOnce(ctx)
		if err != nil {
			logger.Global().Warn("bridge connection error", "error", err)
		}

		if !c.isRunning() {
			return nil
		}

		if connected {
			backoff = initialBackoff
		}

		logger.Global().Warn("reconnecting to relay", "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil
}

// Stop ends the reconnect loop and closes any active connection.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// connectOnce dials the relay, authenticates, and services the
// connection until it closes or fails. The returned bool reports
// whether authentication succeeded (used to decide whether to reset
// backoff).
func (c *Client) connectOnce(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.RelayURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if err := conn.WriteJSON(map[string]any{
		"type":         "bridge_auth",
		"bridge_token": c.cfg.BridgeToken,
	}); err != nil {
		return false, fmt.Errorf("send bridge_auth: %w", err)
	}

	var authResp map[string]any
	if err := conn.ReadJSON(&authResp); err != nil {
		return false, fmt.Errorf("read bridge_auth response: %w", err)
	}
	if authResp["type"] != "bridge_auth_success" {
		msg, _ := authResp["message"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return false, fmt.Errorf("bridge auth failed: %s", msg)
	}

	logger.Global().Info("connected to relay and authenticated")

	for {
		var data map[string]any
		if err := conn.ReadJSON(&data); err != nil {
			logger.Global().Warn("bridge connection closed", "error", err)
			return true, nil
		}
		c.handleRelayMessage(ctx, conn, data)
	}
}

func (c *Client) handleRelayMessage(ctx context.Context, conn *websocket.Conn, data map[string]any) {
	msgType, _ := data["type"].(string)

	switch msgType {
	case "bridge_message":
		sender, _ := data["sender"].(string)
		deviceID, _ := data["device_id"].(string)
		content, _ := data["content"].(string)
		if sender == "" {
			sender = "unknown"
		}
		if deviceID == "" {
			deviceID = "unknown"
		}

		inbound := InboundMessage{
			Channel:  "mobile",
			SenderID: sender,
			ChatID:   deviceID,
			Content:  content,
		}
		if err := c.agent.Deliver(ctx, inbound); err != nil {
			logger.Global().Warn("failed to deliver inbound message to agent", "error", err)
		}

	case "bridge_ping":
		if err := conn.WriteJSON(map[string]any{"type": "bridge_pong"}); err != nil {
			logger.Global().Warn("failed to send bridge_pong", "error", err)
		}

	case "error":
		msg, _ := data["message"].(string)
		logger.Global().Warn("relay reported error", "message", msg)
	}
}

// pumpResponses drains the agent's outbound channel and forwards each
// response to the relay over whatever connection is currently active.
func (c *Client) pumpResponses(ctx context.Context) {
	responses := c.agent.Responses()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case msg, ok := <-responses:
			if !ok {
				return
			}
			c.sendResponse(msg)
		}
	}
}

func (c *Client) sendResponse(msg OutboundMessage) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		logger.Global().Warn("bridge not connected, dropping outbound message", "chat_id", msg.ChatID)
		return
	}

	payload := map[string]any{
		"type":      "bridge_response",
		"device_id": msg.ChatID,
		"content":   msg.Content,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Global().Warn("failed to send bridge response", "error", err)
	}
}
