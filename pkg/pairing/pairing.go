// Package pairing owns the short-lived, one-shot pairing sessions a mobile
// client exchanges for a long-lived device credential after scanning a QR
// code (or reading its ASCII rendering from a headless terminal).
package pairing

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/armorclaw/mobilerelay/pkg/logger"
	"github.com/armorclaw/mobilerelay/pkg/qr"
	"github.com/armorclaw/mobilerelay/pkg/securerandom"
)

// DeviceInfo is the client-supplied metadata captured on successful pairing.
type DeviceInfo struct {
	DeviceName string         `json:"device_name"`
	Platform   string         `json:"platform"`
	Extra      map[string]any `json:"-"`
}

// Session is a single-use pairing record. It is removed from the table when
// ValidatePairing succeeds on it or finds it expired — see ValidatePairing.
type Session struct {
	SessionID    string
	TempToken    string
	ExpiresAt    time.Time
	WebSocketURL string
	DeviceInfo   *DeviceInfo
}

// payload is the JSON structure encoded into the QR image.
type payload struct {
	SessionID    string `json:"session_id"`
	WebSocketURL string `json:"websocket_url"`
	TempToken    string `json:"temp_token"`
	Timestamp    int64  `json:"timestamp"`
}

// Manager owns the pairing session table and QR rendering.
type Manager struct {
	mu             sync.Mutex
	sessions       map[string]*Session
	sessionExpiry  time.Duration
	webSocketURL   string
	securityLogger *logger.SecurityLogger
}

// Config configures a Manager.
type Config struct {
	// SessionExpiry bounds how long a session may be validated against.
	// Defaults to 5 minutes.
	SessionExpiry time.Duration
	// WebSocketURL is advertised in the QR payload so the mobile app knows
	// where to reconnect once paired.
	WebSocketURL string
}

// NewManager builds a pairing Manager.
func NewManager(cfg Config, secLog *logger.SecurityLogger) *Manager {
	expiry := cfg.SessionExpiry
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		sessionExpiry:  expiry,
		webSocketURL:   cfg.WebSocketURL,
		securityLogger: secLog,
	}
}

// CreateSession opens a new one-shot pairing session and returns it along
// with a PNG QR image encoding {session_id, websocket_url, temp_token,
// timestamp}.
func (m *Manager) CreateSession() (*Session, []byte, error) {
	sessionID := securerandom.MustURLToken(16) // >=128 bits
	tempToken := securerandom.MustURLToken(32) // >=256 bits

	session := &Session{
		SessionID:    sessionID,
		TempToken:    tempToken,
		ExpiresAt:    time.Now().Add(m.sessionExpiry),
		WebSocketURL: m.webSocketURL,
	}

	m.mu.Lock()
	m.sessions[sessionID] = session
	m.mu.Unlock()

	png, err := qr.PNG(m.encodePayload(session), 10)
	if err != nil {
		return nil, nil, fmt.Errorf("pairing: generate QR: %w", err)
	}

	logger.Global().Info("pairing session created", "session_id", sessionID, "expires_at", session.ExpiresAt)
	return session, png, nil
}

// GenerateQRASCII renders the same payload as CreateSession's PNG, as a
// terminal-friendly grid for headless operator setups.
func (m *Manager) GenerateQRASCII(session *Session) (string, error) {
	return qr.ASCII(m.encodePayload(session))
}

func (m *Manager) encodePayload(session *Session) []byte {
	p := payload{
		SessionID:    session.SessionID,
		WebSocketURL: session.WebSocketURL,
		TempToken:    session.TempToken,
		Timestamp:    time.Now().Unix(),
	}
	b, _ := json.Marshal(p) // payload is a fixed, always-marshalable shape
	return b
}

// ValidatePairing consumes a pairing session: it succeeds iff sessionID
// names a live, unexpired session whose temp_token matches exactly. On
// success the session is deleted atomically (one-shot) and deviceInfo is
// captured on the session for audit purposes. Every other case — missing,
// expired, or token-mismatched — fails with the same outward signal. An
// expired session is deleted; on a token mismatch the session is left
// untouched so a caller who mistyped the token can retry.
func (m *Manager) ValidatePairing(sessionID, tempToken string, deviceInfo DeviceInfo) bool {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}

	if time.Now().After(session.ExpiresAt) {
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		return false
	}

	if session.TempToken != tempToken {
		m.mu.Unlock()
		return false
	}

	// Match: consume the session atomically under the same lock.
	delete(m.sessions, sessionID)
	session.DeviceInfo = &deviceInfo
	m.mu.Unlock()

	return true
}

// SweepExpired removes sessions past their expiry. It is a latency
// optimization only — ValidatePairing already rejects expired sessions on
// its own — invoked once a minute by a cron schedule in the caller.
func (m *Manager) SweepExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			delete(m.sessions, id)
		}
	}
}

// Count returns the number of live pairing sessions, for dashboards.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
