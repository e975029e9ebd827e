package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/mobilerelay/pkg/credential"
	"github.com/armorclaw/mobilerelay/pkg/logger"
	"github.com/armorclaw/mobilerelay/pkg/pairing"
	"github.com/armorclaw/mobilerelay/pkg/security"
)

type stubForwarder struct {
	calls []string
}

func (s *stubForwarder) ForwardToBridge(ctx context.Context, deviceID, sender, chatID, content string) error {
	s.calls = append(s.calls, content)
	return nil
}

func testGateway(t *testing.T) (*Gateway, *pairing.Manager, *credential.Manager) {
	t.Helper()
	base, err := logger.New(logger.Config{Level: "info", Format: "json", Output: "stdout", Component: "test"})
	require.NoError(t, err)
	secLog := logger.NewSecurityLogger(base)

	pairingMgr := pairing.NewManager(pairing.Config{SessionExpiry: time.Minute, WebSocketURL: "wss://relay.example.com/ws"}, secLog)
	credMgr := credential.NewManager(credential.Config{Secret: "0123456789abcdef0123456789abcdef", TTL: time.Hour})
	validator := security.NewValidator()
	rateLimit := security.NewRateLimiter(security.RateLimiterConfig{RequestsPerMinute: 1000, BlockDurationSeconds: 30})

	gw := New(Config{HeartbeatInterval: 100 * time.Millisecond}, pairingMgr, credMgr, validator, rateLimit, nil)
	return gw, pairingMgr, credMgr
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestPairThenMessageFlow(t *testing.T) {
	gw, pairingMgr, _ := testGateway(t)
	forwarder := &stubForwarder{}
	gw.SetForwarder(forwarder)

	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	session, _, err := pairingMgr.CreateSession()
	require.NoError(t, err)

	conn := dial(t, srv)
	defer conn.Close()

	pairMsg := map[string]any{
		"type":         "pair",
		"session_id":   session.SessionID,
		"temp_token":   session.TempToken,
		"device_info":  map[string]string{"device_name": "Test Phone", "platform": "ios"},
	}
	require.NoError(t, conn.WriteJSON(pairMsg))

	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "auth_success", resp["type"])
	assert.NotEmpty(t, resp["jwt_token"])
	deviceID := resp["device_id"].(string)
	assert.True(t, strings.HasPrefix(deviceID, "device_"))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "content": "hello there"}))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "ack", resp["type"])

	assert.Eventually(t, func() bool { return len(forwarder.calls) == 1 }, time.Second, 10*time.Millisecond)
}

func TestReauthEvictsPriorConnectionForSameDevice(t *testing.T) {
	gw, pairingMgr, _ := testGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	session, _, err := pairingMgr.CreateSession()
	require.NoError(t, err)

	firstConn := dial(t, srv)
	defer firstConn.Close()

	require.NoError(t, firstConn.WriteJSON(map[string]any{
		"type":        "pair",
		"session_id":  session.SessionID,
		"temp_token":  session.TempToken,
		"device_info": map[string]string{"device_name": "Test Phone", "platform": "ios"},
	}))
	var resp map[string]any
	require.NoError(t, firstConn.ReadJSON(&resp))
	require.Equal(t, "auth_success", resp["type"])
	jwtToken := resp["jwt_token"].(string)
	deviceID := resp["device_id"].(string)

	secondConn := dial(t, srv)
	defer secondConn.Close()

	require.NoError(t, secondConn.WriteJSON(map[string]any{"type": "auth", "jwt_token": jwtToken}))
	require.NoError(t, secondConn.ReadJSON(&resp))
	require.Equal(t, "auth_success", resp["type"])
	assert.Equal(t, deviceID, resp["device_id"])

	firstConn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = firstConn.ReadMessage()
	assert.Error(t, err, "prior connection for the device should have been closed on re-auth")

	assert.True(t, gw.SendToDevice(deviceID, "hello"), "second connection should be the reachable one")
}

func TestUnauthenticatedMessageRejected(t *testing.T) {
	gw, _, _ := testGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "content": "hi"}))

	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp["type"])
	assert.Equal(t, "Not authenticated", resp["message"])
}

func TestInvalidPairingCredentialsRejected(t *testing.T) {
	gw, _, _ := testGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":        "pair",
		"session_id":  "does-not-exist",
		"temp_token":  "wrong",
		"device_info": map[string]string{"device_name": "X", "platform": "ios"},
	}))

	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp["type"])
}

func TestBadDeviceInfoRejectedBeforeConsultingPairingManager(t *testing.T) {
	gw, pairingMgr, _ := testGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	session, _, err := pairingMgr.CreateSession()
	require.NoError(t, err)

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":        "pair",
		"session_id":  session.SessionID,
		"temp_token":  session.TempToken,
		"device_info": map[string]string{"device_name": "<script>bad</script>", "platform": "ios"},
	}))

	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp["type"])

	// The schema failure must not have consumed the pairing session.
	assert.Equal(t, 1, pairingMgr.Count())
}

func TestPingPong(t *testing.T) {
	gw, _, _ := testGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "pong", resp["type"])
}

func TestSendToDeviceReturnsFalseWhenNotConnected(t *testing.T) {
	gw, _, _ := testGateway(t)
	assert.False(t, gw.SendToDevice("device_ghost", "hi"))
}

func TestUnknownMessageType(t *testing.T) {
	gw, _, _ := testGateway(t)
	srv := httptest.NewServer(http.HandlerFunc(gw.ServeHTTP))
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "error", resp["type"])
	assert.Contains(t, resp["message"], "Unknown message type")
}
