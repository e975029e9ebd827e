// Package logger provides tests for security-specific logging
package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

// setupTestLogger creates a test logger with a buffer for capturing output
func setupTestLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer

	baseLogger, _ := New(Config{
		Level:     "info",
		Format:    "json",
		Output:    "stdout",
		Component: "test",
	})

	jsonHandler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	baseLogger.Logger = slog.New(jsonHandler)

	return baseLogger, &buf
}

// parseLogOutput parses JSON log output
func parseLogOutput(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}
	return logEntry
}

func TestLogAuthAttemptAndSuccess(t *testing.T) {
	baseLogger, buf := setupTestLogger()
	secLog := NewSecurityLogger(baseLogger)
	ctx := context.Background()

	secLog.LogAuthAttempt(ctx, "device_abc123")
	entry := parseLogOutput(t, buf)

	if entry["event_type"] != string(AuthAttempt) {
		t.Errorf("event_type = %v, want %v", entry["event_type"], AuthAttempt)
	}
	if entry["device_id"] != "device_abc123" {
		t.Errorf("device_id = %v, want device_abc123", entry["device_id"])
	}

	buf.Reset()
	secLog.LogAuthSuccess(ctx, "device_abc123")
	entry = parseLogOutput(t, buf)
	if entry["event_type"] != string(AuthSuccess) {
		t.Errorf("event_type = %v, want %v", entry["event_type"], AuthSuccess)
	}
}

func TestLogAuthFailure(t *testing.T) {
	baseLogger, buf := setupTestLogger()
	secLog := NewSecurityLogger(baseLogger)

	secLog.LogAuthFailure(context.Background(), "token expired")
	entry := parseLogOutput(t, buf)

	if entry["event_type"] != string(AuthFailure) {
		t.Errorf("event_type = %v, want %v", entry["event_type"], AuthFailure)
	}
	if entry["reason"] != "token expired" {
		t.Errorf("reason = %v, want 'token expired'", entry["reason"])
	}
}

func TestLogPairingLifecycle(t *testing.T) {
	baseLogger, buf := setupTestLogger()
	secLog := NewSecurityLogger(baseLogger)
	ctx := context.Background()

	secLog.LogPairingAttempt(ctx, "sess-1", "203.0.113.5")
	entry := parseLogOutput(t, buf)
	if entry["event_type"] != string(PairingAttempt) {
		t.Errorf("event_type = %v, want %v", entry["event_type"], PairingAttempt)
	}

	buf.Reset()
	secLog.LogPairingSuccess(ctx, "sess-1", "device_sess1234", "203.0.113.5")
	entry = parseLogOutput(t, buf)
	if entry["device_id"] != "device_sess1234" {
		t.Errorf("device_id = %v, want device_sess1234", entry["device_id"])
	}

	buf.Reset()
	secLog.LogPairingFailure(ctx, "sess-1", "session expired")
	entry = parseLogOutput(t, buf)
	if entry["event_type"] != string(PairingFailure) {
		t.Errorf("event_type = %v, want %v", entry["event_type"], PairingFailure)
	}
}

func TestLogRateLimitedAndAccessDenied(t *testing.T) {
	baseLogger, buf := setupTestLogger()
	secLog := NewSecurityLogger(baseLogger)
	ctx := context.Background()

	secLog.LogRateLimited(ctx, "device_abc123")
	entry := parseLogOutput(t, buf)
	if entry["identifier"] != "device_abc123" {
		t.Errorf("identifier = %v, want device_abc123", entry["identifier"])
	}

	buf.Reset()
	secLog.LogAccessDenied(ctx, "ip not allowlisted", "198.51.100.9")
	entry = parseLogOutput(t, buf)
	if entry["ip_address"] != "198.51.100.9" {
		t.Errorf("ip_address = %v, want 198.51.100.9", entry["ip_address"])
	}
}

func TestLogBridgeEvents(t *testing.T) {
	baseLogger, buf := setupTestLogger()
	secLog := NewSecurityLogger(baseLogger)
	ctx := context.Background()

	secLog.LogBridgeConnected(ctx)
	entry := parseLogOutput(t, buf)
	if entry["event_type"] != string(BridgeConnected) {
		t.Errorf("event_type = %v, want %v", entry["event_type"], BridgeConnected)
	}

	buf.Reset()
	secLog.LogBridgeRejected(ctx, "already connected")
	entry = parseLogOutput(t, buf)
	if entry["reason"] != "already connected" {
		t.Errorf("reason = %v, want 'already connected'", entry["reason"])
	}
}
