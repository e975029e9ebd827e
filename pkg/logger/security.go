// Package logger provides security-specific logging helpers for the relay
// and bridge client.
package logger

import (
	"context"
	"log/slog"
)

// SecurityEventType defines the types of security events that
// SecurityLogger records.
type SecurityEventType string

const (
	AuthAttempt  SecurityEventType = "auth_attempt"
	AuthSuccess  SecurityEventType = "auth_success"
	AuthFailure  SecurityEventType = "auth_failure"
	AuthRejected SecurityEventType = "auth_rejected"

	PairingAttempt SecurityEventType = "pairing_attempt"
	PairingSuccess SecurityEventType = "pairing_success"
	PairingFailure SecurityEventType = "pairing_failure"

	RateLimited  SecurityEventType = "rate_limited"
	AccessDenied SecurityEventType = "access_denied"

	BridgeConnected    SecurityEventType = "bridge_connected"
	BridgeDisconnected SecurityEventType = "bridge_disconnected"
	BridgeRejected     SecurityEventType = "bridge_rejected"
)

// SecurityLogger provides security-specific logging methods layered on top
// of Logger.SecurityEvent.
type SecurityLogger struct {
	logger *Logger
}

// NewSecurityLogger creates a new security logger.
func NewSecurityLogger(baseLogger *Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: baseLogger.WithComponent("security"),
	}
}

// LogAuthAttempt logs a device JWT authentication attempt.
func (sl *SecurityLogger) LogAuthAttempt(ctx context.Context, deviceID string, attrs ...slog.Attr) {
	base := []slog.Attr{slog.String("device_id", deviceID)}
	sl.logger.SecurityEvent(ctx, string(AuthAttempt), append(base, attrs...)...)
}

// LogAuthSuccess logs a successful JWT authentication.
func (sl *SecurityLogger) LogAuthSuccess(ctx context.Context, deviceID string, attrs ...slog.Attr) {
	base := []slog.Attr{slog.String("device_id", deviceID)}
	sl.logger.SecurityEvent(ctx, string(AuthSuccess), append(base, attrs...)...)
}

// LogAuthFailure logs a rejected credential.
func (sl *SecurityLogger) LogAuthFailure(ctx context.Context, reason string, attrs ...slog.Attr) {
	base := []slog.Attr{slog.String("reason", reason)}
	sl.logger.SecurityEvent(ctx, string(AuthFailure), append(base, attrs...)...)
}

// LogPairingAttempt logs an inbound pairing request.
func (sl *SecurityLogger) LogPairingAttempt(ctx context.Context, sessionID, ip string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("session_id", sessionID),
		slog.String("ip_address", ip),
	}
	sl.logger.SecurityEvent(ctx, string(PairingAttempt), append(base, attrs...)...)
}

// LogPairingSuccess logs a completed pairing.
func (sl *SecurityLogger) LogPairingSuccess(ctx context.Context, sessionID, deviceID, ip string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("session_id", sessionID),
		slog.String("device_id", deviceID),
		slog.String("ip_address", ip),
	}
	sl.logger.SecurityEvent(ctx, string(PairingSuccess), append(base, attrs...)...)
}

// LogPairingFailure logs a rejected pairing attempt.
func (sl *SecurityLogger) LogPairingFailure(ctx context.Context, sessionID, reason string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
	}
	sl.logger.SecurityEvent(ctx, string(PairingFailure), append(base, attrs...)...)
}

// LogRateLimited logs a rate-limit rejection.
func (sl *SecurityLogger) LogRateLimited(ctx context.Context, identifier string, attrs ...slog.Attr) {
	base := []slog.Attr{slog.String("identifier", identifier)}
	sl.logger.SecurityEvent(ctx, string(RateLimited), append(base, attrs...)...)
}

// LogAccessDenied logs a denied request (IP not allowlisted, etc).
func (sl *SecurityLogger) LogAccessDenied(ctx context.Context, reason, ip string, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("reason", reason),
		slog.String("ip_address", ip),
	}
	sl.logger.SecurityEvent(ctx, string(AccessDenied), append(base, attrs...)...)
}

// LogBridgeConnected logs a successful bridge authentication.
func (sl *SecurityLogger) LogBridgeConnected(ctx context.Context, attrs ...slog.Attr) {
	sl.logger.SecurityEvent(ctx, string(BridgeConnected), attrs...)
}

// LogBridgeDisconnected logs a bridge disconnect.
func (sl *SecurityLogger) LogBridgeDisconnected(ctx context.Context, attrs ...slog.Attr) {
	sl.logger.SecurityEvent(ctx, string(BridgeDisconnected), attrs...)
}

// LogBridgeRejected logs a rejected bridge connection (duplicate or bad token).
func (sl *SecurityLogger) LogBridgeRejected(ctx context.Context, reason string, attrs ...slog.Attr) {
	base := []slog.Attr{slog.String("reason", reason)}
	sl.logger.SecurityEvent(ctx, string(BridgeRejected), append(base, attrs...)...)
}
