// Package credential mints and validates the signed device tokens that let
// a previously paired mobile client reconnect without scanning a new QR
// code. A token is a JWS carrying {device_id, device_name, iat, exp,
// type:"access", ...extra}, signed with HMAC-SHA256 by default.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/armorclaw/mobilerelay/pkg/logger"
	"github.com/armorclaw/mobilerelay/pkg/securerandom"
)

const (
	minSecretBytes = 32
	tokenType      = "access"
)

// Sentinel errors. Validate returns them distinctly (callers can match with
// errors.Is); the mobile gateway answers every one of them with the same
// rejection message.
var (
	ErrInvalidToken = errors.New("credential: invalid token")
	ErrExpiredToken = errors.New("credential: token expired")
	ErrWrongType    = errors.New("credential: unexpected token type")
)

// Claims is the device credential payload. Extra carries caller-supplied
// claims that survive a refresh untouched.
type Claims struct {
	DeviceID   string
	DeviceName string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Extra      map[string]any
}

// Manager issues and validates device credentials.
type Manager struct {
	secret    []byte
	algorithm string
	ttl       time.Duration
}

// Config configures a Manager.
type Config struct {
	// Secret signs and verifies tokens. If shorter than 32 bytes, a fresh
	// random secret is generated and a warning is logged — this keeps any
	// weak or missing secret from ever reaching production, at the cost of
	// invalidating tokens issued before the restart.
	Secret string
	// TTL is the token lifetime. Defaults to 720h (30 days).
	TTL time.Duration
}

// NewManager builds a Manager, regenerating a weak or absent secret.
func NewManager(cfg Config) *Manager {
	secret := []byte(cfg.Secret)
	if len(secret) < minSecretBytes {
		logger.Global().Warn("jwt secret is weak or missing, generating random secret for this session",
			"configured_bytes", len(secret),
			"minimum_bytes", minSecretBytes,
		)
		secret = []byte(securerandom.MustURLToken(48))
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}

	return &Manager{secret: secret, algorithm: "HS256", ttl: ttl}
}

// Issue mints a new token for device_id/device_name carrying extra claims.
func (m *Manager) Issue(deviceID, deviceName string, extra map[string]any) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"device_id":   deviceID,
		"device_name": deviceName,
		"iat":         now.Unix(),
		"exp":         now.Add(m.ttl).Unix(),
		"type":        tokenType,
	}
	for k, v := range extra {
		switch k {
		case "device_id", "device_name", "iat", "exp", "type":
			continue // reserved claims cannot be overridden by extras
		default:
			claims[k] = v
		}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("credential: sign token: %w", err)
	}

	logger.Global().Info("issued device credential", "device_id", deviceID, "device_name", deviceName)
	return signed, nil
}

// keyFunc rejects algorithm confusion: only HMAC methods are accepted,
// regardless of what the token header claims.
func (m *Manager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("%w: unexpected signing method %v", ErrInvalidToken, token.Header["alg"])
	}
	return m.secret, nil
}

func (m *Manager) parse(tokenString string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(tokenString, m.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Validate verifies signature, type, and expiry, returning device_id on
// success. Any failure is a flat rejection — never a partial trust result.
func (m *Manager) Validate(tokenString string) (string, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		logger.Global().Warn("credential validation failed", "error", err)
		return "", err
	}

	deviceID, _ := claims["device_id"].(string)
	if deviceID == "" {
		return "", fmt.Errorf("%w: missing device_id", ErrInvalidToken)
	}
	if t, _ := claims["type"].(string); t != tokenType {
		return "", ErrWrongType
	}

	return deviceID, nil
}

// Inspect returns the signature-verified claims without enforcing
// expiry, for use by Refresh.
func (m *Manager) Inspect(tokenString string) (Claims, error) {
	parsed, err := jwt.Parse(tokenString, m.keyFunc, jwt.WithoutClaimsValidation())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	deviceID, _ := claims["device_id"].(string)
	deviceName, _ := claims["device_name"].(string)
	if deviceID == "" || deviceName == "" {
		return Claims{}, fmt.Errorf("%w: missing device information", ErrInvalidToken)
	}

	extra := make(map[string]any)
	for k, v := range claims {
		switch k {
		case "device_id", "device_name", "iat", "exp", "type":
			continue
		default:
			extra[k] = v
		}
	}

	return Claims{
		DeviceID:   deviceID,
		DeviceName: deviceName,
		IssuedAt:   numericDateToTime(claims["iat"]),
		ExpiresAt:  numericDateToTime(claims["exp"]),
		Extra:      extra,
	}, nil
}

// Refresh reissues a token for the same device, preserving extra claims
// but stamping fresh iat/exp.
func (m *Manager) Refresh(tokenString string) (string, error) {
	claims, err := m.Inspect(tokenString)
	if err != nil {
		return "", err
	}
	return m.Issue(claims.DeviceID, claims.DeviceName, claims.Extra)
}

// Expiry returns the expiry timestamp carried by a signature-verified
// token, ignoring whether it has already expired.
func (m *Manager) Expiry(tokenString string) (time.Time, error) {
	claims, err := m.Inspect(tokenString)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt, nil
}

func numericDateToTime(v any) time.Time {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0).UTC()
	case int64:
		return time.Unix(n, 0).UTC()
	default:
		return time.Time{}
	}
}
