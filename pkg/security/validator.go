package security

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	deviceNamePattern = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,50}$`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	suspiciousPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
	}

	validPlatforms = map[string]bool{
		"ios":     true,
		"android": true,
		"web":     true,
		"desktop": true,
	}
)

const maxMessageContentBytes = 100_000

// DeviceInfo is the subset of pairing request fields that must pass
// validation before a pairing session is consulted.
type DeviceInfo struct {
	DeviceName string
	Platform   string
}

// Validator checks device metadata and message content against the
// schema and content rules the relay enforces at its edge.
type Validator struct{}

// NewValidator builds a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDeviceInfo checks device_name and platform against their
// allowed shapes.
func (v *Validator) ValidateDeviceInfo(info DeviceInfo) error {
	if info.DeviceName == "" {
		return fmt.Errorf("missing required field: device_name")
	}
	if info.Platform == "" {
		return fmt.Errorf("missing required field: platform")
	}
	if !deviceNamePattern.MatchString(info.DeviceName) {
		return fmt.Errorf("invalid device_name format (max 50 chars, alphanumeric/space/dash/underscore only)")
	}
	if !validPlatforms[info.Platform] {
		return fmt.Errorf("invalid platform (must be one of: ios, android, web, desktop)")
	}
	return nil
}

// ValidateMessageContent checks message content length and rejects
// content carrying obvious XSS/injection markers.
func (v *Validator) ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return fmt.Errorf("message content empty")
	}
	if len(content) > maxMessageContentBytes {
		return fmt.Errorf("message content too large (max 100KB)")
	}
	for _, pattern := range suspiciousPatterns {
		if pattern.MatchString(content) {
			return fmt.Errorf("Message content contains suspicious patterns")
		}
	}
	return nil
}

// SanitizeInput truncates text to maxLength, strips NUL bytes, and
// collapses whitespace runs to single spaces.
func (v *Validator) SanitizeInput(text string, maxLength int) string {
	if maxLength > 0 && len(text) > maxLength {
		text = text[:maxLength]
	}
	text = strings.ReplaceAll(text, "\x00", "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
