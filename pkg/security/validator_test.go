package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDeviceInfoAccepts(t *testing.T) {
	v := NewValidator()
	err := v.ValidateDeviceInfo(DeviceInfo{DeviceName: "Alice iPhone_14", Platform: "ios"})
	assert.NoError(t, err)
}

func TestValidateDeviceInfoRejectsMissingFields(t *testing.T) {
	v := NewValidator()
	err := v.ValidateDeviceInfo(DeviceInfo{Platform: "ios"})
	assert.Error(t, err)

	err = v.ValidateDeviceInfo(DeviceInfo{DeviceName: "Phone"})
	assert.Error(t, err)
}

func TestValidateDeviceInfoRejectsBadCharacters(t *testing.T) {
	v := NewValidator()
	err := v.ValidateDeviceInfo(DeviceInfo{DeviceName: "<script>alert(1)</script>", Platform: "ios"})
	assert.Error(t, err)
}

func TestValidateDeviceInfoRejectsOverlongName(t *testing.T) {
	v := NewValidator()
	err := v.ValidateDeviceInfo(DeviceInfo{DeviceName: strings.Repeat("a", 51), Platform: "ios"})
	assert.Error(t, err)
}

func TestValidateDeviceInfoRejectsUnknownPlatform(t *testing.T) {
	v := NewValidator()
	err := v.ValidateDeviceInfo(DeviceInfo{DeviceName: "Phone", Platform: "blackberry"})
	assert.Error(t, err)
}

func TestValidateMessageContentRejectsEmpty(t *testing.T) {
	v := NewValidator()
	assert.Error(t, v.ValidateMessageContent(""))
}

func TestValidateMessageContentRejectsOversize(t *testing.T) {
	v := NewValidator()
	assert.Error(t, v.ValidateMessageContent(strings.Repeat("a", 100_001)))
}

func TestValidateMessageContentRejectsScriptTag(t *testing.T) {
	v := NewValidator()
	assert.Error(t, v.ValidateMessageContent("hello <script>evil()</script> world"))
}

func TestValidateMessageContentRejectsJavascriptProtocol(t *testing.T) {
	v := NewValidator()
	assert.Error(t, v.ValidateMessageContent(`<a href="javascript:alert(1)">click</a>`))
}

func TestValidateMessageContentRejectsEventHandler(t *testing.T) {
	v := NewValidator()
	assert.Error(t, v.ValidateMessageContent(`<img onerror=alert(1) src=x>`))
}

func TestValidateMessageContentAcceptsPlainText(t *testing.T) {
	v := NewValidator()
	assert.NoError(t, v.ValidateMessageContent("Hello, how are you today?"))
}

func TestSanitizeInputTruncatesStripsAndCollapses(t *testing.T) {
	v := NewValidator()
	out := v.SanitizeInput("hello\x00   world\n\n\tfoo", 1000)
	assert.Equal(t, "hello world foo", out)
}

func TestSanitizeInputRespectsMaxLength(t *testing.T) {
	v := NewValidator()
	out := v.SanitizeInput(strings.Repeat("a", 20), 5)
	assert.Equal(t, "aaaaa", out)
}
