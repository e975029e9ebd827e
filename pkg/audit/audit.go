// Package audit implements the relay's append-only security event log:
// one JSON object per line, rotated by size the way an operator would
// expect from a long-running service's access log.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType names the category of a logged security event.
type EventType string

const (
	EventAuthentication  EventType = "authentication"
	EventPairing         EventType = "pairing"
	EventRateLimit       EventType = "rate_limit_exceeded"
	EventAccessDenied    EventType = "access_denied"
	EventBridgeConnected EventType = "bridge_connected"
)

// Entry is one audit log record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	DeviceID  string         `json:"device_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	Success   bool           `json:"success"`
	Details   map[string]any `json:"details,omitempty"`
}

// Log is an append-only, size-rotated JSONL audit trail.
type Log struct {
	mu          sync.Mutex
	path        string
	maxFileSize int64
	maxFiles    int
}

// Config configures a Log.
type Config struct {
	// Path is the active log file. Rotated files live alongside it as
	// path.1, path.2, ... up to MaxFiles.
	Path string
	// MaxFileSizeMB bounds the active file before it is rotated. Defaults
	// to 100MB.
	MaxFileSizeMB int
	// MaxFiles bounds how many rotated generations are kept. Defaults to 10.
	MaxFiles int
}

// New builds a Log, creating the log directory if needed.
func New(cfg Config) (*Log, error) {
	maxSize := cfg.MaxFileSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 10
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("audit: create log directory: %w", err)
		}
	}

	return &Log{
		path:        cfg.Path,
		maxFileSize: int64(maxSize) * 1024 * 1024,
		maxFiles:    maxFiles,
	}, nil
}

// rotateIfNeeded shifts path.(max-1) -> path.max ... path.1 -> path.2,
// then renames the active file to path.1, iff it has grown past
// maxFileSize. Must be called with mu held.
func (l *Log) rotateIfNeeded() error {
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() <= l.maxFileSize {
		return nil
	}

	for i := l.maxFiles - 1; i >= 1; i-- {
		oldFile := fmt.Sprintf("%s.%d", l.path, i)
		newFile := fmt.Sprintf("%s.%d", l.path, i+1)
		if _, err := os.Stat(oldFile); err == nil {
			_ = os.Remove(newFile)
			if err := os.Rename(oldFile, newFile); err != nil {
				return fmt.Errorf("audit: rotate %s -> %s: %w", oldFile, newFile, err)
			}
		}
	}

	rotated := l.path + ".1"
	_ = os.Remove(rotated)
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("audit: rotate active file: %w", err)
	}

	return nil
}

// Log appends entry to the active file, rotating first if needed. A
// zero Timestamp is stamped with the current UTC time.
func (l *Log) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return nil
}

// LogAuthentication records a device authentication attempt.
func (l *Log) LogAuthentication(deviceID, ipAddress string, success bool, method string) error {
	return l.Log(Entry{
		EventType: EventAuthentication,
		DeviceID:  deviceID,
		IPAddress: ipAddress,
		Success:   success,
		Details:   map[string]any{"method": method},
	})
}

// LogPairing records a pairing attempt.
func (l *Log) LogPairing(sessionID, deviceID, ipAddress string, success bool) error {
	return l.Log(Entry{
		EventType: EventPairing,
		DeviceID:  deviceID,
		IPAddress: ipAddress,
		Success:   success,
		Details:   map[string]any{"session_id": sessionID},
	})
}

// LogRateLimit records a rate limit violation.
func (l *Log) LogRateLimit(identifier, ipAddress string) error {
	entry := Entry{EventType: EventRateLimit, IPAddress: ipAddress, Success: false}
	if ipAddress == "" {
		entry.DeviceID = identifier
	}
	return l.Log(entry)
}

// LogAccessDenied records a request rejected before authentication, such
// as an IP allowlist miss.
func (l *Log) LogAccessDenied(reason, deviceID, ipAddress string) error {
	return l.Log(Entry{
		EventType: EventAccessDenied,
		DeviceID:  deviceID,
		IPAddress: ipAddress,
		Success:   false,
		Details:   map[string]any{"reason": reason},
	})
}

// Recent returns up to count of the most recently logged entries from
// the active file, oldest first. It does not read rotated generations.
func (l *Log) Recent(count int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: read log: %w", err)
	}

	if count > 0 && len(lines) > count {
		lines = lines[len(lines)-count:]
	}

	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue // a partially-written final line is tolerated, not fatal
		}
		entries = append(entries, e)
	}
	return entries, nil
}
