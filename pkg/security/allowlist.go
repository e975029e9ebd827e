package security

import (
	"fmt"
	"net"

	"github.com/armorclaw/mobilerelay/pkg/logger"
)

// IPAllowlist restricts bridge and gateway connections to a configured set
// of CIDR ranges. An empty, enabled allowlist allows everything (and logs
// a warning), matching a misconfiguration-tolerant default over a
// fail-closed one that could lock an operator out of their own relay.
type IPAllowlist struct {
	enabled  bool
	networks []*net.IPNet
}

// NewIPAllowlist parses entries (bare IPs or CIDR ranges) into an
// allowlist. Invalid entries are skipped with a warning, not an error,
// since one bad config line shouldn't prevent the relay from starting.
func NewIPAllowlist(entries []string, enabled bool) *IPAllowlist {
	var networks []*net.IPNet
	for _, entry := range entries {
		_, network, err := net.ParseCIDR(withMask(entry))
		if err != nil {
			logger.Global().Warn("invalid IP allowlist entry, skipping", "entry", entry, "error", err)
			continue
		}
		networks = append(networks, network)
	}

	if enabled {
		logger.Global().Info("IP allowlist initialized", "enabled", enabled, "entries", len(networks))
	}

	return &IPAllowlist{enabled: enabled, networks: networks}
}

// withMask appends a /32 (or /128 for IPv6) suffix to a bare IP so it
// parses as a CIDR range, leaving already-qualified entries untouched.
func withMask(entry string) string {
	for _, c := range entry {
		if c == '/' {
			return entry
		}
	}
	if ip := net.ParseIP(entry); ip != nil {
		if ip.To4() != nil {
			return entry + "/32"
		}
		return entry + "/128"
	}
	return entry
}

// Allowed reports whether ipAddress may connect.
func (a *IPAllowlist) Allowed(ipAddress string) (bool, error) {
	if !a.enabled {
		return true, nil
	}
	if len(a.networks) == 0 {
		logger.Global().Warn("IP allowlist enabled but empty, allowing all addresses")
		return true, nil
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return false, fmt.Errorf("invalid IP address: %s", ipAddress)
	}

	for _, network := range a.networks {
		if network.Contains(ip) {
			return true, nil
		}
	}

	return false, fmt.Errorf("IP address not allowed: %s", ipAddress)
}
