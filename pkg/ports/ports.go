// Package ports manages the cluster firewall surface: the admin-maintained
// lists of allowed host ports and of ports users may not expose publicly.
package ports

import (
	"strings"
	"time"
)

// Protocols accepted by both lists.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)

// AllowedPort is one host port opened in the cluster firewall.
type AllowedPort struct {
	ID        int64     `json:"id"`
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	CreatedAt time.Time `json:"created_at"`
}

// RestrictedPort is one port users may not expose on a public IP.
type RestrictedPort struct {
	ID        int64     `json:"id"`
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeProtocol lowercases the protocol and defaults empty to tcp.
func NormalizeProtocol(protocol string) string {
	p := strings.ToLower(strings.TrimSpace(protocol))
	if p == "" {
		return ProtocolTCP
	}
	return p
}

// ValidProtocol reports whether the protocol is tcp or udp.
func ValidProtocol(protocol string) bool {
	return protocol == ProtocolTCP || protocol == ProtocolUDP
}

// ValidPort reports whether the port is in the usable range.
func ValidPort(port int) bool {
	return port > 0 && port <= 65535
}
