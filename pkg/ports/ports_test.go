package ports

import "testing"

func TestNormalizeProtocol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "tcp"},
		{"TCP", "tcp"},
		{"udp", "udp"},
		{" Udp ", "udp"},
	}
	for _, tt := range tests {
		if got := NormalizeProtocol(tt.in); got != tt.want {
			t.Errorf("NormalizeProtocol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidPort(t *testing.T) {
	tests := []struct {
		port int
		want bool
	}{
		{0, false},
		{1, true},
		{80, true},
		{65535, true},
		{65536, false},
		{-22, false},
	}
	for _, tt := range tests {
		if got := ValidPort(tt.port); got != tt.want {
			t.Errorf("ValidPort(%d) = %v, want %v", tt.port, got, tt.want)
		}
	}
}

func TestValidProtocol(t *testing.T) {
	if !ValidProtocol("tcp") || !ValidProtocol("udp") {
		t.Error("tcp/udp must be valid")
	}
	if ValidProtocol("sctp") || ValidProtocol("TCP") {
		t.Error("only normalized tcp/udp are valid")
	}
}
