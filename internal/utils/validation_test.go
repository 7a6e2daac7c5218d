package utils

import "testing"

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"sub.example.com", true},
		{"sub-domain.example.com", true},
		{"123.com", true},
		{"example.co.uk", true},
		{"localhost", false},
		{"invalid", false},
		{"example", false},
		{"ex_ample.com", false}, // Underscore not allowed
		{"example.c", false},    // TLD too short
		{"192.168.1.1", false},  // IP address
		{"-example.com", false}, // Starts with hyphen
		{"example-.com", false}, // Ends with hyphen
		{"", false},             // Empty
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			if got := IsValidDomain(tt.domain); got != tt.want {
				t.Errorf("IsValidDomain(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"example.com", "example.com"},
		{"https://App.Example.com/health", "app.example.com"},
		{"http://example.com:8080", "example.com"},
		{" example.com. ", "example.com"},
	}

	for _, tt := range tests {
		if got := NormalizeDomain(tt.in); got != tt.want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContainsIP(t *testing.T) {
	ips := []string{"203.0.113.10", "2001:db8::1"}

	if !ContainsIP(ips, "203.0.113.10") {
		t.Error("expected IPv4 match")
	}
	if !ContainsIP(ips, "2001:0db8:0000::1") {
		t.Error("expected IPv6 match regardless of notation")
	}
	if ContainsIP(ips, "198.51.100.1") {
		t.Error("unexpected match")
	}
}
