package utils

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/osa911/stackctl/internal/logging"
)

// PublicResolvers are queried in order by LookupHostGlobal.
var PublicResolvers = []string{
	"8.8.8.8:53", // Google
	"1.1.1.1:53", // Cloudflare
}

// LookupHostGlobal performs a DNS lookup using public resolvers.
// This bypasses the local system resolver (and /etc/hosts) so the answer matches
// what Let's Encrypt will see when validating the HTTP challenge.
func LookupHostGlobal(ctx context.Context, domain string) ([]string, error) {
	logger := logging.GetGlobalLogger()

	var lastErr error
	for _, resolverAddr := range PublicResolvers {
		addr := resolverAddr
		resolver := &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{
					Timeout: 2 * time.Second,
				}
				return d.DialContext(ctx, "udp", addr)
			},
		}

		lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		ips, err := resolver.LookupHost(lookupCtx, domain)
		cancel()

		if err == nil {
			logger.Debug("Resolved %s using %s: %v", domain, addr, ips)
			return ips, nil
		}

		logger.Debug("Failed to resolve %s using %s: %v", domain, addr, err)
		lastErr = err
	}

	return nil, fmt.Errorf("failed to resolve domain %s using public resolvers: %w", domain, lastErr)
}

// ContainsIP reports whether ip is one of the resolved addresses.
func ContainsIP(ips []string, ip string) bool {
	want := net.ParseIP(ip)
	for _, candidate := range ips {
		parsed := net.ParseIP(candidate)
		if parsed != nil && want != nil && parsed.Equal(want) {
			return true
		}
		if candidate == ip {
			return true
		}
	}
	return false
}
