package registry

import (
	"net"
	"net/url"
	"strings"
)

// OneInchBaseURL is the aggregator root; the chain id is appended as a path segment.
const OneInchBaseURL = "https://api.1inch.dev/swap/v5.2"

// IsAllowedAggregatorURL accepts https endpoints and plain-http loopback
// endpoints used for local fixtures.
func IsAllowedAggregatorURL(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(parsed.Hostname()) {
		return scheme == "http" || scheme == "https"
	}
	return scheme == "https"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
