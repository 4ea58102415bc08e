package registry

import (
	"fmt"
	"net/url"
	"strings"
)

// Public endpoints for the shipped networks, used when rpc_url is unset.
var defaultRPCByChainID = map[int64]string{
	1:   "https://eth.llamarpc.com",
	10:  "https://mainnet.optimism.io",
	137: "https://polygon-rpc.com",
}

func DefaultRPCURL(chainID int64) (string, bool) {
	value, ok := defaultRPCByChainID[chainID]
	return value, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if v := strings.TrimSpace(override); v != "" {
		return v, nil
	}
	if value, ok := DefaultRPCURL(chainID); ok {
		return value, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; set rpc_url for the network", chainID)
}

// RedactRPCURL keeps scheme and host only. Hosted providers put the API key
// in the path or query, so this is the form that goes into logs.
func RedactRPCURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return "<invalid>"
	}
	return parsed.Scheme + "://" + parsed.Host
}
