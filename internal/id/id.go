// Package id parses the addresses, token references and amounts accepted on
// the command line.
package id

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
)

var (
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	eip155AssetPattern = regexp.MustCompile(`^eip155:([0-9]+)/erc20:(0x[0-9a-fA-F]{40})$`)
)

// ParseAddress accepts a 0x-prefixed 20-byte hex address. An empty input
// yields the zero address when optional is set.
func ParseAddress(flag, input string, optional bool) (common.Address, error) {
	v := strings.TrimSpace(input)
	if v == "" {
		if optional {
			return common.Address{}, nil
		}
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s is required", flag))
	}
	if !evmAddressPattern.MatchString(v) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("--%s must be a 0x-prefixed address", flag))
	}
	return common.HexToAddress(v), nil
}

// ParseToken resolves a symbol, address or CAIP-19 asset id against the
// network's token table. Unknown addresses are returned with zero decimals
// so callers can read metadata on-chain.
func ParseToken(input string, network registry.Network) (registry.Token, error) {
	v := strings.TrimSpace(input)
	if v == "" {
		return registry.Token{}, clierr.New(clierr.CodeUsage, "token is required")
	}
	if m := eip155AssetPattern.FindStringSubmatch(v); m != nil {
		if fmt.Sprintf("eip155:%s", m[1]) != network.ChainRef() {
			return registry.Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("asset %s is not on network %s (%s)", v, network.Name, network.ChainRef()))
		}
		v = m[2]
	}
	if tok, ok := network.Token(v); ok {
		return tok, nil
	}
	if evmAddressPattern.MatchString(v) {
		return registry.Token{Address: common.HexToAddress(v)}, nil
	}
	return registry.Token{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown token %q on network %s", v, network.Name))
}

// AssetID is the CAIP-19 id of an ERC-20 token on network.
func AssetID(network registry.Network, token common.Address) string {
	return fmt.Sprintf("%s/erc20:%s", network.ChainRef(), strings.ToLower(token.Hex()))
}
