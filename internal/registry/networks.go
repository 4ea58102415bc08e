package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TopologyGeneric = "generic"
	TopologyWrapper = "wrapper"
)

// Contract logical names resolvable through Network.Contract.
const (
	ContractRouter   = "router"
	ContractExecutor = "executor"
	ContractResolver = "resolver"
	ContractWrapper  = "wrapper"
)

type Token struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals int            `json:"decimals"`
}

type Contracts struct {
	Router   common.Address `json:"router"`
	Executor common.Address `json:"executor"`
	Resolver common.Address `json:"resolver"`
	Wrapper  common.Address `json:"wrapper"`
}

// Network is the per-deployment address book handed to every component
// that touches the chain. Values are copied, never shared.
type Network struct {
	Name         string           `json:"name"`
	ChainID      int64            `json:"chain_id"`
	RPCURL       string           `json:"rpc_url"`
	NativeSymbol string           `json:"native_symbol"`
	Topology     string           `json:"topology"`
	Contracts    Contracts        `json:"contracts"`
	Tokens       map[string]Token `json:"tokens"`
}

// ChainRef returns the CAIP-2 identifier stored on execution actions.
func (n Network) ChainRef() string {
	return fmt.Sprintf("eip155:%d", n.ChainID)
}

func (n Network) Contract(name string) (common.Address, error) {
	var addr common.Address
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ContractRouter:
		addr = n.Contracts.Router
	case ContractExecutor:
		addr = n.Contracts.Executor
	case ContractResolver:
		addr = n.Contracts.Resolver
	case ContractWrapper:
		addr = n.Contracts.Wrapper
	default:
		return common.Address{}, fmt.Errorf("unknown contract name %q", name)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("contract %q is not configured for network %s", name, n.Name)
	}
	return addr, nil
}

// Token resolves a token by symbol (case-insensitive) or by address.
func (n Network) Token(symbolOrAddress string) (Token, bool) {
	key := strings.TrimSpace(symbolOrAddress)
	if key == "" {
		return Token{}, false
	}
	if common.IsHexAddress(key) {
		addr := common.HexToAddress(key)
		for _, tok := range n.Tokens {
			if tok.Address == addr {
				return tok, true
			}
		}
		return Token{}, false
	}
	tok, ok := n.Tokens[strings.ToUpper(key)]
	return tok, ok
}

// TokenByAddress returns the registered token for addr, if any.
func (n Network) TokenByAddress(addr common.Address) (Token, bool) {
	for _, tok := range n.Tokens {
		if tok.Address == addr {
			return tok, true
		}
	}
	return Token{}, false
}

// IsNativeSymbol reports whether symbol names the chain's native currency.
func (n Network) IsNativeSymbol(symbol string) bool {
	native := n.NativeSymbol
	if native == "" {
		native = "ETH"
	}
	return strings.EqualFold(strings.TrimSpace(symbol), native)
}

// WrappedNative returns the ERC-20 wrapper of the native currency (WETH for
// ETH), which is the vault side funded when native currency is used.
func (n Network) WrappedNative() (Token, bool) {
	native := n.NativeSymbol
	if native == "" {
		native = "ETH"
	}
	tok, ok := n.Tokens["W"+strings.ToUpper(native)]
	return tok, ok
}

func (n Network) Clone() Network {
	out := n
	out.Tokens = make(map[string]Token, len(n.Tokens))
	for k, v := range n.Tokens {
		out.Tokens[k] = v
	}
	return out
}

var defaultNetworks = map[string]Network{
	"mainnet": {
		Name:         "mainnet",
		ChainID:      1,
		NativeSymbol: "ETH",
		Topology:     TopologyGeneric,
		Tokens: map[string]Token{
			"WETH": {Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18},
			"DAI":  {Symbol: "DAI", Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 18},
			"USDC": {Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6},
		},
	},
	"polygon": {
		Name:         "polygon",
		ChainID:      137,
		NativeSymbol: "MATIC",
		Topology:     TopologyGeneric,
		Tokens: map[string]Token{
			"WMATIC": {Symbol: "WMATIC", Address: common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"), Decimals: 18},
			"WETH":   {Symbol: "WETH", Address: common.HexToAddress("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"), Decimals: 18},
			"USDC":   {Symbol: "USDC", Address: common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"), Decimals: 6},
		},
	},
	"optimism": {
		Name:         "optimism",
		ChainID:      10,
		NativeSymbol: "ETH",
		Topology:     TopologyGeneric,
		Tokens: map[string]Token{
			"WETH": {Symbol: "WETH", Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18},
		},
	},
}

// DefaultNetworks returns a fresh copy of the built-in network table.
func DefaultNetworks() map[string]Network {
	out := make(map[string]Network, len(defaultNetworks))
	for name, n := range defaultNetworks {
		out[name] = n.Clone()
	}
	return out
}

func NetworkNames(networks map[string]Network) []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
