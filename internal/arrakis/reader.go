// Package arrakis reads vault, token, resolver and front-end state through
// eth_call.
package arrakis

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
)

// Caller is satisfied by ethclient.Client and execution.ChainClient.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type TokenMeta struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int            `json:"decimals"`
}

// Reader performs typed reads. Token metadata is cached for the reader's lifetime.
type Reader struct {
	caller Caller

	mu   sync.RWMutex
	meta map[common.Address]TokenMeta
}

func NewReader(caller Caller) *Reader {
	return &Reader{caller: caller, meta: map[common.Address]TokenMeta{}}
}

func (r *Reader) Decimals(ctx context.Context, token common.Address) (int, error) {
	meta, err := r.TokenMeta(ctx, token)
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// TokenMeta reads symbol and decimals once per token.
func (r *Reader) TokenMeta(ctx context.Context, token common.Address) (TokenMeta, error) {
	r.mu.RLock()
	meta, ok := r.meta[token]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}
	parsed, err := ERC20ABI()
	if err != nil {
		return TokenMeta{}, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	values, err := r.call(ctx, token, parsed, "decimals")
	if err != nil {
		return TokenMeta{}, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return TokenMeta{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("decimals(%s): unexpected type %T", token.Hex(), values[0]))
	}
	meta = TokenMeta{Address: token, Decimals: int(decimals)}
	// symbol() is optional on some tokens; an unreadable symbol stays empty.
	if values, err := r.call(ctx, token, parsed, "symbol"); err == nil {
		if s, ok := values[0].(string); ok {
			meta.Symbol = s
		}
	}
	r.mu.Lock()
	r.meta[token] = meta
	r.mu.Unlock()
	return meta, nil
}

func (r *Reader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	values, err := r.call(ctx, token, parsed, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0], "balanceOf")
}

func (r *Reader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	values, err := r.call(ctx, token, parsed, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0], "allowance")
}

func (r *Reader) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := r.caller.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance of "+owner.Hex(), err)
	}
	return bal, nil
}

// VaultTokens returns the vault's (token0, token1) pair.
func (r *Reader) VaultTokens(ctx context.Context, vault common.Address) (common.Address, common.Address, error) {
	parsed, err := VaultABI()
	if err != nil {
		return common.Address{}, common.Address{}, clierr.Wrap(clierr.CodeInternal, "parse vault abi", err)
	}
	token0, err := r.readAddress(ctx, vault, parsed, "token0")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	token1, err := r.readAddress(ctx, vault, parsed, "token1")
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return token0, token1, nil
}

func (r *Reader) StakingToken(ctx context.Context, gauge common.Address) (common.Address, error) {
	parsed, err := GaugeABI()
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeInternal, "parse gauge abi", err)
	}
	return r.readAddress(ctx, gauge, parsed, "staking_token")
}

// Swapper reads the executor registered on a generic router.
func (r *Reader) Swapper(ctx context.Context, router common.Address) (common.Address, error) {
	parsed, err := FrontendABI()
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeInternal, "parse front-end abi", err)
	}
	return r.readAddress(ctx, router, parsed, "swapper")
}

// RouterOf reads the router registered on a wrapper.
func (r *Reader) RouterOf(ctx context.Context, wrapper common.Address) (common.Address, error) {
	parsed, err := FrontendABI()
	if err != nil {
		return common.Address{}, clierr.Wrap(clierr.CodeInternal, "parse front-end abi", err)
	}
	return r.readAddress(ctx, wrapper, parsed, "router")
}

func (r *Reader) readAddress(ctx context.Context, target common.Address, parsed abi.ABI, method string) (common.Address, error) {
	values, err := r.call(ctx, target, parsed, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s(): unexpected type %T", method, values[0]))
	}
	return addr, nil
}

func (r *Reader) call(ctx context.Context, target common.Address, parsed abi.ABI, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack "+method, err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("call %s on %s", method, target.Hex()), err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode %s from %s", method, target.Hex()), err)
	}
	if len(values) == 0 {
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s on %s returned no values", method, target.Hex()))
	}
	return values, nil
}

func asBigInt(v any, label string) (*big.Int, error) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, clierr.New(clierr.CodeUnavailable, label+": nil value")
		}
		return new(big.Int).Set(value), nil
	default:
		return nil, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s: unexpected type %T", label, v))
	}
}
