package arrakis

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
)

type RebalanceParams struct {
	ZeroForOne bool     `json:"zero_for_one"`
	SwapAmount *big.Int `json:"swap_amount"`
}

type MintAmounts struct {
	Amount0    *big.Int `json:"amount0"`
	Amount1    *big.Int `json:"amount1"`
	MintAmount *big.Int `json:"mint_amount"`
}

// Resolver binds the on-chain rebalance calculator deployed at Address.
type Resolver struct {
	reader  *Reader
	Address common.Address
}

func NewResolver(caller Caller, address common.Address) *Resolver {
	return &Resolver{reader: NewReader(caller), Address: address}
}

// GetRebalanceParams asks how much to swap, and in which direction, so the
// given amounts match the vault ratio at price18 (token1 per token0, 1e18).
func (r *Resolver) GetRebalanceParams(ctx context.Context, vault common.Address, amount0In, amount1In, price18 *big.Int) (RebalanceParams, error) {
	parsed, err := ResolverABI()
	if err != nil {
		return RebalanceParams{}, clierr.Wrap(clierr.CodeInternal, "parse resolver abi", err)
	}
	values, err := r.reader.call(ctx, r.Address, parsed, "getRebalanceParams", vault, amount0In, amount1In, price18)
	if err != nil {
		return RebalanceParams{}, err
	}
	if len(values) != 2 {
		return RebalanceParams{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("getRebalanceParams returned %d values", len(values)))
	}
	zeroForOne, ok := values[0].(bool)
	if !ok {
		return RebalanceParams{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("getRebalanceParams: unexpected type %T", values[0]))
	}
	amount, err := asBigInt(values[1], "getRebalanceParams.swapAmount")
	if err != nil {
		return RebalanceParams{}, err
	}
	return RebalanceParams{ZeroForOne: zeroForOne, SwapAmount: amount}, nil
}

// GetMintAmounts returns the amounts the vault would pull and the shares it
// would mint for the given maxima.
func (r *Resolver) GetMintAmounts(ctx context.Context, vault common.Address, amount0Max, amount1Max *big.Int) (MintAmounts, error) {
	parsed, err := ResolverABI()
	if err != nil {
		return MintAmounts{}, clierr.Wrap(clierr.CodeInternal, "parse resolver abi", err)
	}
	values, err := r.reader.call(ctx, r.Address, parsed, "getMintAmounts", vault, amount0Max, amount1Max)
	if err != nil {
		return MintAmounts{}, err
	}
	if len(values) != 3 {
		return MintAmounts{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("getMintAmounts returned %d values", len(values)))
	}
	out := MintAmounts{}
	if out.Amount0, err = asBigInt(values[0], "getMintAmounts.amount0"); err != nil {
		return MintAmounts{}, err
	}
	if out.Amount1, err = asBigInt(values[1], "getMintAmounts.amount1"); err != nil {
		return MintAmounts{}, err
	}
	if out.MintAmount, err = asBigInt(values[2], "getMintAmounts.mintAmount"); err != nil {
		return MintAmounts{}, err
	}
	return out, nil
}
