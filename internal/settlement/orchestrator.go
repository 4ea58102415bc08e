// Package settlement prices, submits and verifies swap-and-add-liquidity
// settlements against an Arrakis vault front-end.
package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/providers"
	"github.com/ggonzalez94/arrakis-cli/internal/providers/fixtures"
	"github.com/ggonzalez94/arrakis-cli/internal/providers/oneinch"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"go.uber.org/zap"
)

// ChainReader is the read surface the orchestrator needs; arrakis.Reader
// implements it.
type ChainReader interface {
	TokenMeta(ctx context.Context, token common.Address) (arrakis.TokenMeta, error)
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	VaultTokens(ctx context.Context, vault common.Address) (common.Address, common.Address, error)
	StakingToken(ctx context.Context, gauge common.Address) (common.Address, error)
}

type RebalanceResolver interface {
	GetRebalanceParams(ctx context.Context, vault common.Address, amount0In, amount1In, price18 *big.Int) (arrakis.RebalanceParams, error)
	GetMintAmounts(ctx context.Context, vault common.Address, amount0Max, amount1Max *big.Int) (arrakis.MintAmounts, error)
}

// ScenarioSource serves pinned swaps; fixtures.Store implements it.
type ScenarioSource interface {
	Lookup(pair, scenario string) (providers.SwapQuote, error)
}

// Submitter executes a settlement action and returns the settlement receipt.
type Submitter interface {
	Submit(ctx context.Context, action *execution.Action) (*types.Receipt, error)
}

// Recorder receives every verified settlement.
type Recorder interface {
	Record(ctx context.Context, result Result) error
}

type Deps struct {
	Network   registry.Network
	Frontend  Frontend
	Resolver  RebalanceResolver
	Tokens    ChainReader
	Source    providers.SwapSource
	Fixtures  ScenarioSource
	Submitter Submitter
	Store     *execution.Store
	Recorder  Recorder
	Logger    *zap.Logger
}

type Orchestrator struct {
	deps Deps
	log  *zap.Logger
}

func New(deps Deps) (*Orchestrator, error) {
	if deps.Frontend == nil {
		return nil, clierr.New(clierr.CodeUsage, "settlement requires a front-end")
	}
	if deps.Resolver == nil || deps.Tokens == nil {
		return nil, clierr.New(clierr.CodeUsage, "settlement requires resolver and token readers")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps: deps,
		log: logger.With(
			zap.String("network", deps.Network.Name),
			zap.String("topology", deps.Frontend.Topology()),
		),
	}, nil
}

// Plan runs price discovery and returns a packed settlement. Nothing is sent
// on-chain.
func (o *Orchestrator) Plan(ctx context.Context, intent Intent) (Plan, error) {
	if intent.Vault == (common.Address{}) {
		return Plan{}, clierr.New(clierr.CodeUsage, "vault address is required")
	}
	if err := checkFunding(intent.Amount0Max, intent.Amount1Max); err != nil {
		return Plan{}, err
	}
	if intent.SlippageBps < 0 || intent.SlippageBps >= bpsDenominator {
		return Plan{}, clierr.New(clierr.CodeUsage, "slippage bps must be within [0, 10000)")
	}
	zeroForOne, err := resolveDirection(intent)
	if err != nil {
		return Plan{}, err
	}
	receiver := intent.Receiver
	if receiver == (common.Address{}) {
		receiver = intent.Sender
	}
	if receiver == (common.Address{}) {
		return Plan{}, clierr.New(clierr.CodeUsage, "receiver address is required")
	}

	token0, token1, err := o.vaultTokens(ctx, intent)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{
		Network:     o.deps.Network.Name,
		Topology:    o.deps.Frontend.Topology(),
		Frontend:    o.deps.Frontend.Target(),
		SwapCustody: o.deps.Frontend.SwapCustody(),
		Token0:      token0,
		Token1:      token1,
		SlippageBps: intent.SlippageBps,
		Scenario:    strings.TrimSpace(intent.Scenario),
		Sender:      intent.Sender,
		Value:       new(big.Int),
	}
	if intent.Gauge != (common.Address{}) {
		staking, err := o.deps.Tokens.StakingToken(ctx, intent.Gauge)
		if err != nil {
			return Plan{}, err
		}
		if staking != intent.Vault {
			return Plan{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("gauge %s stakes %s, not vault %s", intent.Gauge.Hex(), staking.Hex(), intent.Vault.Hex()))
		}
		plan.StakingToken = staking
	}
	if intent.UseNative {
		value, err := o.nativeValue(intent, token0, token1)
		if err != nil {
			return Plan{}, err
		}
		plan.Value = value
	}

	tokenIn, tokenOut := token0, token1
	if !zeroForOne {
		tokenIn, tokenOut = token1, token0
	}
	if tokenIn.Amount.Sign() == 0 {
		return Plan{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("zeroForOne=%t swaps %s but its max amount is zero", zeroForOne, tokenIn.Symbol))
	}

	var swap providers.SwapQuote
	if plan.Scenario != "" {
		swap, err = o.discoverPinned(ctx, &plan, intent, zeroForOne, tokenIn, tokenOut)
	} else {
		swap, err = o.discoverLive(ctx, &plan, intent, zeroForOne, tokenIn, tokenOut)
	}
	if err != nil {
		return Plan{}, err
	}

	plan.Request = SwapAndAddRequest{
		Vault:           intent.Vault,
		Amount0Max:      new(big.Int).Set(intent.Amount0Max),
		Amount1Max:      new(big.Int).Set(intent.Amount1Max),
		Amount0Min:      orZero(intent.Amount0Min),
		Amount1Min:      orZero(intent.Amount1Min),
		AmountSharesMin: orZero(intent.AmountSharesMin),
		Receiver:        receiver,
		UseNative:       intent.UseNative,
		Gauge:           intent.Gauge,
		SwapAmountIn:    swap.AmountIn(),
		SwapAmountOut:   minAmountOut(plan.QuotedOut, intent.SlippageBps),
		ZeroForOne:      zeroForOne,
		SwapTarget:      swap.Target(),
		SwapPayload:     swap.Payload(),
		RefundRecipient: receiver,
	}
	calldata, err := o.deps.Frontend.PackSwapAndAddLiquidity(plan.Request)
	if err != nil {
		return Plan{}, err
	}
	plan.Calldata = calldata
	o.log.Info("settlement planned",
		zap.Bool("zero_for_one", zeroForOne),
		zap.String("swap_amount_in", plan.Request.SwapAmountIn.String()),
		zap.String("quoted_amount_out", plan.QuotedOut.String()),
		zap.String("min_amount_out", plan.Request.SwapAmountOut.String()),
		zap.String("value", plan.Value.String()),
		zap.String("scenario", plan.Scenario),
	)
	return plan, nil
}

// discoverLive quotes the full funding amount, refines the swap amount once
// through the resolver, then quotes the final amount and builds the payload.
func (o *Orchestrator) discoverLive(ctx context.Context, plan *Plan, intent Intent, zeroForOne bool, tokenIn, tokenOut TokenAmount) (providers.SwapQuote, error) {
	if o.deps.Source == nil {
		return providers.SwapQuote{}, clierr.New(clierr.CodeUsage, "live settlement needs an aggregator; configure a 1inch api key or pass --scenario")
	}
	amount := tokenIn.Amount
	for pass := 1; pass <= 2; pass++ {
		quoted, err := o.quote(ctx, tokenIn.Token, tokenOut.Token, amount)
		if err != nil {
			return providers.SwapQuote{}, err
		}
		price, err := PriceFromQuote(amount, quoted, tokenIn.Decimals, tokenOut.Decimals, zeroForOne)
		if err != nil {
			return providers.SwapQuote{}, err
		}
		plan.Prices = append(plan.Prices, price)
		params, err := o.rebalance(ctx, intent, price, zeroForOne, pass)
		if err != nil {
			return providers.SwapQuote{}, err
		}
		if params.SwapAmount.Sign() == 0 {
			return providers.SwapQuote{}, clierr.New(clierr.CodeUsage, "nothing to swap at the quoted price; use add-liquidity")
		}
		if params.SwapAmount.Cmp(tokenIn.Amount) > 0 {
			return providers.SwapQuote{}, clierr.New(clierr.CodeInvariant,
				fmt.Sprintf("resolver swap amount %s on pass %d exceeds the funded %s max %s", params.SwapAmount, pass, tokenIn.Symbol, tokenIn.Amount))
		}
		plan.ResolverSwaps = append(plan.ResolverSwaps, params.SwapAmount)
		amount = params.SwapAmount
	}

	quotedOut, err := o.quote(ctx, tokenIn.Token, tokenOut.Token, amount)
	if err != nil {
		return providers.SwapQuote{}, err
	}
	plan.QuotedOut = quotedOut

	swap, err := o.deps.Source.BuildSwapPayload(ctx, providers.SwapRequest{
		QuoteRequest: providers.QuoteRequest{
			ChainID:  o.deps.Network.ChainID,
			TokenIn:  tokenIn.Token,
			TokenOut: tokenOut.Token,
			AmountIn: amount,
		},
		From:        o.deps.Frontend.SwapCustody(),
		SlippageBps: intent.SlippageBps,
	})
	if err != nil {
		return providers.SwapQuote{}, err
	}
	if swap.AmountIn().Cmp(amount) != 0 {
		return providers.SwapQuote{}, clierr.New(clierr.CodeSwapPayloadUnavailable, fmt.Sprintf("swap payload is for %s, expected %s", swap.AmountIn(), amount))
	}
	return swap, nil
}

// discoverPinned takes amounts and payload from a fixture scenario. Fixtures
// are keyed in swap direction (input symbol first). The fixture's implied
// price still drives one resolver call so a direction disagreement is caught.
func (o *Orchestrator) discoverPinned(ctx context.Context, plan *Plan, intent Intent, zeroForOne bool, tokenIn, tokenOut TokenAmount) (providers.SwapQuote, error) {
	if o.deps.Fixtures == nil {
		return providers.SwapQuote{}, clierr.New(clierr.CodeUsage, "scenario settlement needs a fixture store")
	}
	pair := fixtures.PairLabel(tokenIn.Symbol, tokenOut.Symbol)
	swap, err := o.deps.Fixtures.Lookup(pair, plan.Scenario)
	if err != nil {
		return providers.SwapQuote{}, err
	}
	if err := checkPinnedSwap(swap, zeroForOne, tokenIn, tokenOut); err != nil {
		return providers.SwapQuote{}, err
	}
	price, err := PriceFromQuote(swap.AmountIn(), swap.AmountOut(), tokenIn.Decimals, tokenOut.Decimals, zeroForOne)
	if err != nil {
		return providers.SwapQuote{}, err
	}
	plan.Prices = append(plan.Prices, price)
	params, err := o.rebalance(ctx, intent, price, zeroForOne, 1)
	if err != nil {
		return providers.SwapQuote{}, err
	}
	plan.ResolverSwaps = append(plan.ResolverSwaps, params.SwapAmount)
	plan.QuotedOut = swap.AmountOut()
	o.log.Info("pinned swap loaded",
		zap.String("pair", pair),
		zap.String("scenario", plan.Scenario),
		zap.String("swap_in", swap.AmountIn().String()),
		zap.String("swap_out", swap.AmountOut().String()),
	)
	return swap, nil
}

// checkPinnedSwap rejects a fixture that cannot settle this intent: an
// input above the funded max, or router calldata swapping the other way or
// for another amount. Calldata of an unknown router is not inspected.
func checkPinnedSwap(swap providers.SwapQuote, zeroForOne bool, tokenIn, tokenOut TokenAmount) error {
	if swap.AmountIn().Cmp(tokenIn.Amount) > 0 {
		return clierr.New(clierr.CodeInvariant,
			fmt.Sprintf("pinned swap input %s exceeds the funded %s max %s", swap.AmountIn(), tokenIn.Symbol, tokenIn.Amount))
	}
	desc, ok := oneinch.DecodeSwap(swap.Payload())
	if !ok {
		return nil
	}
	if desc.SrcToken != tokenIn.Token || desc.DstToken != tokenOut.Token {
		return clierr.New(clierr.CodeDirectionMismatch,
			fmt.Sprintf("pinned payload swaps %s -> %s, zeroForOne=%t needs %s -> %s",
				desc.SrcToken.Hex(), desc.DstToken.Hex(), zeroForOne, tokenIn.Token.Hex(), tokenOut.Token.Hex()))
	}
	if desc.Amount.Cmp(swap.AmountIn()) != 0 {
		return clierr.New(clierr.CodeSwapPayloadUnavailable,
			fmt.Sprintf("pinned payload swaps %s, fixture declares %s", desc.Amount, swap.AmountIn()))
	}
	return nil
}

func (o *Orchestrator) quote(ctx context.Context, tokenIn, tokenOut common.Address, amount *big.Int) (*big.Int, error) {
	out, err := o.deps.Source.Quote(ctx, providers.QuoteRequest{
		ChainID:  o.deps.Network.ChainID,
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		AmountIn: amount,
	})
	if err != nil {
		return nil, err
	}
	o.log.Debug("quote", zap.String("amount_in", amount.String()), zap.String("amount_out", out.String()))
	return out, nil
}

// rebalance calls the resolver and rejects a direction that disagrees with
// the declared one. A disagreement is never retried or flipped.
func (o *Orchestrator) rebalance(ctx context.Context, intent Intent, price PricePoint, zeroForOne bool, pass int) (arrakis.RebalanceParams, error) {
	params, err := o.deps.Resolver.GetRebalanceParams(ctx, intent.Vault, intent.Amount0Max, intent.Amount1Max, price.X18)
	if err != nil {
		return arrakis.RebalanceParams{}, err
	}
	o.log.Info("rebalance params",
		zap.Int("pass", pass),
		zap.String("price_x18", price.String()),
		zap.Bool("zero_for_one", params.ZeroForOne),
		zap.String("swap_amount", params.SwapAmount.String()),
	)
	if params.ZeroForOne != zeroForOne {
		return arrakis.RebalanceParams{}, clierr.New(clierr.CodeDirectionMismatch,
			fmt.Sprintf("resolver returned zeroForOne=%t on pass %d, declared %t", params.ZeroForOne, pass, zeroForOne))
	}
	return params, nil
}

func (o *Orchestrator) vaultTokens(ctx context.Context, intent Intent) (TokenAmount, TokenAmount, error) {
	addr0, addr1, err := o.deps.Tokens.VaultTokens(ctx, intent.Vault)
	if err != nil {
		return TokenAmount{}, TokenAmount{}, err
	}
	token0, err := o.tokenAmount(ctx, addr0, intent.Amount0Max)
	if err != nil {
		return TokenAmount{}, TokenAmount{}, err
	}
	token1, err := o.tokenAmount(ctx, addr1, intent.Amount1Max)
	if err != nil {
		return TokenAmount{}, TokenAmount{}, err
	}
	return token0, token1, nil
}

func (o *Orchestrator) tokenAmount(ctx context.Context, token common.Address, amount *big.Int) (TokenAmount, error) {
	meta, err := o.deps.Tokens.TokenMeta(ctx, token)
	if err != nil {
		return TokenAmount{}, err
	}
	symbol := meta.Symbol
	if known, ok := o.deps.Network.TokenByAddress(token); ok {
		symbol = known.Symbol
	}
	return TokenAmount{Token: token, Symbol: symbol, Decimals: meta.Decimals, Amount: new(big.Int).Set(amount)}, nil
}

// nativeValue is the native side's max amount unless the intent overrides
// it. The value is never reconciled off-chain; the front-end rejects a
// mismatch.
func (o *Orchestrator) nativeValue(intent Intent, token0, token1 TokenAmount) (*big.Int, error) {
	wrapped, ok := o.deps.Network.WrappedNative()
	if !ok {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("network %s has no wrapped native token configured", o.deps.Network.Name))
	}
	var side *big.Int
	switch wrapped.Address {
	case token0.Token:
		side = token0.Amount
	case token1.Token:
		side = token1.Amount
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("vault does not hold %s; native funding is unavailable", wrapped.Symbol))
	}
	if intent.NativeValue != nil {
		if intent.NativeValue.Sign() < 0 {
			return nil, clierr.New(clierr.CodeUsage, "native value must be non-negative")
		}
		return new(big.Int).Set(intent.NativeValue), nil
	}
	return new(big.Int).Set(side), nil
}

func resolveDirection(intent Intent) (bool, error) {
	implied, single := impliedDirection(intent.Amount0Max, intent.Amount1Max)
	if intent.ZeroForOne != nil {
		if single && *intent.ZeroForOne != implied {
			return false, clierr.New(clierr.CodeUsage, fmt.Sprintf("zeroForOne=%t contradicts single-sided funding", *intent.ZeroForOne))
		}
		return *intent.ZeroForOne, nil
	}
	if single {
		return implied, nil
	}
	return false, clierr.New(clierr.CodeUsage, "zeroForOne must be declared when both sides are funded")
}
