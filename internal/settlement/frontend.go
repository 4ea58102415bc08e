package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
)

// Frontend is the staking-capable liquidity entrypoint a settlement is sent
// to. Both deployment topologies expose the same calls; they differ in which
// contract is called, which contract holds swapped funds, and which
// contracts must end up empty.
type Frontend interface {
	Topology() string
	// Target receives the settlement call and token approvals.
	Target() common.Address
	// SwapCustody is the aggregator payload's from address.
	SwapCustody() common.Address
	Intermediaries() []Intermediary
	PackAddLiquidity(p AddLiquidityParams) ([]byte, error)
	PackSwapAndAddLiquidity(req SwapAndAddRequest) ([]byte, error)
	PackRemoveLiquidity(p RemoveLiquidityParams) ([]byte, error)
}

type Intermediary struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

type AddLiquidityParams struct {
	Vault           common.Address
	Amount0Max      *big.Int
	Amount1Max      *big.Int
	Amount0Min      *big.Int
	Amount1Min      *big.Int
	AmountSharesMin *big.Int
	Receiver        common.Address
	Gauge           common.Address
	UseNative       bool
}

type RemoveLiquidityParams struct {
	Vault         common.Address
	BurnAmount    *big.Int
	Amount0Min    *big.Int
	Amount1Min    *big.Int
	Receiver      common.Address
	Gauge         common.Address
	ReceiveNative bool
}

// GenericRouter is the router + executor topology: the router is called and
// the executor performs and holds the swap.
type GenericRouter struct {
	Router   common.Address
	Executor common.Address
}

func (g GenericRouter) Topology() string            { return registry.TopologyGeneric }
func (g GenericRouter) Target() common.Address      { return g.Router }
func (g GenericRouter) SwapCustody() common.Address { return g.Executor }

func (g GenericRouter) Intermediaries() []Intermediary {
	return []Intermediary{
		{Name: registry.ContractRouter, Address: g.Router},
		{Name: registry.ContractExecutor, Address: g.Executor},
	}
}

func (g GenericRouter) PackAddLiquidity(p AddLiquidityParams) ([]byte, error) {
	return packAddLiquidity(p)
}

func (g GenericRouter) PackSwapAndAddLiquidity(req SwapAndAddRequest) ([]byte, error) {
	return packSwapAndAdd(req)
}

func (g GenericRouter) PackRemoveLiquidity(p RemoveLiquidityParams) ([]byte, error) {
	return packRemoveLiquidity(p)
}

// WrapperRouter is the wrapper + router topology: the wrapper is called and
// forwards to the router, which holds the swap. Executor is optional.
type WrapperRouter struct {
	Wrapper  common.Address
	Router   common.Address
	Executor common.Address
}

func (w WrapperRouter) Topology() string            { return registry.TopologyWrapper }
func (w WrapperRouter) Target() common.Address      { return w.Wrapper }
func (w WrapperRouter) SwapCustody() common.Address { return w.Router }

func (w WrapperRouter) Intermediaries() []Intermediary {
	out := []Intermediary{
		{Name: registry.ContractWrapper, Address: w.Wrapper},
		{Name: registry.ContractRouter, Address: w.Router},
	}
	if w.Executor != (common.Address{}) {
		out = append(out, Intermediary{Name: registry.ContractExecutor, Address: w.Executor})
	}
	return out
}

func (w WrapperRouter) PackAddLiquidity(p AddLiquidityParams) ([]byte, error) {
	return packAddLiquidity(p)
}

func (w WrapperRouter) PackSwapAndAddLiquidity(req SwapAndAddRequest) ([]byte, error) {
	return packSwapAndAdd(req)
}

func (w WrapperRouter) PackRemoveLiquidity(p RemoveLiquidityParams) ([]byte, error) {
	return packRemoveLiquidity(p)
}

// NewFrontend builds the front-end for topology (the network default when
// empty) from the network's contract table.
func NewFrontend(network registry.Network, topology string) (Frontend, error) {
	if topology == "" {
		topology = network.Topology
	}
	router, err := network.Contract(registry.ContractRouter)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve front-end", err)
	}
	switch topology {
	case "", registry.TopologyGeneric:
		executor, err := network.Contract(registry.ContractExecutor)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "resolve front-end", err)
		}
		return GenericRouter{Router: router, Executor: executor}, nil
	case registry.TopologyWrapper:
		wrapper, err := network.Contract(registry.ContractWrapper)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "resolve front-end", err)
		}
		return WrapperRouter{Wrapper: wrapper, Router: router, Executor: network.Contracts.Executor}, nil
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown topology %q", topology))
	}
}

type addDataArg struct {
	Amount0Max      *big.Int       `abi:"amount0Max"`
	Amount1Max      *big.Int       `abi:"amount1Max"`
	Amount0Min      *big.Int       `abi:"amount0Min"`
	Amount1Min      *big.Int       `abi:"amount1Min"`
	AmountSharesMin *big.Int       `abi:"amountSharesMin"`
	Vault           common.Address `abi:"vault"`
	Receiver        common.Address `abi:"receiver"`
	Gauge           common.Address `abi:"gauge"`
	UseETH          bool           `abi:"useETH"`
}

type swapDataArg struct {
	SwapPayload   []byte         `abi:"swapPayload"`
	AmountInSwap  *big.Int       `abi:"amountInSwap"`
	AmountOutSwap *big.Int       `abi:"amountOutSwap"`
	SwapRouter    common.Address `abi:"swapRouter"`
	ZeroForOne    bool           `abi:"zeroForOne"`
	UserToRefund  common.Address `abi:"userToRefund"`
}

type swapAndAddArg struct {
	SwapData swapDataArg `abi:"swapData"`
	AddData  addDataArg  `abi:"addData"`
}

type removeDataArg struct {
	BurnAmount *big.Int       `abi:"burnAmount"`
	Amount0Min *big.Int       `abi:"amount0Min"`
	Amount1Min *big.Int       `abi:"amount1Min"`
	Vault      common.Address `abi:"vault"`
	Receiver   common.Address `abi:"receiver"`
	Gauge      common.Address `abi:"gauge"`
	ReceiveETH bool           `abi:"receiveETH"`
}

func packSwapAndAdd(req SwapAndAddRequest) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	parsed, err := arrakis.FrontendABI()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse front-end abi", err)
	}
	arg := swapAndAddArg{
		SwapData: swapDataArg{
			SwapPayload:   req.SwapPayload,
			AmountInSwap:  req.SwapAmountIn,
			AmountOutSwap: req.SwapAmountOut,
			SwapRouter:    req.SwapTarget,
			ZeroForOne:    req.ZeroForOne,
			UserToRefund:  req.RefundRecipient,
		},
		AddData: addDataArg{
			Amount0Max:      req.Amount0Max,
			Amount1Max:      req.Amount1Max,
			Amount0Min:      orZero(req.Amount0Min),
			Amount1Min:      orZero(req.Amount1Min),
			AmountSharesMin: orZero(req.AmountSharesMin),
			Vault:           req.Vault,
			Receiver:        req.Receiver,
			Gauge:           req.Gauge,
			UseETH:          req.UseNative,
		},
	}
	data, err := parsed.Pack("swapAndAddLiquidity", arg)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack swapAndAddLiquidity", err)
	}
	return data, nil
}

func packAddLiquidity(p AddLiquidityParams) ([]byte, error) {
	if p.Vault == (common.Address{}) || p.Receiver == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUsage, "add liquidity requires vault and receiver")
	}
	if err := checkFunding(p.Amount0Max, p.Amount1Max); err != nil {
		return nil, err
	}
	parsed, err := arrakis.FrontendABI()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse front-end abi", err)
	}
	data, err := parsed.Pack("addLiquidity", addDataArg{
		Amount0Max:      p.Amount0Max,
		Amount1Max:      p.Amount1Max,
		Amount0Min:      orZero(p.Amount0Min),
		Amount1Min:      orZero(p.Amount1Min),
		AmountSharesMin: orZero(p.AmountSharesMin),
		Vault:           p.Vault,
		Receiver:        p.Receiver,
		Gauge:           p.Gauge,
		UseETH:          p.UseNative,
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack addLiquidity", err)
	}
	return data, nil
}

func packRemoveLiquidity(p RemoveLiquidityParams) ([]byte, error) {
	if p.Vault == (common.Address{}) || p.Receiver == (common.Address{}) {
		return nil, clierr.New(clierr.CodeUsage, "remove liquidity requires vault and receiver")
	}
	if p.BurnAmount == nil || p.BurnAmount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "burn amount must be positive")
	}
	parsed, err := arrakis.FrontendABI()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse front-end abi", err)
	}
	data, err := parsed.Pack("removeLiquidity", removeDataArg{
		BurnAmount: p.BurnAmount,
		Amount0Min: orZero(p.Amount0Min),
		Amount1Min: orZero(p.Amount1Min),
		Vault:      p.Vault,
		Receiver:   p.Receiver,
		Gauge:      p.Gauge,
		ReceiveETH: p.ReceiveNative,
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack removeLiquidity", err)
	}
	return data, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
