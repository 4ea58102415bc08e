package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/execution/planner"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"go.uber.org/zap"
)

const (
	IntentAddLiquidity    = "add_liquidity"
	IntentRemoveLiquidity = "remove_liquidity"
)

// BuildAddLiquidityAction plans a deposit at the vault's current ratio with
// no swap: approvals for short allowances, then addLiquidity.
func (o *Orchestrator) BuildAddLiquidityAction(ctx context.Context, sender common.Address, p AddLiquidityParams) (execution.Action, error) {
	if sender == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "add liquidity requires a sender address")
	}
	if p.Receiver == (common.Address{}) {
		p.Receiver = sender
	}
	if p.Vault == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "vault address is required")
	}
	if err := checkFunding(p.Amount0Max, p.Amount1Max); err != nil {
		return execution.Action{}, err
	}
	token0, token1, err := o.vaultTokens(ctx, Intent{Vault: p.Vault, Amount0Max: p.Amount0Max, Amount1Max: p.Amount1Max})
	if err != nil {
		return execution.Action{}, err
	}
	value := new(big.Int)
	var nativeToken common.Address
	if p.UseNative {
		value, err = o.nativeValue(Intent{}, token0, token1)
		if err != nil {
			return execution.Action{}, err
		}
		wrapped, _ := o.deps.Network.WrappedNative()
		nativeToken = wrapped.Address
	}
	data, err := o.deps.Frontend.PackAddLiquidity(p)
	if err != nil {
		return execution.Action{}, err
	}

	target := o.deps.Frontend.Target()
	funds := make([]planner.Funding, 0, 2)
	for _, side := range []TokenAmount{token0, token1} {
		if side.Token == nativeToken && nativeToken != (common.Address{}) {
			continue
		}
		funds = append(funds, planner.Funding{
			Token:  registry.Token{Symbol: side.Symbol, Address: side.Token, Decimals: side.Decimals},
			Amount: side.Amount,
		})
	}
	approvals, err := planner.ApprovalStepsIfShort(ctx, o.deps.Tokens, o.deps.Network, sender, target, funds)
	if err != nil {
		return execution.Action{}, err
	}

	action, err := o.liquidityAction(IntentAddLiquidity, sender, execution.StepTypeAddLiquidity, "add-liquidity",
		fmt.Sprintf("addLiquidity %s/%s on %s", token0.Symbol, token1.Symbol, o.deps.Frontend.Topology()), data, value)
	if err != nil {
		return execution.Action{}, err
	}
	action.Steps = append(approvals, action.Steps...)
	action.InputAmount = p.Amount0Max.String()
	action.SetMetadata("vault", p.Vault.Hex())
	action.SetMetadata("token0", token0)
	action.SetMetadata("token1", token1)
	action.SetMetadata("receiver", p.Receiver.Hex())
	o.log.Info("add liquidity planned",
		zap.String("action_id", action.ActionID),
		zap.String("vault", p.Vault.Hex()),
		zap.Int("approvals", len(approvals)),
	)
	return action, nil
}

// BuildRemoveLiquidityAction plans a burn of vault shares. When a gauge is
// given the staked shares are approved instead of the vault's.
func (o *Orchestrator) BuildRemoveLiquidityAction(ctx context.Context, sender common.Address, p RemoveLiquidityParams) (execution.Action, error) {
	if sender == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "remove liquidity requires a sender address")
	}
	if p.BurnAmount == nil || p.BurnAmount.Sign() <= 0 {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "burn amount must be positive")
	}
	if p.Receiver == (common.Address{}) {
		p.Receiver = sender
	}
	data, err := o.deps.Frontend.PackRemoveLiquidity(p)
	if err != nil {
		return execution.Action{}, err
	}
	shareToken := registry.Token{Symbol: "vault_shares", Address: p.Vault, Decimals: 18}
	if p.Gauge != (common.Address{}) {
		staking, err := o.deps.Tokens.StakingToken(ctx, p.Gauge)
		if err != nil {
			return execution.Action{}, err
		}
		if staking != p.Vault {
			return execution.Action{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("gauge %s stakes %s, not vault %s", p.Gauge.Hex(), staking.Hex(), p.Vault.Hex()))
		}
		shareToken = registry.Token{Symbol: "gauge_shares", Address: p.Gauge, Decimals: 18}
	}
	target := o.deps.Frontend.Target()
	approvals, err := planner.ApprovalStepsIfShort(ctx, o.deps.Tokens, o.deps.Network, sender, target,
		[]planner.Funding{{Token: shareToken, Amount: p.BurnAmount}})
	if err != nil {
		return execution.Action{}, err
	}
	action, err := o.liquidityAction(IntentRemoveLiquidity, sender, execution.StepTypeRemoveLiquidity, "remove-liquidity",
		fmt.Sprintf("removeLiquidity %s shares on %s", p.BurnAmount.String(), o.deps.Frontend.Topology()), data, new(big.Int))
	if err != nil {
		return execution.Action{}, err
	}
	action.Steps = append(approvals, action.Steps...)
	action.InputAmount = p.BurnAmount.String()
	action.SetMetadata("vault", p.Vault.Hex())
	action.SetMetadata("receiver", p.Receiver.Hex())
	action.SetMetadata("receive_native", p.ReceiveNative)
	return action, nil
}

func (o *Orchestrator) liquidityAction(intent string, sender common.Address, stepType execution.StepType, stepID, description string, data []byte, value *big.Int) (execution.Action, error) {
	network := o.deps.Network
	rpcURL, err := registry.ResolveRPCURL(network.RPCURL, network.ChainID)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	target := o.deps.Frontend.Target()
	action := execution.NewAction(execution.NewActionID(), intent, network.ChainRef(), execution.Constraints{Simulate: true})
	action.Provider = o.deps.Frontend.Topology()
	action.FromAddress = sender.Hex()
	action.ToAddress = target.Hex()
	action.Steps = append(action.Steps, execution.ActionStep{
		StepID:      stepID,
		Type:        stepType,
		Status:      execution.StepStatusPending,
		ChainID:     network.ChainRef(),
		RPCURL:      rpcURL,
		Description: description,
		Target:      target.Hex(),
		Data:        hexutil.Encode(data),
		Value:       value.String(),
	})
	action.SetMetadata("network", network.Name)
	return action, nil
}
