package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/execution/planner"
	"github.com/ggonzalez94/arrakis-cli/internal/execution/signer"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"go.uber.org/zap"
)

const IntentSwapAndAdd = "swap_and_add"

// Revert reasons the front-ends use for native-currency funding errors.
var (
	nativeInsufficientReasons = []string{"Not enough ETH forwarded", "Not enough native currency forwarded"}
	nativeMismatchReasons     = []string{"Invalid amount of ETH forwarded", "Invalid amount of native currency forwarded"}
)

// ExecutionSubmitter runs actions through execution.ExecuteAction and
// captures the settlement step's receipt.
type ExecutionSubmitter struct {
	Store   *execution.Store
	Signer  signer.Signer
	Options execution.ExecuteOptions
}

func (s ExecutionSubmitter) Submit(ctx context.Context, action *execution.Action) (*types.Receipt, error) {
	var receipt *types.Receipt
	opts := s.Options
	next := opts.OnConfirmed
	opts.OnConfirmed = func(step *execution.ActionStep, r *types.Receipt) error {
		if step.Type == execution.StepTypeSettlement {
			receipt = r
		}
		if next != nil {
			return next(step, r)
		}
		return nil
	}
	if err := execution.ExecuteAction(ctx, s.Store, action, s.Signer, opts); err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, clierr.New(clierr.CodeEventTimeout, "settlement receipt not observed")
	}
	return receipt, nil
}

// BuildAction turns a plan into an executable action: an approval for every
// ERC-20 side whose allowance is short, then the settlement call.
func (o *Orchestrator) BuildAction(ctx context.Context, plan Plan) (execution.Action, error) {
	if plan.Sender == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "settlement requires a sender address")
	}
	if len(plan.Calldata) == 0 {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "plan has no settlement calldata")
	}
	network := o.deps.Network
	rpcURL, err := registry.ResolveRPCURL(network.RPCURL, network.ChainID)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}

	var nativeToken common.Address
	if plan.Request.UseNative {
		if wrapped, ok := network.WrappedNative(); ok {
			nativeToken = wrapped.Address
		}
	}
	funds := make([]planner.Funding, 0, 2)
	for _, side := range []TokenAmount{plan.Token0, plan.Token1} {
		if side.Token == nativeToken && nativeToken != (common.Address{}) {
			continue
		}
		funds = append(funds, planner.Funding{
			Token:  registry.Token{Symbol: side.Symbol, Address: side.Token, Decimals: side.Decimals},
			Amount: side.Amount,
		})
	}
	steps, err := planner.ApprovalStepsIfShort(ctx, o.deps.Tokens, network, plan.Sender, plan.Frontend, funds)
	if err != nil {
		return execution.Action{}, err
	}

	value := plan.Value
	if value == nil {
		value = new(big.Int)
	}
	action := execution.NewAction(execution.NewActionID(), IntentSwapAndAdd, network.ChainRef(), execution.Constraints{
		SlippageBps: int64(plan.SlippageBps),
		Simulate:    true,
	})
	action.Provider = plan.Topology
	action.FromAddress = plan.Sender.Hex()
	action.ToAddress = plan.Frontend.Hex()
	action.InputAmount = plan.Request.SwapAmountIn.String()
	action.Steps = append(action.Steps, steps...)
	action.Steps = append(action.Steps, execution.ActionStep{
		StepID:      "swap-and-add",
		Type:        execution.StepTypeSettlement,
		Status:      execution.StepStatusPending,
		ChainID:     network.ChainRef(),
		RPCURL:      rpcURL,
		Description: fmt.Sprintf("swapAndAddLiquidity %s/%s on %s", plan.Token0.Symbol, plan.Token1.Symbol, plan.Topology),
		Target:      plan.Frontend.Hex(),
		Data:        hexutil.Encode(plan.Calldata),
		Value:       value.String(),
		ExpectedOutputs: map[string]string{
			"swap_amount_in":  plan.Request.SwapAmountIn.String(),
			"min_amount_out":  plan.Request.SwapAmountOut.String(),
			"zero_for_one":    fmt.Sprintf("%t", plan.Request.ZeroForOne),
			"receiver":        plan.Request.Receiver.Hex(),
			"refund_receiver": plan.Request.RefundRecipient.Hex(),
		},
	})
	action.SetMetadata("network", network.Name)
	action.SetMetadata("vault", plan.Request.Vault.Hex())
	action.SetMetadata("scenario", plan.Scenario)
	action.SetMetadata("plan", plan)
	return action, nil
}

// Submit snapshots pre-balances, executes the settlement and returns its
// receipt. Failures are mapped to the settlement error codes; nothing is
// retried.
func (o *Orchestrator) Submit(ctx context.Context, plan Plan) (Submission, error) {
	if o.deps.Submitter == nil {
		return Submission{}, clierr.New(clierr.CodeInternal, "settlement submitter is not configured")
	}
	pre, err := o.Snapshot(ctx, plan)
	if err != nil {
		return Submission{}, err
	}
	action, err := o.BuildAction(ctx, plan)
	if err != nil {
		return Submission{}, err
	}
	o.log.Info("submitting settlement",
		zap.String("action_id", action.ActionID),
		zap.Int("steps", len(action.Steps)),
		zap.String("target", action.ToAddress),
		zap.String("value", plan.Value.String()),
	)
	receipt, err := o.deps.Submitter.Submit(ctx, &action)
	if err != nil {
		err = classifySubmitError(err)
		o.log.Warn("settlement failed", zap.String("action_id", action.ActionID), zap.Error(err))
		return Submission{Action: action, Pre: pre}, err
	}
	sub := Submission{Action: action, Pre: pre, Receipt: receipt}
	if receipt != nil {
		sub.TxHash = receipt.TxHash
		sub.Block = receipt.BlockNumber
	}
	o.log.Info("settlement mined", zap.String("tx_hash", sub.TxHash.Hex()), zap.Stringer("block", sub.Block))
	return sub, nil
}

func classifySubmitError(err error) error {
	if reason, ok := execution.RevertReason(err); ok {
		switch {
		case containsAny(reason, nativeInsufficientReasons):
			return clierr.Wrap(clierr.CodeNativeInsufficient, reason, err)
		case containsAny(reason, nativeMismatchReasons):
			return clierr.Wrap(clierr.CodeNativeMismatch, reason, err)
		default:
			return clierr.Wrap(clierr.CodeSettlementReverted, "settlement reverted: "+reason, err)
		}
	}
	if clierr.Is(err, clierr.CodeActionTimeout) {
		return clierr.Wrap(clierr.CodeEventTimeout, "settlement receipt not observed", err)
	}
	return err
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Snapshot reads the balances Verify compares against.
func (o *Orchestrator) Snapshot(ctx context.Context, plan Plan) (Snapshot, error) {
	vault := plan.Request.Vault
	receiver := plan.Request.Receiver
	shares, err := o.deps.Tokens.BalanceOf(ctx, vault, receiver)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{ReceiverShares: shares, Intermediaries: map[string]HolderBalance{}}
	if plan.Request.Gauge != (common.Address{}) {
		staked, err := o.deps.Tokens.BalanceOf(ctx, plan.Request.Gauge, receiver)
		if err != nil {
			return Snapshot{}, err
		}
		snap.ReceiverStaked = staked
	}
	for _, im := range o.deps.Frontend.Intermediaries() {
		holder, err := o.holderBalance(ctx, plan, im.Address)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Intermediaries[im.Name] = holder
	}
	return snap, nil
}

func (o *Orchestrator) holderBalance(ctx context.Context, plan Plan, holder common.Address) (HolderBalance, error) {
	assets := []struct {
		name  string
		token common.Address
	}{
		{name: assetName(plan.Token0, "token0"), token: plan.Token0.Token},
		{name: assetName(plan.Token1, "token1"), token: plan.Token1.Token},
		{name: "vault_shares", token: plan.Request.Vault},
	}
	if plan.Request.Gauge != (common.Address{}) {
		assets = append(assets, struct {
			name  string
			token common.Address
		}{name: "gauge_shares", token: plan.Request.Gauge})
	}
	out := HolderBalance{Address: holder, Assets: map[string]*big.Int{}}
	for _, a := range assets {
		bal, err := o.deps.Tokens.BalanceOf(ctx, a.token, holder)
		if err != nil {
			return HolderBalance{}, err
		}
		out.Assets[a.name] = bal
	}
	if plan.Request.UseNative {
		bal, err := o.deps.Tokens.NativeBalance(ctx, holder)
		if err != nil {
			return HolderBalance{}, err
		}
		out.Assets["native"] = bal
	}
	return out, nil
}

func assetName(t TokenAmount, fallback string) string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return fallback
}
