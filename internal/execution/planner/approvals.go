package planner

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
)

// AllowanceReader reads ERC-20 allowances.
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

type ApprovalRequest struct {
	Network  registry.Network
	Token    registry.Token
	Amount   *big.Int
	Sender   common.Address
	Spender  common.Address
	Simulate bool
}

// BuildApprovalAction plans a standalone approve(spender, amount) action.
func BuildApprovalAction(req ApprovalRequest) (execution.Action, error) {
	if req.Sender == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "approval requires sender address")
	}
	step, err := ApprovalStep(req.Network, req.Token, req.Spender, req.Amount)
	if err != nil {
		return execution.Action{}, err
	}
	action := execution.NewAction(execution.NewActionID(), "approve", req.Network.ChainRef(), execution.Constraints{Simulate: req.Simulate})
	action.Provider = "native"
	action.FromAddress = req.Sender.Hex()
	action.ToAddress = req.Spender.Hex()
	action.InputAmount = req.Amount.String()
	action.Metadata = map[string]any{
		"token":   req.Token.Address.Hex(),
		"symbol":  req.Token.Symbol,
		"spender": req.Spender.Hex(),
	}
	action.Steps = append(action.Steps, step)
	return action, nil
}

// ApprovalStep builds one bounded approval step whose cap is the approved amount.
func ApprovalStep(network registry.Network, token registry.Token, spender common.Address, amount *big.Int) (execution.ActionStep, error) {
	if token.Address == (common.Address{}) {
		return execution.ActionStep{}, clierr.New(clierr.CodeUsage, "approval requires ERC20 token address")
	}
	if spender == (common.Address{}) {
		return execution.ActionStep{}, clierr.New(clierr.CodeUsage, "approval requires spender address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return execution.ActionStep{}, clierr.New(clierr.CodeUsage, "approval amount must be a positive integer in base units")
	}
	rpcURL, err := registry.ResolveRPCURL(network.RPCURL, network.ChainID)
	if err != nil {
		return execution.ActionStep{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	approveData, err := plannerERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return execution.ActionStep{}, clierr.Wrap(clierr.CodeInternal, "pack approval calldata", err)
	}
	symbol := strings.ToUpper(token.Symbol)
	if symbol == "" {
		symbol = token.Address.Hex()
	}
	return execution.ActionStep{
		StepID:          "approve-" + strings.ToLower(symbol),
		Type:            execution.StepTypeApproval,
		Status:          execution.StepStatusPending,
		ChainID:         network.ChainRef(),
		RPCURL:          rpcURL,
		Description:     fmt.Sprintf("Approve %s for %s", symbol, spender.Hex()),
		Target:          token.Address.Hex(),
		Data:            "0x" + common.Bytes2Hex(approveData),
		Value:           "0",
		ExpectedOutputs: map[string]string{execution.ApprovalCapKey: amount.String()},
	}, nil
}

// Funding is one token amount the owner hands to a spender.
type Funding struct {
	Token  registry.Token
	Amount *big.Int
}

// ApprovalStepsIfShort returns an approval step for every funded token whose
// current allowance does not cover the amount. Zero amounts are skipped.
func ApprovalStepsIfShort(ctx context.Context, reader AllowanceReader, network registry.Network, owner, spender common.Address, funds []Funding) ([]execution.ActionStep, error) {
	steps := make([]execution.ActionStep, 0, len(funds))
	for _, f := range funds {
		if f.Amount == nil || f.Amount.Sign() == 0 {
			continue
		}
		current, err := reader.Allowance(ctx, f.Token.Address, owner, spender)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUnavailable, "read allowance for "+f.Token.Symbol, err)
		}
		if current.Cmp(f.Amount) >= 0 {
			continue
		}
		step, err := ApprovalStep(network, f.Token, spender, f.Amount)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

var plannerERC20ABI = mustPlannerABI(registry.ERC20MinimalABI)

func mustPlannerABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
