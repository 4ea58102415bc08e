package execution

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
)

// ExpectedOutputs key holding the per-step approval ceiling in base units.
const ApprovalCapKey = "approval_cap"

var (
	policyERC20ABI    = mustPolicyABI(registry.ERC20MinimalABI)
	policyFrontendABI = mustPolicyABI(registry.ArrakisFrontendABI)

	policyApproveSelector         = policyERC20ABI.Methods["approve"].ID
	policySwapAndAddSelector      = policyFrontendABI.Methods["swapAndAddLiquidity"].ID
	policyAddLiquiditySelector    = policyFrontendABI.Methods["addLiquidity"].ID
	policyRemoveLiquiditySelector = policyFrontendABI.Methods["removeLiquidity"].ID
	policyWiringSelectors         = [][]byte{
		policyFrontendABI.Methods["updateSwapExecutor"].ID,
		policyFrontendABI.Methods["updateRouter"].ID,
	}
)

func validateStepPolicy(action *Action, step *ActionStep, chainID int64, data []byte, opts ExecuteOptions) error {
	if step == nil {
		return clierr.New(clierr.CodeInternal, "missing action step")
	}
	if !common.IsHexAddress(step.Target) {
		return clierr.New(clierr.CodeUsage, "invalid step target address")
	}

	switch step.Type {
	case StepTypeApproval:
		return validateApprovalPolicy(action, step, data, opts)
	case StepTypeSettlement:
		return validateFrontendCall(action, step, data, policySwapAndAddSelector, "swapAndAddLiquidity")
	case StepTypeAddLiquidity:
		return validateFrontendCall(action, step, data, policyAddLiquiditySelector, "addLiquidity")
	case StepTypeRemoveLiquidity:
		if _, ok := parsePositiveBaseUnits(step.Value); ok {
			return clierr.New(clierr.CodeActionPolicy, "removeLiquidity step must not send native currency")
		}
		return validateFrontendCall(action, step, data, policyRemoveLiquiditySelector, "removeLiquidity")
	case StepTypeWiring:
		return validateWiringPolicy(data)
	default:
		return nil
	}
}

func validateApprovalPolicy(action *Action, step *ActionStep, data []byte, opts ExecuteOptions) error {
	if len(data) < 4 || !bytes.Equal(data[:4], policyApproveSelector) {
		return clierr.New(clierr.CodeActionPolicy, "approval step must use ERC20 approve(spender,amount)")
	}
	args, err := policyERC20ABI.Methods["approve"].Inputs.Unpack(data[4:])
	if err != nil || len(args) != 2 {
		return clierr.New(clierr.CodeActionPolicy, "approval step calldata is invalid")
	}
	spender, ok := toAddress(args[0])
	if !ok || spender == (common.Address{}) {
		return clierr.New(clierr.CodeActionPolicy, "approval step has invalid spender")
	}
	amount, ok := toBigInt(args[1])
	if !ok || amount.Sign() <= 0 {
		return clierr.New(clierr.CodeActionPolicy, "approval step has invalid approval amount")
	}
	if opts.AllowMaxApproval {
		return nil
	}
	capValue := ""
	if step.ExpectedOutputs != nil {
		capValue = step.ExpectedOutputs[ApprovalCapKey]
	}
	if strings.TrimSpace(capValue) == "" && action != nil {
		capValue = action.InputAmount
	}
	requested, ok := parsePositiveBaseUnits(capValue)
	if !ok {
		return clierr.New(clierr.CodeActionPolicy, "cannot validate approval bounds for non-numeric amount; use --allow-max-approval to override")
	}
	if amount.Cmp(requested) > 0 {
		return clierr.New(
			clierr.CodeActionPolicy,
			fmt.Sprintf("approval amount %s exceeds requested amount %s; use --allow-max-approval to override", amount.String(), requested.String()),
		)
	}
	return nil
}

// validateFrontendCall pins liquidity steps to the configured front-end
// contract recorded on the action.
func validateFrontendCall(action *Action, step *ActionStep, data []byte, selector []byte, method string) error {
	if len(data) < 4 || !bytes.Equal(data[:4], selector) {
		return clierr.New(clierr.CodeActionPolicy, fmt.Sprintf("%s step must call %s", step.Type, method))
	}
	if action == nil || strings.TrimSpace(action.ToAddress) == "" {
		return nil
	}
	if !common.IsHexAddress(action.ToAddress) || common.HexToAddress(action.ToAddress) != common.HexToAddress(step.Target) {
		return clierr.New(clierr.CodeActionPolicy, fmt.Sprintf("%s step target %s does not match front-end %s", step.Type, step.Target, action.ToAddress))
	}
	return nil
}

func validateWiringPolicy(data []byte) error {
	if len(data) >= 4 {
		for _, selector := range policyWiringSelectors {
			if bytes.Equal(data[:4], selector) {
				return nil
			}
		}
	}
	return clierr.New(clierr.CodeActionPolicy, "wiring step must call updateSwapExecutor or updateRouter")
}

func parsePositiveBaseUnits(value string) (*big.Int, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, false
	}
	parsed, ok := new(big.Int).SetString(v, 10)
	if !ok || parsed.Sign() <= 0 {
		return nil, false
	}
	return parsed, true
}

func toAddress(v any) (common.Address, bool) {
	switch value := v.(type) {
	case common.Address:
		return value, true
	case *common.Address:
		if value == nil {
			return common.Address{}, false
		}
		return *value, true
	default:
		return common.Address{}, false
	}
}

func toBigInt(v any) (*big.Int, bool) {
	switch value := v.(type) {
	case *big.Int:
		if value == nil {
			return nil, false
		}
		return value, true
	case big.Int:
		cpy := value
		return &cpy, true
	default:
		return nil, false
	}
}

func mustPolicyABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
