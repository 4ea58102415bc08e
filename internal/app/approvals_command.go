package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/execution/planner"
	"github.com/ggonzalez94/arrakis-cli/internal/id"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
	"github.com/ggonzalez94/arrakis-cli/internal/providers"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"github.com/ggonzalez94/arrakis-cli/internal/settlement"
	"github.com/spf13/cobra"
)

const intentApprove = "approve"

const (
	spenderRouter     = "router"
	spenderAggregator = "aggregator"
)

type approvalArgs struct {
	tokenArg      string
	spender       string
	topology      string
	amountBase    string
	amountDecimal string
	fromAddress   string
	simulate      bool
}

func (s *runtimeState) newApproveCommand() *cobra.Command {
	root := &cobra.Command{Use: "approve", Short: "Token approval commands"}

	buildAction := func(ctx context.Context, args approvalArgs, sender common.Address) (execution.Action, string, error) {
		network, err := s.selectedNetwork()
		if err != nil {
			return execution.Action{}, "", err
		}
		token, err := id.ParseToken(args.tokenArg, network)
		if err != nil {
			return execution.Action{}, "", err
		}
		if token.Decimals == 0 && strings.TrimSpace(args.amountDecimal) != "" {
			if err := s.fillTokenMeta(&token); err != nil {
				return execution.Action{}, "", err
			}
		}
		amount, err := id.ParseAmount("amount", args.amountBase, args.amountDecimal, token.Decimals)
		if err != nil {
			return execution.Action{}, "", err
		}

		switch spender := strings.ToLower(strings.TrimSpace(args.spender)); spender {
		case spenderAggregator:
			action, err := s.aggregatorApproval(ctx, network, token, amount, sender, args.simulate)
			return action, s.swapSource.Info().Name, err
		case spenderRouter, "":
			frontend, err := settlement.NewFrontend(network, args.topology)
			if err != nil {
				return execution.Action{}, "", err
			}
			action, err := planner.BuildApprovalAction(planner.ApprovalRequest{
				Network:  network,
				Token:    token,
				Amount:   amount,
				Sender:   sender,
				Spender:  frontend.Target(),
				Simulate: args.simulate,
			})
			return action, "native", err
		default:
			addr, err := id.ParseAddress("spender", spender, false)
			if err != nil {
				return execution.Action{}, "", clierr.New(clierr.CodeUsage, "--spender must be router, aggregator or a 0x address")
			}
			action, err := planner.BuildApprovalAction(planner.ApprovalRequest{
				Network:  network,
				Token:    token,
				Amount:   amount,
				Sender:   sender,
				Spender:  addr,
				Simulate: args.simulate,
			})
			return action, "native", err
		}
	}
	addFlags := func(cmd *cobra.Command, a *approvalArgs) {
		cmd.Flags().StringVar(&a.tokenArg, "token", "", "Token symbol/address/CAIP-19")
		cmd.Flags().StringVar(&a.spender, "spender", spenderRouter, "Spender (router|aggregator|0x address)")
		cmd.Flags().StringVar(&a.topology, "topology", "", "Front-end topology for --spender router (generic|wrapper)")
		cmd.Flags().StringVar(&a.amountBase, "amount", "", "Amount in base units")
		cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in decimal units")
		cmd.Flags().StringVar(&a.fromAddress, "from-address", "", "Sender EOA address")
		_ = cmd.MarkFlagRequired("token")
	}

	var plan approvalArgs
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Create and persist an approval action plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, err := id.ParseAddress("from-address", plan.fromAddress, false)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			start := time.Now()
			action, providerName, err := buildAction(ctx, plan, sender)
			status := []model.ProviderStatus{{Name: providerName, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.captureCommandDiagnostics(nil, status, false)
			if err != nil {
				return err
			}
			return s.persistPlanned(cmd, action, nil)
		},
	}
	addFlags(planCmd, &plan)
	planCmd.Flags().BoolVar(&plan.simulate, "simulate", true, "Include simulation checks during execution")
	_ = planCmd.MarkFlagRequired("from-address")

	var run approvalArgs
	var runExec execFlags
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and execute an approval action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			run.simulate = runExec.simulate
			return s.planAndRun(cmd, runExec, run.fromAddress, func(ctx context.Context, sender common.Address) (execution.Action, error) {
				action, _, err := buildAction(ctx, run, sender)
				return action, err
			})
		},
	}
	addFlags(runCmd, &run)
	addExecFlags(runCmd, &runExec)

	var statusActionID, statusPlanID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Get approval action status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actionID, err := resolveActionID(statusActionID, statusPlanID)
			if err != nil {
				return err
			}
			action, err := s.loadAction(actionID, intentApprove)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil, false)
		},
	}
	statusCmd.Flags().StringVar(&statusActionID, "action-id", "", "Action identifier")
	statusCmd.Flags().StringVar(&statusPlanID, "plan-id", "", "Plan identifier (alias of --action-id)")

	root.AddCommand(planCmd)
	root.AddCommand(runCmd)
	root.AddCommand(statusCmd)
	return root
}

// aggregatorApproval asks the aggregator for its approval calldata so the
// approved spender is whatever router it will route through.
func (s *runtimeState) aggregatorApproval(ctx context.Context, network registry.Network, token registry.Token, amount *big.Int, sender common.Address, simulate bool) (execution.Action, error) {
	if sender == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, "approval requires sender address")
	}
	payload, err := s.swapSource.BuildApprovalPayload(ctx, providers.ApprovalRequest{
		ChainID: network.ChainID,
		Token:   token.Address,
		Amount:  amount,
	})
	if err != nil {
		return execution.Action{}, err
	}
	if payload.Target != token.Address {
		return execution.Action{}, clierr.New(clierr.CodeActionPolicy, fmt.Sprintf("aggregator approval targets %s, not token %s", payload.Target.Hex(), token.Address.Hex()))
	}
	rpcURL, err := registry.ResolveRPCURL(network.RPCURL, network.ChainID)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	symbol := token.Symbol
	if symbol == "" {
		symbol = token.Address.Hex()
	}
	action := execution.NewAction(execution.NewActionID(), intentApprove, network.ChainRef(), execution.Constraints{Simulate: simulate})
	action.Provider = s.swapSource.Info().Name
	action.FromAddress = sender.Hex()
	action.ToAddress = payload.Target.Hex()
	action.InputAmount = amount.String()
	action.Metadata = map[string]any{
		"token":   token.Address.Hex(),
		"symbol":  symbol,
		"spender": spenderAggregator,
	}
	action.Steps = append(action.Steps, execution.ActionStep{
		StepID:          "approve-" + strings.ToLower(symbol),
		Type:            execution.StepTypeApproval,
		Status:          execution.StepStatusPending,
		ChainID:         network.ChainRef(),
		RPCURL:          rpcURL,
		Description:     fmt.Sprintf("Approve %s for the %s router", symbol, s.swapSource.Info().Name),
		Target:          payload.Target.Hex(),
		Data:            hexutil.Encode(payload.Data),
		Value:           "0",
		ExpectedOutputs: map[string]string{execution.ApprovalCapKey: amount.String()},
	})
	return action, nil
}
