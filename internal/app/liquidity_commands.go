package app

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/id"
	"github.com/ggonzalez94/arrakis-cli/internal/settlement"
	"github.com/spf13/cobra"
)

type addLiquidityArgs struct {
	vault          string
	amount0        string
	amount0Decimal string
	amount1        string
	amount1Decimal string
	receiver       string
	gauge          string
	native         bool
	topology       string
	fromAddress    string
	amount0Min     string
	amount1Min     string
	sharesMin      string
}

type removeLiquidityArgs struct {
	vault         string
	burn          string
	receiver      string
	gauge         string
	receiveNative bool
	topology      string
	fromAddress   string
	amount0Min    string
	amount1Min    string
}

func (s *runtimeState) newLiquidityCommand() *cobra.Command {
	root := &cobra.Command{Use: "liquidity", Short: "Add or remove vault liquidity without a swap"}

	add := &cobra.Command{Use: "add", Short: "Deposit both tokens at the vault's current ratio"}
	buildAdd := func(ctx context.Context, a addLiquidityArgs, sender common.Address) (execution.Action, error) {
		return s.withOrchestrator(ctx, a.topology, func(sess *chainSession, orch *settlement.Orchestrator) (execution.Action, error) {
			vault, err := id.ParseAddress("vault", a.vault, false)
			if err != nil {
				return execution.Action{}, err
			}
			amount0, amount1, err := parseVaultAmounts(ctx, sess.reader, vault, a.amount0, a.amount0Decimal, a.amount1, a.amount1Decimal)
			if err != nil {
				return execution.Action{}, err
			}
			p := settlement.AddLiquidityParams{Vault: vault, Amount0Max: amount0, Amount1Max: amount1, UseNative: a.native}
			if p.Receiver, err = id.ParseAddress("receiver", a.receiver, true); err != nil {
				return execution.Action{}, err
			}
			if p.Gauge, err = id.ParseAddress("gauge", a.gauge, true); err != nil {
				return execution.Action{}, err
			}
			if p.Amount0Min, err = id.ParseOptionalInt("amount0-min", a.amount0Min); err != nil {
				return execution.Action{}, err
			}
			if p.Amount1Min, err = id.ParseOptionalInt("amount1-min", a.amount1Min); err != nil {
				return execution.Action{}, err
			}
			if p.AmountSharesMin, err = id.ParseOptionalInt("shares-min", a.sharesMin); err != nil {
				return execution.Action{}, err
			}
			return orch.BuildAddLiquidityAction(ctx, sender, p)
		})
	}
	addFlags := func(cmd *cobra.Command, a *addLiquidityArgs) {
		cmd.Flags().StringVar(&a.vault, "vault", "", "ArrakisV2 vault address")
		cmd.Flags().StringVar(&a.amount0, "amount0", "", "Maximum token0 deposit in base units")
		cmd.Flags().StringVar(&a.amount0Decimal, "amount0-decimal", "", "Maximum token0 deposit in decimal units")
		cmd.Flags().StringVar(&a.amount1, "amount1", "", "Maximum token1 deposit in base units")
		cmd.Flags().StringVar(&a.amount1Decimal, "amount1-decimal", "", "Maximum token1 deposit in decimal units")
		cmd.Flags().StringVar(&a.receiver, "receiver", "", "Share receiver (defaults to the sender)")
		cmd.Flags().StringVar(&a.gauge, "gauge", "", "Gauge to stake minted shares into")
		cmd.Flags().BoolVar(&a.native, "native", false, "Fund the wrapped-native side with native currency")
		cmd.Flags().StringVar(&a.topology, "topology", "", "Front-end topology (generic|wrapper)")
		cmd.Flags().StringVar(&a.fromAddress, "from-address", "", "Sender EOA address")
		cmd.Flags().StringVar(&a.amount0Min, "amount0-min", "", "Minimum token0 deposited in base units")
		cmd.Flags().StringVar(&a.amount1Min, "amount1-min", "", "Minimum token1 deposited in base units")
		cmd.Flags().StringVar(&a.sharesMin, "shares-min", "", "Minimum vault shares minted")
		_ = cmd.MarkFlagRequired("vault")
	}

	var addPlan addLiquidityArgs
	addPlanCmd := &cobra.Command{
		Use:   "plan",
		Short: "Create and persist an add-liquidity action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, err := id.ParseAddress("from-address", addPlan.fromAddress, false)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			action, err := buildAdd(ctx, addPlan, sender)
			if err != nil {
				return err
			}
			return s.persistPlanned(cmd, action, nil)
		},
	}
	addFlags(addPlanCmd, &addPlan)
	_ = addPlanCmd.MarkFlagRequired("from-address")

	var addRun addLiquidityArgs
	var addExec execFlags
	addRunCmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and execute an add-liquidity action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.planAndRun(cmd, addExec, addRun.fromAddress, func(ctx context.Context, sender common.Address) (execution.Action, error) {
				return buildAdd(ctx, addRun, sender)
			})
		},
	}
	addFlags(addRunCmd, &addRun)
	addExecFlags(addRunCmd, &addExec)
	add.AddCommand(addPlanCmd)
	add.AddCommand(addRunCmd)

	remove := &cobra.Command{Use: "remove", Short: "Burn vault shares for the underlying tokens"}
	buildRemove := func(ctx context.Context, a removeLiquidityArgs, sender common.Address) (execution.Action, error) {
		return s.withOrchestrator(ctx, a.topology, func(_ *chainSession, orch *settlement.Orchestrator) (execution.Action, error) {
			vault, err := id.ParseAddress("vault", a.vault, false)
			if err != nil {
				return execution.Action{}, err
			}
			p := settlement.RemoveLiquidityParams{Vault: vault, ReceiveNative: a.receiveNative}
			if p.BurnAmount, err = id.ParseOptionalInt("burn", a.burn); err != nil {
				return execution.Action{}, err
			}
			if p.Receiver, err = id.ParseAddress("receiver", a.receiver, true); err != nil {
				return execution.Action{}, err
			}
			if p.Gauge, err = id.ParseAddress("gauge", a.gauge, true); err != nil {
				return execution.Action{}, err
			}
			if p.Amount0Min, err = id.ParseOptionalInt("amount0-min", a.amount0Min); err != nil {
				return execution.Action{}, err
			}
			if p.Amount1Min, err = id.ParseOptionalInt("amount1-min", a.amount1Min); err != nil {
				return execution.Action{}, err
			}
			return orch.BuildRemoveLiquidityAction(ctx, sender, p)
		})
	}
	removeFlags := func(cmd *cobra.Command, a *removeLiquidityArgs) {
		cmd.Flags().StringVar(&a.vault, "vault", "", "ArrakisV2 vault address")
		cmd.Flags().StringVar(&a.burn, "burn", "", "Vault shares to burn in base units")
		cmd.Flags().StringVar(&a.receiver, "receiver", "", "Token receiver (defaults to the sender)")
		cmd.Flags().StringVar(&a.gauge, "gauge", "", "Gauge holding the staked shares")
		cmd.Flags().BoolVar(&a.receiveNative, "receive-native", false, "Unwrap the wrapped-native side to native currency")
		cmd.Flags().StringVar(&a.topology, "topology", "", "Front-end topology (generic|wrapper)")
		cmd.Flags().StringVar(&a.fromAddress, "from-address", "", "Sender EOA address")
		cmd.Flags().StringVar(&a.amount0Min, "amount0-min", "", "Minimum token0 returned in base units")
		cmd.Flags().StringVar(&a.amount1Min, "amount1-min", "", "Minimum token1 returned in base units")
		_ = cmd.MarkFlagRequired("vault")
		_ = cmd.MarkFlagRequired("burn")
	}

	var removePlan removeLiquidityArgs
	removePlanCmd := &cobra.Command{
		Use:   "plan",
		Short: "Create and persist a remove-liquidity action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, err := id.ParseAddress("from-address", removePlan.fromAddress, false)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			action, err := buildRemove(ctx, removePlan, sender)
			if err != nil {
				return err
			}
			return s.persistPlanned(cmd, action, nil)
		},
	}
	removeFlags(removePlanCmd, &removePlan)
	_ = removePlanCmd.MarkFlagRequired("from-address")

	var removeRun removeLiquidityArgs
	var removeExec execFlags
	removeRunCmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and execute a remove-liquidity action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.planAndRun(cmd, removeExec, removeRun.fromAddress, func(ctx context.Context, sender common.Address) (execution.Action, error) {
				return buildRemove(ctx, removeRun, sender)
			})
		},
	}
	removeFlags(removeRunCmd, &removeRun)
	addExecFlags(removeRunCmd, &removeExec)
	remove.AddCommand(removePlanCmd)
	remove.AddCommand(removeRunCmd)

	root.AddCommand(add)
	root.AddCommand(remove)
	return root
}

// withOrchestrator dials the selected network, builds a submit-less
// orchestrator and hands both to fn.
func (s *runtimeState) withOrchestrator(ctx context.Context, topology string, fn func(*chainSession, *settlement.Orchestrator) (execution.Action, error)) (execution.Action, error) {
	sess, err := s.openChain(ctx)
	if err != nil {
		return execution.Action{}, err
	}
	defer sess.Close()
	orch, err := s.newOrchestrator(sess, orchestratorOptions{topology: topology})
	if err != nil {
		return execution.Action{}, err
	}
	return fn(sess, orch)
}

// planAndRun loads the signer, builds the action for the signer's address
// and executes it.
func (s *runtimeState) planAndRun(cmd *cobra.Command, f execFlags, fromAddress string, build func(context.Context, common.Address) (execution.Action, error)) error {
	txSigner, sender, err := resolveRunSignerAndFromAddress(f.signer, f.keySource, f.privateKey, fromAddress)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()
	action, err := build(ctx, sender)
	if err != nil {
		return err
	}
	action.Constraints.Simulate = f.simulate
	return s.runPlanned(cmd, action, txSigner, f)
}
