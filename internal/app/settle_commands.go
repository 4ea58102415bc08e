package app

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/id"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
	"github.com/ggonzalez94/arrakis-cli/internal/policy"
	"github.com/ggonzalez94/arrakis-cli/internal/settlement"
	"github.com/spf13/cobra"
)

type settleArgs struct {
	vault          string
	amount0        string
	amount0Decimal string
	amount1        string
	amount1Decimal string
	zeroForOne     bool
	slippageBps    int
	receiver       string
	gauge          string
	native         bool
	nativeValue    string
	scenario       string
	topology       string
	fromAddress    string
	amount0Min     string
	amount1Min     string
	sharesMin      string
}

func addSettleFlags(cmd *cobra.Command, a *settleArgs) {
	cmd.Flags().StringVar(&a.vault, "vault", "", "ArrakisV2 vault address")
	cmd.Flags().StringVar(&a.amount0, "amount0", "", "Maximum token0 contribution in base units")
	cmd.Flags().StringVar(&a.amount0Decimal, "amount0-decimal", "", "Maximum token0 contribution in decimal units")
	cmd.Flags().StringVar(&a.amount1, "amount1", "", "Maximum token1 contribution in base units")
	cmd.Flags().StringVar(&a.amount1Decimal, "amount1-decimal", "", "Maximum token1 contribution in decimal units")
	cmd.Flags().BoolVar(&a.zeroForOne, "zero-for-one", false, "Swap token0 for token1 (implied by single-sided funding when unset)")
	cmd.Flags().IntVar(&a.slippageBps, "slippage-bps", 0, "Slippage tolerance in basis points (defaults to settlement.slippage_bps)")
	cmd.Flags().StringVar(&a.receiver, "receiver", "", "Share and refund receiver (defaults to the sender)")
	cmd.Flags().StringVar(&a.gauge, "gauge", "", "Gauge to stake minted shares into")
	cmd.Flags().BoolVar(&a.native, "native", false, "Fund the wrapped-native side with native currency")
	cmd.Flags().StringVar(&a.nativeValue, "native-value", "", "Native value to forward in wei (defaults to the wrapped-native max)")
	cmd.Flags().StringVar(&a.scenario, "scenario", "", "Pinned fixture scenario; skips live quoting")
	cmd.Flags().StringVar(&a.topology, "topology", "", "Front-end topology (generic|wrapper; defaults to the network's)")
	cmd.Flags().StringVar(&a.fromAddress, "from-address", "", "Sender EOA address")
	cmd.Flags().StringVar(&a.amount0Min, "amount0-min", "", "Minimum token0 deposited in base units")
	cmd.Flags().StringVar(&a.amount1Min, "amount1-min", "", "Minimum token1 deposited in base units")
	cmd.Flags().StringVar(&a.sharesMin, "shares-min", "", "Minimum vault shares minted")
	_ = cmd.MarkFlagRequired("vault")
}

// buildIntent turns parsed flags into a settlement intent. Decimal amounts
// need the vault's token decimals and are resolved on-chain.
func (s *runtimeState) buildIntent(ctx context.Context, cmd *cobra.Command, reader *arrakis.Reader, a settleArgs, sender common.Address) (settlement.Intent, error) {
	vault, err := id.ParseAddress("vault", a.vault, false)
	if err != nil {
		return settlement.Intent{}, err
	}
	amount0, amount1, err := parseVaultAmounts(ctx, reader, vault, a.amount0, a.amount0Decimal, a.amount1, a.amount1Decimal)
	if err != nil {
		return settlement.Intent{}, err
	}
	receiver, err := id.ParseAddress("receiver", a.receiver, true)
	if err != nil {
		return settlement.Intent{}, err
	}
	gauge, err := id.ParseAddress("gauge", a.gauge, true)
	if err != nil {
		return settlement.Intent{}, err
	}

	slippage := s.settings.SlippageBps
	if cmd.Flags().Changed("slippage-bps") {
		slippage = a.slippageBps
	}
	if err := policy.CheckSlippage(slippage, s.settings.MaxSlippageBps); err != nil {
		return settlement.Intent{}, err
	}

	intent := settlement.Intent{
		Vault:       vault,
		Amount0Max:  amount0,
		Amount1Max:  amount1,
		SlippageBps: slippage,
		UseNative:   a.native,
		Gauge:       gauge,
		Sender:      sender,
		Receiver:    receiver,
		Scenario:    strings.TrimSpace(a.scenario),
	}
	if cmd.Flags().Changed("zero-for-one") {
		zeroForOne := a.zeroForOne
		intent.ZeroForOne = &zeroForOne
	}
	if intent.NativeValue, err = id.ParseOptionalInt("native-value", a.nativeValue); err != nil {
		return settlement.Intent{}, err
	}
	if intent.NativeValue != nil && !a.native {
		return settlement.Intent{}, clierr.New(clierr.CodeUsage, "--native-value requires --native")
	}
	if intent.Amount0Min, err = id.ParseOptionalInt("amount0-min", a.amount0Min); err != nil {
		return settlement.Intent{}, err
	}
	if intent.Amount1Min, err = id.ParseOptionalInt("amount1-min", a.amount1Min); err != nil {
		return settlement.Intent{}, err
	}
	if intent.AmountSharesMin, err = id.ParseOptionalInt("shares-min", a.sharesMin); err != nil {
		return settlement.Intent{}, err
	}
	return intent, nil
}

// parseVaultAmounts reads both funding sides. An absent side is zero.
func parseVaultAmounts(ctx context.Context, reader *arrakis.Reader, vault common.Address, base0, dec0, base1, dec1 string) (*big.Int, *big.Int, error) {
	var token0, token1 common.Address
	if strings.TrimSpace(dec0) != "" || strings.TrimSpace(dec1) != "" {
		var err error
		token0, token1, err = reader.VaultTokens(ctx, vault)
		if err != nil {
			return nil, nil, err
		}
	}
	amount0, err := parseSideAmount(ctx, reader, "amount0", token0, base0, dec0)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUsage, "parse token0 amount", err)
	}
	amount1, err := parseSideAmount(ctx, reader, "amount1", token1, base1, dec1)
	if err != nil {
		return nil, nil, clierr.Wrap(clierr.CodeUsage, "parse token1 amount", err)
	}
	return amount0, amount1, nil
}

func parseSideAmount(ctx context.Context, reader *arrakis.Reader, flag string, token common.Address, base, decimal string) (*big.Int, error) {
	base, decimal = strings.TrimSpace(base), strings.TrimSpace(decimal)
	if base == "" && decimal == "" {
		return new(big.Int), nil
	}
	decimals := 0
	if decimal != "" {
		var err error
		if decimals, err = reader.Decimals(ctx, token); err != nil {
			return nil, err
		}
	}
	return id.ParseAmount(flag, base, decimal, decimals)
}

func swapSourceName(scenario string) string {
	if strings.TrimSpace(scenario) != "" {
		return "fixtures"
	}
	return "1inch"
}

func (s *runtimeState) newSettleCommand() *cobra.Command {
	root := &cobra.Command{Use: "settle", Short: "Swap into vault proportions and add liquidity in one transaction"}

	var plan settleArgs
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Price a settlement and persist the executable action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sender, err := id.ParseAddress("from-address", plan.fromAddress, false)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			sess, err := s.openChain(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			orch, err := s.newOrchestrator(sess, orchestratorOptions{topology: plan.topology})
			if err != nil {
				return err
			}
			intent, err := s.buildIntent(ctx, cmd, sess.reader, plan, sender)
			if err != nil {
				return err
			}

			start := time.Now()
			priced, err := orch.Plan(ctx, intent)
			statuses := []model.ProviderStatus{{Name: swapSourceName(intent.Scenario), Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			if err != nil {
				s.captureCommandDiagnostics(nil, statuses, false)
				return err
			}
			action, err := orch.BuildAction(ctx, priced)
			if err != nil {
				s.captureCommandDiagnostics(nil, statuses, false)
				return err
			}
			s.captureCommandDiagnostics(nil, statuses, false)
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			if err := s.actionStore.Save(action); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "persist planned action", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), statuses, false)
		},
	}
	addSettleFlags(planCmd, &plan)
	_ = planCmd.MarkFlagRequired("from-address")

	var run settleArgs
	var runExec execFlags
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Plan, submit, reconcile and verify a settlement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			txSigner, sender, err := resolveRunSignerAndFromAddress(runExec.signer, runExec.keySource, runExec.privateKey, run.fromAddress)
			if err != nil {
				return err
			}
			opts, err := s.parseExecuteOptions(runExec)
			if err != nil {
				return err
			}
			// Up to two approvals precede the settlement step.
			ctx, cancel := context.WithTimeout(context.Background(), s.executionTimeout(3, opts))
			defer cancel()
			sess, err := s.openChain(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()

			var recorder settlement.Recorder
			ledger, err := s.openLedger(ctx)
			if err != nil {
				return err
			}
			if ledger != nil {
				defer ledger.Close()
				recorder = ledger
			}
			orch, err := s.newOrchestrator(sess, orchestratorOptions{
				topology: run.topology,
				submitter: settlement.ExecutionSubmitter{
					Store:   s.actionStore,
					Signer:  txSigner,
					Options: opts,
				},
				recorder: recorder,
			})
			if err != nil {
				return err
			}
			intent, err := s.buildIntent(ctx, cmd, sess.reader, run, sender)
			if err != nil {
				return err
			}

			start := time.Now()
			result, err := orch.Settle(ctx, intent)
			statuses := []model.ProviderStatus{{Name: swapSourceName(intent.Scenario), Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			if err != nil {
				var warnings []string
				if action := result.Submission.Action; action.ActionID != "" {
					warnings = append(warnings, fmt.Sprintf("action %s stored with status %s", action.ActionID, action.Status))
				}
				for _, check := range result.Report.Failed() {
					warnings = append(warnings, fmt.Sprintf("check %s failed: %s", check.Name, check.Detail))
				}
				s.captureCommandDiagnostics(warnings, statuses, false)
				return err
			}
			s.captureCommandDiagnostics(nil, statuses, false)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), result, nil, cacheMetaBypass(), statuses, false)
		},
	}
	addSettleFlags(runCmd, &run)
	addExecFlags(runCmd, &runExec)

	var statusActionID, statusPlanID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Get a stored settlement action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actionID, err := resolveActionID(statusActionID, statusPlanID)
			if err != nil {
				return err
			}
			action, err := s.loadAction(actionID, settlement.IntentSwapAndAdd)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil, false)
		},
	}
	statusCmd.Flags().StringVar(&statusActionID, "action-id", "", "Action identifier")
	statusCmd.Flags().StringVar(&statusPlanID, "plan-id", "", "Plan identifier (alias of --action-id)")

	var listStatus, listVault, listFrom string
	var listLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored settlement actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			filter, err := listFilter(settlement.IntentSwapAndAdd, listStatus, listVault, listFrom, listLimit)
			if err != nil {
				return err
			}
			items, err := s.actionStore.List(filter)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "list actions", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, cacheMetaBypass(), nil, false)
		},
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (planned|running|completed|failed)")
	listCmd.Flags().StringVar(&listVault, "vault", "", "Filter by vault address")
	listCmd.Flags().StringVar(&listFrom, "from-address", "", "Filter by sender address")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum actions to return")

	var ledgerVault, ledgerTxHash string
	var ledgerLimit int
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query verified settlements from the Postgres ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(s.settings.PostgresDSN) == "" {
				return clierr.New(clierr.CodeUsage, "settlement ledger requires storage.postgres_dsn or ARRAKIS_POSTGRES_DSN")
			}
			if (ledgerVault == "") == (ledgerTxHash == "") {
				return clierr.New(clierr.CodeUsage, "use exactly one of --vault or --tx-hash")
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			ledger, err := s.openLedger(ctx)
			if err != nil {
				return err
			}
			defer ledger.Close()
			if ledgerTxHash != "" {
				row, err := ledger.Get(ctx, strings.TrimSpace(ledgerTxHash))
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), row, nil, cacheMetaBypass(), nil, false)
			}
			vault, err := id.ParseAddress("vault", ledgerVault, false)
			if err != nil {
				return err
			}
			rows, err := ledger.ListByVault(ctx, vault.Hex(), ledgerLimit)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), rows, nil, cacheMetaBypass(), nil, false)
		},
	}
	ledgerCmd.Flags().StringVar(&ledgerVault, "vault", "", "List settlements into this vault")
	ledgerCmd.Flags().StringVar(&ledgerTxHash, "tx-hash", "", "Fetch one settlement by transaction hash")
	ledgerCmd.Flags().IntVar(&ledgerLimit, "limit", 20, "Maximum rows to return")

	root.AddCommand(planCmd)
	root.AddCommand(runCmd)
	root.AddCommand(statusCmd)
	root.AddCommand(listCmd)
	root.AddCommand(ledgerCmd)
	return root
}
