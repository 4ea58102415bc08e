package app

import (
	"context"
	"strings"
	"time"

	"github.com/ggonzalez94/arrakis-cli/internal/cache"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/id"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
	"github.com/ggonzalez94/arrakis-cli/internal/providers"
	"github.com/ggonzalez94/arrakis-cli/internal/providers/fixtures"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"github.com/ggonzalez94/arrakis-cli/internal/settlement"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var fromArg, toArg, amountBase, amountDecimal string
	var refresh bool
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Get an indicative aggregator quote (never used for settlement pricing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := s.selectedNetwork()
			if err != nil {
				return err
			}
			tokenIn, err := id.ParseToken(fromArg, network)
			if err != nil {
				return err
			}
			tokenOut, err := id.ParseToken(toArg, network)
			if err != nil {
				return err
			}
			if tokenIn.Address == tokenOut.Address {
				return clierr.New(clierr.CodeUsage, "--from and --to must differ")
			}
			if tokenIn.Decimals == 0 || tokenOut.Decimals == 0 {
				if err := s.fillTokenMeta(&tokenIn, &tokenOut); err != nil {
					return err
				}
			}
			amount, err := id.ParseAmount("amount", amountBase, amountDecimal, tokenIn.Decimals)
			if err != nil {
				return err
			}
			if amount.Sign() == 0 {
				return clierr.New(clierr.CodeUsage, "quote amount must be greater than zero")
			}

			key := cacheKey(trimRootPath(cmd.CommandPath()), map[string]any{
				"provider": s.swapSource.Info().Name,
				"chain":    network.ChainRef(),
				"from":     id.AssetID(network, tokenIn.Address),
				"to":       id.AssetID(network, tokenOut.Address),
				"amount":   amount.String(),
			})
			tag := cache.Tag{Provider: s.swapSource.Info().Name, ChainID: network.ChainRef()}
			if refresh && s.cache != nil {
				removed, err := s.cache.Invalidate(tag)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "refresh quote cache", err)
				}
				s.logger.Debug("quote cache invalidated", zap.String("provider", tag.Provider), zap.String("chain", tag.ChainID), zap.Int64("removed", removed))
			}
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, tag, 15*time.Second, func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error) {
				start := time.Now()
				out, err := s.swapSource.Quote(ctx, providers.QuoteRequest{
					ChainID:  network.ChainID,
					TokenIn:  tokenIn.Address,
					TokenOut: tokenOut.Address,
					AmountIn: amount,
				})
				status := []model.ProviderStatus{{Name: s.swapSource.Info().Name, Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
				if err != nil {
					return nil, status, nil, false, err
				}
				quote := model.SwapQuote{
					Provider: s.swapSource.Info().Name,
					Network:  network.Name,
					ChainID:  network.ChainRef(),
					TokenIn:  id.AssetID(network, tokenIn.Address),
					TokenOut: id.AssetID(network, tokenOut.Address),
					InputAmount: model.AmountInfo{
						AmountBaseUnits: amount.String(),
						AmountDecimal:   id.FormatUnits(amount, tokenIn.Decimals),
						Decimals:        tokenIn.Decimals,
					},
					EstimatedOut: model.AmountInfo{
						AmountBaseUnits: out.String(),
						AmountDecimal:   id.FormatUnits(out, tokenOut.Decimals),
						Decimals:        tokenOut.Decimals,
					},
					FetchedAt: s.runner.now().UTC().Format(time.RFC3339),
				}
				// Pool ordering: token0 is the lower address.
				zeroForOne := strings.ToLower(tokenIn.Address.Hex()) < strings.ToLower(tokenOut.Address.Hex())
				if price, err := settlement.PriceFromQuote(amount, out, tokenIn.Decimals, tokenOut.Decimals, zeroForOne); err == nil {
					quote.PriceX18 = price.String()
				}
				return quote, status, nil, false, nil
			})
		},
	}
	cmd.Flags().StringVar(&fromArg, "from", "", "Input token symbol/address/CAIP-19")
	cmd.Flags().StringVar(&toArg, "to", "", "Output token symbol/address/CAIP-19")
	cmd.Flags().StringVar(&amountBase, "amount", "", "Amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Amount in decimal units")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Drop cached quotes from this provider on the selected network first")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// fillTokenMeta reads symbol and decimals on-chain for tokens missing from
// the address book.
func (s *runtimeState) fillTokenMeta(tokens ...*registry.Token) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()
	sess, err := s.openChain(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	for _, tok := range tokens {
		if tok.Decimals != 0 {
			continue
		}
		meta, err := sess.reader.TokenMeta(ctx, tok.Address)
		if err != nil {
			return err
		}
		tok.Symbol, tok.Decimals = meta.Symbol, meta.Decimals
	}
	return nil
}

func (s *runtimeState) newScenariosCommand() *cobra.Command {
	root := &cobra.Command{Use: "scenarios", Short: "Pinned swap fixtures for mock settlements"}

	var pairsArg string
	list := &cobra.Command{
		Use:   "list",
		Short: "List fixture scenarios, optionally for some pairs (e.g. DAI/WETH)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.loadFixtures()
			if err != nil {
				return err
			}
			pairs := splitCSV(pairsArg)
			if len(pairs) == 0 {
				pairs = store.Pairs()
			}
			items := []fixtures.Scenario{}
			for _, pair := range pairs {
				if fixtures.PairKey(pair) == "" {
					return clierr.New(clierr.CodeUsage, "--pairs entries must look like SYMBOL0/SYMBOL1")
				}
				items = append(items, store.Scenarios(pair)...)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, cacheMetaBypass(), nil, false)
		},
	}
	list.Flags().StringVar(&pairsArg, "pairs", "", "Comma-separated pair labels")

	var pairArg, scenarioArg string
	show := &cobra.Command{
		Use:   "show",
		Short: "Show one pinned swap including its payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.loadFixtures()
			if err != nil {
				return err
			}
			quote, err := store.Lookup(pairArg, scenarioArg)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), quote, nil, cacheMetaBypass(), nil, false)
		},
	}
	show.Flags().StringVar(&pairArg, "pair", "", "Pair label in swap direction, input first (e.g. DAI/WETH)")
	show.Flags().StringVar(&scenarioArg, "scenario", "", "Scenario name")
	_ = show.MarkFlagRequired("pair")
	_ = show.MarkFlagRequired("scenario")

	root.AddCommand(list)
	root.AddCommand(show)
	return root
}

func (s *runtimeState) newActionsCommand() *cobra.Command {
	root := &cobra.Command{Use: "actions", Short: "Inspect every stored action"}

	var intentArg, statusArg, vaultArg, fromArg string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored actions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.ensureActionStore(); err != nil {
				return err
			}
			filter, err := listFilter(intentArg, statusArg, vaultArg, fromArg, limit)
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
	list.Flags().StringVar(&intentArg, "intent", "", "Filter by intent (swap_and_add|add_liquidity|remove_liquidity|approve|periphery_wiring)")
	list.Flags().StringVar(&statusArg, "status", "", "Filter by status ("+strings.Join([]string{
		string(execution.ActionStatusPlanned),
		string(execution.ActionStatusRunning),
		string(execution.ActionStatusCompleted),
		string(execution.ActionStatusFailed),
	}, "|")+")")
	list.Flags().StringVar(&vaultArg, "vault", "", "Filter by vault address")
	list.Flags().StringVar(&fromArg, "from-address", "", "Filter by sender address")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum actions to return")

	var actionID, planID string
	status := &cobra.Command{
		Use:   "status",
		Short: "Get any stored action",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveActionID(actionID, planID)
			if err != nil {
				return err
			}
			action, err := s.loadAction(resolved, "")
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil, false)
		},
	}
	status.Flags().StringVar(&actionID, "action-id", "", "Action identifier")
	status.Flags().StringVar(&planID, "plan-id", "", "Plan identifier (alias of --action-id)")

	root.AddCommand(list)
	root.AddCommand(status)
	return root
}
