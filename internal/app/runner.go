package app

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ggonzalez94/arrakis-cli/internal/cache"
	"github.com/ggonzalez94/arrakis-cli/internal/config"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/httpx"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
	"github.com/ggonzalez94/arrakis-cli/internal/out"
	"github.com/ggonzalez94/arrakis-cli/internal/policy"
	"github.com/ggonzalez94/arrakis-cli/internal/providers"
	"github.com/ggonzalez94/arrakis-cli/internal/providers/fixtures"
	"github.com/ggonzalez94/arrakis-cli/internal/providers/oneinch"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"github.com/ggonzalez94/arrakis-cli/internal/schema"
	"github.com/ggonzalez94/arrakis-cli/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	// dial reaches chain RPC endpoints; tests swap in simulated backends.
	dial execution.Dialer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
		dial:   execution.DialEthClient,
	}
}

type runtimeState struct {
	runner        *Runner
	flags         config.GlobalFlags
	settings      config.Settings
	cache         *cache.Store
	actionStore   *execution.Store
	root          *cobra.Command
	logger        *zap.Logger
	lastCommand   string
	lastWarnings  []string
	lastProviders []model.ProviderStatus
	lastPartial   bool

	swapSource    providers.SwapSource
	fixtures      *fixtures.Store
	providerInfos []model.ProviderInfo
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, logger: zap.NewNop()}
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err, state.lastWarnings, state.lastProviders, state.lastPartial)
	}
	state.close()
	if err != nil {
		return clierr.ExitCode(err)
	}
	return 0
}

func (s *runtimeState) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.actionStore != nil {
		_ = s.actionStore.Close()
	}
	_ = s.logger.Sync()
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Plan, submit and verify Arrakis swap-and-add-liquidity settlements",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}

			logger, err := newLogger(settings.LogLevel, s.runner.stderr)
			if err != nil {
				return err
			}
			s.logger = logger.With(zap.String("command", path))

			if s.swapSource == nil {
				httpClient := httpx.New(settings.Timeout, settings.Retries)
				oneInch := oneinch.New(httpClient, settings.OneInchAPIKey).WithBaseURL(settings.OneInchBaseURL)
				s.swapSource = oneInch
				s.providerInfos = []model.ProviderInfo{
					oneInch.Info(),
					fixturesProviderInfo(),
				}
			}

			if settings.CacheEnabled && shouldOpenCache(path) && s.cache == nil {
				cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "open cache", err)
				}
				s.cache = cacheStore
			}
			if shouldOpenActionStore(path) {
				if err := s.ensureActionStore(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	cmd.PersistentFlags().BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths or groups (comma-separated, e.g. \"settle,quote\")")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Provider and RPC request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per provider request")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	cmd.PersistentFlags().BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cache entries")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.Network, "network", "", "Network name from the address book")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC URL override for the selected network")
	cmd.PersistentFlags().StringVar(&s.flags.LogLevel, "log-level", "", "Log level for stderr diagnostics (debug|info|warn|error)")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newNetworksCommand())
	cmd.AddCommand(s.newScenariosCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newApproveCommand())
	cmd.AddCommand(s.newSettleCommand())
	cmd.AddCommand(s.newLiquidityCommand())
	cmd.AddCommand(s.newPeripheryCommand())
	cmd.AddCommand(s.newActionsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) > 0 {
				path = strings.Join(args, " ")
			}
			data, err := schema.Build(s.root, path)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	return cmd
}

func (s *runtimeState) newProvidersCommand() *cobra.Command {
	root := &cobra.Command{Use: "providers", Short: "Provider commands"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List swap sources and API key metadata (no keys required)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), s.providerInfos, nil, cacheMetaBypass(), nil, false)
		},
	}
	root.AddCommand(list)
	return root
}

func fixturesProviderInfo() model.ProviderInfo {
	return model.ProviderInfo{
		Name:         "fixtures",
		Type:         "swap_source",
		RequiresKey:  false,
		Capabilities: []string{"swap.pinned_payload", "scenarios.list"},
	}
}

func (s *runtimeState) newNetworksCommand() *cobra.Command {
	root := &cobra.Command{Use: "networks", Short: "Network address book"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List configured networks with their periphery contracts and tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := registry.NetworkNames(s.settings.Networks)
			items := make([]model.NetworkSummary, 0, len(names))
			for _, name := range names {
				items = append(items, networkSummary(s.settings.Networks[name], name == s.settings.NetworkName))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, cacheMetaBypass(), nil, false)
		},
	}
	root.AddCommand(list)
	return root
}

func networkSummary(n registry.Network, selected bool) model.NetworkSummary {
	contracts := map[string]string{}
	for name, addr := range map[string]string{
		registry.ContractRouter:   n.Contracts.Router.Hex(),
		registry.ContractExecutor: n.Contracts.Executor.Hex(),
		registry.ContractResolver: n.Contracts.Resolver.Hex(),
		registry.ContractWrapper:  n.Contracts.Wrapper.Hex(),
	} {
		if addr != zeroAddressHex {
			contracts[name] = addr
		}
	}
	tokens := make([]string, 0, len(n.Tokens))
	for _, tok := range n.Tokens {
		tokens = append(tokens, tok.Symbol)
	}
	sort.Strings(tokens)
	return model.NetworkSummary{
		Name:      n.Name,
		ChainID:   n.ChainID,
		Native:    n.NativeSymbol,
		Topology:  n.Topology,
		RPCURL:    n.RPCURL,
		Contracts: contracts,
		Tokens:    tokens,
		Selected:  selected,
	}
}

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

type fetchFn func(ctx context.Context) (any, []model.ProviderStatus, []string, bool, error)

func (s *runtimeState) runCachedCommand(commandPath, key string, tag cache.Tag, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	cacheStatus := cacheMetaMiss()
	warnings := []string{}
	var staleData any
	staleAvailable := false
	staleObservedAge := time.Duration(0)
	staleObservedAt := time.Time{}
	staleCacheStatus := cacheMetaMiss()

	if s.settings.CacheEnabled && s.cache != nil {
		cached, err := s.cache.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit {
			entryStatus := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			var data any
			if err := json.Unmarshal(cached.Value, &data); err == nil {
				if !cached.Stale {
					s.captureCommandDiagnostics(warnings, nil, false)
					return s.emitSuccess(commandPath, data, warnings, entryStatus, nil, false)
				}
				staleData = data
				staleAvailable = true
				staleObservedAge = cached.Age
				staleObservedAt = time.Now()
				staleCacheStatus = entryStatus
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
	defer cancel()
	data, providerStatus, providerWarnings, partial, err := fetch(ctx)
	warnings = append(warnings, providerWarnings...)
	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	if err != nil {
		if !staleAvailable || !staleFallbackAllowed(err) {
			return err
		}
		currentStaleAge := staleObservedAge
		if !staleObservedAt.IsZero() {
			currentStaleAge += time.Since(staleObservedAt)
		}
		staleCacheStatus.AgeMS = currentStaleAge.Milliseconds()
		if s.settings.NoStale {
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and stale fallback is disabled (--no-stale)", err)
		}
		if staleExceedsBudget(currentStaleAge, ttl, s.settings.MaxStale) {
			return clierr.Wrap(clierr.CodeStale, "fresh provider fetch failed and cached data exceeded stale budget", err)
		}
		warnings = append(warnings, "provider fetch failed; serving stale data within max-stale budget")
		s.captureCommandDiagnostics(warnings, providerStatus, false)
		return s.emitSuccess(commandPath, staleData, warnings, staleCacheStatus, providerStatus, false)
	}

	if s.settings.CacheEnabled && s.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			_ = s.cache.Set(key, tag, payload, ttl)
			cacheStatus = model.CacheStatus{Status: "write", AgeMS: 0, Stale: false}
		}
	}

	s.captureCommandDiagnostics(warnings, providerStatus, partial)
	return s.emitSuccess(commandPath, data, warnings, cacheStatus, providerStatus, partial)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Network:   s.settings.NetworkName,
			Providers: providers,
			Cache:     cacheStatus,
			Partial:   partial,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string, providers []model.ProviderStatus, partial bool) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := clierr.CodeInternal.Type()
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		typ = cErr.Code.Type()
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			Network:   s.settings.NetworkName,
			Providers: providers,
			Cache:     cacheMetaBypass(),
			Partial:   partial,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func cacheKey(commandPath string, req any) string {
	buf, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(commandPath+"|"), buf...))
	return hex.EncodeToString(sum[:])
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable, clierr.CodeQuoteUnavailable, clierr.CodeSwapPayloadUnavailable:
			return "unavailable"
		default:
			return "error"
		}
	}
	return "error"
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass", AgeMS: 0, Stale: false}
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss", AgeMS: 0, Stale: false}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	if age <= ttl {
		return false
	}
	if maxStale < 0 {
		return false
	}
	return age > ttl+maxStale
}

func staleFallbackAllowed(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	switch cErr.Code {
	case clierr.CodeUnavailable, clierr.CodeRateLimited, clierr.CodeQuoteUnavailable:
		return true
	default:
		return false
	}
}

// shouldOpenCache reports whether a command reads the response cache. Only
// indicative quotes are cached; settlement pricing never is.
func shouldOpenCache(commandPath string) bool {
	return normalizeCommandPath(commandPath) == "quote"
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
	s.lastProviders = nil
	s.lastPartial = false
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string, providers []model.ProviderStatus, partial bool) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
	} else {
		s.lastWarnings = append([]string(nil), warnings...)
	}
	if len(providers) == 0 {
		s.lastProviders = nil
	} else {
		s.lastProviders = append([]model.ProviderStatus(nil), providers...)
	}
	s.lastPartial = partial
}
