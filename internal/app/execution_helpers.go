package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	execsigner "github.com/ggonzalez94/arrakis-cli/internal/execution/signer"
	"github.com/ggonzalez94/arrakis-cli/internal/id"
	"github.com/ggonzalez94/arrakis-cli/internal/providers/fixtures"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"github.com/ggonzalez94/arrakis-cli/internal/settlement"
	"github.com/ggonzalez94/arrakis-cli/internal/storage/postgres"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// execFlags are the signer and broadcast flags shared by every run command.
type execFlags struct {
	signer             string
	keySource          string
	privateKey         string
	simulate           bool
	pollInterval       string
	stepTimeout        string
	gasMultiplier      float64
	maxFeeGwei         string
	maxPriorityFeeGwei string
	allowMaxApproval   bool
}

func addExecFlags(cmd *cobra.Command, f *execFlags) {
	cmd.Flags().StringVar(&f.signer, "signer", "local", "Signer backend (local)")
	cmd.Flags().StringVar(&f.keySource, "key-source", execsigner.KeySourceAuto, "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&f.privateKey, "private-key", "", "Private key hex override for local signer (less safe)")
	cmd.Flags().BoolVar(&f.simulate, "simulate", true, "Run preflight simulation before submission")
	cmd.Flags().StringVar(&f.pollInterval, "poll-interval", "", "Receipt polling interval (defaults to settlement.poll_interval)")
	cmd.Flags().StringVar(&f.stepTimeout, "step-timeout", "", "Per-step receipt timeout (defaults to settlement.event_timeout)")
	cmd.Flags().Float64Var(&f.gasMultiplier, "gas-multiplier", 0, "Gas estimate safety multiplier (defaults to settlement.gas_multiplier)")
	cmd.Flags().StringVar(&f.maxFeeGwei, "max-fee-gwei", "", "Optional EIP-1559 max fee (gwei)")
	cmd.Flags().StringVar(&f.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Optional EIP-1559 max priority fee (gwei)")
	cmd.Flags().BoolVar(&f.allowMaxApproval, "allow-max-approval", false, "Allow approval amounts greater than planned input amount")
}

// parseExecuteOptions overlays the run flags on the configured settlement
// defaults.
func (s *runtimeState) parseExecuteOptions(f execFlags) (execution.ExecuteOptions, error) {
	opts := execution.DefaultExecuteOptions()
	opts.Simulate = f.simulate
	opts.Dial = s.runner.dial
	if s.settings.PollInterval > 0 {
		opts.PollInterval = s.settings.PollInterval
	}
	if s.settings.EventTimeout > 0 {
		opts.StepTimeout = s.settings.EventTimeout
	}
	if s.settings.GasMultiplier > 1 {
		opts.GasMultiplier = s.settings.GasMultiplier
	}
	if strings.TrimSpace(f.pollInterval) != "" {
		d, err := time.ParseDuration(f.pollInterval)
		if err != nil || d <= 0 {
			return execution.ExecuteOptions{}, clierr.New(clierr.CodeUsage, "--poll-interval must be a positive duration")
		}
		opts.PollInterval = d
	}
	if strings.TrimSpace(f.stepTimeout) != "" {
		d, err := time.ParseDuration(f.stepTimeout)
		if err != nil || d <= 0 {
			return execution.ExecuteOptions{}, clierr.New(clierr.CodeUsage, "--step-timeout must be a positive duration")
		}
		opts.StepTimeout = d
	}
	if f.gasMultiplier != 0 {
		if f.gasMultiplier <= 1 {
			return execution.ExecuteOptions{}, clierr.New(clierr.CodeUsage, "--gas-multiplier must be > 1")
		}
		opts.GasMultiplier = f.gasMultiplier
	}
	opts.MaxFeeGwei = strings.TrimSpace(f.maxFeeGwei)
	opts.MaxPriorityFeeGwei = strings.TrimSpace(f.maxPriorityFeeGwei)
	opts.AllowMaxApproval = f.allowMaxApproval
	return opts, nil
}

func newExecutionSigner(signerBackend, keySource, privateKey string) (execsigner.Signer, error) {
	switch strings.ToLower(strings.TrimSpace(signerBackend)) {
	case "", "local":
	default:
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported signer backend %q", signerBackend))
	}
	local, err := execsigner.NewLocalSignerFromInputs(keySource, privateKey)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "initialize local signer", err)
	}
	return local, nil
}

// resolveRunSignerAndFromAddress loads the signer and checks it against an
// optional --from-address.
func resolveRunSignerAndFromAddress(signerBackend, keySource, privateKey, fromAddress string) (execsigner.Signer, common.Address, error) {
	txSigner, err := newExecutionSigner(signerBackend, keySource, privateKey)
	if err != nil {
		return nil, common.Address{}, err
	}
	signerAddress := txSigner.Address()
	if strings.TrimSpace(fromAddress) != "" && !strings.EqualFold(strings.TrimSpace(fromAddress), signerAddress.Hex()) {
		return nil, common.Address{}, clierr.New(clierr.CodeSigner, "signer address does not match --from-address")
	}
	return txSigner, signerAddress, nil
}

// executionTimeout bounds a run: provider reads plus the receipt wait of
// every step.
func (s *runtimeState) executionTimeout(steps int, opts execution.ExecuteOptions) time.Duration {
	if steps < 1 {
		steps = 1
	}
	return s.settings.Timeout + time.Duration(steps)*opts.StepTimeout
}

func (s *runtimeState) executeActionWithTimeout(action *execution.Action, txSigner execsigner.Signer, opts execution.ExecuteOptions) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.executionTimeout(len(action.Steps), opts))
	defer cancel()
	return execution.ExecuteAction(ctx, s.actionStore, action, txSigner, opts)
}

func (s *runtimeState) ensureActionStore() error {
	if s.actionStore != nil {
		return nil
	}
	store, err := execution.OpenStore(s.settings.ActionStorePath, s.settings.ActionLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open action store", err)
	}
	s.actionStore = store
	return nil
}

// loadAction reads a stored action and checks it belongs to the command's
// intent.
func (s *runtimeState) loadAction(actionID, intent string) (execution.Action, error) {
	if err := s.ensureActionStore(); err != nil {
		return execution.Action{}, err
	}
	action, err := s.actionStore.Get(actionID)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeUsage, "load action", err)
	}
	if intent != "" && action.IntentType != intent {
		return execution.Action{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("action %s is a %s action, not %s", actionID, action.IntentType, intent))
	}
	return action, nil
}

func resolveActionID(actionID, planID string) (string, error) {
	actionID = strings.TrimSpace(actionID)
	planID = strings.TrimSpace(planID)
	switch {
	case actionID == "" && planID == "":
		return "", clierr.New(clierr.CodeUsage, "--action-id is required")
	case actionID != "" && planID != "" && actionID != planID:
		return "", clierr.New(clierr.CodeUsage, "--action-id and --plan-id refer to different actions")
	case actionID != "":
		return actionID, nil
	default:
		return planID, nil
	}
}

// listFilter validates the optional address filters shared by the list
// commands.
func listFilter(intent, status, vault, from string, limit int) (execution.ListFilter, error) {
	f := execution.ListFilter{Intent: strings.TrimSpace(intent), Status: strings.TrimSpace(status), Limit: limit}
	vaultAddr, err := id.ParseAddress("vault", vault, true)
	if err != nil {
		return execution.ListFilter{}, err
	}
	fromAddr, err := id.ParseAddress("from-address", from, true)
	if err != nil {
		return execution.ListFilter{}, err
	}
	if vaultAddr != (common.Address{}) {
		f.Vault = vaultAddr.Hex()
	}
	if fromAddr != (common.Address{}) {
		f.From = fromAddr.Hex()
	}
	return f, nil
}

func shouldOpenActionStore(commandPath string) bool {
	parts := strings.Fields(normalizeCommandPath(commandPath))
	if len(parts) == 0 {
		return false
	}
	switch parts[0] {
	case "actions":
		return true
	case "approve", "settle", "liquidity", "periphery":
		if len(parts) == 2 && parts[0] == "periphery" {
			return false
		}
	default:
		return false
	}
	switch parts[len(parts)-1] {
	case "plan", "run", "submit", "status", "list", "wire":
		return true
	default:
		return false
	}
}

// chainSession is one dialed RPC connection plus the typed reader over it.
type chainSession struct {
	network registry.Network
	client  execution.ChainClient
	reader  *arrakis.Reader
}

func (c *chainSession) Close() {
	if c != nil && c.client != nil {
		c.client.Close()
	}
}

func (s *runtimeState) selectedNetwork() (registry.Network, error) {
	network, err := s.settings.Network()
	if err != nil {
		return registry.Network{}, clierr.Wrap(clierr.CodeUsage, "select network", err)
	}
	return network, nil
}

func (s *runtimeState) openChain(ctx context.Context) (*chainSession, error) {
	network, err := s.selectedNetwork()
	if err != nil {
		return nil, err
	}
	rpcURL, err := registry.ResolveRPCURL(network.RPCURL, network.ChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	network.RPCURL = rpcURL
	client, err := s.runner.dial(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	s.logger.Debug("rpc connected", zap.String("network", network.Name), zap.Int64("chain_id", network.ChainID), zap.String("endpoint", registry.RedactRPCURL(rpcURL)))
	return &chainSession{network: network, client: client, reader: arrakis.NewReader(client)}, nil
}

func (s *runtimeState) loadFixtures() (*fixtures.Store, error) {
	if s.fixtures != nil {
		return s.fixtures, nil
	}
	store, err := fixtures.Load(s.settings.FixturesPath)
	if err != nil {
		return nil, err
	}
	s.fixtures = store
	return store, nil
}

// openLedger connects the Postgres settlement ledger when a DSN is
// configured; it returns nil otherwise.
func (s *runtimeState) openLedger(ctx context.Context) (*postgres.Store, error) {
	dsn := strings.TrimSpace(s.settings.PostgresDSN)
	if dsn == "" {
		return nil, nil
	}
	ledger, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := ledger.EnsureSchema(ctx); err != nil {
		ledger.Close()
		return nil, err
	}
	s.logger.Info("settlement ledger connected", zap.String("dsn", redactDSN(dsn)))
	return ledger, nil
}

type orchestratorOptions struct {
	topology  string
	submitter settlement.Submitter
	recorder  settlement.Recorder
}

func (s *runtimeState) newOrchestrator(sess *chainSession, opts orchestratorOptions) (*settlement.Orchestrator, error) {
	frontend, err := settlement.NewFrontend(sess.network, opts.topology)
	if err != nil {
		return nil, err
	}
	resolverAddr, err := sess.network.Contract(registry.ContractResolver)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve resolver", err)
	}
	fixtureStore, err := s.loadFixtures()
	if err != nil {
		return nil, err
	}
	return settlement.New(settlement.Deps{
		Network:   sess.network,
		Frontend:  frontend,
		Resolver:  arrakis.NewResolver(sess.client, resolverAddr),
		Tokens:    sess.reader,
		Source:    s.swapSource,
		Fixtures:  fixtureStore,
		Submitter: opts.submitter,
		Store:     s.actionStore,
		Recorder:  opts.recorder,
		Logger:    s.logger,
	})
}

// persistPlanned saves a freshly planned action and emits it.
func (s *runtimeState) persistPlanned(cmd *cobra.Command, action execution.Action, warnings []string) error {
	if err := s.ensureActionStore(); err != nil {
		return err
	}
	if err := s.actionStore.Save(action); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "persist planned action", err)
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, warnings, cacheMetaBypass(), nil, false)
}

// runPlanned executes an already built action with a loaded signer and
// emits the final action state.
func (s *runtimeState) runPlanned(cmd *cobra.Command, action execution.Action, txSigner execsigner.Signer, f execFlags) error {
	if err := s.ensureActionStore(); err != nil {
		return err
	}
	if err := s.actionStore.Save(action); err != nil {
		return clierr.Wrap(clierr.CodeInternal, "persist planned action", err)
	}
	opts, err := s.parseExecuteOptions(f)
	if err != nil {
		return err
	}
	if err := s.executeActionWithTimeout(&action, txSigner, opts); err != nil {
		s.captureCommandDiagnostics([]string{fmt.Sprintf("action %s stored with status %s", action.ActionID, action.Status)}, nil, false)
		return err
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil, false)
}
