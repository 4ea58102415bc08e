package execution

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
)

type fakeChain struct {
	mu        sync.Mutex
	chainID   int64
	simErr    error
	replayErr error
	status    uint64
	mined     bool
	sent      []*types.Transaction
	calls     int
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(f.chainID), nil }

func (f *fakeChain) CallContract(_ context.Context, _ ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if block != nil {
		return nil, f.replayErr
	}
	return nil, f.simErr
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 100_000, nil }

func (f *fakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mined {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: f.status, TxHash: hash, BlockNumber: big.NewInt(42), GasUsed: 21000}, nil
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeChain) Close() {}

func (f *fakeChain) dialer() Dialer {
	return func(context.Context, string) (ChainClient, error) { return f, nil }
}

func fastOptions(chain *fakeChain) ExecuteOptions {
	opts := DefaultExecuteOptions()
	opts.PollInterval = 5 * time.Millisecond
	opts.StepTimeout = 100 * time.Millisecond
	opts.Dial = chain.dialer()
	return opts
}

func wiringAction(t *testing.T) Action {
	t.Helper()
	data, err := policyFrontendABI.Pack("updateRouter", common.HexToAddress("0x00000000000000000000000000000000000000e1"))
	if err != nil {
		t.Fatalf("pack wiring calldata: %v", err)
	}
	action := NewAction(NewActionID(), "wiring", "eip155:1", Constraints{Simulate: true})
	action.Steps = append(action.Steps, ActionStep{
		StepID:  "wire-1",
		Type:    StepTypeWiring,
		Status:  StepStatusPending,
		ChainID: "eip155:1",
		RPCURL:  "http://rpc.invalid",
		Target:  "0x00000000000000000000000000000000000000cd",
		Data:    "0x" + common.Bytes2Hex(data),
		Value:   "0",
	})
	return action
}

func TestExecuteActionConfirmsAndReportsReceipt(t *testing.T) {
	chain := &fakeChain{chainID: 1, mined: true, status: types.ReceiptStatusSuccessful}
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "actions.db"), filepath.Join(dir, "actions.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var observed *types.Receipt
	opts := fastOptions(chain)
	opts.OnConfirmed = func(step *ActionStep, receipt *types.Receipt) error {
		observed = receipt
		return nil
	}
	action := wiringAction(t)
	if err := ExecuteAction(context.Background(), store, &action, staticSigner{}, opts); err != nil {
		t.Fatalf("ExecuteAction failed: %v", err)
	}
	if action.Status != ActionStatusCompleted || action.Steps[0].Status != StepStatusConfirmed {
		t.Fatalf("unexpected statuses %s/%s", action.Status, action.Steps[0].Status)
	}
	if observed == nil || observed.BlockNumber.Int64() != 42 {
		t.Fatal("expected confirmed receipt to be handed to OnConfirmed")
	}
	if action.Steps[0].ExpectedOutputs["block_number"] != "42" || action.Steps[0].ExpectedOutputs["gas_used"] != "21000" {
		t.Fatalf("unexpected receipt outputs %+v", action.Steps[0].ExpectedOutputs)
	}
	if len(chain.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(chain.sent))
	}
	saved, err := store.Get(action.ActionID)
	if err != nil || saved.Status != ActionStatusCompleted {
		t.Fatalf("expected persisted completed action, got %v err=%v", saved.Status, err)
	}
}

func TestExecuteActionSimulationRevertSkipsBroadcast(t *testing.T) {
	chain := &fakeChain{
		chainID: 1,
		simErr:  testRPCDataError{
			msg:  "execution reverted",
			data: "0x" + common.Bytes2Hex(encodeErrorString(t, "Not enough ETH forwarded")),
		},
	}
	action := wiringAction(t)
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, fastOptions(chain))
	if !clierr.Is(err, clierr.CodeActionSim) {
		t.Fatalf("expected simulation error, got %v", err)
	}
	if reason, ok := RevertReason(err); !ok || reason != "Not enough ETH forwarded" {
		t.Fatalf("expected verbatim revert reason, got %q", reason)
	}
	if len(chain.sent) != 0 {
		t.Fatal("reverting simulation must not broadcast")
	}
	if action.Steps[0].Status != StepStatusFailed {
		t.Fatalf("expected failed step, got %s", action.Steps[0].Status)
	}
}

func TestExecuteActionMinedRevertReplaysReason(t *testing.T) {
	chain := &fakeChain{
		chainID:   1,
		mined:     true,
		status:    types.ReceiptStatusFailed,
		replayErr: errors.New("execution reverted: Invalid amount of ETH forwarded"),
	}
	action := wiringAction(t)
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, fastOptions(chain))
	if err == nil {
		t.Fatal("expected on-chain revert error")
	}
	if reason, ok := RevertReason(err); !ok || reason != "Invalid amount of ETH forwarded" {
		t.Fatalf("expected replayed revert reason, got %q (%v)", reason, err)
	}
}

func TestExecuteActionReceiptWaitIsBounded(t *testing.T) {
	chain := &fakeChain{chainID: 1}
	action := wiringAction(t)
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, fastOptions(chain))
	if !clierr.Is(err, clierr.CodeActionTimeout) {
		t.Fatalf("expected receipt timeout, got %v", err)
	}
	if action.Steps[0].TxHash == "" {
		t.Fatal("submitted step should keep its tx hash for resume")
	}
}

func TestExecuteActionResumesSubmittedStep(t *testing.T) {
	chain := &fakeChain{chainID: 1, mined: true, status: types.ReceiptStatusSuccessful}
	action := wiringAction(t)
	action.Steps[0].Status = StepStatusSubmitted
	action.Steps[0].TxHash = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, fastOptions(chain)); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if len(chain.sent) != 0 {
		t.Fatal("resumed step must not be re-broadcast")
	}
	if action.Steps[0].Status != StepStatusConfirmed {
		t.Fatalf("expected confirmed step, got %s", action.Steps[0].Status)
	}
}

func TestExecuteActionRejectsChainMismatch(t *testing.T) {
	chain := &fakeChain{chainID: 137}
	action := wiringAction(t)
	err := ExecuteAction(context.Background(), nil, &action, staticSigner{}, fastOptions(chain))
	if !clierr.Is(err, clierr.CodeActionPlan) {
		t.Fatalf("expected chain mismatch plan error, got %v", err)
	}
}

func TestParseGwei(t *testing.T) {
	v, err := parseGwei("1.5")
	if err != nil || v.String() != "1500000000" {
		t.Fatalf("unexpected parse result %v err=%v", v, err)
	}
	if _, err := parseGwei("-1"); err == nil {
		t.Fatal("expected negative gwei to fail")
	}
}
