package execution

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution/signer"
)

type ExecuteOptions struct {
	Simulate           bool
	PollInterval       time.Duration
	StepTimeout        time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
	AllowMaxApproval   bool
	// Dial overrides how step RPC endpoints are reached.
	Dial Dialer
	// OnConfirmed runs after a step's receipt is observed with success status.
	OnConfirmed func(step *ActionStep, receipt *types.Receipt) error
}

func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{
		Simulate:      true,
		PollInterval:  2 * time.Second,
		StepTimeout:   2 * time.Minute,
		GasMultiplier: 1.2,
	}
}

var signerNonceLocks sync.Map

// acquireSignerNonceLock serializes nonce reads and broadcasts for one signer
// on one chain within the process.
func acquireSignerNonceLock(chainID *big.Int, address common.Address) func() {
	key := fmt.Sprintf("%s:%s", chainID.String(), strings.ToLower(address.Hex()))
	v, _ := signerNonceLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func ExecuteAction(ctx context.Context, store *Store, action *Action, txSigner signer.Signer, opts ExecuteOptions) error {
	if action == nil {
		return clierr.New(clierr.CodeInternal, "missing action")
	}
	if txSigner == nil {
		return clierr.New(clierr.CodeSigner, "missing signer")
	}
	if len(action.Steps) == 0 {
		return clierr.New(clierr.CodeUsage, "action has no executable steps")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 2 * time.Minute
	}
	if opts.GasMultiplier <= 1 {
		opts.GasMultiplier = 1.2
	}
	if opts.Dial == nil {
		opts.Dial = DialEthClient
	}
	persist := func() {
		if store != nil {
			_ = store.Save(*action)
		}
	}
	action.Status = ActionStatusRunning
	action.FromAddress = txSigner.Address().Hex()
	action.Touch()
	persist()

	for i := range action.Steps {
		step := &action.Steps[i]
		if step.Status == StepStatusConfirmed {
			continue
		}
		if strings.TrimSpace(step.RPCURL) == "" {
			markStepFailed(action, step, "missing rpc url")
			persist()
			return clierr.New(clierr.CodeUsage, "missing rpc url for action step")
		}
		if !common.IsHexAddress(strings.TrimSpace(step.Target)) {
			markStepFailed(action, step, "invalid target address")
			persist()
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid target address for step %s", step.StepID))
		}
		client, err := opts.Dial(ctx, step.RPCURL)
		if err != nil {
			markStepFailed(action, step, err.Error())
			persist()
			return clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
		}

		err = executeStep(ctx, client, action, txSigner, step, opts, persist)
		client.Close()
		if err != nil {
			markStepFailed(action, step, err.Error())
			persist()
			return err
		}
		action.Touch()
		persist()
	}
	action.Status = ActionStatusCompleted
	action.Touch()
	persist()
	return nil
}

func executeStep(ctx context.Context, client ChainClient, action *Action, txSigner signer.Signer, step *ActionStep, opts ExecuteOptions, persist func()) error {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if step.ChainID != "" {
		expected := fmt.Sprintf("eip155:%d", chainID.Int64())
		if !strings.EqualFold(strings.TrimSpace(step.ChainID), expected) {
			return clierr.New(clierr.CodeActionPlan, fmt.Sprintf("step chain mismatch: expected %s, got %s", expected, step.ChainID))
		}
	}
	target := common.HexToAddress(step.Target)
	data, err := decodeHex(step.Data)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "decode step calldata", err)
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(step.Value), 10)
	if !ok || value.Sign() < 0 {
		return clierr.New(clierr.CodeUsage, "invalid step value")
	}
	msg := ethereum.CallMsg{From: txSigner.Address(), To: &target, Value: value, Data: data}

	if step.Status == StepStatusSubmitted {
		if hash, ok := normalizeStepTxHash(step.TxHash); ok {
			return awaitStep(ctx, client, step, hash, msg, opts)
		}
	}
	if err := validateStepPolicy(action, step, chainID.Int64(), data, opts); err != nil {
		return err
	}

	if opts.Simulate {
		if _, err := client.CallContract(ctx, msg, nil); err != nil {
			return wrapEVMExecutionError(clierr.CodeActionSim, "simulate step (eth_call)", err)
		}
		step.Status = StepStatusSimulated
	}

	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return wrapEVMExecutionError(clierr.CodeActionSim, "estimate gas", err)
	}
	gasLimit = uint64(float64(gasLimit) * opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, client, opts.MaxPriorityFeeGwei)
	if err != nil {
		return err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, opts.MaxFeeGwei)
	if err != nil {
		return err
	}

	unlock := acquireSignerNonceLock(chainID, txSigner.Address())
	nonce, err := client.PendingNonceAt(ctx, txSigner.Address())
	if err != nil {
		unlock()
		return clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &target,
		Value:     value,
		Data:      data,
	})
	signed, err := txSigner.SignTx(chainID, tx)
	if err != nil {
		unlock()
		return clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	err = client.SendTransaction(ctx, signed)
	unlock()
	if err != nil {
		return wrapEVMExecutionError(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	step.Status = StepStatusSubmitted
	step.TxHash = signed.Hash().Hex()
	persist()

	return awaitStep(ctx, client, step, signed.Hash(), msg, opts)
}

// awaitStep polls for the receipt within opts.StepTimeout. A reverted receipt
// is replayed with eth_call at its block to recover the revert reason.
func awaitStep(ctx context.Context, client ChainClient, step *ActionStep, hash common.Hash, msg ethereum.CallMsg, opts ExecuteOptions) error {
	receipt, err := waitForReceipt(ctx, client, hash, opts)
	if err != nil {
		return err
	}
	if step.ExpectedOutputs == nil {
		step.ExpectedOutputs = map[string]string{}
	}
	if receipt.BlockNumber != nil {
		step.ExpectedOutputs["block_number"] = receipt.BlockNumber.String()
	}
	step.ExpectedOutputs["gas_used"] = strconv.FormatUint(receipt.GasUsed, 10)

	if receipt.Status != types.ReceiptStatusSuccessful {
		if _, callErr := client.CallContract(ctx, msg, receipt.BlockNumber); callErr != nil {
			return wrapEVMExecutionError(clierr.CodeUnavailable, "transaction reverted on-chain", callErr)
		}
		return clierr.New(clierr.CodeUnavailable, "transaction reverted on-chain")
	}
	step.Status = StepStatusConfirmed
	if opts.OnConfirmed != nil {
		if err := opts.OnConfirmed(step, receipt); err != nil {
			return err
		}
	}
	return nil
}

func waitForReceipt(ctx context.Context, client ChainClient, hash common.Hash, opts ExecuteOptions) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, opts.StepTimeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		// Polling errors other than the deadline are treated as not-yet-mined.
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, clierr.Wrap(clierr.CodeActionTimeout, "timed out waiting for receipt "+hash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func resolveTipCap(ctx context.Context, client ChainClient, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-priority-fee-gwei", err)
		}
		return v, nil
	}
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return big.NewInt(2_000_000_000), nil // 2 gwei fallback
	}
	return tipCap, nil
}

func resolveFeeCap(baseFee, tipCap *big.Int, overrideGwei string) (*big.Int, error) {
	if strings.TrimSpace(overrideGwei) != "" {
		v, err := parseGwei(overrideGwei)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "parse --max-fee-gwei", err)
		}
		if v.Cmp(tipCap) < 0 {
			return nil, clierr.New(clierr.CodeUsage, "--max-fee-gwei must be >= --max-priority-fee-gwei")
		}
		return v, nil
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return feeCap, nil
}

func parseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

func markStepFailed(action *Action, step *ActionStep, msg string) {
	step.Status = StepStatusFailed
	step.Error = msg
	action.Status = ActionStatusFailed
	action.Touch()
}

func decodeHex(v string) ([]byte, error) {
	clean := strings.TrimSpace(v)
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return []byte{}, nil
	}
	if len(clean)%2 != 0 {
		clean = "0" + clean
	}
	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
