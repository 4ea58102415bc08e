package settlement

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
)

var (
	scenario1In  = "2508820956228242206032"
	scenario1Out = "1897690899443769682"
)

// settleScenario1 wires a submitter that mints shares for the DAI/WETH
// scenario1 swap and leaves refund0 wei of DAI unused.
func settleScenario1(t *testing.T, h *harness, refund0 *big.Int, minted *big.Int) {
	t.Helper()
	swapIn := mustInt(t, scenario1In)
	swapOut := mustInt(t, scenario1Out)
	used0 := new(big.Int).Sub(ether(5000), swapIn)
	amount0In := new(big.Int).Sub(used0, refund0)
	h.submitter.submit = func(action *execution.Action) (*types.Receipt, error) {
		h.chain.add(testVault, testReceiver, minted)
		return receiptWith(
			swappedLog(t, true, swapIn, swapOut),
			mintedLog(t, testReceiver, minted, amount0In, swapOut),
		), nil
	}
}

func TestSettleScenario1EndToEnd(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	settleScenario1(t, h, big.NewInt(1000), ether(7))

	result, err := h.orch.Settle(context.Background(), scenarioIntent())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	if len(h.submitter.actions) != 1 {
		t.Fatalf("expected one submission, got %d", len(h.submitter.actions))
	}
	action := h.submitter.actions[0]
	if action.IntentType != IntentSwapAndAdd {
		t.Fatalf("intent type = %q", action.IntentType)
	}
	if len(action.Steps) != 2 {
		t.Fatalf("expected DAI approval plus settlement, got %d steps", len(action.Steps))
	}
	approval := action.Steps[0]
	if approval.Type != execution.StepTypeApproval || !strings.EqualFold(approval.Target, daiAddr.Hex()) {
		t.Fatalf("unexpected approval step: %+v", approval)
	}
	if approval.ExpectedOutputs[execution.ApprovalCapKey] != ether(5000).String() {
		t.Fatalf("approval cap = %s", approval.ExpectedOutputs[execution.ApprovalCapKey])
	}
	step := action.Steps[1]
	if step.Type != execution.StepTypeSettlement || step.Target != testRouter.Hex() || step.Value != "0" {
		t.Fatalf("unexpected settlement step: %+v", step)
	}
	if action.ToAddress != testRouter.Hex() {
		t.Fatalf("action target = %s", action.ToAddress)
	}

	rec := result.Outcome.Reconciliation
	if rec.Refund0.Cmp(big.NewInt(1000)) != 0 || rec.Refund1.Sign() != 0 {
		t.Fatalf("refunds = (%s, %s), want (1000, 0)", rec.Refund0, rec.Refund1)
	}
	if rec.Used1.Cmp(mustInt(t, scenario1Out)) != 0 {
		t.Fatalf("used1 = %s", rec.Used1)
	}
	if h.resolver.mintCalls != 1 {
		t.Fatalf("expected refunds to be checked against getMintAmounts once, got %d", h.resolver.mintCalls)
	}
	if result.Outcome.Minted.Receiver != testReceiver {
		t.Fatalf("minted receiver = %s", result.Outcome.Minted.Receiver.Hex())
	}
	if failed := result.Report.Failed(); len(failed) != 0 {
		t.Fatalf("unexpected failed checks: %+v", failed)
	}
	if result.Submission.TxHash != common.HexToHash("0xabc123") {
		t.Fatalf("tx hash = %s", result.Submission.TxHash.Hex())
	}
}

func TestSettleSkipsApprovalWhenAllowanceCovers(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	h.chain.allowances[daiAddr] = ether(5000)
	settleScenario1(t, h, new(big.Int), ether(1))

	if _, err := h.orch.Settle(context.Background(), scenarioIntent()); err != nil {
		t.Fatalf("settle: %v", err)
	}
	steps := h.submitter.actions[0].Steps
	if len(steps) != 1 || steps[0].Type != execution.StepTypeSettlement {
		t.Fatalf("expected only the settlement step, got %+v", steps)
	}
	if h.resolver.mintCalls != 0 {
		t.Fatal("zero refunds need no getMintAmounts check")
	}
}

func TestSettleStrandedBalanceFailsVerification(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	settleScenario1(t, h, new(big.Int), ether(1))
	inner := h.submitter.submit
	h.submitter.submit = func(action *execution.Action) (*types.Receipt, error) {
		h.chain.add(wethAddr, testExecutor, big.NewInt(5))
		return inner(action)
	}

	result, err := h.orch.Settle(context.Background(), scenarioIntent())
	if !clierr.Is(err, clierr.CodeInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if !strings.Contains(err.Error(), "executor holds no WETH") {
		t.Fatalf("error should name the stranded balance, got %v", err)
	}
	if len(result.Report.Failed()) != 1 {
		t.Fatalf("expected exactly one failed check, got %+v", result.Report.Failed())
	}
}

func TestSettleReportsEveryFailedCheck(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	h.resolver.mint = big.NewInt(3)
	swapIn := mustInt(t, scenario1In)
	lowOut := big.NewInt(1)
	h.submitter.submit = func(action *execution.Action) (*types.Receipt, error) {
		return receiptWith(
			swappedLog(t, true, swapIn, lowOut),
			mintedLog(t, testReceiver, ether(1), ether(1), lowOut),
		), nil
	}

	result, err := h.orch.Settle(context.Background(), scenarioIntent())
	if !clierr.Is(err, clierr.CodeInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	for _, name := range []string{"swap output meets minimum", "refunds mint no shares", "receiver shares increased"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error should list %q, got %v", name, err)
		}
	}
	if len(result.Report.Failed()) != 3 {
		t.Fatalf("expected three failed checks, got %+v", result.Report.Failed())
	}
}

func TestSettleRevertMapping(t *testing.T) {
	cases := []struct {
		reason string
		code   clierr.Code
	}{
		{reason: "Not enough ETH forwarded", code: clierr.CodeNativeInsufficient},
		{reason: "Not enough native currency forwarded", code: clierr.CodeNativeInsufficient},
		{reason: "Invalid amount of ETH forwarded", code: clierr.CodeNativeMismatch},
		{reason: "Invalid amount of native currency forwarded", code: clierr.CodeNativeMismatch},
		{reason: "ArrakisV2Router: received below minimum", code: clierr.CodeSettlementReverted},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			h := newHarness(t, genericFrontend())
			h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: false, SwapAmount: ether(1)}}
			h.chain.native[testSender] = ether(10)
			h.submitter.submit = func(*execution.Action) (*types.Receipt, error) {
				return nil, clierr.Wrap(clierr.CodeActionSim, "simulate step swap-and-add", &execution.RevertError{Reason: tc.reason})
			}
			intent := Intent{
				Vault:       testVault,
				Amount0Max:  new(big.Int),
				Amount1Max:  ether(1),
				SlippageBps: 500,
				UseNative:   true,
				NativeValue: big.NewInt(1),
				Sender:      testSender,
				Scenario:    "scenario1",
			}

			result, err := h.orch.Settle(context.Background(), intent)
			if !clierr.Is(err, tc.code) {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
			if !strings.Contains(err.Error(), tc.reason) {
				t.Fatalf("revert reason should surface verbatim, got %v", err)
			}
			if result.Outcome.Minted.MintAmount != nil {
				t.Fatal("no outcome may be reconciled after a revert")
			}
			shares, _ := h.chain.BalanceOf(context.Background(), testVault, testSender)
			native, _ := h.chain.NativeBalance(context.Background(), testSender)
			if shares.Sign() != 0 || native.Cmp(ether(10)) != 0 {
				t.Fatalf("balances changed after revert: shares=%s native=%s", shares, native)
			}
		})
	}
}

func TestSettleNativeFundingSendsValueWithoutApproval(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: false, SwapAmount: ether(1)}}
	swapIn := mustInt(t, "500000000000000000")
	swapOut := mustInt(t, "660914211227563241871")
	h.submitter.submit = func(action *execution.Action) (*types.Receipt, error) {
		h.chain.add(testVault, testSender, ether(2))
		return receiptWith(
			swappedLog(t, false, swapOut, swapIn),
			mintedLog(t, testSender, ether(2), swapOut, new(big.Int).Sub(ether(1), swapIn)),
		), nil
	}
	intent := Intent{
		Vault:       testVault,
		Amount0Max:  new(big.Int),
		Amount1Max:  ether(1),
		SlippageBps: 500,
		UseNative:   true,
		Sender:      testSender,
		Scenario:    "scenario1",
	}

	result, err := h.orch.Settle(context.Background(), intent)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	steps := h.submitter.actions[0].Steps
	if len(steps) != 1 {
		t.Fatalf("native funding needs no approvals, got %d steps", len(steps))
	}
	if steps[0].Value != ether(1).String() {
		t.Fatalf("value = %s, want 1e18", steps[0].Value)
	}
	rec := result.Outcome.Reconciliation
	if rec.Refund0.Sign() != 0 || rec.Refund1.Sign() != 0 {
		t.Fatalf("refunds = (%s, %s), want zero", rec.Refund0, rec.Refund1)
	}
	found := false
	for _, c := range result.Report.Checks {
		if c.Name == "executor holds no native" {
			found = true
		}
	}
	if !found {
		t.Fatal("native funding must check intermediaries' native balance")
	}
}

func TestSettleReceiptTimeoutIsEventTimeout(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	h.submitter.submit = func(*execution.Action) (*types.Receipt, error) {
		return nil, clierr.New(clierr.CodeActionTimeout, "timed out waiting for transaction receipt")
	}
	_, err := h.orch.Settle(context.Background(), scenarioIntent())
	if !clierr.Is(err, clierr.CodeEventTimeout) {
		t.Fatalf("expected event timeout, got %v", err)
	}
}

func TestSettleMissingEventIsEventTimeout(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	h.submitter.submit = func(*execution.Action) (*types.Receipt, error) {
		return receiptWith(swappedLog(t, true, mustInt(t, scenario1In), mustInt(t, scenario1Out))), nil
	}
	_, err := h.orch.Settle(context.Background(), scenarioIntent())
	if !clierr.Is(err, clierr.CodeEventTimeout) || !strings.Contains(err.Error(), "Minted") {
		t.Fatalf("expected event timeout naming Minted, got %v", err)
	}
}

func TestSettleGaugeStakesShares(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	h.chain.staking[testGauge] = testVault
	h.chain.add(testVault, testReceiver, ether(3))
	swapIn := mustInt(t, scenario1In)
	swapOut := mustInt(t, scenario1Out)
	used0 := new(big.Int).Sub(ether(5000), swapIn)
	h.submitter.submit = func(*execution.Action) (*types.Receipt, error) {
		h.chain.add(testGauge, testReceiver, ether(4))
		return receiptWith(
			swappedLog(t, true, swapIn, swapOut),
			mintedLog(t, testRouter, ether(4), used0, swapOut),
		), nil
	}
	intent := scenarioIntent()
	intent.Gauge = testGauge

	result, err := h.orch.Settle(context.Background(), intent)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	names := map[string]bool{}
	for _, c := range result.Report.Checks {
		names[c.Name] = c.OK
	}
	for _, want := range []string{"receiver shares unchanged", "receiver gauge balance increased", "router holds no gauge_shares"} {
		if ok, seen := names[want]; !seen || !ok {
			t.Fatalf("check %q missing or failed: %+v", want, result.Report.Checks)
		}
	}
}

func TestSettleGaugeRejectsUnstakedShares(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	h.chain.staking[testGauge] = testVault
	settleScenario1(t, h, new(big.Int), ether(1))
	intent := scenarioIntent()
	intent.Gauge = testGauge

	_, err := h.orch.Settle(context.Background(), intent)
	if !clierr.Is(err, clierr.CodeInvariant) || !strings.Contains(err.Error(), "receiver gauge balance increased") {
		t.Fatalf("expected staking invariant failure, got %v", err)
	}
}

func TestSettleWrapperTopologyChecksEveryIntermediary(t *testing.T) {
	h := newHarness(t, WrapperRouter{Wrapper: testWrapper, Router: testRouter, Executor: testExecutor})
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	settleScenario1(t, h, new(big.Int), ether(1))
	inner := h.submitter.submit
	h.submitter.submit = func(action *execution.Action) (*types.Receipt, error) {
		h.chain.add(daiAddr, testWrapper, big.NewInt(1))
		return inner(action)
	}

	_, err := h.orch.Settle(context.Background(), scenarioIntent())
	if !clierr.Is(err, clierr.CodeInvariant) || !strings.Contains(err.Error(), "wrapper holds no DAI") {
		t.Fatalf("expected stranded wrapper balance, got %v", err)
	}
	action := h.submitter.actions[0]
	if action.ToAddress != testWrapper.Hex() {
		t.Fatalf("settlement must target the wrapper, got %s", action.ToAddress)
	}
	if step, ok := action.StepByType(execution.StepTypeSettlement); !ok || step.Target != testWrapper.Hex() {
		t.Fatalf("unexpected settlement step: %+v", step)
	}
}

func TestSubmitRequiresSender(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	intent := scenarioIntent()
	plan, err := h.orch.Plan(context.Background(), intent)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	plan.Sender = common.Address{}
	if _, err := h.orch.Submit(context.Background(), plan); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if len(h.submitter.actions) != 0 {
		t.Fatal("nothing may be submitted without a sender")
	}
}

func TestExecutionSubmitterRequiresSigner(t *testing.T) {
	action := execution.NewAction(execution.NewActionID(), IntentSwapAndAdd, "eip155:1", execution.Constraints{})
	action.Steps = append(action.Steps, execution.ActionStep{StepID: "swap-and-add", Type: execution.StepTypeSettlement})
	_, err := ExecutionSubmitter{Options: execution.DefaultExecuteOptions()}.Submit(context.Background(), &action)
	if !clierr.Is(err, clierr.CodeSigner) {
		t.Fatalf("expected signer error, got %v", err)
	}
}
