package settlement

import (
	"context"
	"math/big"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/providers"
	"github.com/ggonzalez94/arrakis-cli/internal/providers/fixtures"
)

func scenarioIntent() Intent {
	return Intent{
		Vault:       testVault,
		Amount0Max:  ether(5000),
		Amount1Max:  new(big.Int),
		SlippageBps: 500,
		Sender:      testSender,
		Receiver:    testReceiver,
		Scenario:    "scenario1",
	}
}

func TestPlanScenario1UsesPinnedSwap(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}

	plan, err := h.orch.Plan(context.Background(), scenarioIntent())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	swapIn := mustInt(t, "2508820956228242206032")
	swapOut := mustInt(t, "1897690899443769682")
	if plan.Request.SwapAmountIn.Cmp(swapIn) != 0 {
		t.Fatalf("swap amount in = %s, want %s", plan.Request.SwapAmountIn, swapIn)
	}
	if plan.QuotedOut.Cmp(swapOut) != 0 {
		t.Fatalf("quoted out = %s, want %s", plan.QuotedOut, swapOut)
	}
	if want := mustInt(t, "1802806354471581197"); plan.Request.SwapAmountOut.Cmp(want) != 0 {
		t.Fatalf("min amount out = %s, want %s", plan.Request.SwapAmountOut, want)
	}
	if !plan.Request.ZeroForOne {
		t.Fatal("expected zeroForOne implied by token0-only funding")
	}
	if plan.Request.SwapTarget != fixtures.DefaultSwapTarget {
		t.Fatalf("swap target = %s", plan.Request.SwapTarget.Hex())
	}
	if plan.Request.RefundRecipient != testReceiver {
		t.Fatalf("refund recipient = %s", plan.Request.RefundRecipient.Hex())
	}
	if len(h.source.quoted) != 0 {
		t.Fatalf("pinned scenario must not quote live, got %d quotes", len(h.source.quoted))
	}
	if len(h.resolver.prices) != 1 {
		t.Fatalf("expected exactly one resolver call, got %d", len(h.resolver.prices))
	}
	if want := mustInt(t, "756407464921990"); h.resolver.prices[0].Cmp(want) != 0 {
		t.Fatalf("resolver price = %s, want %s", h.resolver.prices[0], want)
	}
	if plan.Value.Sign() != 0 {
		t.Fatalf("expected zero value without native funding, got %s", plan.Value)
	}

	parsed, err := arrakis.FrontendABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	method := parsed.Methods["swapAndAddLiquidity"]
	if !strings.HasPrefix(string(plan.Calldata), string(method.ID)) {
		t.Fatalf("calldata selector = %x, want %x", plan.Calldata[:4], method.ID)
	}
	values, err := method.Inputs.Unpack(plan.Calldata[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	swapData := reflect.ValueOf(values[0]).FieldByName("SwapData")
	if got := swapData.FieldByName("AmountOutSwap").Interface().(*big.Int); got.Cmp(plan.Request.SwapAmountOut) != 0 {
		t.Fatalf("packed amountOutSwap = %s", got)
	}
	if got := swapData.FieldByName("UserToRefund").Interface().(common.Address); got != testReceiver {
		t.Fatalf("packed refund recipient = %s", got.Hex())
	}
}

func TestPlanLiveRefinesSwapAmountOnce(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{
		{ZeroForOne: true, SwapAmount: ether(3000)},
		{ZeroForOne: true, SwapAmount: ether(2900)},
	}
	intent := Intent{
		Vault:       testVault,
		Amount0Max:  ether(10000),
		Amount1Max:  ether(1),
		ZeroForOne:  boolPtr(true),
		SlippageBps: 500,
		Sender:      testSender,
	}

	plan, err := h.orch.Plan(context.Background(), intent)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	wantQuoted := []*big.Int{ether(10000), ether(3000), ether(2900)}
	if len(h.source.quoted) != len(wantQuoted) {
		t.Fatalf("quoted %d amounts, want %d", len(h.source.quoted), len(wantQuoted))
	}
	for i, want := range wantQuoted {
		if h.source.quoted[i].Cmp(want) != 0 {
			t.Fatalf("quote %d amount = %s, want %s", i, h.source.quoted[i], want)
		}
	}
	if len(h.resolver.prices) != 2 {
		t.Fatalf("expected two resolver calls, got %d", len(h.resolver.prices))
	}
	for _, price := range h.resolver.prices {
		if price.Cmp(big.NewInt(500_000_000_000_000)) != 0 {
			t.Fatalf("price = %s, want 5e14", price)
		}
	}
	if plan.Request.SwapAmountIn.Cmp(ether(2900)) != 0 {
		t.Fatalf("swap amount in = %s", plan.Request.SwapAmountIn)
	}
	if want := mustInt(t, "1377500000000000000"); plan.Request.SwapAmountOut.Cmp(want) != 0 {
		t.Fatalf("min amount out = %s, want %s", plan.Request.SwapAmountOut, want)
	}
	if h.source.swapReq.From != testExecutor {
		t.Fatalf("swap payload from = %s, want executor", h.source.swapReq.From.Hex())
	}
	if plan.Request.Receiver != testSender {
		t.Fatalf("receiver should default to sender, got %s", plan.Request.Receiver.Hex())
	}
	if plan.Request.SwapTarget != testAggRouter {
		t.Fatalf("swap target = %s", plan.Request.SwapTarget.Hex())
	}
}

func TestPlanDirectionMismatch(t *testing.T) {
	cases := []struct {
		name   string
		params []arrakis.RebalanceParams
	}{
		{name: "first pass", params: []arrakis.RebalanceParams{{ZeroForOne: false, SwapAmount: ether(1)}}},
		{name: "refinement pass", params: []arrakis.RebalanceParams{
			{ZeroForOne: true, SwapAmount: ether(1000)},
			{ZeroForOne: false, SwapAmount: ether(10)},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, genericFrontend())
			h.resolver.params = tc.params
			intent := Intent{
				Vault:      testVault,
				Amount0Max: ether(5000),
				Amount1Max: ether(1),
				ZeroForOne: boolPtr(true),
				Sender:     testSender,
			}
			_, err := h.orch.Plan(context.Background(), intent)
			if !clierr.Is(err, clierr.CodeDirectionMismatch) {
				t.Fatalf("expected direction mismatch, got %v", err)
			}
			if h.source.swapReq.AmountIn != nil {
				t.Fatal("no swap payload may be built after a direction mismatch")
			}
		})
	}
}

func TestPlanPinnedDirectionMismatch(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: false, SwapAmount: ether(1)}}
	_, err := h.orch.Plan(context.Background(), scenarioIntent())
	if !clierr.Is(err, clierr.CodeDirectionMismatch) {
		t.Fatalf("expected direction mismatch, got %v", err)
	}
}

func TestPlanZeroSwapAmountIsUsage(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: new(big.Int)}}
	intent := scenarioIntent()
	intent.Scenario = ""
	_, err := h.orch.Plan(context.Background(), intent)
	if !clierr.Is(err, clierr.CodeUsage) || !strings.Contains(err.Error(), "add-liquidity") {
		t.Fatalf("expected usage error pointing at add-liquidity, got %v", err)
	}
}

func TestPlanDirectionRules(t *testing.T) {
	cases := []struct {
		name    string
		amount0 *big.Int
		amount1 *big.Int
		flag    *bool
	}{
		{name: "explicit flag contradicts token0-only", amount0: ether(1), amount1: new(big.Int), flag: boolPtr(false)},
		{name: "explicit flag contradicts token1-only", amount0: new(big.Int), amount1: ether(1), flag: boolPtr(true)},
		{name: "both sides funded without flag", amount0: ether(1), amount1: ether(1)},
		{name: "nothing funded", amount0: new(big.Int), amount1: new(big.Int), flag: boolPtr(true)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, genericFrontend())
			_, err := h.orch.Plan(context.Background(), Intent{
				Vault:      testVault,
				Amount0Max: tc.amount0,
				Amount1Max: tc.amount1,
				ZeroForOne: tc.flag,
				Sender:     testSender,
			})
			if !clierr.Is(err, clierr.CodeUsage) {
				t.Fatalf("expected usage error, got %v", err)
			}
			if len(h.resolver.prices) != 0 {
				t.Fatal("resolver must not be called for an invalid intent")
			}
		})
	}
}

func TestPlanScenarioMissingIsHardFailure(t *testing.T) {
	h := newHarness(t, genericFrontend())
	intent := scenarioIntent()
	intent.Scenario = "scenario404"
	_, err := h.orch.Plan(context.Background(), intent)
	if !clierr.Is(err, clierr.CodeScenarioNotFound) {
		t.Fatalf("expected scenario not found, got %v", err)
	}
	if len(h.source.quoted) != 0 {
		t.Fatal("a missing scenario must not fall back to live quotes")
	}
}

func TestPlanQuoteFailureAborts(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.source.quoteErr = clierr.New(clierr.CodeQuoteUnavailable, "1inch quote failed")
	intent := scenarioIntent()
	intent.Scenario = ""
	_, err := h.orch.Plan(context.Background(), intent)
	if !clierr.Is(err, clierr.CodeQuoteUnavailable) {
		t.Fatalf("expected quote unavailable, got %v", err)
	}
	if len(h.resolver.prices) != 0 {
		t.Fatal("resolver must not be called without a quote")
	}
}

func TestPlanGaugeMustStakeVault(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(1)}}
	h.chain.staking[testGauge] = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	intent := scenarioIntent()
	intent.Gauge = testGauge
	if _, err := h.orch.Plan(context.Background(), intent); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for foreign gauge, got %v", err)
	}

	h.chain.staking[testGauge] = testVault
	plan, err := h.orch.Plan(context.Background(), intent)
	if err != nil {
		t.Fatalf("plan with gauge: %v", err)
	}
	if plan.StakingToken != testVault || plan.Request.Gauge != testGauge {
		t.Fatalf("unexpected gauge wiring: %+v", plan.Request)
	}
}

func TestPlanWrapperTopologyKeepsSwapInRouter(t *testing.T) {
	h := newHarness(t, WrapperRouter{Wrapper: testWrapper, Router: testRouter})
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2000)}}
	intent := scenarioIntent()
	intent.Scenario = ""
	plan, err := h.orch.Plan(context.Background(), intent)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Frontend != testWrapper {
		t.Fatalf("front-end = %s, want wrapper", plan.Frontend.Hex())
	}
	if h.source.swapReq.From != testRouter {
		t.Fatalf("swap payload from = %s, want router", h.source.swapReq.From.Hex())
	}
	if plan.Topology != "wrapper" {
		t.Fatalf("topology = %q", plan.Topology)
	}
}

func TestPlanNativeFundingValue(t *testing.T) {
	newIntent := func() Intent {
		return Intent{
			Vault:       testVault,
			Amount0Max:  new(big.Int),
			Amount1Max:  ether(1),
			SlippageBps: 500,
			UseNative:   true,
			Sender:      testSender,
			Scenario:    "scenario1",
		}
	}
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: false, SwapAmount: ether(1)}}

	plan, err := h.orch.Plan(context.Background(), newIntent())
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Value.Cmp(ether(1)) != 0 {
		t.Fatalf("value = %s, want the WETH side max", plan.Value)
	}
	if plan.Request.ZeroForOne {
		t.Fatal("expected WETH funding to imply zeroForOne=false")
	}
	if want := mustInt(t, "627868500666185079777"); plan.Request.SwapAmountOut.Cmp(want) != 0 {
		t.Fatalf("min amount out = %s, want %s", plan.Request.SwapAmountOut, want)
	}
	if want := mustInt(t, "756527839023637"); h.resolver.prices[0].Cmp(want) != 0 {
		t.Fatalf("inverted price = %s, want %s", h.resolver.prices[0], want)
	}

	override := newIntent()
	override.NativeValue = big.NewInt(123)
	plan, err = h.orch.Plan(context.Background(), override)
	if err != nil {
		t.Fatalf("plan with override: %v", err)
	}
	if plan.Value.Cmp(big.NewInt(123)) != 0 {
		t.Fatalf("override value = %s, want it forwarded as-is", plan.Value)
	}
}

func TestPlanTwoSidedScenario1(t *testing.T) {
	h := newHarness(t, genericFrontend())
	h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
	intent := Intent{
		Vault:       testVault,
		Amount0Max:  ether(10000),
		Amount1Max:  ether(1),
		ZeroForOne:  boolPtr(true),
		SlippageBps: 500,
		Sender:      testSender,
		Scenario:    "scenario1",
	}

	plan, err := h.orch.Plan(context.Background(), intent)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if want := mustInt(t, "2508820956228242206032"); plan.Request.SwapAmountIn.Cmp(want) != 0 {
		t.Fatalf("swap amount in = %s, want %s", plan.Request.SwapAmountIn, want)
	}
	if want := mustInt(t, "1897690899443769682"); plan.QuotedOut.Cmp(want) != 0 {
		t.Fatalf("quoted out = %s, want %s", plan.QuotedOut, want)
	}
	if want := mustInt(t, "1802806354471581197"); plan.Request.SwapAmountOut.Cmp(want) != 0 {
		t.Fatalf("min amount out = %s, want %s", plan.Request.SwapAmountOut, want)
	}
	if !plan.Request.ZeroForOne {
		t.Fatal("expected the declared zeroForOne=true")
	}
	if plan.Request.Amount0Max.Cmp(ether(10000)) != 0 || plan.Request.Amount1Max.Cmp(ether(1)) != 0 {
		t.Fatalf("maxes changed: %s / %s", plan.Request.Amount0Max, plan.Request.Amount1Max)
	}
	if len(h.source.quoted) != 0 || h.source.swapReq.AmountIn != nil {
		t.Fatal("pinned scenario must not touch the live source")
	}
}

func TestPlanResolverSwapAboveFundedMax(t *testing.T) {
	cases := []struct {
		name   string
		params []arrakis.RebalanceParams
	}{
		{name: "first pass", params: []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(6000)}}},
		{name: "refinement pass", params: []arrakis.RebalanceParams{
			{ZeroForOne: true, SwapAmount: ether(3000)},
			{ZeroForOne: true, SwapAmount: ether(5001)},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, genericFrontend())
			h.resolver.params = tc.params
			intent := scenarioIntent()
			intent.Scenario = ""
			_, err := h.orch.Plan(context.Background(), intent)
			if !clierr.Is(err, clierr.CodeInvariant) {
				t.Fatalf("expected invariant error, got %v", err)
			}
			if h.source.swapReq.AmountIn != nil {
				t.Fatal("no swap payload may be built for an overdrawn swap")
			}
		})
	}
}

// pinnedSource serves one fixed swap for every pair and scenario.
type pinnedSource struct {
	swap providers.SwapQuote
}

func (s pinnedSource) Lookup(string, string) (providers.SwapQuote, error) { return s.swap, nil }

// routerSwapCalldata lays out the static head of a router v5 swap call.
func routerSwapCalldata(src, dst common.Address, amount, minReturn *big.Int) []byte {
	word := func(b []byte) []byte { return common.LeftPadBytes(b, 32) }
	data := common.FromHex("0x12aa3caf")
	data = append(data, word(testExecutor.Bytes())...)
	data = append(data, word(src.Bytes())...)
	data = append(data, word(dst.Bytes())...)
	data = append(data, word(testExecutor.Bytes())...)
	data = append(data, word(testRouter.Bytes())...)
	data = append(data, word(amount.Bytes())...)
	data = append(data, word(minReturn.Bytes())...)
	data = append(data, word(nil)...)
	return data
}

func TestPlanRejectsInconsistentPinnedSwap(t *testing.T) {
	swapIn := mustInt(t, "2508820956228242206032")
	swapOut := mustInt(t, "1897690899443769682")
	cases := []struct {
		name    string
		swap    providers.SwapQuote
		fund0   *big.Int
		code    clierr.Code
		resolve bool
	}{
		{
			name:  "payload swaps the other way",
			swap:  providers.NewSwapQuote(swapIn, swapOut, fixtures.DefaultSwapTarget, routerSwapCalldata(wethAddr, daiAddr, swapIn, swapOut)),
			fund0: ether(5000),
			code:  clierr.CodeDirectionMismatch,
		},
		{
			name:  "payload amount differs",
			swap:  providers.NewSwapQuote(swapIn, swapOut, fixtures.DefaultSwapTarget, routerSwapCalldata(daiAddr, wethAddr, ether(2000), swapOut)),
			fund0: ether(5000),
			code:  clierr.CodeSwapPayloadUnavailable,
		},
		{
			name:  "pinned input above funded max",
			swap:  providers.NewSwapQuote(swapIn, swapOut, fixtures.DefaultSwapTarget, routerSwapCalldata(daiAddr, wethAddr, swapIn, swapOut)),
			fund0: ether(2000),
			code:  clierr.CodeInvariant,
		},
		{
			name:    "consistent payload",
			swap:    providers.NewSwapQuote(swapIn, swapOut, fixtures.DefaultSwapTarget, routerSwapCalldata(daiAddr, wethAddr, swapIn, swapOut)),
			fund0:   ether(5000),
			resolve: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, genericFrontend())
			h.orch.deps.Fixtures = pinnedSource{swap: tc.swap}
			h.resolver.params = []arrakis.RebalanceParams{{ZeroForOne: true, SwapAmount: ether(2500)}}
			intent := scenarioIntent()
			intent.Amount0Max = tc.fund0
			_, err := h.orch.Plan(context.Background(), intent)
			if tc.resolve {
				if err != nil {
					t.Fatalf("plan: %v", err)
				}
				return
			}
			if !clierr.Is(err, tc.code) {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
			if len(h.resolver.prices) != 0 {
				t.Fatal("resolver must not be called for a rejected fixture")
			}
		})
	}
}
