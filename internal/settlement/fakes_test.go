package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
	"github.com/ggonzalez94/arrakis-cli/internal/providers"
	"github.com/ggonzalez94/arrakis-cli/internal/providers/fixtures"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"go.uber.org/zap/zaptest"
)

var (
	testVault     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testRouter    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	testExecutor  = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	testWrapper   = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	testResolver  = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	testGauge     = common.HexToAddress("0x00000000000000000000000000000000000000a6")
	testAggRouter = common.HexToAddress("0x00000000000000000000000000000000000000a7")
	testSender    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testReceiver  = common.HexToAddress("0x00000000000000000000000000000000000000b2")

	daiAddr  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	wethAddr = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func mustInt(t *testing.T, raw string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		t.Fatalf("bad integer literal %q", raw)
	}
	return v
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneE18)
}

func testNetwork() registry.Network {
	n := registry.DefaultNetworks()["mainnet"]
	n.RPCURL = "http://127.0.0.1:8545"
	n.Contracts = registry.Contracts{
		Router:   testRouter,
		Executor: testExecutor,
		Resolver: testResolver,
		Wrapper:  testWrapper,
	}
	return n
}

// fakeChain is an in-memory token ledger for a DAI/WETH vault.
type fakeChain struct {
	mu         sync.Mutex
	meta       map[common.Address]arrakis.TokenMeta
	balances   map[common.Address]map[common.Address]*big.Int
	native     map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	staking    map[common.Address]common.Address
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		meta: map[common.Address]arrakis.TokenMeta{
			daiAddr:  {Address: daiAddr, Symbol: "DAI", Decimals: 18},
			wethAddr: {Address: wethAddr, Symbol: "WETH", Decimals: 18},
		},
		balances:   map[common.Address]map[common.Address]*big.Int{},
		native:     map[common.Address]*big.Int{},
		allowances: map[common.Address]*big.Int{},
		staking:    map[common.Address]common.Address{},
	}
}

func (c *fakeChain) add(token, owner common.Address, delta *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balances[token] == nil {
		c.balances[token] = map[common.Address]*big.Int{}
	}
	cur := c.balances[token][owner]
	if cur == nil {
		cur = new(big.Int)
	}
	c.balances[token][owner] = new(big.Int).Add(cur, delta)
}

func (c *fakeChain) TokenMeta(_ context.Context, token common.Address) (arrakis.TokenMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.meta[token]
	if !ok {
		return arrakis.TokenMeta{}, errors.New("unknown token")
	}
	return meta, nil
}

func (c *fakeChain) BalanceOf(_ context.Context, token, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal := c.balances[token][owner]; bal != nil {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) NativeBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal := c.native[owner]; bal != nil {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) Allowance(_ context.Context, token, _, _ common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a := c.allowances[token]; a != nil {
		return new(big.Int).Set(a), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) VaultTokens(_ context.Context, vault common.Address) (common.Address, common.Address, error) {
	if vault != testVault {
		return common.Address{}, common.Address{}, errors.New("unknown vault")
	}
	return daiAddr, wethAddr, nil
}

func (c *fakeChain) StakingToken(_ context.Context, gauge common.Address) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staking[gauge], nil
}

// fakeResolver replays queued rebalance answers; the last one repeats.
type fakeResolver struct {
	params    []arrakis.RebalanceParams
	prices    []*big.Int
	mint      *big.Int
	mintCalls int
}

func (r *fakeResolver) GetRebalanceParams(_ context.Context, _ common.Address, _, _, price18 *big.Int) (arrakis.RebalanceParams, error) {
	r.prices = append(r.prices, new(big.Int).Set(price18))
	if len(r.params) == 0 {
		return arrakis.RebalanceParams{}, errors.New("no rebalance params queued")
	}
	p := r.params[0]
	if len(r.params) > 1 {
		r.params = r.params[1:]
	}
	return p, nil
}

func (r *fakeResolver) GetMintAmounts(_ context.Context, _ common.Address, amount0Max, amount1Max *big.Int) (arrakis.MintAmounts, error) {
	r.mintCalls++
	mint := r.mint
	if mint == nil {
		mint = new(big.Int)
	}
	return arrakis.MintAmounts{Amount0: new(big.Int), Amount1: new(big.Int), MintAmount: mint}, nil
}

// fakeSource quotes at a fixed rate num/den.
type fakeSource struct {
	num, den int64
	quoted   []*big.Int
	swapReq  providers.SwapRequest
	quoteErr error
}

func (s *fakeSource) Info() model.ProviderInfo { return model.ProviderInfo{Name: "fake", Type: "aggregator"} }

func (s *fakeSource) out(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(s.num))
	return out.Quo(out, big.NewInt(s.den))
}

func (s *fakeSource) Quote(_ context.Context, req providers.QuoteRequest) (*big.Int, error) {
	if s.quoteErr != nil {
		return nil, s.quoteErr
	}
	s.quoted = append(s.quoted, new(big.Int).Set(req.AmountIn))
	return s.out(req.AmountIn), nil
}

func (s *fakeSource) BuildSwapPayload(_ context.Context, req providers.SwapRequest) (providers.SwapQuote, error) {
	s.swapReq = req
	return providers.NewSwapQuote(req.AmountIn, s.out(req.AmountIn), testAggRouter, []byte{0x12, 0xaa, 0x3c, 0xaf, 0x01}), nil
}

func (s *fakeSource) BuildApprovalPayload(context.Context, providers.ApprovalRequest) (providers.CallPayload, error) {
	return providers.CallPayload{}, nil
}

type fakeSubmitter struct {
	actions []execution.Action
	submit  func(action *execution.Action) (*types.Receipt, error)
}

func (s *fakeSubmitter) Submit(_ context.Context, action *execution.Action) (*types.Receipt, error) {
	s.actions = append(s.actions, *action)
	if s.submit == nil {
		return nil, errors.New("no submit behavior")
	}
	return s.submit(action)
}

type harness struct {
	chain     *fakeChain
	resolver  *fakeResolver
	source    *fakeSource
	submitter *fakeSubmitter
	orch      *Orchestrator
}

func newHarness(t *testing.T, frontend Frontend) *harness {
	t.Helper()
	store, err := fixtures.Load("")
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	h := &harness{
		chain:     newFakeChain(),
		resolver:  &fakeResolver{},
		source:    &fakeSource{num: 1, den: 2000},
		submitter: &fakeSubmitter{},
	}
	h.orch, err = New(Deps{
		Network:   testNetwork(),
		Frontend:  frontend,
		Resolver:  h.resolver,
		Tokens:    h.chain,
		Source:    h.source,
		Fixtures:  store,
		Submitter: h.submitter,
		Logger:    zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return h
}

func genericFrontend() Frontend {
	return GenericRouter{Router: testRouter, Executor: testExecutor}
}

func swappedLog(t *testing.T, zeroForOne bool, diff0, diff1 *big.Int) *types.Log {
	t.Helper()
	parsed, err := arrakis.EventsABI()
	if err != nil {
		t.Fatalf("events abi: %v", err)
	}
	ev := parsed.Events["Swapped"]
	data, err := ev.Inputs.NonIndexed().Pack(zeroForOne, diff0, diff1)
	if err != nil {
		t.Fatalf("pack Swapped: %v", err)
	}
	return &types.Log{Address: testRouter, Topics: []common.Hash{ev.ID}, Data: data}
}

func mintedLog(t *testing.T, receiver common.Address, mint, amount0In, amount1In *big.Int) *types.Log {
	t.Helper()
	parsed, err := arrakis.EventsABI()
	if err != nil {
		t.Fatalf("events abi: %v", err)
	}
	ev := parsed.Events["Minted"]
	data, err := ev.Inputs.NonIndexed().Pack(mint, amount0In, amount1In)
	if err != nil {
		t.Fatalf("pack Minted: %v", err)
	}
	return &types.Log{Address: testRouter, Topics: []common.Hash{ev.ID, common.BytesToHash(receiver.Bytes())}, Data: data}
}

func receiptWith(logs ...*types.Log) *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      common.HexToHash("0xabc123"),
		BlockNumber: big.NewInt(17_000_000),
		Logs:        logs,
	}
}

func boolPtr(v bool) *bool { return &v }
