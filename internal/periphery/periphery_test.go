package periphery

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"go.uber.org/zap/zaptest"
)

var (
	router   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	executor = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	wrapper  = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	resolver = common.HexToAddress("0x00000000000000000000000000000000000000a5")
)

func testNetwork() registry.Network {
	n := registry.DefaultNetworks()["mainnet"]
	n.RPCURL = "http://127.0.0.1:8545"
	n.Contracts = registry.Contracts{Router: router, Executor: executor, Resolver: resolver, Wrapper: wrapper}
	return n
}

func TestResolve(t *testing.T) {
	h, err := Resolve(testNetwork())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if h.Router != router || h.Executor != executor || h.Resolver != resolver || h.Wrapper != wrapper {
		t.Fatalf("unexpected handles: %+v", h)
	}
	again, err := Resolve(testNetwork())
	if err != nil || again != h {
		t.Fatalf("resolve must be repeatable: %+v, %v", again, err)
	}

	missing := testNetwork()
	missing.Contracts.Executor = common.Address{}
	if _, err := Resolve(missing); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for missing executor, got %v", err)
	}
}

type fakeWiring struct {
	swapper  common.Address
	routerOf common.Address
	err      error
}

func (f fakeWiring) Swapper(context.Context, common.Address) (common.Address, error) {
	return f.swapper, f.err
}

func (f fakeWiring) RouterOf(context.Context, common.Address) (common.Address, error) {
	return f.routerOf, f.err
}

func TestReadStatus(t *testing.T) {
	h, _ := Resolve(testNetwork())

	status, err := ReadStatus(context.Background(), fakeWiring{swapper: executor, routerOf: router}, h)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status.Links) != 2 || !status.Wired() {
		t.Fatalf("expected two wired links, got %+v", status.Links)
	}

	status, err = ReadStatus(context.Background(), fakeWiring{swapper: executor}, h)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Wired() || status.Links[1].Wired {
		t.Fatalf("wrapper link should be reported unwired: %+v", status.Links)
	}

	h.Wrapper = common.Address{}
	status, err = ReadStatus(context.Background(), fakeWiring{swapper: executor}, h)
	if err != nil || len(status.Links) != 1 {
		t.Fatalf("no wrapper means one link, got %+v, %v", status.Links, err)
	}

	boom := clierr.New(clierr.CodeUnavailable, "rpc down")
	if _, err := ReadStatus(context.Background(), fakeWiring{err: boom}, h); !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestBuildWiringAction(t *testing.T) {
	network := testNetwork()
	h, _ := Resolve(network)
	parsed, err := arrakis.FrontendABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}

	generic, err := BuildWiringAction(network, h, registry.TopologyGeneric, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("generic: %v", err)
	}
	if len(generic.Steps) != 1 {
		t.Fatalf("generic wiring steps = %d, want 1", len(generic.Steps))
	}
	step := generic.Steps[0]
	if step.Type != execution.StepTypeWiring || step.Target != router.Hex() {
		t.Fatalf("unexpected step: %+v", step)
	}
	data, err := hexutil.Decode(step.Data)
	if err != nil {
		t.Fatalf("decode step data: %v", err)
	}
	if !bytes.Equal(data[:4], parsed.Methods["updateSwapExecutor"].ID) {
		t.Fatalf("selector = %x", data[:4])
	}
	args, err := parsed.Methods["updateSwapExecutor"].Inputs.Unpack(data[4:])
	if err != nil || args[0].(common.Address) != executor {
		t.Fatalf("updateSwapExecutor arg = %v, %v", args, err)
	}

	wrapped, err := BuildWiringAction(network, h, registry.TopologyWrapper, nil)
	if err != nil {
		t.Fatalf("wrapper: %v", err)
	}
	if len(wrapped.Steps) != 2 || wrapped.Steps[1].Target != wrapper.Hex() {
		t.Fatalf("unexpected wrapper steps: %+v", wrapped.Steps)
	}

	// Planning twice yields the same calls; repeated wiring is not guarded.
	again, err := BuildWiringAction(network, h, registry.TopologyWrapper, nil)
	if err != nil || again.Steps[1].Data != wrapped.Steps[1].Data {
		t.Fatalf("repeat wiring differs: %v", err)
	}

	h.Wrapper = common.Address{}
	if _, err := BuildWiringAction(network, h, registry.TopologyWrapper, nil); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error without wrapper, got %v", err)
	}
	if _, err := BuildWiringAction(network, h, "diamond", nil); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for unknown topology, got %v", err)
	}
}
