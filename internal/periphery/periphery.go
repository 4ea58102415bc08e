// Package periphery reads and rewires the links between the Arrakis
// front-end contracts: router to executor, and wrapper to router.
package periphery

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
	"go.uber.org/zap"
)

const IntentWiring = "periphery_wiring"

// Handles are the deployed periphery contracts of one network.
type Handles struct {
	Network  string         `json:"network"`
	Router   common.Address `json:"router"`
	Executor common.Address `json:"executor"`
	Resolver common.Address `json:"resolver"`
	// Wrapper is zero when the network has no wrapper deployment.
	Wrapper common.Address `json:"wrapper,omitempty"`
}

// Resolve looks up every contract by logical name. Router, executor and
// resolver are required.
func Resolve(network registry.Network) (Handles, error) {
	h := Handles{Network: network.Name}
	var err error
	if h.Router, err = network.Contract(registry.ContractRouter); err != nil {
		return Handles{}, clierr.Wrap(clierr.CodeUsage, "resolve periphery", err)
	}
	if h.Executor, err = network.Contract(registry.ContractExecutor); err != nil {
		return Handles{}, clierr.Wrap(clierr.CodeUsage, "resolve periphery", err)
	}
	if h.Resolver, err = network.Contract(registry.ContractResolver); err != nil {
		return Handles{}, clierr.Wrap(clierr.CodeUsage, "resolve periphery", err)
	}
	h.Wrapper = network.Contracts.Wrapper
	return h, nil
}

// WiringReader reads the current links; arrakis.Reader implements it.
type WiringReader interface {
	Swapper(ctx context.Context, router common.Address) (common.Address, error)
	RouterOf(ctx context.Context, wrapper common.Address) (common.Address, error)
}

var _ WiringReader = (*arrakis.Reader)(nil)

type Link struct {
	From     string         `json:"from"`
	Getter   string         `json:"getter"`
	Current  common.Address `json:"current"`
	Expected common.Address `json:"expected"`
	Wired    bool           `json:"wired"`
}

type Status struct {
	Handles Handles `json:"handles"`
	Links   []Link  `json:"links"`
}

// Wired reports whether every link points at the expected contract.
func (s Status) Wired() bool {
	for _, l := range s.Links {
		if !l.Wired {
			return false
		}
	}
	return true
}

func ReadStatus(ctx context.Context, reader WiringReader, h Handles) (Status, error) {
	status := Status{Handles: h}
	swapper, err := reader.Swapper(ctx, h.Router)
	if err != nil {
		return Status{}, err
	}
	status.Links = append(status.Links, Link{
		From:     registry.ContractRouter,
		Getter:   "swapper",
		Current:  swapper,
		Expected: h.Executor,
		Wired:    swapper == h.Executor,
	})
	if h.Wrapper != (common.Address{}) {
		router, err := reader.RouterOf(ctx, h.Wrapper)
		if err != nil {
			return Status{}, err
		}
		status.Links = append(status.Links, Link{
			From:     registry.ContractWrapper,
			Getter:   "router",
			Current:  router,
			Expected: h.Router,
			Wired:    router == h.Router,
		})
	}
	return status, nil
}

// BuildWiringAction plans router.updateSwapExecutor(executor) and, for the
// wrapper topology, wrapper.updateRouter(router). Steps are planned even
// when the link is already in place.
func BuildWiringAction(network registry.Network, h Handles, topology string, logger *zap.Logger) (execution.Action, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topology == "" {
		topology = network.Topology
	}
	if topology == "" {
		topology = registry.TopologyGeneric
	}
	if topology != registry.TopologyGeneric && topology != registry.TopologyWrapper {
		return execution.Action{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown topology %q", topology))
	}
	if topology == registry.TopologyWrapper && h.Wrapper == (common.Address{}) {
		return execution.Action{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("network %s has no wrapper configured", network.Name))
	}
	rpcURL, err := registry.ResolveRPCURL(network.RPCURL, network.ChainID)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	parsed, err := arrakis.FrontendABI()
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeInternal, "parse front-end abi", err)
	}

	action := execution.NewAction(execution.NewActionID(), IntentWiring, network.ChainRef(), execution.Constraints{Simulate: true})
	action.Provider = topology
	action.SetMetadata("network", network.Name)
	action.SetMetadata("handles", h)

	data, err := parsed.Pack("updateSwapExecutor", h.Executor)
	if err != nil {
		return execution.Action{}, clierr.Wrap(clierr.CodeInternal, "pack updateSwapExecutor", err)
	}
	action.Steps = append(action.Steps, wiringStep(network, rpcURL, "wire-router-executor",
		fmt.Sprintf("router.updateSwapExecutor(%s)", h.Executor.Hex()), h.Router, data))

	if topology == registry.TopologyWrapper {
		data, err := parsed.Pack("updateRouter", h.Router)
		if err != nil {
			return execution.Action{}, clierr.Wrap(clierr.CodeInternal, "pack updateRouter", err)
		}
		action.Steps = append(action.Steps, wiringStep(network, rpcURL, "wire-wrapper-router",
			fmt.Sprintf("wrapper.updateRouter(%s)", h.Router.Hex()), h.Wrapper, data))
	}
	logger.Info("wiring planned",
		zap.String("network", network.Name),
		zap.String("topology", topology),
		zap.Int("steps", len(action.Steps)),
	)
	return action, nil
}

func wiringStep(network registry.Network, rpcURL, id, description string, target common.Address, data []byte) execution.ActionStep {
	return execution.ActionStep{
		StepID:      id,
		Type:        execution.StepTypeWiring,
		Status:      execution.StepStatusPending,
		ChainID:     network.ChainRef(),
		RPCURL:      rpcURL,
		Description: description,
		Target:      target.Hex(),
		Data:        hexutil.Encode(data),
		Value:       "0",
	}
}
