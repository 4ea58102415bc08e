package app

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"github.com/ggonzalez94/arrakis-cli/internal/id"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
	"github.com/ggonzalez94/arrakis-cli/internal/periphery"
	"github.com/spf13/cobra"
)

type peripheryStatusView struct {
	periphery.Status
	Wired bool `json:"wired"`
}

func (s *runtimeState) newPeripheryCommand() *cobra.Command {
	root := &cobra.Command{Use: "periphery", Short: "Inspect and wire the front-end contracts"}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Read router and wrapper links on the selected network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			sess, err := s.openChain(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			handles, err := periphery.Resolve(sess.network)
			if err != nil {
				return err
			}
			start := time.Now()
			status, err := periphery.ReadStatus(ctx, sess.reader, handles)
			statuses := []model.ProviderStatus{{Name: "rpc", Status: statusFromErr(err), LatencyMS: time.Since(start).Milliseconds()}}
			s.captureCommandDiagnostics(nil, statuses, false)
			if err != nil {
				return err
			}
			var warnings []string
			if !status.Wired() {
				warnings = append(warnings, "periphery is not fully wired; run periphery wire")
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), peripheryStatusView{Status: status, Wired: status.Wired()}, warnings, cacheMetaBypass(), statuses, false)
		},
	}

	wire := &cobra.Command{Use: "wire", Short: "Point the router at the executor and the wrapper at the router"}
	buildAction := func(topology string) (execution.Action, error) {
		network, err := s.selectedNetwork()
		if err != nil {
			return execution.Action{}, err
		}
		handles, err := periphery.Resolve(network)
		if err != nil {
			return execution.Action{}, err
		}
		return periphery.BuildWiringAction(network, handles, topology, s.logger)
	}

	var planTopology, planFrom string
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Create and persist a wiring action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := id.ParseAddress("from-address", planFrom, true)
			if err != nil {
				return err
			}
			action, err := buildAction(planTopology)
			if err != nil {
				return err
			}
			if owner != (common.Address{}) {
				action.FromAddress = owner.Hex()
			}
			return s.persistPlanned(cmd, action, nil)
		},
	}
	planCmd.Flags().StringVar(&planTopology, "topology", "", "Topology to wire (generic|wrapper; defaults to the network's)")
	planCmd.Flags().StringVar(&planFrom, "from-address", "", "Owner EOA expected to submit the wiring")

	var runTopology, runFrom string
	var runExec execFlags
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Plan and execute the wiring as the contracts' owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.planAndRun(cmd, runExec, runFrom, func(_ context.Context, owner common.Address) (execution.Action, error) {
				action, err := buildAction(runTopology)
				if err != nil {
					return execution.Action{}, err
				}
				action.FromAddress = owner.Hex()
				return action, nil
			})
		},
	}
	runCmd.Flags().StringVar(&runTopology, "topology", "", "Topology to wire (generic|wrapper; defaults to the network's)")
	runCmd.Flags().StringVar(&runFrom, "from-address", "", "Owner EOA address (defaults to signer address)")
	addExecFlags(runCmd, &runExec)

	var statusActionID, statusPlanID string
	wireStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Get a stored wiring action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actionID, err := resolveActionID(statusActionID, statusPlanID)
			if err != nil {
				return err
			}
			action, err := s.loadAction(actionID, periphery.IntentWiring)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), action, nil, cacheMetaBypass(), nil, false)
		},
	}
	wireStatusCmd.Flags().StringVar(&statusActionID, "action-id", "", "Action identifier")
	wireStatusCmd.Flags().StringVar(&statusPlanID, "plan-id", "", "Plan identifier (alias of --action-id)")

	wire.AddCommand(planCmd)
	wire.AddCommand(runCmd)
	wire.AddCommand(wireStatusCmd)
	root.AddCommand(statusCmd)
	root.AddCommand(wire)
	return root
}
