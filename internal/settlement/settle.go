package settlement

import (
	"context"

	"github.com/ggonzalez94/arrakis-cli/internal/execution"
	"go.uber.org/zap"
)

// Settle runs plan, submit, reconcile and verify in order. The returned
// Result is populated as far as the flow got, even on error.
func (o *Orchestrator) Settle(ctx context.Context, intent Intent) (Result, error) {
	plan, err := o.Plan(ctx, intent)
	if err != nil {
		return Result{}, err
	}
	result := Result{Plan: plan}

	sub, err := o.Submit(ctx, plan)
	result.Submission = sub
	if err != nil {
		return result, err
	}

	outcome, err := o.Reconcile(plan, sub.Receipt)
	if err != nil {
		o.persist(ctx, &result, err)
		return result, err
	}
	result.Outcome = outcome

	report, err := o.Verify(ctx, plan, outcome, sub.Pre)
	result.Report = report
	o.persist(ctx, &result, err)
	if err != nil {
		return result, err
	}
	return result, nil
}

// persist writes the outcome onto the stored action and forwards verified
// settlements to the recorder. Persistence failures are logged, not
// returned; the chain state is already final.
func (o *Orchestrator) persist(ctx context.Context, result *Result, settleErr error) {
	action := &result.Submission.Action
	if action.ActionID == "" {
		return
	}
	action.SetMetadata("outcome", result.Outcome)
	action.SetMetadata("checks", result.Report.Checks)
	if settleErr != nil {
		action.Status = execution.ActionStatusFailed
		action.SetMetadata("settlement_error", settleErr.Error())
	}
	action.Touch()
	if o.deps.Store != nil {
		if err := o.deps.Store.Save(*action); err != nil {
			o.log.Warn("save settlement outcome", zap.String("action_id", action.ActionID), zap.Error(err))
		}
	}
	if settleErr != nil || o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.Record(ctx, *result); err != nil {
		o.log.Warn("record settlement", zap.String("action_id", action.ActionID), zap.Error(err))
	}
}
