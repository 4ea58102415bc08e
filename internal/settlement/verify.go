package settlement

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"go.uber.org/zap"
)

// Verify checks the post-conditions of a mined settlement against the
// pre-submission snapshot. Every failed check is reported in one error.
func (o *Orchestrator) Verify(ctx context.Context, plan Plan, outcome Outcome, pre Snapshot) (Report, error) {
	post, err := o.Snapshot(ctx, plan)
	if err != nil {
		return Report{}, err
	}
	report := Report{Post: post}

	names := make([]string, 0, len(post.Intermediaries))
	for name := range post.Intermediaries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		holder := post.Intermediaries[name]
		assets := make([]string, 0, len(holder.Assets))
		for asset := range holder.Assets {
			assets = append(assets, asset)
		}
		sort.Strings(assets)
		for _, asset := range assets {
			bal := holder.Assets[asset]
			report.Checks = append(report.Checks, Check{
				Name:   fmt.Sprintf("%s holds no %s", name, asset),
				OK:     bal.Sign() == 0,
				Detail: detailIf(bal.Sign() != 0, "balance %s at %s", bal, holder.Address.Hex()),
			})
		}
	}

	realized := outcome.Swapped.Amount1Diff
	if !plan.Request.ZeroForOne {
		realized = outcome.Swapped.Amount0Diff
	}
	minOut := plan.Request.SwapAmountOut
	report.Checks = append(report.Checks, Check{
		Name:   "swap output meets minimum",
		OK:     realized.Cmp(minOut) >= 0,
		Detail: fmt.Sprintf("received %s, minimum %s", realized, minOut),
	})

	rec := outcome.Reconciliation
	if rec.Refund0.Sign() == 0 && rec.Refund1.Sign() == 0 {
		report.Checks = append(report.Checks, Check{Name: "refunds mint no shares", OK: true, Detail: "no refund"})
	} else {
		mint, err := o.deps.Resolver.GetMintAmounts(ctx, plan.Request.Vault, rec.Refund0, rec.Refund1)
		if err != nil {
			return Report{}, err
		}
		report.Checks = append(report.Checks, Check{
			Name:   "refunds mint no shares",
			OK:     mint.MintAmount.Sign() == 0,
			Detail: fmt.Sprintf("refund0=%s refund1=%s mint=%s", rec.Refund0, rec.Refund1, mint.MintAmount),
		})
	}

	if plan.Request.Gauge == (common.Address{}) {
		report.Checks = append(report.Checks, Check{
			Name:   "receiver shares increased",
			OK:     post.ReceiverShares.Cmp(pre.ReceiverShares) > 0,
			Detail: fmt.Sprintf("%s -> %s", pre.ReceiverShares, post.ReceiverShares),
		})
	} else {
		report.Checks = append(report.Checks,
			Check{
				Name:   "receiver shares unchanged",
				OK:     post.ReceiverShares.Cmp(pre.ReceiverShares) == 0,
				Detail: fmt.Sprintf("%s -> %s", pre.ReceiverShares, post.ReceiverShares),
			},
			Check{
				Name:   "receiver gauge balance increased",
				OK:     pre.ReceiverStaked != nil && post.ReceiverStaked.Cmp(pre.ReceiverStaked) > 0,
				Detail: fmt.Sprintf("%s -> %s", pre.ReceiverStaked, post.ReceiverStaked),
			},
		)
	}

	failed := report.Failed()
	if len(failed) == 0 {
		o.log.Info("settlement verified", zap.Int("checks", len(report.Checks)))
		return report, nil
	}
	msgs := make([]string, 0, len(failed))
	for _, c := range failed {
		msgs = append(msgs, c.Name+" ("+c.Detail+")")
	}
	o.log.Error("settlement post-conditions failed", zap.Strings("failed", msgs))
	return report, clierr.New(clierr.CodeInvariant, "post-conditions failed: "+strings.Join(msgs, "; "))
}

func detailIf(cond bool, format string, args ...any) string {
	if !cond {
		return ""
	}
	return fmt.Sprintf(format, args...)
}
