package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ggonzalez94/arrakis-cli/internal/arrakis"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"go.uber.org/zap"
)

// Reconcile decodes Swapped and Minted from the settlement receipt and
// derives the refunds.
func (o *Orchestrator) Reconcile(plan Plan, receipt *types.Receipt) (Outcome, error) {
	outcome, err := reconcile(plan, receipt)
	if err != nil {
		return Outcome{}, err
	}
	o.log.Info("settlement reconciled",
		zap.String("mint_amount", outcome.Minted.MintAmount.String()),
		zap.String("amount0_in", outcome.Minted.Amount0In.String()),
		zap.String("amount1_in", outcome.Minted.Amount1In.String()),
		zap.String("refund0", outcome.Reconciliation.Refund0.String()),
		zap.String("refund1", outcome.Reconciliation.Refund1.String()),
	)
	return outcome, nil
}

func reconcile(plan Plan, receipt *types.Receipt) (Outcome, error) {
	if receipt == nil {
		return Outcome{}, clierr.New(clierr.CodeEventTimeout, "settlement receipt not observed")
	}
	swapped, minted, err := decodeSettlementLogs(receipt.Logs, settlementEmitters(plan))
	if err != nil {
		return Outcome{}, err
	}
	if swapped.ZeroForOne != plan.Request.ZeroForOne {
		return Outcome{}, clierr.New(clierr.CodeInvariant, fmt.Sprintf("Swapped.zeroForOne=%t, planned %t", swapped.ZeroForOne, plan.Request.ZeroForOne))
	}
	rec, err := refunds(plan.Request.Amount0Max, plan.Request.Amount1Max, swapped, minted)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Swapped: swapped, Minted: minted, Reconciliation: rec}, nil
}

// refunds rebuilds what each side held after the swap and subtracts what the
// vault pulled.
func refunds(max0, max1 *big.Int, swapped Swapped, minted Minted) (Reconciliation, error) {
	used0 := new(big.Int)
	used1 := new(big.Int)
	if swapped.ZeroForOne {
		used0.Sub(max0, swapped.Amount0Diff)
		used1.Add(max1, swapped.Amount1Diff)
	} else {
		used0.Add(max0, swapped.Amount0Diff)
		used1.Sub(max1, swapped.Amount1Diff)
	}
	rec := Reconciliation{
		Used0:   used0,
		Used1:   used1,
		Refund0: new(big.Int).Sub(used0, minted.Amount0In),
		Refund1: new(big.Int).Sub(used1, minted.Amount1In),
	}
	if rec.Refund0.Sign() < 0 || rec.Refund1.Sign() < 0 {
		return rec, clierr.New(clierr.CodeInvariant, fmt.Sprintf("negative refund (refund0=%s refund1=%s)", rec.Refund0, rec.Refund1))
	}
	return rec, nil
}

// logEmitters lists the contracts whose events reconciliation trusts.
type logEmitters struct {
	swapped map[common.Address]bool
	minted  map[common.Address]bool
}

// settlementEmitters accepts Swapped from the front-end and the swap
// custody contract, and Minted from those or the vault itself. Logs with
// the same signature from any other contract in the transaction are ignored.
func settlementEmitters(plan Plan) logEmitters {
	e := logEmitters{swapped: map[common.Address]bool{}, minted: map[common.Address]bool{}}
	for _, addr := range []common.Address{plan.Frontend, plan.SwapCustody} {
		if addr == (common.Address{}) {
			continue
		}
		e.swapped[addr] = true
		e.minted[addr] = true
	}
	if plan.Request.Vault != (common.Address{}) {
		e.minted[plan.Request.Vault] = true
	}
	return e
}

func decodeSettlementLogs(logs []*types.Log, emitters logEmitters) (Swapped, Minted, error) {
	parsed, err := arrakis.EventsABI()
	if err != nil {
		return Swapped{}, Minted{}, clierr.Wrap(clierr.CodeInternal, "parse settlement events abi", err)
	}
	swappedEvent := parsed.Events["Swapped"]
	mintedEvent := parsed.Events["Minted"]

	var (
		swapped               Swapped
		minted                Minted
		haveSwapped, haveMint bool
	)
	for _, lg := range logs {
		if lg == nil || len(lg.Topics) == 0 {
			continue
		}
		switch lg.Topics[0] {
		case swappedEvent.ID:
			if !emitters.swapped[lg.Address] {
				continue
			}
			if haveSwapped {
				return Swapped{}, Minted{}, clierr.New(clierr.CodeInvariant, fmt.Sprintf("second Swapped event from %s in one settlement", lg.Address.Hex()))
			}
			fields, err := unpackEvent(parsed, "Swapped", lg)
			if err != nil {
				return Swapped{}, Minted{}, err
			}
			zeroForOne, ok := fields["zeroForOne"].(bool)
			if !ok {
				return Swapped{}, Minted{}, clierr.New(clierr.CodeInternal, "Swapped.zeroForOne has unexpected type")
			}
			swapped = Swapped{ZeroForOne: zeroForOne}
			if swapped.Amount0Diff, err = eventInt(fields, "amount0Diff"); err != nil {
				return Swapped{}, Minted{}, err
			}
			if swapped.Amount1Diff, err = eventInt(fields, "amount1Diff"); err != nil {
				return Swapped{}, Minted{}, err
			}
			haveSwapped = true
		case mintedEvent.ID:
			if !emitters.minted[lg.Address] {
				continue
			}
			if haveMint {
				return Swapped{}, Minted{}, clierr.New(clierr.CodeInvariant, fmt.Sprintf("second Minted event from %s in one settlement", lg.Address.Hex()))
			}
			if len(lg.Topics) < 2 {
				return Swapped{}, Minted{}, clierr.New(clierr.CodeInternal, "Minted log is missing its receiver topic")
			}
			fields, err := unpackEvent(parsed, "Minted", lg)
			if err != nil {
				return Swapped{}, Minted{}, err
			}
			minted = Minted{Receiver: common.BytesToAddress(lg.Topics[1].Bytes())}
			if minted.MintAmount, err = eventInt(fields, "mintAmount"); err != nil {
				return Swapped{}, Minted{}, err
			}
			if minted.Amount0In, err = eventInt(fields, "amount0In"); err != nil {
				return Swapped{}, Minted{}, err
			}
			if minted.Amount1In, err = eventInt(fields, "amount1In"); err != nil {
				return Swapped{}, Minted{}, err
			}
			haveMint = true
		}
	}
	switch {
	case !haveSwapped:
		return Swapped{}, Minted{}, clierr.New(clierr.CodeEventTimeout, "event not observed: Swapped")
	case !haveMint:
		return Swapped{}, Minted{}, clierr.New(clierr.CodeEventTimeout, "event not observed: Minted")
	}
	return swapped, minted, nil
}

func unpackEvent(parsed abi.ABI, name string, lg *types.Log) (map[string]any, error) {
	fields := map[string]any{}
	if err := parsed.UnpackIntoMap(fields, name, lg.Data); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "decode "+name+" log", err)
	}
	return fields, nil
}

func eventInt(fields map[string]any, key string) (*big.Int, error) {
	v, ok := fields[key].(*big.Int)
	if !ok || v == nil {
		return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("event field %s has unexpected type %T", key, fields[key]))
	}
	return new(big.Int).Set(v), nil
}
