package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess     Code = 0
	CodeInternal    Code = 1
	CodeUsage       Code = 2
	CodeAuth        Code = 10
	CodeRateLimited Code = 11
	CodeUnavailable Code = 12
	CodeUnsupported Code = 13
	CodeStale       Code = 14
	CodeBlocked     Code = 16

	CodeSigner        Code = 20
	CodeActionPlan    Code = 21
	CodeActionSim     Code = 22
	CodeActionTimeout Code = 23
	CodeActionPolicy  Code = 24

	CodeQuoteUnavailable       Code = 30
	CodeSwapPayloadUnavailable Code = 31
	CodeScenarioNotFound       Code = 32
	CodeDirectionMismatch      Code = 33
	CodeSettlementReverted     Code = 34
	CodeNativeInsufficient     Code = 35
	CodeNativeMismatch         Code = 36
	CodeEventTimeout           Code = 37
	CodeInvariant              Code = 38
)

var codeTypes = map[Code]string{
	CodeInternal:               "internal_error",
	CodeUsage:                  "usage_error",
	CodeAuth:                   "auth_error",
	CodeRateLimited:            "rate_limited",
	CodeUnavailable:            "provider_unavailable",
	CodeUnsupported:            "unsupported",
	CodeStale:                  "stale_data",
	CodeBlocked:                "command_blocked",
	CodeSigner:                 "signer_error",
	CodeActionPlan:             "action_plan_error",
	CodeActionSim:              "action_simulation_error",
	CodeActionTimeout:          "action_timeout",
	CodeActionPolicy:           "action_policy_error",
	CodeQuoteUnavailable:       "quote_unavailable",
	CodeSwapPayloadUnavailable: "swap_payload_unavailable",
	CodeScenarioNotFound:       "scenario_not_found",
	CodeDirectionMismatch:      "direction_mismatch",
	CodeSettlementReverted:     "settlement_reverted",
	CodeNativeInsufficient:     "insufficient_native_currency",
	CodeNativeMismatch:         "native_currency_mismatch",
	CodeEventTimeout:           "event_timeout",
	CodeInvariant:              "invariant_violation",
}

// Type returns the envelope error type string for a code.
func (c Code) Type() string {
	if typ, ok := codeTypes[c]; ok {
		return typ
	}
	return "internal_error"
}

// Codes lists every non-success code in ascending order.
func Codes() []Code {
	out := make([]Code, 0, len(codeTypes))
	for code := range codeTypes {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether the outermost typed error in err carries code.
func Is(err error, code Code) bool {
	cErr, ok := As(err)
	return ok && cErr.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
