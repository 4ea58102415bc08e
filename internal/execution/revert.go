package execution

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
)

var (
	errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector       = []byte{0x4e, 0x48, 0x7b, 0x71}
)

const revertMessagePrefix = "execution reverted: "

// RevertError carries the decoded reason of a reverted call or transaction.
type RevertError struct {
	Reason string
	Data   []byte
	Cause  error
}

func (e *RevertError) Error() string {
	if e.Cause == nil {
		return "execution reverted: " + e.Reason
	}
	return fmt.Sprintf("execution reverted: %s (%v)", e.Reason, e.Cause)
}

func (e *RevertError) Unwrap() error { return e.Cause }

// RevertReason returns the decoded revert reason carried anywhere in err.
func RevertReason(err error) (string, bool) {
	var revert *RevertError
	if errors.As(err, &revert) && revert.Reason != "" {
		return revert.Reason, true
	}
	return "", false
}

type rpcDataError interface {
	ErrorData() interface{}
}

func decodeRevertFromError(err error) string {
	if err == nil {
		return ""
	}
	var dataErr rpcDataError
	if errors.As(err, &dataErr) {
		if data := revertDataFrom(dataErr.ErrorData()); len(data) > 0 {
			if reason := decodeRevertData(data); reason != "" {
				return reason
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, revertMessagePrefix); idx >= 0 {
		return strings.TrimSpace(msg[idx+len(revertMessagePrefix):])
	}
	return ""
}

func revertDataFrom(v interface{}) []byte {
	switch data := v.(type) {
	case string:
		buf, err := hexutil.Decode(strings.TrimSpace(data))
		if err != nil {
			return nil
		}
		return buf
	case []byte:
		return data
	case hexutil.Bytes:
		return data
	default:
		return nil
	}
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	switch selector := data[:4]; {
	case bytes.Equal(selector, errorStringSelector):
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return "malformed Error(string) revert"
		}
		return reason
	case bytes.Equal(selector, panicSelector):
		if len(data) < 36 {
			return "malformed Panic(uint256) revert"
		}
		code := new(big.Int).SetBytes(data[4:36])
		return fmt.Sprintf("panic: 0x%s", code.Text(16))
	default:
		return fmt.Sprintf("custom error %s", hexutil.Encode(data[:4]))
	}
}

func wrapEVMExecutionError(code clierr.Code, msg string, err error) error {
	reason := decodeRevertFromError(err)
	if reason == "" {
		return clierr.Wrap(code, msg, err)
	}
	revert := &RevertError{Reason: reason, Cause: err}
	var dataErr rpcDataError
	if errors.As(err, &dataErr) {
		revert.Data = revertDataFrom(dataErr.ErrorData())
	}
	return clierr.Wrap(code, msg+": "+reason, revert)
}

// normalizeStepTxHash parses a persisted step hash so a submitted step can be
// resumed without a second broadcast.
func normalizeStepTxHash(raw string) (common.Hash, bool) {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "0x") && !strings.HasPrefix(clean, "0X") {
		clean = "0x" + clean
	}
	buf, err := hexutil.Decode(strings.ToLower(clean))
	if err != nil || len(buf) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(buf), true
}
