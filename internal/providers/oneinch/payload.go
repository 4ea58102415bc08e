package oneinch

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const routerV5SwapABI = `[{"type":"function","name":"swap","stateMutability":"payable","inputs":[
{"name":"executor","type":"address"},
{"name":"desc","type":"tuple","components":[
{"name":"srcToken","type":"address"},
{"name":"dstToken","type":"address"},
{"name":"srcReceiver","type":"address"},
{"name":"dstReceiver","type":"address"},
{"name":"amount","type":"uint256"},
{"name":"minReturnAmount","type":"uint256"},
{"name":"flags","type":"uint256"}]},
{"name":"permit","type":"bytes"},
{"name":"data","type":"bytes"}],"outputs":[]}]`

var swapSelector = func() []byte {
	parsed, err := abi.JSON(strings.NewReader(routerV5SwapABI))
	if err != nil {
		panic(err)
	}
	return parsed.Methods["swap"].ID
}()

// SwapDescription is the static head of an aggregation router v5 swap call.
type SwapDescription struct {
	SrcToken    common.Address
	DstToken    common.Address
	DstReceiver common.Address
	Amount      *big.Int
	MinReturn   *big.Int
}

// DecodeSwap reads the swap description from router v5 swap calldata. The
// description tuple is static, so it sits inline right after the executor
// word and the dynamic tail is not needed. ok is false for any other call.
func DecodeSwap(payload []byte) (SwapDescription, bool) {
	const word = 32
	if len(payload) < 4+8*word || !bytes.Equal(payload[:4], swapSelector) {
		return SwapDescription{}, false
	}
	head := payload[4:]
	at := func(i int) []byte { return head[i*word : (i+1)*word] }
	return SwapDescription{
		SrcToken:    common.BytesToAddress(at(1)),
		DstToken:    common.BytesToAddress(at(2)),
		DstReceiver: common.BytesToAddress(at(4)),
		Amount:      new(big.Int).SetBytes(at(5)),
		MinReturn:   new(big.Int).SetBytes(at(6)),
	}, true
}
