package providers

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
)

type Provider interface {
	Info() model.ProviderInfo
}

// SwapSource is the aggregator surface the settlement flow consumes.
type SwapSource interface {
	Provider
	Quote(ctx context.Context, req QuoteRequest) (*big.Int, error)
	BuildSwapPayload(ctx context.Context, req SwapRequest) (SwapQuote, error)
	BuildApprovalPayload(ctx context.Context, req ApprovalRequest) (CallPayload, error)
}

type QuoteRequest struct {
	ChainID  int64
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
}

type SwapRequest struct {
	QuoteRequest
	// From is the address the aggregator routes output to; for settlement it
	// is the custody contract so swapped funds never leave it.
	From        common.Address
	SlippageBps int
}

type ApprovalRequest struct {
	ChainID int64
	Token   common.Address
	Amount  *big.Int
}

type CallPayload struct {
	Target common.Address `json:"target"`
	Data   hexutil.Bytes  `json:"data"`
}

// SwapQuote is one submittable swap instruction. It is immutable: amounts and
// payload are copied on construction and on every read.
type SwapQuote struct {
	amountIn  *big.Int
	amountOut *big.Int
	target    common.Address
	payload   []byte
}

func NewSwapQuote(amountIn, amountOut *big.Int, target common.Address, payload []byte) SwapQuote {
	return SwapQuote{
		amountIn:  copyInt(amountIn),
		amountOut: copyInt(amountOut),
		target:    target,
		payload:   append([]byte(nil), payload...),
	}
}

func (q SwapQuote) AmountIn() *big.Int     { return copyInt(q.amountIn) }
func (q SwapQuote) AmountOut() *big.Int    { return copyInt(q.amountOut) }
func (q SwapQuote) Target() common.Address { return q.target }
func (q SwapQuote) Payload() []byte        { return append([]byte(nil), q.payload...) }

func (q SwapQuote) IsZero() bool {
	return q.amountIn == nil && q.amountOut == nil && len(q.payload) == 0
}

func (q SwapQuote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountIn  string         `json:"swap_amount_in"`
		AmountOut string         `json:"swap_amount_out"`
		Target    common.Address `json:"target"`
		Payload   hexutil.Bytes  `json:"payload"`
	}{
		AmountIn:  intString(q.amountIn),
		AmountOut: intString(q.amountOut),
		Target:    q.target,
		Payload:   q.payload,
	})
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
