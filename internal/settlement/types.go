package settlement

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/execution"
)

// Intent is what the caller wants to deposit. Amounts are base units.
type Intent struct {
	Vault      common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
	// ZeroForOne is the declared swap direction; nil lets single-sided
	// funding imply it.
	ZeroForOne  *bool
	SlippageBps int
	UseNative   bool
	// NativeValue overrides the forwarded value. It is sent as-is.
	NativeValue     *big.Int
	Gauge           common.Address
	Sender          common.Address
	Receiver        common.Address
	Amount0Min      *big.Int
	Amount1Min      *big.Int
	AmountSharesMin *big.Int
	// Scenario selects a pinned fixture swap instead of live quotes.
	Scenario string
}

type TokenAmount struct {
	Token    common.Address `json:"token"`
	Symbol   string         `json:"symbol,omitempty"`
	Decimals int            `json:"decimals"`
	Amount   *big.Int       `json:"amount"`
}

// PricePoint is token1 per token0 in 18-decimal fixed point.
type PricePoint struct {
	X18 *big.Int `json:"price_x18"`
}

func (p PricePoint) String() string {
	if p.X18 == nil {
		return "0"
	}
	return p.X18.String()
}

// SwapAndAddRequest mirrors the front-end's swapAndAddLiquidity argument.
type SwapAndAddRequest struct {
	Vault           common.Address `json:"vault"`
	Amount0Max      *big.Int       `json:"amount0_max"`
	Amount1Max      *big.Int       `json:"amount1_max"`
	Amount0Min      *big.Int       `json:"amount0_min"`
	Amount1Min      *big.Int       `json:"amount1_min"`
	AmountSharesMin *big.Int       `json:"amount_shares_min"`
	Receiver        common.Address `json:"receiver"`
	UseNative       bool           `json:"use_native"`
	Gauge           common.Address `json:"gauge"`
	SwapAmountIn    *big.Int       `json:"swap_amount_in"`
	SwapAmountOut   *big.Int       `json:"swap_amount_out_min"`
	ZeroForOne      bool           `json:"zero_for_one"`
	SwapTarget      common.Address `json:"swap_target"`
	SwapPayload     hexutil.Bytes  `json:"swap_payload"`
	RefundRecipient common.Address `json:"refund_recipient"`
}

// Validate enforces funding and direction consistency before anything is
// packed or sent.
func (r SwapAndAddRequest) Validate() error {
	if r.Vault == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "vault address is required")
	}
	if r.Receiver == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "receiver address is required")
	}
	if err := checkFunding(r.Amount0Max, r.Amount1Max); err != nil {
		return err
	}
	if implied, ok := impliedDirection(r.Amount0Max, r.Amount1Max); ok && implied != r.ZeroForOne {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("zeroForOne=%t contradicts single-sided funding", r.ZeroForOne))
	}
	if r.SwapAmountIn == nil || r.SwapAmountIn.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "swap amount in must be positive")
	}
	if r.SwapAmountOut == nil || r.SwapAmountOut.Sign() < 0 {
		return clierr.New(clierr.CodeUsage, "swap amount out must be non-negative")
	}
	if len(r.SwapPayload) == 0 || r.SwapTarget == (common.Address{}) {
		return clierr.New(clierr.CodeUsage, "swap target and payload are required")
	}
	return nil
}

func checkFunding(amount0Max, amount1Max *big.Int) error {
	if amount0Max == nil || amount1Max == nil || amount0Max.Sign() < 0 || amount1Max.Sign() < 0 {
		return clierr.New(clierr.CodeUsage, "amount0 and amount1 maxima must be non-negative")
	}
	if amount0Max.Sign() == 0 && amount1Max.Sign() == 0 {
		return clierr.New(clierr.CodeUsage, "at least one of amount0 and amount1 must be positive")
	}
	return nil
}

// impliedDirection reports the direction forced by single-sided funding.
func impliedDirection(amount0Max, amount1Max *big.Int) (bool, bool) {
	switch {
	case amount0Max.Sign() > 0 && amount1Max.Sign() == 0:
		return true, true
	case amount0Max.Sign() == 0 && amount1Max.Sign() > 0:
		return false, true
	default:
		return false, false
	}
}

// Plan is a fully priced settlement ready to submit.
type Plan struct {
	Network       string            `json:"network"`
	Topology      string            `json:"topology"`
	Frontend      common.Address    `json:"frontend"`
	SwapCustody   common.Address    `json:"swap_custody"`
	Token0        TokenAmount       `json:"token0"`
	Token1        TokenAmount       `json:"token1"`
	Request       SwapAndAddRequest `json:"request"`
	Calldata      hexutil.Bytes     `json:"calldata"`
	Value         *big.Int          `json:"value"`
	Prices        []PricePoint      `json:"prices"`
	QuotedOut     *big.Int          `json:"quoted_amount_out"`
	SlippageBps   int               `json:"slippage_bps"`
	Scenario      string            `json:"scenario,omitempty"`
	Sender        common.Address    `json:"sender"`
	StakingToken  common.Address    `json:"staking_token,omitempty"`
	ResolverSwaps []*big.Int        `json:"resolver_swap_amounts"`
}

// Snapshot captures the balances the post-conditions compare against.
type Snapshot struct {
	ReceiverShares *big.Int                 `json:"receiver_shares"`
	ReceiverStaked *big.Int                 `json:"receiver_staked"`
	Intermediaries map[string]HolderBalance `json:"intermediaries"`
}

// HolderBalance is one intermediary's holdings of every asset the
// settlement touches.
type HolderBalance struct {
	Address common.Address      `json:"address"`
	Assets  map[string]*big.Int `json:"assets"`
}

type Submission struct {
	Action  execution.Action `json:"action"`
	TxHash  common.Hash      `json:"tx_hash"`
	Block   *big.Int         `json:"block_number"`
	Pre     Snapshot         `json:"pre"`
	Receipt *types.Receipt   `json:"-"`
}

type Swapped struct {
	ZeroForOne  bool     `json:"zero_for_one"`
	Amount0Diff *big.Int `json:"amount0_diff"`
	Amount1Diff *big.Int `json:"amount1_diff"`
}

type Minted struct {
	Receiver   common.Address `json:"receiver"`
	MintAmount *big.Int       `json:"mint_amount"`
	Amount0In  *big.Int       `json:"amount0_in"`
	Amount1In  *big.Int       `json:"amount1_in"`
}

// Reconciliation is the refund accounting derived from the two events.
type Reconciliation struct {
	Used0   *big.Int `json:"used0"`
	Used1   *big.Int `json:"used1"`
	Refund0 *big.Int `json:"refund0"`
	Refund1 *big.Int `json:"refund1"`
}

type Outcome struct {
	Swapped        Swapped        `json:"swapped"`
	Minted         Minted         `json:"minted"`
	Reconciliation Reconciliation `json:"reconciliation"`
}

type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type Report struct {
	Checks []Check  `json:"checks"`
	Post   Snapshot `json:"post"`
}

func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

type Result struct {
	Plan       Plan       `json:"plan"`
	Submission Submission `json:"submission"`
	Outcome    Outcome    `json:"outcome"`
	Report     Report     `json:"report"`
}
