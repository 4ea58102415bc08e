package settlement

import (
	"math/big"

	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
)

const bpsDenominator = 10_000

var oneE18 = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func pow10(decimals int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// PriceFromQuote converts a quote of amountIn (decIn) into quoteOut (decOut)
// into a token1-per-token0 PricePoint. zeroForOne says tokenIn is token0;
// otherwise the quote is inverted.
func PriceFromQuote(amountIn, quoteOut *big.Int, decIn, decOut int, zeroForOne bool) (PricePoint, error) {
	if amountIn == nil || amountIn.Sign() <= 0 || quoteOut == nil || quoteOut.Sign() <= 0 {
		return PricePoint{}, clierr.New(clierr.CodeQuoteUnavailable, "cannot derive a price from a zero quote")
	}
	num := new(big.Int)
	den := new(big.Int)
	if zeroForOne {
		num.Mul(quoteOut, pow10(decIn))
		den.Mul(amountIn, pow10(decOut))
	} else {
		num.Mul(amountIn, pow10(decOut))
		den.Mul(quoteOut, pow10(decIn))
	}
	num.Mul(num, oneE18)
	price := num.Quo(num, den)
	if price.Sign() == 0 {
		return PricePoint{}, clierr.New(clierr.CodeQuoteUnavailable, "quote implies a zero price")
	}
	return PricePoint{X18: price}, nil
}

// minAmountOut applies the slippage tolerance with truncating division, the
// same rounding the contract uses.
func minAmountOut(amountOut *big.Int, slippageBps int) *big.Int {
	out := new(big.Int).Mul(amountOut, big.NewInt(int64(bpsDenominator-slippageBps)))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
