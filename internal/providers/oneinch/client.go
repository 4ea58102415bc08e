package oneinch

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/httpx"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
	"github.com/ggonzalez94/arrakis-cli/internal/providers"
	"github.com/ggonzalez94/arrakis-cli/internal/registry"
)

const keyEnvVar = "ARRAKIS_1INCH_API_KEY"

type Client struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
}

// New returns a 1inch client. Quotes are never retried automatically, so the
// http client is forced to a zero retry budget.
func New(httpClient *httpx.Client, apiKey string) *Client {
	return &Client{http: httpClient.WithRetries(0), baseURL: registry.OneInchBaseURL, apiKey: apiKey}
}

func (c *Client) WithBaseURL(baseURL string) *Client {
	if strings.TrimSpace(baseURL) != "" {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
	return c
}

func (c *Client) Info() model.ProviderInfo {
	return model.ProviderInfo{
		Name:          "1inch",
		Type:          "swap",
		RequiresKey:   true,
		KeyEnvVarName: keyEnvVar,
		Capabilities: []string{
			"swap.quote",
			"swap.payload",
			"approve.payload",
		},
	}
}

type quoteResponse struct {
	ToTokenAmount string `json:"toTokenAmount"`
	ToAmount      string `json:"toAmount"`
	DstAmount     string `json:"dstAmount"`
}

func (r quoteResponse) amount() string {
	for _, v := range []string{r.ToTokenAmount, r.ToAmount, r.DstAmount} {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

type txResponse struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type swapResponse struct {
	quoteResponse
	Tx txResponse `json:"tx"`
}

func (c *Client) Quote(ctx context.Context, req providers.QuoteRequest) (*big.Int, error) {
	label := pairLabel(req.TokenIn, req.TokenOut)
	if err := c.checkRequest(req); err != nil {
		return nil, err
	}
	vals := url.Values{}
	vals.Set("fromTokenAddress", req.TokenIn.Hex())
	vals.Set("toTokenAddress", req.TokenOut.Hex())
	vals.Set("amount", req.AmountIn.String())

	var resp quoteResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.endpoint(req.ChainID, "quote"), vals, c.headers(), &resp); err != nil {
		return nil, clierr.Wrap(clierr.CodeQuoteUnavailable, "1inch quote "+label, err)
	}
	out, err := parsePositive(resp.amount())
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeQuoteUnavailable, "1inch quote "+label, err)
	}
	return out, nil
}

func (c *Client) BuildSwapPayload(ctx context.Context, req providers.SwapRequest) (providers.SwapQuote, error) {
	label := pairLabel(req.TokenIn, req.TokenOut)
	if err := c.checkRequest(req.QuoteRequest); err != nil {
		return providers.SwapQuote{}, err
	}
	if req.From == (common.Address{}) {
		return providers.SwapQuote{}, clierr.New(clierr.CodeUsage, "swap payload requires a from address")
	}
	if req.SlippageBps < 0 || req.SlippageBps >= 10_000 {
		return providers.SwapQuote{}, clierr.New(clierr.CodeUsage, "slippage bps must be within [0, 10000)")
	}
	vals := url.Values{}
	vals.Set("fromTokenAddress", req.TokenIn.Hex())
	vals.Set("toTokenAddress", req.TokenOut.Hex())
	vals.Set("amount", req.AmountIn.String())
	vals.Set("fromAddress", req.From.Hex())
	vals.Set("slippage", slippagePercent(req.SlippageBps))
	vals.Set("disableEstimate", "true")
	vals.Set("allowPartialFill", "false")

	var resp swapResponse
	if _, err := httpx.GetJSON(ctx, c.http, c.endpoint(req.ChainID, "swap"), vals, c.headers(), &resp); err != nil {
		return providers.SwapQuote{}, clierr.Wrap(clierr.CodeSwapPayloadUnavailable, "1inch swap "+label, err)
	}
	target, payload, err := decodeTx(resp.Tx)
	if err != nil {
		return providers.SwapQuote{}, clierr.Wrap(clierr.CodeSwapPayloadUnavailable, "1inch swap "+label, err)
	}
	out, err := parsePositive(resp.amount())
	if err != nil {
		return providers.SwapQuote{}, clierr.Wrap(clierr.CodeSwapPayloadUnavailable, "1inch swap "+label, err)
	}
	return providers.NewSwapQuote(req.AmountIn, out, target, payload), nil
}

func (c *Client) BuildApprovalPayload(ctx context.Context, req providers.ApprovalRequest) (providers.CallPayload, error) {
	if c.apiKey == "" {
		return providers.CallPayload{}, clierr.New(clierr.CodeAuth, "missing required API key for 1inch ("+keyEnvVar+")")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return providers.CallPayload{}, clierr.New(clierr.CodeUsage, "approval amount must be greater than zero")
	}
	vals := url.Values{}
	vals.Set("tokenAddress", req.Token.Hex())
	vals.Set("amount", req.Amount.String())

	var resp struct {
		To   string `json:"to"`
		Data string `json:"data"`
	}
	if _, err := httpx.GetJSON(ctx, c.http, c.endpoint(req.ChainID, "approve/transaction"), vals, c.headers(), &resp); err != nil {
		return providers.CallPayload{}, clierr.Wrap(clierr.CodeSwapPayloadUnavailable, "1inch approve "+req.Token.Hex(), err)
	}
	target, data, err := decodeTx(txResponse(resp))
	if err != nil {
		return providers.CallPayload{}, clierr.Wrap(clierr.CodeSwapPayloadUnavailable, "1inch approve "+req.Token.Hex(), err)
	}
	return providers.CallPayload{Target: target, Data: data}, nil
}

func (c *Client) checkRequest(req providers.QuoteRequest) error {
	if c.apiKey == "" {
		return clierr.New(clierr.CodeAuth, "missing required API key for 1inch ("+keyEnvVar+")")
	}
	if req.ChainID <= 0 {
		return clierr.New(clierr.CodeUsage, "1inch requests require a chain id")
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return clierr.New(clierr.CodeUsage, "swap amount must be greater than zero")
	}
	if req.TokenIn == req.TokenOut {
		return clierr.New(clierr.CodeUsage, "token in and token out must differ")
	}
	return nil
}

func (c *Client) endpoint(chainID int64, path string) string {
	return fmt.Sprintf("%s/%d/%s", c.baseURL, chainID, path)
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func decodeTx(tx txResponse) (common.Address, []byte, error) {
	if !common.IsHexAddress(tx.To) {
		return common.Address{}, nil, fmt.Errorf("response tx.to is not an address: %q", tx.To)
	}
	data, err := hexutil.Decode(strings.TrimSpace(tx.Data))
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("decode tx.data: %w", err)
	}
	if len(data) < 4 {
		return common.Address{}, nil, fmt.Errorf("response tx.data is too short")
	}
	return common.HexToAddress(tx.To), data, nil
}

func parsePositive(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("response missing output amount")
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed output amount %q", raw)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive output amount %s", raw)
	}
	return v, nil
}

// slippagePercent renders basis points as the percentage string 1inch expects.
func slippagePercent(bps int) string {
	return strconv.FormatFloat(float64(bps)/100, 'f', -1, 64)
}

func pairLabel(in, out common.Address) string {
	return in.Hex() + "->" + out.Hex()
}
