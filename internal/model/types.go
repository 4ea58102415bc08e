package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Network   string           `json:"network,omitempty"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
	Partial   bool             `json:"partial"`
}

type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

type ProviderInfo struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	RequiresKey   bool     `json:"requires_key"`
	Capabilities  []string `json:"capabilities"`
	KeyEnvVarName string   `json:"key_env_var,omitempty"`
}

type AmountInfo struct {
	AmountBaseUnits string `json:"amount_base_units"`
	AmountDecimal   string `json:"amount_decimal"`
	Decimals        int    `json:"decimals"`
}

// SwapQuote is the indicative quote served by the quote command. It is never
// used for settlement pricing.
type SwapQuote struct {
	Provider     string     `json:"provider"`
	Network      string     `json:"network"`
	ChainID      string     `json:"chain_id"`
	TokenIn      string     `json:"token_in"`
	TokenOut     string     `json:"token_out"`
	InputAmount  AmountInfo `json:"input_amount"`
	EstimatedOut AmountInfo `json:"estimated_out"`
	// PriceX18 is token1 per token0 of the vault ordering when known.
	PriceX18  string `json:"price_x18,omitempty"`
	FetchedAt string `json:"fetched_at"`
}

type NetworkSummary struct {
	Name      string            `json:"name"`
	ChainID   int64             `json:"chain_id"`
	Native    string            `json:"native_symbol"`
	Topology  string            `json:"topology"`
	RPCURL    string            `json:"rpc_url,omitempty"`
	Contracts map[string]string `json:"contracts"`
	Tokens    []string          `json:"tokens"`
	Selected  bool              `json:"selected"`
}
