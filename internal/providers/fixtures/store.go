// Package fixtures serves pinned aggregator swaps captured against a known
// chain state so settlements can be replayed without live market data.
package fixtures

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"github.com/ggonzalez94/arrakis-cli/internal/providers"
)

// DefaultSwapTarget is the 1inch v5 aggregation router the embedded payloads were built for.
var DefaultSwapTarget = common.HexToAddress("0x1111111254EEB25477B68fb85Ed929f73A960582")

//go:embed payloads.json
var embeddedPayloads []byte

type rawScenario struct {
	SwapIn  string `json:"swapIn"`
	SwapOut string `json:"swapOut"`
	Payload string `json:"payload"`
	Target  string `json:"target,omitempty"`
}

// Scenario is the listing view of one pinned swap.
type Scenario struct {
	Pair     string `json:"pair"`
	Name     string `json:"scenario"`
	SwapIn   string `json:"swap_in"`
	SwapOut  string `json:"swap_out"`
	Target   string `json:"target"`
	Selector string `json:"selector"`
}

// Store is read-only after Load; lookups hand out copies.
type Store struct {
	entries map[string]map[string]providers.SwapQuote
}

// Load parses the embedded fixtures and, when overlayPath is set, layers the
// file's pairs and scenarios on top of them.
func Load(overlayPath string) (*Store, error) {
	s := &Store{entries: map[string]map[string]providers.SwapQuote{}}
	if err := s.merge(embeddedPayloads, "embedded fixtures"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overlayPath) == "" {
		return s, nil
	}
	buf, err := os.ReadFile(overlayPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, clierr.Wrap(clierr.CodeUsage, "fixtures file not found", err)
		}
		return nil, clierr.Wrap(clierr.CodeInternal, "read fixtures file", err)
	}
	if err := s.merge(buf, overlayPath); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) merge(buf []byte, source string) error {
	var raw map[string]map[string]rawScenario
	if err := json.Unmarshal(buf, &raw); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "parse "+source, err)
	}
	for pair, scenarios := range raw {
		key := PairKey(pair)
		if key == "" {
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("%s: pair label %q must look like SYMBOL0/SYMBOL1", source, pair))
		}
		if s.entries[key] == nil {
			s.entries[key] = map[string]providers.SwapQuote{}
		}
		for name, sc := range scenarios {
			quote, err := sc.quote()
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("%s: %s/%s", source, key, name), err)
			}
			s.entries[key][strings.TrimSpace(name)] = quote
		}
	}
	return nil
}

func (sc rawScenario) quote() (providers.SwapQuote, error) {
	in, ok := new(big.Int).SetString(strings.TrimSpace(sc.SwapIn), 10)
	if !ok || in.Sign() <= 0 {
		return providers.SwapQuote{}, fmt.Errorf("invalid swapIn %q", sc.SwapIn)
	}
	out, ok := new(big.Int).SetString(strings.TrimSpace(sc.SwapOut), 10)
	if !ok || out.Sign() <= 0 {
		return providers.SwapQuote{}, fmt.Errorf("invalid swapOut %q", sc.SwapOut)
	}
	payload, err := hexutil.Decode(strings.TrimSpace(sc.Payload))
	if err != nil {
		return providers.SwapQuote{}, fmt.Errorf("invalid payload: %w", err)
	}
	target := DefaultSwapTarget
	if strings.TrimSpace(sc.Target) != "" {
		if !common.IsHexAddress(sc.Target) {
			return providers.SwapQuote{}, fmt.Errorf("invalid target %q", sc.Target)
		}
		target = common.HexToAddress(sc.Target)
	}
	return providers.NewSwapQuote(in, out, target, payload), nil
}

// Lookup returns the pinned swap for pair and scenario. A miss is always a
// hard ScenarioNotFound error.
func (s *Store) Lookup(pair, scenario string) (providers.SwapQuote, error) {
	key := PairKey(pair)
	scenarios, ok := s.entries[key]
	if !ok {
		return providers.SwapQuote{}, clierr.New(clierr.CodeScenarioNotFound, fmt.Sprintf("no fixtures for pair %q", pair))
	}
	quote, ok := scenarios[strings.TrimSpace(scenario)]
	if !ok {
		return providers.SwapQuote{}, clierr.New(clierr.CodeScenarioNotFound, fmt.Sprintf("no scenario %q for pair %s", scenario, key))
	}
	return providers.NewSwapQuote(quote.AmountIn(), quote.AmountOut(), quote.Target(), quote.Payload()), nil
}

func (s *Store) Pairs() []string {
	out := make([]string, 0, len(s.entries))
	for pair := range s.entries {
		out = append(out, pair)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Scenarios(pair string) []Scenario {
	key := PairKey(pair)
	scenarios := s.entries[key]
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Scenario, 0, len(names))
	for _, name := range names {
		q := scenarios[name]
		payload := q.Payload()
		selector := ""
		if len(payload) >= 4 {
			selector = hexutil.Encode(payload[:4])
		}
		out = append(out, Scenario{
			Pair:     key,
			Name:     name,
			SwapIn:   q.AmountIn().String(),
			SwapOut:  q.AmountOut().String(),
			Target:   q.Target().Hex(),
			Selector: selector,
		})
	}
	return out
}

// PairKey normalizes "dai/weth" to "DAI/WETH"; malformed labels yield "".
func PairKey(pair string) string {
	parts := strings.Split(strings.TrimSpace(pair), "/")
	if len(parts) != 2 {
		return ""
	}
	a := strings.ToUpper(strings.TrimSpace(parts[0]))
	b := strings.ToUpper(strings.TrimSpace(parts[1]))
	if a == "" || b == "" {
		return ""
	}
	return a + "/" + b
}

func PairLabel(symbol0, symbol1 string) string {
	return PairKey(symbol0 + "/" + symbol1)
}
