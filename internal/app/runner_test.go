package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTrimRootPath(t *testing.T) {
	if got := trimRootPath("arrakis settle plan"); got != "settle plan" {
		t.Fatalf("unexpected trim result: %s", got)
	}
}

func TestSplitCSV(t *testing.T) {
	items := splitCSV("DAI/WETH, usdc/weth ,")
	if len(items) != 2 || items[0] != "dai/weth" || items[1] != "usdc/weth" {
		t.Fatalf("unexpected split: %#v", items)
	}
}

// isolateRunnerEnv points config, cache and action store paths at a temp dir.
func isolateRunnerEnv(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("XDG_CACHE_HOME", tmp)
	t.Setenv("ARRAKIS_POSTGRES_DSN", "")
	return tmp
}

func TestRunnerProvidersList(t *testing.T) {
	isolateRunnerEnv(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"providers", "list", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	names := map[string]bool{}
	for _, item := range out {
		name, _ := item["name"].(string)
		names[name] = true
	}
	if !names["1inch"] || !names["fixtures"] {
		t.Fatalf("expected 1inch and fixtures providers, got %v", out)
	}
}

func TestRunnerNetworksList(t *testing.T) {
	isolateRunnerEnv(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"networks", "list", "--results-only"})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	var out []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse output json: %v output=%s", err, stdout.String())
	}
	var sawMainnet bool
	for _, item := range out {
		if item["name"] == "mainnet" {
			sawMainnet = true
			if item["chain_id"] != float64(1) {
				t.Fatalf("unexpected mainnet chain id: %v", item["chain_id"])
			}
		}
	}
	if !sawMainnet {
		t.Fatalf("expected mainnet in networks list, got %v", out)
	}
}

func TestRunnerErrorEnvelopeIgnoresResultsOnly(t *testing.T) {
	isolateRunnerEnv(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"networks", "list", "--enable-commands", "settle plan", "--results-only"})
	if code != 16 {
		t.Fatalf("expected exit 16, got %d stderr=%s", code, stderr.String())
	}
	var env map[string]any
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse error envelope: %v output=%s", err, stderr.String())
	}
	if env["success"] != false {
		t.Fatalf("expected success=false, got %v", env["success"])
	}
}

func TestRunnerQuoteUsesAggregatorAndCaches(t *testing.T) {
	isolateRunnerEnv(t)
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/1/quote" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"toTokenAmount":"500000000000000000"}`))
	}))
	defer srv.Close()
	t.Setenv("ARRAKIS_1INCH_BASE_URL", srv.URL)
	t.Setenv("ARRAKIS_1INCH_API_KEY", "test-key")

	args := []string{"quote", "--network", "mainnet", "--from", "DAI", "--to", "WETH", "--amount-decimal", "1000"}
	for i, wantCache := range []string{"write", "hit"} {
		var stdout bytes.Buffer
		var stderr bytes.Buffer
		r := NewRunnerWithWriters(&stdout, &stderr)
		code := r.Run(args)
		if code != 0 {
			t.Fatalf("run %d: expected exit 0, got %d stderr=%s", i, code, stderr.String())
		}
		var env struct {
			Data struct {
				Provider     string `json:"provider"`
				EstimatedOut struct {
					AmountBaseUnits string `json:"amount_base_units"`
				} `json:"estimated_out"`
				PriceX18 string `json:"price_x18"`
			} `json:"data"`
			Meta struct {
				Cache struct {
					Status string `json:"status"`
				} `json:"cache"`
			} `json:"meta"`
		}
		if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
			t.Fatalf("run %d: decode envelope: %v output=%s", i, err, stdout.String())
		}
		if env.Data.Provider != "1inch" || env.Data.EstimatedOut.AmountBaseUnits != "500000000000000000" {
			t.Fatalf("run %d: unexpected quote %+v", i, env.Data)
		}
		if env.Data.PriceX18 == "" {
			t.Fatalf("run %d: expected a price", i)
		}
		if env.Meta.Cache.Status != wantCache {
			t.Fatalf("run %d: expected cache %s, got %s", i, wantCache, env.Meta.Cache.Status)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run(append(args, "--refresh")); code != 0 {
		t.Fatalf("refresh run: expected exit 0, got %d stderr=%s", code, stderr.String())
	}
	if calls != 2 {
		t.Fatalf("expected --refresh to reach upstream again, got %d calls", calls)
	}
}

func TestRunnerQuoteRejectsSameToken(t *testing.T) {
	isolateRunnerEnv(t)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"quote", "--from", "WETH", "--to", "WETH", "--amount", "1"})
	if code != 2 {
		t.Fatalf("expected usage exit code 2, got %d stderr=%s", code, stderr.String())
	}
}
