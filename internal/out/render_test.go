package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/arrakis-cli/internal/config"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"action_id": "act_1", "status": "planned"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"action_id"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["action_id"] != "act_1" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["status"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderSelectDottedPath(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data: map[string]any{
			"action_id": "act_1",
			"outcome": map[string]any{
				"reconciliation": map[string]any{"refund0": "12", "refund1": "0"},
				"minted":         "5",
			},
		},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"outcome.reconciliation.refund0", "missing.path"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out map[string]map[string]map[string]string
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v (%s)", err, buf.String())
	}
	if got := out["outcome"]["reconciliation"]["refund0"]; got != "12" {
		t.Fatalf("expected refund0=12, got %q", got)
	}
	if _, ok := out["outcome"]["reconciliation"]["refund1"]; ok {
		t.Fatalf("unselected sibling leaked: %s", buf.String())
	}
	if len(out) != 1 {
		t.Fatalf("missing path should be dropped: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"name": "1inch", "chain_id": 1}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "chain_id=1 name=1inch" {
		t.Fatalf("unexpected plain output: %q", got)
	}
}

func TestRenderPlainFlattensNestedObjects(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data: map[string]any{
			"minted":  "1000000000000000000000",
			"outcome": map[string]any{"refund0": 123456789012345678, "refund1": "0"},
			"wired":   true,
		},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "minted=1000000000000000000000 outcome.refund0=123456789012345678 outcome.refund1=0 wired=true"
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Fatalf("unexpected plain output:\n got %q\nwant %q", got, want)
	}
}

func TestRenderPlainEmptyList(t *testing.T) {
	env := model.Envelope{Success: true, Data: []string{}}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected [] for empty list, got %q", buf.String())
	}
}
