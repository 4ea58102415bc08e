// Package out renders command envelopes as indented JSON or as flat
// key=value lines.
package out

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ggonzalez94/arrakis-cli/internal/config"
	"github.com/ggonzalez94/arrakis-cli/internal/model"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.OutputMode == "json" {
		var payload any = data
		if !settings.ResultsOnly {
			env.Data = data
			payload = env
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	if settings.ResultsOnly {
		return renderPlain(w, data)
	}
	plain := map[string]any{
		"success":  env.Success,
		"data":     data,
		"warnings": env.Warnings,
		"meta":     env.Meta,
	}
	if env.Error != nil {
		plain["error"] = env.Error
	}
	return renderPlain(w, plain)
}

// renderPlain writes one line per list item, or a single line otherwise.
// Nested objects are flattened into dotted keys so a settlement outcome
// reads as outcome.reconciliation.refund0=... on one line.
func renderPlain(w io.Writer, data any) error {
	n := normalizeValue(data)
	items, ok := n.([]any)
	if !ok {
		_, err := fmt.Fprintln(w, toLine(n))
		return err
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "[]")
		return err
	}
	for _, item := range items {
		if _, err := fmt.Fprintln(w, toLine(item)); err != nil {
			return err
		}
	}
	return nil
}

// project keeps only the selected fields. A field may be a dotted path
// into nested objects; the selection keeps that nesting.
func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		path := strings.Split(strings.TrimSpace(f), ".")
		v, ok := lookup(m, path)
		if !ok {
			continue
		}
		place(out, path, v)
	}
	return out
}

func lookup(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func place(dst map[string]any, path []string, v any) {
	for _, key := range path[:len(path)-1] {
		next, ok := dst[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			dst[key] = next
		}
		dst = next
	}
	dst[path[len(path)-1]] = v
}

// normalizeValue round-trips through JSON so struct tags decide the keys.
// Numbers stay json.Number to keep wei amounts exact.
func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

func toLine(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return scalar(v)
	}
	flat := map[string]string{}
	flatten("", m, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+flat[k])
	}
	return strings.Join(parts, " ")
}

func flatten(prefix string, m map[string]any, dst map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, dst)
			continue
		}
		dst[key] = scalar(v)
	}
}

func scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return fmt.Sprintf("%v", t)
	default:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(buf)
	}
}
