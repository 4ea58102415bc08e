package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
)

// CheckCommandAllowed enforces the --enable-commands allowlist. An entry
// names a full command path or a whole group: "settle" admits every settle
// subcommand.
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		entry := normalize(allowed)
		if entry == "" {
			continue
		}
		if entry == normPath || strings.HasPrefix(normPath, entry+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf("command %q blocked by --enable-commands policy", normPath))
}

// CheckSlippage bounds a requested slippage by the configured ceiling.
func CheckSlippage(requestedBps, maxBps int) error {
	if requestedBps < 0 || requestedBps >= 10_000 {
		return clierr.New(clierr.CodeUsage, "slippage bps must be within [0, 10000)")
	}
	if requestedBps > maxBps {
		return clierr.New(clierr.CodeBlocked, fmt.Sprintf("slippage %d bps exceeds configured maximum %d bps", requestedBps, maxBps))
	}
	return nil
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
