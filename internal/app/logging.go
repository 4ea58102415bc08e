package app

import (
	"io"
	"strings"

	clierr "github.com/ggonzalez94/arrakis-cli/internal/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds a JSON production logger writing to w, so stdout carries
// only the response envelope.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if strings.TrimSpace(level) == "" {
		level = "warn"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse --log-level", err)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), zapcore.AddSync(w), cfg.Level)
	return zap.New(core, zap.AddCaller()), nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
