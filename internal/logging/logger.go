// Package logging builds the daemon's zap logger. Every session writes JSON
// lines to its own log file; a console copy is optional.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	console io.Writer
	fields  []zap.Field
}

// Option configures New.
type Option func(*options)

// Console mirrors every entry to w in zap's console format. MCP mode leaves
// it out because stdout and stderr may belong to the client.
func Console(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// Fields adds fields to every entry.
func Fields(fs ...zap.Field) Option {
	return func(o *options) { o.fields = append(o.fields, fs...) }
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

// New opens path for appending, creating its directory, and returns a
// logger tagged with the session name and the process id.
func New(path, session, level string, opts ...Option) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	enc := encoderConfig()
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(f), lvl)
	if o.console != nil {
		core = zapcore.NewTee(core, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(o.console), lvl))
	}

	fields := append([]zap.Field{zap.String("session", session), zap.Int("pid", os.Getpid())}, o.fields...)
	return zap.New(core, zap.Fields(fields...)), nil
}
