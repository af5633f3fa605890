// Package logging builds the zerolog loggers used across better-ccflare and
// carries request IDs through contexts so every log line of a dispatch can be
// correlated.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures logger construction.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, pretty, console (auto-detect)
	Output string // stdout, stderr, or a file path
	Pretty bool   // force colored console output
}

// ParseLevel converts the configured level to a zerolog.Level, defaulting
// to info for unknown values.
func (o Options) ParseLevel() zerolog.Level {
	switch o.Level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "info", "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a zerolog.Logger from Options, ready for use as the global
// logger or as a component root logger.
func New(opts Options) (zerolog.Logger, error) {
	output, outputFile, err := selectOutput(opts.Output)
	if err != nil {
		return zerolog.Logger{}, err
	}

	var w io.Writer = output
	if shouldUsePretty(opts, outputFile) {
		w = consoleWriter(output)
	}

	return zerolog.New(w).Level(opts.ParseLevel()).With().Timestamp().Logger(), nil
}

// selectOutput resolves the output destination. File outputs are opened in
// append mode and never truncated.
func selectOutput(output string) (io.Writer, *os.File, error) {
	switch output {
	case "", "stdout":
		return os.Stdout, os.Stdout, nil
	case "stderr":
		return os.Stderr, os.Stderr, nil
	default:
		f, err := os.OpenFile(filepath.Clean(output), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
}

func shouldUsePretty(opts Options, outputFile *os.File) bool {
	if opts.Pretty {
		return true
	}

	switch opts.Format {
	case "pretty":
		return true
	case "json":
		return false
	default:
		// console or unset: pretty only when writing to a terminal.
		return outputFile != nil && isatty.IsTerminal(outputFile.Fd())
	}
}

func consoleWriter(output io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:           output,
		TimeFormat:    "15:04:05",
		FormatLevel:   formatLevel,
		FormatMessage: formatMessage,
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("\033[2m%s=\033[0m", i)
		},
		FormatFieldValue: func(i interface{}) string {
			return fmt.Sprintf("%s", i)
		},
	}
}

func formatLevel(i interface{}) string {
	levelStr, ok := i.(string)
	if !ok {
		return ""
	}

	levelColors := map[string]string{
		"debug": "\033[36mDBG\033[0m",
		"info":  "\033[32mINF\033[0m",
		"warn":  "\033[33mWRN\033[0m",
		"error": "\033[31mERR\033[0m",
		"fatal": "\033[35mFTL\033[0m",
	}

	if colored, exists := levelColors[levelStr]; exists {
		return colored
	}
	return levelStr
}

func formatMessage(i interface{}) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("-> %s", i)
}

type ctxKey string

// RequestIDKey is the context key under which the request ID is stored.
const RequestIDKey ctxKey = "request_id"

// WithRequestID attaches a request ID to the context and to the context
// logger. An empty id generates a fresh UUID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = uuid.New().String()
	}

	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	logger := log.Ctx(ctx).With().Str("request_id", requestID).Logger()
	return logger.WithContext(ctx)
}

// RequestID retrieves the request ID from the context, or "" when absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
