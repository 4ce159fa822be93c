package renpack

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
)

// NewLogger returns a new Logger.
func NewLogger() logr.Logger {
	return logr.FromSlogHandler(slog.NewTextHandler(os.Stdout, nil))
}

// WithLogger embeds the Logger in the context.
func WithLogger(ctx context.Context, log logr.Logger) context.Context {
	return logr.NewContext(ctx, log)
}

// LoggerFrom retrieves the Logger from the context,
// discarding logs if none is found.
func LoggerFrom(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx)
}
