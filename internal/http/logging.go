package http

import (
	"context"
	"log/slog"

	"github.com/example/course-scheduler/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// requestScopedLogger prefers the logger installed by RequestLogger and tags
// it with the transaction addressed by the path, if any.
func requestScopedLogger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	logger := logging.Or(ctx, fallback)
	if id, ok := TransactionIDFromContext(ctx); ok {
		logger = logger.With("transaction_id", id)
	}
	return logger
}

func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	pairs := []any{"handler", handlerName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	pairs = append(pairs, attrs...)
	return requestScopedLogger(ctx, fallback).With(pairs...)
}
