package http

import (
	"context"
	"log/slog"

	"github.com/example/course-scheduler/internal/logging"
)

type contextKey string

const transactionIDContextKey contextKey = "transaction_id"

// ContextWithLogger returns a derived context carrying the request logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return logging.ContextWithLogger(ctx, logger)
}

// LoggerFromContext extracts the request logger if one was attached.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}

// ContextWithTransactionID injects the transaction identifier resolved from the request path.
func ContextWithTransactionID(ctx context.Context, transactionID string) context.Context {
	return context.WithValue(ctx, transactionIDContextKey, transactionID)
}

// TransactionIDFromContext extracts a transaction identifier previously associated with the context.
func TransactionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(transactionIDContextKey).(string)
	return id, ok
}
