package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/course-scheduler/internal/logging"
	"github.com/example/course-scheduler/internal/parse"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logging.Or(ctx, base).With(pairs...)
}

// ErrorKind maps sentinel and typed errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrImportAborted):
		return "import_aborted"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransactionState):
		return "invalid_transaction_state"
	case errors.Is(err, ErrCommitFailed):
		return "commit_failed"
	case errors.Is(err, ErrAmbiguousMatch):
		return "ambiguous_match"
	}

	// The outermost parse error names the field parser that rejected the input.
	var pErr *parse.Error
	if errors.As(err, &pErr) {
		switch pErr.Kind {
		case parse.KindInvalidTime:
			return "invalid_time"
		case parse.KindInvalidInstructorField:
			return "invalid_instructor_field"
		case parse.KindInvalidMeetingPattern:
			return "invalid_meeting_pattern"
		case parse.KindInvalidName:
			return "invalid_name"
		}
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}
