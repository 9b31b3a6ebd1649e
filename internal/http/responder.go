package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/course-scheduler/internal/application"
	"github.com/example/course-scheduler/internal/parse"
)

var (
	errBadRequestBody       = errors.New("request body is malformed")
	errInvalidTransactionID = errors.New("transaction id is required")
	errMissingFile          = errors.New("multipart form requires a file field")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	status := statusFor(err)
	resp := errorResponse{ErrorCode: application.ErrorKind(err), Message: err.Error()}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		resp.Message = "validation failed"
		resp.Errors = vErr.FieldErrors
	}
	var rowErr *application.RowError
	if errors.As(err, &rowErr) {
		resp.Row = rowErr.Row
		resp.Field = rowErr.Field
	}
	var ambiguous *application.AmbiguousMatchError
	if errors.As(err, &ambiguous) {
		resp.Candidates = ambiguous.CandidateIDs
	}
	if status >= http.StatusInternalServerError {
		if !errors.Is(err, application.ErrCommitFailed) {
			resp.Message = http.StatusText(status)
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, resp)
}

func statusFor(err error) int {
	var (
		vErr      *application.ValidationError
		rowErr    *application.RowError
		parseErr  *parse.Error
		ambiguous *application.AmbiguousMatchError
	)
	switch {
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, application.ErrInvalidTransactionState):
		return http.StatusConflict
	case errors.Is(err, application.ErrCommitFailed):
		return http.StatusBadGateway
	case errors.As(err, &vErr), errors.As(err, &rowErr), errors.As(err, &parseErr),
		errors.As(err, &ambiguous), errors.Is(err, application.ErrImportAborted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	return requestScopedLogger(ctx, r.logger)
}

type errorResponse struct {
	ErrorCode  string            `json:"error_code,omitempty"`
	Message    string            `json:"message"`
	Errors     map[string]string `json:"errors,omitempty"`
	Row        int               `json:"row,omitempty"`
	Field      string            `json:"field,omitempty"`
	Candidates []string          `json:"candidates,omitempty"`
}
