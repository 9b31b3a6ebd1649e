package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/course-scheduler/internal/application"
	"github.com/example/course-scheduler/internal/sheet"
)

const maxMultipartMemory = 32 << 20

type importService interface {
	BuildTransaction(ctx context.Context, params application.BuildParams) (application.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (application.Transaction, application.Selection, error)
	SetSelection(ctx context.Context, transactionID string, changeIDs []string, fieldMap map[string][]string) error
	Toggle(ctx context.Context, transactionID, changeID string, selected bool) error
	Commit(ctx context.Context, transactionID string) (application.CommitResult, error)
	RetryCommit(ctx context.Context, transactionID string) (application.CommitResult, error)
	Cancel(ctx context.Context, transactionID string) error
}

// ImportHandler exposes import transactions over HTTP.
type ImportHandler struct {
	service   importService
	responder responder
	logger    *slog.Logger
}

// NewImportHandler constructs an ImportHandler.
func NewImportHandler(service importService, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

// Create builds a transaction from JSON rows or an uploaded export.
func (h *ImportHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var (
		params application.BuildParams
		err    error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		params, err = h.paramsFromForm(r)
	} else {
		params, err = paramsFromJSON(r)
	}
	if err != nil {
		var vErr *application.ValidationError
		if errors.As(err, &vErr) {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
		h.responder.writeError(r.Context(), w, statusForInput(err), err)
		return
	}

	tx, err := h.service.BuildTransaction(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	_, selection, err := h.service.GetTransaction(r.Context(), tx.ID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusCreated, transactionResponse{Transaction: tx, Selection: selection})
}

func paramsFromJSON(r *http.Request) (application.BuildParams, error) {
	var req createImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return application.BuildParams{}, errBadRequestBody
	}
	options, err := req.Options.toOptions()
	if err != nil {
		return application.BuildParams{}, err
	}
	return application.BuildParams{
		Semester:      req.Semester,
		Rows:          req.Rows,
		DirectoryRows: req.DirectoryRows,
		Options:       options,
	}, nil
}

func (h *ImportHandler) paramsFromForm(r *http.Request) (application.BuildParams, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return application.BuildParams{}, errBadRequestBody
	}
	logger := handlerLogger(r.Context(), h.logger, "ImportHandler", "Create")

	file, header, err := r.FormFile("file")
	if err != nil {
		return application.BuildParams{}, errMissingFile
	}
	defer file.Close()

	sheetName := r.FormValue("sheet")
	rows, err := sheet.Read(header.Filename, file, sheetName)
	if err != nil {
		return application.BuildParams{}, err
	}
	logger.DebugContext(r.Context(), "read course export", "file", header.Filename, "row_count", len(rows))

	var directory []application.DirectoryRow
	if dirFile, dirHeader, err := r.FormFile("directory"); err == nil {
		directory, err = readDirectory(dirFile, dirHeader, r.FormValue("directorySheet"))
		if err != nil {
			return application.BuildParams{}, err
		}
		logger.DebugContext(r.Context(), "read directory export", "file", dirHeader.Filename, "row_count", len(directory))
	}

	options, err := optionsRequest{
		OnRowError:         r.FormValue("onRowError"),
		InstructorFallback: r.FormValue("instructorFallback"),
	}.toOptions()
	if err != nil {
		return application.BuildParams{}, err
	}

	return application.BuildParams{
		Semester:      r.FormValue("semester"),
		Rows:          rows,
		DirectoryRows: directory,
		Options:       options,
	}, nil
}

func readDirectory(file multipart.File, header *multipart.FileHeader, sheetName string) ([]application.DirectoryRow, error) {
	defer file.Close()
	return sheet.ReadDirectory(header.Filename, file, sheetName)
}

func statusForInput(err error) int {
	switch {
	case errors.Is(err, sheet.ErrMissingHeader), errors.Is(err, sheet.ErrEmpty), errors.Is(err, sheet.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// Get returns a transaction and its current selection.
func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	h.renderTransaction(w, r, transactionID, http.StatusOK)
}

// Cancel discards a pending transaction.
func (h *ImportHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), transactionID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// SetSelection replaces the selection of a pending transaction.
func (h *ImportHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.transactionID(w, r)
	if !ok {
		return
	}

	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if err := h.service.SetSelection(r.Context(), transactionID, req.ChangeIDs, req.Fields); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.renderTransaction(w, r, transactionID, http.StatusOK)
}

// Toggle selects or deselects one change together with its group.
func (h *ImportHandler) Toggle(w http.ResponseWriter, r *http.Request, changeID string) {
	transactionID, ok := h.transactionID(w, r)
	if !ok {
		return
	}

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Selected == nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	if err := h.service.Toggle(r.Context(), transactionID, changeID, *req.Selected); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.renderTransaction(w, r, transactionID, http.StatusOK)
}

// Commit applies the selection. With ?retry=true it resumes a failed commit.
func (h *ImportHandler) Commit(w http.ResponseWriter, r *http.Request) {
	transactionID, ok := h.transactionID(w, r)
	if !ok {
		return
	}

	retry, _ := strconv.ParseBool(r.URL.Query().Get("retry"))
	commit := h.service.Commit
	if retry {
		commit = h.service.RetryCommit
		handlerLogger(r.Context(), h.logger, "ImportHandler", "Commit").InfoContext(r.Context(), "resuming failed commit")
	}
	result, err := commit(r.Context(), transactionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, result)
}

func (h *ImportHandler) transactionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return "", false
	}
	id, ok := TransactionIDFromContext(r.Context())
	if !ok || strings.TrimSpace(id) == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidTransactionID)
		return "", false
	}
	return id, true
}

func (h *ImportHandler) renderTransaction(w http.ResponseWriter, r *http.Request, transactionID string, status int) {
	tx, selection, err := h.service.GetTransaction(r.Context(), transactionID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, status, transactionResponse{Transaction: tx, Selection: selection})
}

type createImportRequest struct {
	Semester      string                     `json:"semester"`
	Rows          []application.InputRow     `json:"rows"`
	DirectoryRows []application.DirectoryRow `json:"directoryRows"`
	Options       optionsRequest             `json:"options"`
}

type optionsRequest struct {
	OnRowError         string            `json:"onRowError"`
	InstructorFallback string            `json:"instructorFallback"`
	Resolutions        map[string]string `json:"resolutions"`
}

func (o optionsRequest) toOptions() (application.BuildOptions, error) {
	options := application.BuildOptions{Resolutions: o.Resolutions}
	invalid := map[string]string{}

	switch strings.ToLower(strings.TrimSpace(o.OnRowError)) {
	case "", "skip":
		options.OnRowError = application.SkipRow
	case "abort":
		options.OnRowError = application.AbortImport
	default:
		invalid["options.onRowError"] = "must be skip or abort"
	}

	switch strings.ToLower(strings.TrimSpace(o.InstructorFallback)) {
	case "", "reject":
		options.InstructorFallback = application.RejectRow
	case "demote":
		options.InstructorFallback = application.DemoteToStaff
	default:
		invalid["options.instructorFallback"] = "must be reject or demote"
	}

	if len(invalid) > 0 {
		return application.BuildOptions{}, &application.ValidationError{FieldErrors: invalid}
	}
	return options, nil
}

type selectionRequest struct {
	ChangeIDs []string            `json:"changeIds"`
	Fields    map[string][]string `json:"fields"`
}

type toggleRequest struct {
	Selected *bool `json:"selected"`
}

type transactionResponse struct {
	application.Transaction
	Selection application.Selection `json:"selection"`
}
