package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/course-scheduler/internal/application"
	"github.com/example/course-scheduler/internal/persistence/memory"
	"github.com/example/course-scheduler/internal/testfixtures"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, store *memory.Store) http.Handler {
	t.Helper()
	svc := testfixtures.NewServiceFactory().NewImportService(testfixtures.ImportServiceDeps{Store: store})
	return NewRouter(RouterConfig{
		Imports:    NewImportHandler(svc, discardLogger()),
		Metrics:    promhttp.Handler(),
		Middleware: []func(http.Handler) http.Handler{RequestLogger(discardLogger())},
	})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeTransaction(t *testing.T, rec *httptest.ResponseRecorder) transactionResponse {
	t.Helper()
	var resp transactionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode transaction response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func createYooImport(t *testing.T, handler http.Handler) transactionResponse {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/imports", createImportRequest{
		Semester: testfixtures.DefaultSemester,
		Rows:     []application.InputRow{testfixtures.YooRow()},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeTransaction(t, rec)
}

func TestImportHandlers_Lifecycle(t *testing.T) {
	t.Parallel()

	store := memory.New(0)
	handler := newTestRouter(t, store)

	created := createYooImport(t, handler)
	if len(created.Changes) != 2 || created.Status != application.StatusPending {
		t.Fatalf("unexpected transaction %+v", created.Transaction)
	}
	for _, change := range created.Changes {
		if !created.Selection.Selected(change.ID) {
			t.Fatalf("expected %s selected by default", change.ID)
		}
	}

	path := "/imports/" + created.ID
	rec := doJSON(t, handler, http.MethodPut, path+"/changes/"+created.Changes[1].ID, map[string]bool{"selected": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from toggle, got %d: %s", rec.Code, rec.Body.String())
	}
	toggled := decodeTransaction(t, rec)
	if toggled.Selection.Selected(created.Changes[0].ID) {
		t.Fatalf("expected toggle to cascade to the row group")
	}

	rec = doJSON(t, handler, http.MethodPut, path+"/selection", selectionRequest{
		ChangeIDs: []string{created.Changes[0].ID, created.Changes[1].ID},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from selection, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, path+"/commit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from commit, got %d: %s", rec.Code, rec.Body.String())
	}
	var result application.CommitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode commit result: %v", err)
	}
	if result.Added != 2 || len(result.AuditIDs) != 2 {
		t.Fatalf("unexpected commit result %+v", result)
	}

	rec = doJSON(t, handler, http.MethodPost, path+"/commit", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second commit, got %d", rec.Code)
	}
	if got := decodeError(t, rec).ErrorCode; got != "invalid_transaction_state" {
		t.Fatalf("unexpected error code %q", got)
	}

	rec = doJSON(t, handler, http.MethodGet, path, nil)
	if got := decodeTransaction(t, rec); got.Status != application.StatusCommitted {
		t.Fatalf("expected committed status, got %s", got.Status)
	}
}

func TestImportHandlers_ErrorMapping(t *testing.T) {
	t.Parallel()

	handler := newTestRouter(t, memory.New(0))
	created := createYooImport(t, handler)
	path := "/imports/" + created.ID

	t.Run("unknown transaction is 404", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/imports/missing", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("invalid field selection is 422", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPut, path+"/selection", selectionRequest{
			Fields: map[string][]string{created.Changes[0].ID: {"firstName"}},
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		resp := decodeError(t, rec)
		if _, ok := resp.Errors["fields."+created.Changes[0].ID]; !ok || resp.ErrorCode != "validation" {
			t.Fatalf("unexpected error body %+v", resp)
		}
	})

	t.Run("missing semester is 422", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/imports", createImportRequest{Rows: []application.InputRow{testfixtures.YooRow()}})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("unknown option is 422", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/imports", createImportRequest{
			Semester: testfixtures.DefaultSemester,
			Options:  optionsRequest{OnRowError: "explode"},
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
	})

	t.Run("aborted import reports the row", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodPost, "/imports", createImportRequest{
			Semester: testfixtures.DefaultSemester,
			Rows:     []application.InputRow{testfixtures.NewCourseRow(testfixtures.WithMeetings("MWF 9am-9:50"))},
			Options:  optionsRequest{OnRowError: "abort"},
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeError(t, rec)
		if resp.ErrorCode != "import_aborted" || resp.Row != 1 || resp.Field != "meetingPatternField" {
			t.Fatalf("unexpected error body %+v", resp)
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, path+"/selection", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("wrong method is 405", func(t *testing.T) {
		rec := doJSON(t, handler, http.MethodGet, "/imports", nil)
		if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
			t.Fatalf("expected 405 with Allow header, got %d", rec.Code)
		}
	})
}

func TestImportHandlers_CommitFailureAndRetry(t *testing.T) {
	t.Parallel()

	store := memory.New(0)
	handler := newTestRouter(t, store)
	created := createYooImport(t, handler)
	path := "/imports/" + created.ID

	store.FailNextBatch(errors.New("disk full"))
	rec := doJSON(t, handler, http.MethodPost, path+"/commit", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeError(t, rec).ErrorCode; got != "commit_failed" {
		t.Fatalf("unexpected error code %q", got)
	}

	rec = doJSON(t, handler, http.MethodPost, path+"/commit?retry=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from retry, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestImportHandlers_CancelAndMultipart(t *testing.T) {
	t.Parallel()

	handler := newTestRouter(t, memory.New(0))

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("semester", testfixtures.DefaultSemester)
	part, err := form.CreateFormFile("file", "fall.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = io.WriteString(part, "Course,Section,Term,Room\nART 100,02,Fall 2024,ART 2\n")
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/imports", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeTransaction(t, rec)
	if len(created.Changes) != 2 {
		t.Fatalf("expected room and schedule adds, got %+v", created.Changes)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/imports/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodDelete, "/imports/"+created.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", rec.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	t.Parallel()

	handler := newTestRouter(t, memory.New(0))
	createYooImport(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scheduler_import_transactions_built_total") {
		t.Fatalf("expected import metrics to be exported")
	}
}
