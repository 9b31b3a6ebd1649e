package persistence

import "context"

// MaxBatchOperations is the largest batch any DocumentStore accepts.
const MaxBatchOperations = 500

// WriteAction selects how a WriteOp touches a document.
type WriteAction string

const (
	// WriteSet replaces the whole document.
	WriteSet WriteAction = "set"
	// WriteMerge merges the given fields into the document, creating it if needed.
	WriteMerge WriteAction = "merge"
	// WriteDelete removes the document. Deleting a missing document is a no-op.
	WriteDelete WriteAction = "delete"
)

// Document is a stored record: an id and its JSON fields.
type Document struct {
	ID     string
	Fields Fields
}

// WriteOp is one operation of an atomic batch.
type WriteOp struct {
	Collection string
	ID         string
	Action     WriteAction
	Fields     Fields
}

// DocumentStore is the persistence contract the import engine depends on.
type DocumentStore interface {
	GetAll(ctx context.Context, collection string) ([]Document, error)
	GetByID(ctx context.Context, collection, id string) (Document, error)
	Upsert(ctx context.Context, collection, id string, fields Fields) error
	DeleteByID(ctx context.Context, collection, id string) error
	// BatchWrite applies every op or none of them.
	BatchWrite(ctx context.Context, ops []WriteOp) error
	AppendAudit(ctx context.Context, record AuditRecord) error
	ListAudit(ctx context.Context, transactionID string) ([]AuditRecord, error)
}

// ValidateBatch checks ops against the limit and the supported actions.
func ValidateBatch(ops []WriteOp, limit int) error {
	if limit <= 0 || limit > MaxBatchOperations {
		limit = MaxBatchOperations
	}
	if len(ops) > limit {
		return ErrBatchTooLarge
	}
	for _, op := range ops {
		if op.Collection == "" || op.ID == "" {
			return ErrInvalidOperation
		}
		switch op.Action {
		case WriteSet, WriteMerge, WriteDelete:
		default:
			return ErrInvalidOperation
		}
	}
	return nil
}
