package memory

import (
	"context"
	"sort"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-faster/errors"

	"github.com/example/course-scheduler/internal/persistence"
)

// Store is an in-process DocumentStore. Every call works on copies so
// callers never share maps with the store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	audit       []persistence.AuditRecord
	batchLimit  int
	failNext    error
}

var _ persistence.DocumentStore = (*Store)(nil)

// New returns an empty store accepting batches up to batchLimit operations.
func New(batchLimit int) *Store {
	if batchLimit <= 0 || batchLimit > persistence.MaxBatchOperations {
		batchLimit = persistence.MaxBatchOperations
	}
	return &Store{
		collections: make(map[string]map[string][]byte),
		batchLimit:  batchLimit,
	}
}

// FailNextBatch makes the next BatchWrite return err without writing.
func (s *Store) FailNextBatch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// GetAll returns every document of the collection ordered by ID.
func (s *Store) GetAll(ctx context.Context, collection string) ([]persistence.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]persistence.Document, 0, len(s.collections[collection]))
	for id, raw := range s.collections[collection] {
		fields, err := persistence.DecodeDocument(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "memory: %s/%s", collection, id)
		}
		docs = append(docs, persistence.Document{ID: id, Fields: fields})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// GetByID returns a single document or persistence.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, collection, id string) (persistence.Document, error) {
	if err := ctx.Err(); err != nil {
		return persistence.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.collections[collection][id]
	if !ok {
		return persistence.Document{}, persistence.ErrNotFound
	}
	fields, err := persistence.DecodeDocument(raw)
	if err != nil {
		return persistence.Document{}, errors.Wrapf(err, "memory: %s/%s", collection, id)
	}
	return persistence.Document{ID: id, Fields: fields}, nil
}

// Upsert merges fields into the document, creating it when absent.
func (s *Store) Upsert(ctx context.Context, collection, id string, fields persistence.Fields) error {
	return s.BatchWrite(ctx, []persistence.WriteOp{{
		Collection: collection,
		ID:         id,
		Action:     persistence.WriteMerge,
		Fields:     fields,
	}})
}

// DeleteByID removes the document if it exists.
func (s *Store) DeleteByID(ctx context.Context, collection, id string) error {
	return s.BatchWrite(ctx, []persistence.WriteOp{{
		Collection: collection,
		ID:         id,
		Action:     persistence.WriteDelete,
	}})
}

// BatchWrite stages all ops against a copy of the touched documents and
// publishes them only when every op succeeded.
func (s *Store) BatchWrite(ctx context.Context, ops []persistence.WriteOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := persistence.ValidateBatch(ops, s.batchLimit); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}

	type key struct{ collection, id string }
	staged := make(map[key][]byte)
	deleted := make(map[key]bool)
	current := func(k key) ([]byte, bool) {
		if deleted[k] {
			return nil, false
		}
		if raw, ok := staged[k]; ok {
			return raw, true
		}
		raw, ok := s.collections[k.collection][k.id]
		return raw, ok
	}

	for _, op := range ops {
		k := key{op.Collection, op.ID}
		switch op.Action {
		case persistence.WriteDelete:
			delete(staged, k)
			deleted[k] = true
		case persistence.WriteSet:
			raw, err := op.Fields.JSON()
			if err != nil {
				return err
			}
			staged[k] = raw
			delete(deleted, k)
		case persistence.WriteMerge:
			patch, err := op.Fields.JSON()
			if err != nil {
				return err
			}
			base, ok := current(k)
			if !ok {
				base = []byte("{}")
			}
			merged, err := jsonpatch.MergePatch(base, patch)
			if err != nil {
				return errors.Wrapf(err, "memory: merge %s/%s", op.Collection, op.ID)
			}
			staged[k] = merged
			delete(deleted, k)
		}
	}

	for k := range deleted {
		delete(s.collections[k.collection], k.id)
	}
	for k, raw := range staged {
		docs, ok := s.collections[k.collection]
		if !ok {
			docs = make(map[string][]byte)
			s.collections[k.collection] = docs
		}
		docs[k.id] = raw
	}
	return nil
}

// AppendAudit stores an audit record. Appending the same record ID twice is a no-op.
func (s *Store) AppendAudit(ctx context.Context, record persistence.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.audit {
		if existing.ID == record.ID {
			return nil
		}
	}
	record.Fields = record.Fields.Clone()
	s.audit = append(s.audit, record)
	return nil
}

// ListAudit returns the audit records of a transaction in append order.
// An empty transactionID lists every record.
func (s *Store) ListAudit(ctx context.Context, transactionID string) ([]persistence.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]persistence.AuditRecord, 0)
	for _, record := range s.audit {
		if transactionID != "" && record.TransactionID != transactionID {
			continue
		}
		record.Fields = record.Fields.Clone()
		records = append(records, record)
	}
	return records, nil
}
