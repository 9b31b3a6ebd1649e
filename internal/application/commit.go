package application

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/example/course-scheduler/internal/persistence"
)

func newUUID() string { return uuid.NewString() }

// commitPlan is the frozen list of writes a commit applies. It is computed once
// when the commit starts so a retry replays exactly the same operations.
type commitPlan struct {
	batches  [][]plannedWrite
	dropped  []DroppedReference
	added    int
	modified int
	deleted  int
}

type plannedWrite struct {
	change Change
	op     persistence.WriteOp
}

// CommitEngine applies the selected Changes of a transaction in bounded,
// idempotent batches and writes one audit record per applied Change.
type CommitEngine struct {
	store        persistence.DocumentStore
	transactions *TransactionStore
	batchLimit   int
	idGenerator  func() string
	now          func() time.Time
}

// NewCommitEngine wires the document store and transaction store. batchLimit
// is capped at persistence.MaxBatchOperations.
func NewCommitEngine(store persistence.DocumentStore, transactions *TransactionStore, batchLimit int, idGenerator func() string, now func() time.Time) *CommitEngine {
	if batchLimit <= 0 || batchLimit > persistence.MaxBatchOperations {
		batchLimit = persistence.MaxBatchOperations
	}
	if idGenerator == nil {
		idGenerator = newUUID
	}
	if now == nil {
		now = time.Now
	}
	return &CommitEngine{
		store:        store,
		transactions: transactions,
		batchLimit:   batchLimit,
		idGenerator:  idGenerator,
		now:          now,
	}
}

// Commit moves a pending transaction to committing, applies its selection and
// marks it committed. A failed batch leaves it committing for RetryCommit.
func (e *CommitEngine) Commit(ctx context.Context, transactionID string) (CommitResult, error) {
	if e == nil {
		return CommitResult{}, fmt.Errorf("CommitEngine is nil")
	}
	err := e.transactions.update(transactionID, func(tx *Transaction, sel *Selection) error {
		if tx.Status != StatusPending {
			return &TransactionStateError{TransactionID: tx.ID, State: tx.Status, Operation: "commit"}
		}
		plan, idMap, err := e.plan(tx, *sel)
		if err != nil {
			return err
		}
		tx.Status = StatusCommitting
		tx.Progress = &CommitProgress{
			IDMap:   idMap,
			Batches: len(plan.batches),
			plan:    plan,
			audited: make(map[string]string),
			running: true,
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}
	return e.run(ctx, transactionID)
}

// RetryCommit resumes a commit whose previous attempt failed, starting with
// the first batch that was not applied.
func (e *CommitEngine) RetryCommit(ctx context.Context, transactionID string) (CommitResult, error) {
	if e == nil {
		return CommitResult{}, fmt.Errorf("CommitEngine is nil")
	}
	err := e.transactions.update(transactionID, func(tx *Transaction, _ *Selection) error {
		if tx.Status != StatusCommitting || tx.Progress == nil || tx.Progress.running {
			return &TransactionStateError{TransactionID: tx.ID, State: tx.Status, Operation: "retry commit"}
		}
		tx.Progress.running = true
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}
	return e.run(ctx, transactionID)
}

// Cancel discards a pending transaction's changes.
func (e *CommitEngine) Cancel(transactionID string) error {
	return e.transactions.update(transactionID, func(tx *Transaction, _ *Selection) error {
		if tx.Status != StatusPending {
			return &TransactionStateError{TransactionID: tx.ID, State: tx.Status, Operation: "cancel"}
		}
		tx.Status = StatusCancelled
		return nil
	})
}

func (e *CommitEngine) run(ctx context.Context, transactionID string) (CommitResult, error) {
	var (
		plan    *commitPlan
		applied int
	)
	if err := e.transactions.update(transactionID, func(tx *Transaction, _ *Selection) error {
		plan, applied = tx.Progress.plan, tx.Progress.AppliedBatches
		return nil
	}); err != nil {
		return CommitResult{}, err
	}

	for i := applied; i < len(plan.batches); i++ {
		batch := plan.batches[i]
		ops := make([]persistence.WriteOp, len(batch))
		for n, write := range batch {
			ops[n] = write.op
		}
		if err := e.store.BatchWrite(ctx, ops); err != nil {
			return CommitResult{}, e.fail(transactionID, i, err)
		}
		if err := e.audit(ctx, transactionID, batch); err != nil {
			return CommitResult{}, e.fail(transactionID, i, err)
		}
		if err := e.transactions.update(transactionID, func(tx *Transaction, _ *Selection) error {
			tx.Progress.AppliedBatches = i + 1
			return nil
		}); err != nil {
			return CommitResult{}, err
		}
	}

	result := CommitResult{
		TransactionID: transactionID,
		Added:         plan.added,
		Modified:      plan.modified,
		Deleted:       plan.deleted,
		Batches:       len(plan.batches),
		AuditIDs:      []string{},
		Dropped:       append([]DroppedReference{}, plan.dropped...),
	}
	err := e.transactions.update(transactionID, func(tx *Transaction, _ *Selection) error {
		for _, batch := range plan.batches {
			for _, write := range batch {
				result.AuditIDs = append(result.AuditIDs, tx.Progress.audited[write.change.ID])
			}
		}
		tx.Status = StatusCommitted
		tx.Progress.running = false
		tx.Progress.LastError = ""
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}
	return result, nil
}

// audit appends one record per change of the batch that has none yet.
func (e *CommitEngine) audit(ctx context.Context, transactionID string, batch []plannedWrite) error {
	var audited map[string]string
	if err := e.transactions.update(transactionID, func(tx *Transaction, _ *Selection) error {
		audited = maps.Clone(tx.Progress.audited)
		return nil
	}); err != nil {
		return err
	}

	for _, write := range batch {
		if _, done := audited[write.change.ID]; done {
			continue
		}
		digest, err := auditDigest(write.op)
		if err != nil {
			return err
		}
		record := persistence.AuditRecord{
			ID:            e.idGenerator(),
			TransactionID: transactionID,
			ChangeID:      write.change.ID,
			Collection:    write.op.Collection,
			Action:        string(write.change.Action),
			TargetID:      write.op.ID,
			Fields:        write.op.Fields.Clone(),
			Digest:        digest,
			AppliedAt:     e.now(),
		}
		if err := e.store.AppendAudit(ctx, record); err != nil {
			return err
		}
		if err := e.transactions.update(transactionID, func(tx *Transaction, _ *Selection) error {
			tx.Progress.audited[write.change.ID] = record.ID
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *CommitEngine) fail(transactionID string, batch int, cause error) error {
	failure := &CommitFailedError{TransactionID: transactionID, Batch: batch + 1, AppliedBatches: batch, Err: cause}
	_ = e.transactions.update(transactionID, func(tx *Transaction, _ *Selection) error {
		tx.Progress.running = false
		tx.Progress.LastError = cause.Error()
		return nil
	})
	return failure
}

// plan mints real ids for the selected adds and turns every selected Change
// into one write, grouped into batches.
func (e *CommitEngine) plan(tx *Transaction, sel Selection) (*commitPlan, map[string]string, error) {
	idMap := make(map[string]string)
	for _, change := range tx.Changes {
		if change.Action == ActionAdd && sel.Selected(change.ID) {
			idMap[change.PendingID] = e.idGenerator()
		}
	}

	stamp, err := json.Marshal(e.now().UTC())
	if err != nil {
		return nil, nil, err
	}

	plan := &commitPlan{dropped: []DroppedReference{}}
	var writes []plannedWrite
	for _, change := range tx.Changes {
		if !sel.Selected(change.ID) {
			continue
		}
		op := persistence.WriteOp{Collection: change.Collection}
		switch change.Action {
		case ActionAdd:
			op.Action = persistence.WriteSet
			op.ID = idMap[change.PendingID]
			op.Fields = change.NewData.Clone()
			if op.Fields == nil {
				op.Fields = persistence.Fields{}
			}
			op.Fields["createdAt"] = stamp
			op.Fields["updatedAt"] = stamp
			plan.added++
		case ActionModify:
			op.Action = persistence.WriteMerge
			op.ID = *change.TargetID
			op.Fields = modifyFields(change, sel.Fields[change.ID])
			op.Fields["updatedAt"] = stamp
			plan.modified++
		case ActionDelete:
			op.Action = persistence.WriteDelete
			op.ID = *change.TargetID
			plan.deleted++
		default:
			return nil, nil, fmt.Errorf("change %s: unknown action %q", change.ID, change.Action)
		}

		if op.Fields != nil {
			dropped, err := resolveReferences(change.ID, op.Fields, idMap)
			if err != nil {
				return nil, nil, err
			}
			plan.dropped = append(plan.dropped, dropped...)
		}
		writes = append(writes, plannedWrite{change: change, op: op})
	}

	for start := 0; start < len(writes); start += e.batchLimit {
		end := min(start+e.batchLimit, len(writes))
		plan.batches = append(plan.batches, writes[start:end])
	}
	return plan, idMap, nil
}

// modifyFields returns the imported values of the chosen diff keys, or of
// every diff key when keys is empty. A null value removes the stored field.
func modifyFields(change Change, keys []string) persistence.Fields {
	if len(keys) == 0 {
		keys = change.DiffKeys()
	}
	fields := make(persistence.Fields, len(keys)+1)
	for _, key := range keys {
		for _, entry := range change.Diff {
			if entry.Key == key {
				fields[key] = append(json.RawMessage(nil), entry.To...)
				break
			}
		}
	}
	return fields
}

// resolveReferences rewrites pending identities in fields to the minted ids.
// References to entities whose add was not selected are removed.
func resolveReferences(changeID string, fields persistence.Fields, idMap map[string]string) ([]DroppedReference, error) {
	var dropped []DroppedReference

	if raw, ok := fields["roomId"]; ok {
		var roomID string
		if err := json.Unmarshal(raw, &roomID); err == nil && IsPendingID(roomID) {
			if minted, ok := idMap[roomID]; ok {
				if err := fields.Set("roomId", minted); err != nil {
					return nil, err
				}
			} else {
				delete(fields, "roomId")
				dropped = append(dropped, DroppedReference{ChangeID: changeID, Field: "roomId", PendingID: roomID})
			}
		}
	}

	if raw, ok := fields["instructors"]; ok {
		var instructors []persistence.ScheduleInstructor
		if err := json.Unmarshal(raw, &instructors); err != nil {
			return nil, fmt.Errorf("change %s: decode instructors: %w", changeID, err)
		}
		kept := make([]persistence.ScheduleInstructor, 0, len(instructors))
		for _, instructor := range instructors {
			if IsPendingID(instructor.PersonID) {
				minted, ok := idMap[instructor.PersonID]
				if !ok {
					dropped = append(dropped, DroppedReference{ChangeID: changeID, Field: "instructors", PendingID: instructor.PersonID})
					continue
				}
				instructor.PersonID = minted
			}
			kept = append(kept, instructor)
		}
		if err := fields.Set("instructors", kept); err != nil {
			return nil, err
		}
	}
	return dropped, nil
}

// auditDigest is a BLAKE2b-256 digest over the identity and applied fields of
// a write.
func auditDigest(op persistence.WriteOp) (string, error) {
	body, err := op.Fields.JSON()
	if err != nil {
		return "", err
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	for _, part := range [][]byte{[]byte(op.Collection), []byte(op.ID), []byte(op.Action), body} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
