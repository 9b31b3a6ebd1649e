package application

import (
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/example/course-scheduler/internal/scheduler"
)

// TransactionStore holds transactions under review together with their
// selection state. Entries expire ttl after their last use, except while a
// commit is in progress or waiting for a retry.
type TransactionStore struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]*transactionEntry
}

type transactionEntry struct {
	tx        *Transaction
	selection Selection
	groups    map[string][]string
	groupOf   map[string]string
	expiresAt time.Time
}

// NewTransactionStore returns an empty store. Non-positive ttl and maxEntries
// fall back to two hours and 256 entries.
func NewTransactionStore(ttl time.Duration, maxEntries int, now func() time.Time) *TransactionStore {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if now == nil {
		now = time.Now
	}
	return &TransactionStore{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*transactionEntry),
	}
}

// Put stores tx with every Change selected and indexes its groups.
func (s *TransactionStore) Put(tx *Transaction) {
	if s == nil || tx == nil {
		return
	}
	entry := &transactionEntry{
		tx:        tx,
		selection: Selection{Changes: make(map[string]bool, len(tx.Changes)), Fields: make(map[string][]string)},
		groups:    make(map[string][]string),
		groupOf:   make(map[string]string),
	}
	for _, change := range tx.Changes {
		entry.selection.Changes[change.ID] = true
		if change.GroupKey == nil {
			continue
		}
		entry.groups[*change.GroupKey] = append(entry.groups[*change.GroupKey], change.ID)
		entry.groupOf[change.ID] = *change.GroupKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupLocked()
	if len(s.entries) >= s.maxEntries {
		s.evictOneLocked()
	}
	entry.expiresAt = s.now().Add(s.ttl)
	s.entries[tx.ID] = entry
}

// Get returns copies of the transaction and its selection.
func (s *TransactionStore) Get(id string) (Transaction, Selection, error) {
	if s == nil {
		return Transaction{}, Selection{}, fmt.Errorf("TransactionStore is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.lookupLocked(id)
	if err != nil {
		return Transaction{}, Selection{}, err
	}
	return cloneTransaction(entry.tx), cloneSelection(entry.selection), nil
}

// SetSelection replaces the selection. Every listed change selects its whole
// group. fieldMap narrows modify changes to some of their diff keys; a change
// missing from fieldMap applies all of them.
func (s *TransactionStore) SetSelection(id string, changeIDs []string, fieldMap map[string][]string) error {
	if s == nil {
		return fmt.Errorf("TransactionStore is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if entry.tx.Status != StatusPending {
		return &TransactionStateError{TransactionID: id, State: entry.tx.Status, Operation: "change selection"}
	}

	vErr := &ValidationError{}
	selected := make(map[string]bool, len(changeIDs))
	for _, changeID := range changeIDs {
		if _, ok := entry.tx.Change(changeID); !ok {
			vErr.add("changeIds", fmt.Sprintf("unknown change %s", changeID))
			continue
		}
		for _, member := range entry.cohort(changeID) {
			selected[member] = true
		}
	}
	fields := validateFieldMap(entry.tx, fieldMap, vErr)
	if vErr.HasErrors() {
		return vErr
	}

	for _, change := range entry.tx.Changes {
		entry.selection.Changes[change.ID] = selected[change.ID]
	}
	entry.selection.Fields = fields
	return nil
}

// Toggle selects or deselects a change together with its group.
func (s *TransactionStore) Toggle(id, changeID string, selected bool) error {
	if s == nil {
		return fmt.Errorf("TransactionStore is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	if entry.tx.Status != StatusPending {
		return &TransactionStateError{TransactionID: id, State: entry.tx.Status, Operation: "change selection"}
	}
	if _, ok := entry.tx.Change(changeID); !ok {
		return fmt.Errorf("%w: change %s", ErrNotFound, changeID)
	}
	for _, member := range entry.cohort(changeID) {
		entry.selection.Changes[member] = selected
	}
	return nil
}

// update runs fn on the live transaction and selection while holding the lock.
func (s *TransactionStore) update(id string, fn func(tx *Transaction, sel *Selection) error) error {
	if s == nil {
		return fmt.Errorf("TransactionStore is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	return fn(entry.tx, &entry.selection)
}

// Len reports how many transactions are held.
func (s *TransactionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *TransactionStore) lookupLocked(id string) (*transactionEntry, error) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	now := s.now()
	if now.After(entry.expiresAt) && entry.tx.Status != StatusCommitting {
		delete(s.entries, id)
		return nil, fmt.Errorf("%w: transaction %s expired", ErrNotFound, id)
	}
	entry.expiresAt = now.Add(s.ttl)
	return entry, nil
}

func (s *TransactionStore) cleanupLocked() {
	now := s.now()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) && entry.tx.Status != StatusCommitting {
			delete(s.entries, key)
		}
	}
}

// evictOneLocked drops the entry closest to expiry that is not committing.
func (s *TransactionStore) evictOneLocked() {
	victim := ""
	var earliest time.Time
	for key, entry := range s.entries {
		if entry.tx.Status == StatusCommitting {
			continue
		}
		if victim == "" || entry.expiresAt.Before(earliest) {
			victim, earliest = key, entry.expiresAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}

// cohort returns the change and every change sharing its group key.
func (e *transactionEntry) cohort(changeID string) []string {
	group, ok := e.groupOf[changeID]
	if !ok {
		return []string{changeID}
	}
	return e.groups[group]
}

func validateFieldMap(tx *Transaction, fieldMap map[string][]string, vErr *ValidationError) map[string][]string {
	fields := make(map[string][]string, len(fieldMap))
	ids := make([]string, 0, len(fieldMap))
	for changeID := range fieldMap {
		ids = append(ids, changeID)
	}
	sort.Strings(ids)

	for _, changeID := range ids {
		keys := fieldMap[changeID]
		field := "fields." + changeID
		change, ok := tx.Change(changeID)
		switch {
		case !ok:
			vErr.add(field, "unknown change")
			continue
		case change.Action != ActionModify:
			vErr.add(field, "field selection applies to modify changes only")
			continue
		case len(keys) == 0:
			vErr.add(field, "select at least one field or deselect the change")
			continue
		}

		allowed := make(map[string]bool, len(change.Diff))
		for _, entry := range change.Diff {
			allowed[entry.Key] = true
		}
		picked := make([]string, 0, len(keys))
		seen := make(map[string]bool, len(keys))
		for _, key := range keys {
			if !allowed[key] {
				vErr.add(field, fmt.Sprintf("%s is not a changed field", key))
				break
			}
			if !seen[key] {
				seen[key] = true
				picked = append(picked, key)
			}
		}
		fields[changeID] = picked
	}
	return fields
}

func cloneTransaction(tx *Transaction) Transaction {
	out := *tx
	out.Changes = append([]Change{}, tx.Changes...)
	out.Issues = append([]RowIssue{}, tx.Issues...)
	out.Warnings = append([]scheduler.Conflict{}, tx.Warnings...)
	if tx.Progress != nil {
		progress := *tx.Progress
		progress.IDMap = maps.Clone(tx.Progress.IDMap)
		progress.plan = nil
		progress.audited = nil
		out.Progress = &progress
	}
	return out
}

func cloneSelection(sel Selection) Selection {
	out := Selection{Changes: maps.Clone(sel.Changes), Fields: make(map[string][]string, len(sel.Fields))}
	for id, keys := range sel.Fields {
		out.Fields[id] = append([]string{}, keys...)
	}
	return out
}
