package application

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/example/course-scheduler/internal/persistence"
	"github.com/example/course-scheduler/internal/scheduler"
)

// ChangeAction is the kind of write a Change requests.
type ChangeAction string

const (
	ActionAdd    ChangeAction = "add"
	ActionModify ChangeAction = "modify"
	ActionDelete ChangeAction = "delete"
)

// TransactionStatus is a state of the commit state machine.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitting TransactionStatus = "committing"
	StatusCommitted  TransactionStatus = "committed"
	StatusCancelled  TransactionStatus = "cancelled"
)

// PendingPrefix marks identities assigned to entities that do not exist yet.
const PendingPrefix = "pending:"

// IsPendingID reports whether id is a transaction-local pending identity.
func IsPendingID(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

// DiffEntry is one differing trackable field of a modify Change.
type DiffEntry struct {
	Key  string          `json:"key"`
	From json.RawMessage `json:"from"`
	To   json.RawMessage `json:"to"`
}

// FromDisplay renders the stored value for review.
func (d DiffEntry) FromDisplay() string { return displayValue(d.From) }

// ToDisplay renders the imported value for review.
func (d DiffEntry) ToDisplay() string { return displayValue(d.To) }

func displayValue(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if trimmed[0] == '"' && json.Unmarshal(trimmed, &s) == nil {
		return s
	}
	return string(trimmed)
}

// Suggestion points a reviewer at a stored entity that looks like a new one.
type Suggestion struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Change is one add, modify or delete instruction against a single record.
type Change struct {
	ID         string             `json:"id"`
	Collection string             `json:"collection"`
	Action     ChangeAction       `json:"action"`
	TargetID   *string            `json:"targetId"`
	PendingID  string             `json:"pendingId,omitempty"`
	NewData    persistence.Fields `json:"newData,omitempty"`
	Diff       []DiffEntry        `json:"diff"`
	GroupKey   *string            `json:"groupKey"`

	// Label is a short human description such as "Dragoo, Sheri" or "ENGL 101-01".
	Label       string       `json:"label,omitempty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// DiffKeys returns the keys of the change's diff in order.
func (c Change) DiffKeys() []string {
	keys := make([]string, len(c.Diff))
	for i, entry := range c.Diff {
		keys[i] = entry.Key
	}
	return keys
}

// RowIssue records an input row problem the build tolerated. Row is the
// sheet line when the reader supplied one, otherwise the 1-based position
// among the submitted rows.
type RowIssue struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Raw     string `json:"raw,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`

	// Skipped is false when the row was still imported, e.g. after demoting an instructor.
	Skipped bool `json:"skipped"`
}

// Transaction is the reviewable set of Changes produced by one import run.
type Transaction struct {
	ID        string               `json:"id"`
	Semester  string               `json:"semester"`
	CreatedAt time.Time            `json:"createdAt"`
	Changes   []Change             `json:"changes"`
	Status    TransactionStatus    `json:"status"`
	Issues    []RowIssue           `json:"issues"`
	Warnings  []scheduler.Conflict `json:"warnings"`
	Progress  *CommitProgress      `json:"progress,omitempty"`
}

// Change returns the change with the given id.
func (t *Transaction) Change(id string) (Change, bool) {
	for _, change := range t.Changes {
		if change.ID == id {
			return change, true
		}
	}
	return Change{}, false
}

// CommitProgress is the state a failed commit leaves behind for RetryCommit.
type CommitProgress struct {
	IDMap          map[string]string `json:"idMap"`
	Batches        int               `json:"batches"`
	AppliedBatches int               `json:"appliedBatches"`
	LastError      string            `json:"lastError,omitempty"`

	plan    *commitPlan
	audited map[string]string
	running bool
}

// Selection is the reviewer's choice of Changes and, per modify Change, diff keys.
type Selection struct {
	Changes map[string]bool     `json:"changes"`
	Fields  map[string][]string `json:"fields"`
}

// Selected reports whether the change is selected.
func (s Selection) Selected(changeID string) bool {
	return s.Changes[changeID]
}

// DroppedReference is a pending identity removed from a write because the
// Change that would have created it was not selected.
type DroppedReference struct {
	ChangeID  string `json:"changeId"`
	Field     string `json:"field"`
	PendingID string `json:"pendingId"`
}

// CommitResult summarises an applied Transaction.
type CommitResult struct {
	TransactionID string             `json:"transactionId"`
	Added         int                `json:"added"`
	Modified      int                `json:"modified"`
	Deleted       int                `json:"deleted"`
	Batches       int                `json:"batches"`
	AuditIDs      []string           `json:"auditIds"`
	Dropped       []DroppedReference `json:"dropped"`
}

// InputRow is one course section row of a spreadsheet export.
type InputRow struct {
	CourseCode          string `json:"courseCode" validate:"required"`
	CourseTitle         string `json:"courseTitle"`
	Section             string `json:"section" validate:"required_without=CRN"`
	Term                string `json:"term" validate:"required"`
	Credits             string `json:"credits"`
	InstructorField     string `json:"instructorField"`
	MeetingPatternField string `json:"meetingPatternField"`
	RoomField           string `json:"roomField"`
	CRN                 string `json:"crn" validate:"omitempty,numeric"`

	// Line is the row's position in the source sheet, header included. Zero when unknown.
	Line int `json:"line,omitempty"`
}

// DirectoryRow is one person row of a staff directory export.
type DirectoryRow struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	JobTitle   string `json:"jobTitle"`
	Department string `json:"department"`
	ExternalID string `json:"externalId" validate:"omitempty,numeric"`

	// Line is the row's position in the source sheet, header included. Zero when unknown.
	Line int `json:"line,omitempty"`
}

// Snapshot is the stored state the resolver and builder compare against.
type Snapshot struct {
	People    []persistence.Person
	Schedules []persistence.Schedule
	Rooms     []persistence.Room
}

// RowErrorPolicy decides what a failing row does to the whole build.
type RowErrorPolicy int

const (
	// SkipRow records the failure as an issue and continues.
	SkipRow RowErrorPolicy = iota
	// AbortImport stops the build at the first failing row.
	AbortImport
)

// InstructorPolicy decides what happens to rows with a malformed instructor field.
type InstructorPolicy int

const (
	// RejectRow treats the malformed field like any other row error.
	RejectRow InstructorPolicy = iota
	// DemoteToStaff imports the row with a Staff placeholder instead.
	DemoteToStaff
)

// BuildOptions tunes how rows are turned into Changes.
type BuildOptions struct {
	OnRowError         RowErrorPolicy
	InstructorFallback InstructorPolicy

	// Resolutions maps a normalized name (see NormalizeName) to the stored id
	// a reviewer picked for an otherwise ambiguous match.
	Resolutions map[string]string
}
