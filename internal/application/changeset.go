package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/wI2L/jsondiff"

	"github.com/example/course-scheduler/internal/parse"
	"github.com/example/course-scheduler/internal/persistence"
	"github.com/example/course-scheduler/internal/scheduler"
)

// trackableFields lists, per collection and in display order, the fields an
// import may diff and write. System fields are never part of a diff.
var trackableFields = map[string][]string{
	persistence.CollectionPeople: {
		"externalId", "title", "firstName", "middleName", "lastName",
		"email", "jobTitle", "department", "roles",
	},
	persistence.CollectionSchedules: {
		"semester", "importKey", "crn", "courseCode", "courseTitle", "section", "credits",
		"instructors", "hasStaffPlaceholder", "meetings", "roomId",
	},
	persistence.CollectionRooms: {"name", "building", "number"},
}

// TrackableFields returns the diffable field names of a collection.
func TrackableFields(collection string) []string {
	return append([]string(nil), trackableFields[collection]...)
}

var nullJSON = json.RawMessage("null")

// BuildInput is everything one transaction build reads.
type BuildInput struct {
	Semester      string
	Rows          []InputRow
	DirectoryRows []DirectoryRow
	Snapshot      Snapshot
	Options       BuildOptions
}

// ChangeSetBuilder turns parsed rows into the Changes of a Transaction. It is
// pure: the only inputs are the rows and the snapshot.
type ChangeSetBuilder struct {
	validate    *validator.Validate
	classifier  *parse.RoleClassifier
	idGenerator func() string
	now         func() time.Time
}

// NewChangeSetBuilder wires the role classifier and the id and clock sources.
func NewChangeSetBuilder(classifier *parse.RoleClassifier, idGenerator func() string, now func() time.Time) *ChangeSetBuilder {
	if classifier == nil {
		classifier = parse.DefaultRoleClassifier()
	}
	if idGenerator == nil {
		idGenerator = newUUID
	}
	if now == nil {
		now = time.Now
	}
	return &ChangeSetBuilder{
		validate:    newRowValidator(),
		classifier:  classifier,
		idGenerator: idGenerator,
		now:         now,
	}
}

func newRowValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// buildState is the running state of one build. Row results are merged into it
// only when the whole row succeeded.
type buildState struct {
	tx          *Transaction
	resolver    *Resolver
	claimed     map[string]bool
	importKeys  map[string]int
	resulting   map[string]persistence.Schedule
	resultOrder []string
}

type rowResult struct {
	changes  []Change
	claimed  []string
	issues   []RowIssue
	schedule *persistence.Schedule
	key      string
}

func (r *rowResult) isClaimed(st *buildState, key string) bool {
	if st.claimed[key] {
		return true
	}
	for _, k := range r.claimed {
		if k == key {
			return true
		}
	}
	return false
}

// Build produces a pending Transaction. Directory rows are processed before
// course rows so course rows reuse the people they introduce.
func (b *ChangeSetBuilder) Build(in BuildInput) (*Transaction, error) {
	if b == nil {
		return nil, fmt.Errorf("ChangeSetBuilder is nil")
	}
	semester := strings.TrimSpace(in.Semester)
	if semester == "" {
		vErr := &ValidationError{}
		vErr.add("semester", "is required")
		return nil, vErr
	}

	st := &buildState{
		tx: &Transaction{
			ID:        b.idGenerator(),
			Semester:  semester,
			CreatedAt: b.now(),
			Changes:   []Change{},
			Status:    StatusPending,
			Issues:    []RowIssue{},
			Warnings:  []scheduler.Conflict{},
		},
		resolver:   NewResolver(in.Snapshot, semester, in.Options.Resolutions, b.idGenerator),
		claimed:    make(map[string]bool),
		importKeys: make(map[string]int),
		resulting:  make(map[string]persistence.Schedule),
	}
	for _, s := range st.resolver.SemesterSchedules() {
		st.resulting[s.ID] = s
		st.resultOrder = append(st.resultOrder, s.ID)
	}

	for i, row := range in.DirectoryRows {
		rowNum := rowNumber(i, row.Line)
		res, err := b.directoryRow(st, rowNum, row)
		if err := st.finishRow(rowNum, res, err, in.Options); err != nil {
			return nil, err
		}
	}

	for i, row := range in.Rows {
		rowNum := rowNumber(i, row.Line)
		res, err := b.courseRow(st, rowNum, semester, row, in.Options)
		if err := st.finishRow(rowNum, res, err, in.Options); err != nil {
			return nil, err
		}
	}

	// Without course rows the export says nothing about schedules.
	if len(in.Rows) > 0 {
		if err := b.appendDeletes(st); err != nil {
			return nil, err
		}
	}
	st.tx.Warnings = st.detectWarnings()
	return st.tx, nil
}

// rowNumber prefers the source line so reported rows match the sheet.
func rowNumber(i, line int) int {
	if line > 0 {
		return line
	}
	return i + 1
}

func (st *buildState) finishRow(rowNum int, res rowResult, err error, opts BuildOptions) error {
	if res.key != "" {
		if _, seen := st.importKeys[res.key]; !seen {
			st.importKeys[res.key] = rowNum
		}
	}
	if err != nil {
		st.resolver.DiscardRow()
		if opts.OnRowError == AbortImport {
			return fmt.Errorf("%w: %w", ErrImportAborted, err)
		}
		st.tx.Issues = append(st.tx.Issues, issueFromError(rowNum, err, true))
		return nil
	}

	st.resolver.CommitRow()
	st.tx.Changes = append(st.tx.Changes, res.changes...)
	st.tx.Issues = append(st.tx.Issues, res.issues...)
	for _, key := range res.claimed {
		st.claimed[key] = true
	}
	if res.schedule != nil {
		if _, ok := st.resulting[res.schedule.ID]; !ok {
			st.resultOrder = append(st.resultOrder, res.schedule.ID)
		}
		st.resulting[res.schedule.ID] = *res.schedule
	}
	return nil
}

func issueFromError(rowNum int, err error, skipped bool) RowIssue {
	issue := RowIssue{Row: rowNum, Kind: ErrorKind(err), Message: err.Error(), Skipped: skipped}
	var rowErr *RowError
	if errors.As(err, &rowErr) {
		issue.Field, issue.Raw = rowErr.Field, rowErr.Raw
	}
	return issue
}

func (b *ChangeSetBuilder) validateRow(rowNum int, row any) error {
	err := b.validate.Struct(row)
	if err == nil {
		return nil
	}
	vErr := &ValidationError{}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			vErr.add(fe.Field(), describeTag(fe.Tag(), fe.Param()))
		}
	} else {
		vErr.add("row", err.Error())
	}
	return &RowError{Row: rowNum, Err: vErr}
}

func describeTag(tag, param string) string {
	switch tag {
	case "required":
		return "is required"
	case "required_without":
		return "is required when " + strings.ToLower(param) + " is empty"
	case "numeric":
		return "must be numeric"
	case "email":
		return "must be an email address"
	}
	return "failed " + tag
}

func (b *ChangeSetBuilder) courseRow(st *buildState, rowNum int, semester string, raw InputRow, opts BuildOptions) (rowResult, error) {
	var res rowResult
	row := raw.trimmed()
	// A row that fails still shields its stored schedule from deletion.
	if row.CRN != "" || (row.CourseCode != "" && row.Section != "") {
		res.key = row.importKey()
	}
	if err := b.validateRow(rowNum, row); err != nil {
		return res, err
	}
	if !strings.EqualFold(row.Term, semester) {
		vErr := &ValidationError{}
		vErr.add("term", fmt.Sprintf("must be %s", semester))
		return res, &RowError{Row: rowNum, Field: "term", Raw: row.Term, Err: vErr}
	}

	key := row.importKey()
	if first, dup := st.importKeys[key]; dup {
		vErr := &ValidationError{}
		vErr.add("importKey", fmt.Sprintf("duplicates row %d", first))
		return res, &RowError{Row: rowNum, Field: "importKey", Raw: key, Err: vErr}
	}
	groupKey := fmt.Sprintf("row:%d", rowNum)

	refs, err := parse.ParseInstructors(row.InstructorField)
	if err != nil {
		if opts.InstructorFallback != DemoteToStaff {
			return res, &RowError{Row: rowNum, Field: "instructorField", Raw: row.InstructorField, Err: err}
		}
		issue := issueFromError(rowNum, &RowError{Row: rowNum, Field: "instructorField", Raw: row.InstructorField, Err: err}, false)
		issue.Message += " (imported as Staff)"
		res.issues = append(res.issues, issue)
		refs = []parse.InstructorReference{{DisplayName: "Staff", LoadPercent: 100, IsStaffPlaceholder: true}}
	}

	patterns, err := parse.ParseMeetingPatterns(row.MeetingPatternField)
	if err != nil {
		return res, &RowError{Row: rowNum, Field: "meetingPatternField", Raw: row.MeetingPatternField, Err: err}
	}

	desired := persistence.Schedule{
		Semester:    semester,
		ImportKey:   key,
		CRN:         row.CRN,
		CourseCode:  row.CourseCode,
		CourseTitle: row.CourseTitle,
		Section:     row.Section,
		Instructors: []persistence.ScheduleInstructor{},
		Meetings:    make([]persistence.Meeting, 0, len(patterns)),
	}
	supplied := []string{"semester", "importKey", "courseCode"}
	for _, field := range []struct{ key, value string }{
		{"crn", row.CRN}, {"courseTitle", row.CourseTitle}, {"section", row.Section},
	} {
		if field.value != "" {
			supplied = append(supplied, field.key)
		}
	}

	if row.Credits != "" {
		credits, err := decimal.NewFromString(row.Credits)
		if err != nil {
			vErr := &ValidationError{}
			vErr.add("credits", "must be a number")
			return res, &RowError{Row: rowNum, Field: "credits", Raw: row.Credits, Err: vErr}
		}
		desired.Credits = credits.String()
		supplied = append(supplied, "credits")
	}

	if row.MeetingPatternField != "" {
		for _, p := range patterns {
			desired.Meetings = append(desired.Meetings, persistence.Meeting{
				Day:         string(p.Day),
				StartMinute: p.StartMinute,
				EndMinute:   p.EndMinute,
			})
		}
		supplied = append(supplied, "meetings")
	}

	if row.RoomField != "" {
		supplied = append(supplied, "roomId")
		if !isUnassignedRoom(row.RoomField) {
			roomID, err := b.roomChange(st, &res, row.RoomField, groupKey)
			if err != nil {
				return res, &RowError{Row: rowNum, Field: "roomField", Raw: row.RoomField, Err: err}
			}
			desired.RoomID = roomID
		}
	}

	if row.InstructorField != "" {
		supplied = append(supplied, "instructors", "hasStaffPlaceholder")
		for _, ref := range refs {
			if ref.IsStaffPlaceholder {
				desired.HasStaffPlaceholder = true
				continue
			}
			personID, err := b.instructorChange(st, &res, ref, groupKey)
			if err != nil {
				return res, &RowError{Row: rowNum, Field: "instructorField", Raw: row.InstructorField, Err: err}
			}
			desired.Instructors = append(desired.Instructors, persistence.ScheduleInstructor{
				PersonID:    personID,
				Role:        ref.CourseRole,
				LoadPercent: ref.LoadPercent,
			})
		}
	}

	match, err := st.resolver.ResolveSchedule(key)
	if err != nil {
		return res, &RowError{Row: rowNum, Field: "importKey", Raw: key, Err: err}
	}
	desired.ID = match.ID

	label := row.CourseCode
	if row.Section != "" {
		label += "-" + row.Section
	}
	current, next, err := changeFields(match.Existing, desired, supplied)
	if err != nil {
		return res, err
	}
	change, err := b.entityChange(persistence.CollectionSchedules, match.ID, match.IsNew(), current, next, groupKey, label)
	if err != nil {
		return res, err
	}
	if change != nil {
		res.changes = append(res.changes, *change)
	}

	result := desired
	if match.Existing != nil {
		result = overlaySchedule(*match.Existing, desired, supplied)
	}
	res.schedule = &result
	return res, nil
}

func (b *ChangeSetBuilder) directoryRow(st *buildState, rowNum int, raw DirectoryRow) (rowResult, error) {
	var res rowResult
	row := raw.trimmed()
	if err := b.validateRow(rowNum, row); err != nil {
		return res, err
	}
	name, err := parse.ParseName(row.Name)
	if err != nil {
		return res, &RowError{Row: rowNum, Field: "name", Raw: row.Name, Err: err}
	}

	person := personFromName(name, row.ExternalID)
	person.Email = row.Email
	person.JobTitle = row.JobTitle
	person.Department = row.Department
	for _, role := range b.classifier.Classify(row.JobTitle) {
		person.Roles = append(person.Roles, string(role))
	}

	match, err := st.resolver.ResolvePerson(PersonQuery{ExternalID: row.ExternalID, Name: name, Email: row.Email})
	if err != nil {
		return res, &RowError{Row: rowNum, Field: "name", Raw: row.Name, Err: err}
	}
	groupKey := fmt.Sprintf("directory:%d", rowNum)
	if err := b.personChange(st, &res, match, person, name, groupKey, displayLastFirst(name)); err != nil {
		return res, err
	}
	return res, nil
}

func (b *ChangeSetBuilder) instructorChange(st *buildState, res *rowResult, ref parse.InstructorReference, groupKey string) (string, error) {
	match, err := st.resolver.ResolvePerson(PersonQuery{ExternalID: ref.ExternalID, Name: ref.Name})
	if err != nil {
		return "", err
	}
	person := personFromName(ref.Name, ref.ExternalID)
	if err := b.personChange(st, res, match, person, ref.Name, groupKey, ref.DisplayName); err != nil {
		return "", err
	}
	return match.ID, nil
}

func (b *ChangeSetBuilder) personChange(st *buildState, res *rowResult, match Match[persistence.Person], person persistence.Person, name parse.Name, groupKey, label string) error {
	claim := persistence.CollectionPeople + "/" + match.ID
	if res.isClaimed(st, claim) {
		return nil
	}
	res.claimed = append(res.claimed, claim)

	encoded, err := persistence.EncodeFields(person)
	if err != nil {
		return err
	}
	supplied := encoded.Pick(trackableFields[persistence.CollectionPeople]).Keys()

	current, next, err := changeFields(match.Existing, person, supplied)
	if err != nil {
		return err
	}
	change, err := b.entityChange(persistence.CollectionPeople, match.ID, match.IsNew(), current, next, groupKey, label)
	if err != nil || change == nil {
		return err
	}
	if change.Action == ActionAdd {
		change.Suggestions = st.resolver.SuggestPeople(name)
	}
	res.changes = append(res.changes, *change)
	return nil
}

func (b *ChangeSetBuilder) roomChange(st *buildState, res *rowResult, raw, groupKey string) (string, error) {
	match, err := st.resolver.ResolveRoom(raw)
	if err != nil {
		return "", err
	}
	claim := persistence.CollectionRooms + "/" + match.ID
	if !match.IsNew() || res.isClaimed(st, claim) {
		return match.ID, nil
	}
	res.claimed = append(res.claimed, claim)

	room := roomFromName(raw)
	supplied := []string{"name"}
	if room.Building != "" {
		supplied = append(supplied, "building")
	}
	if room.Number != "" {
		supplied = append(supplied, "number")
	}
	_, next, err := changeFields[persistence.Room](nil, room, supplied)
	if err != nil {
		return "", err
	}
	change, err := b.entityChange(persistence.CollectionRooms, match.ID, true, nil, next, groupKey, room.Name)
	if err != nil {
		return "", err
	}
	change.Suggestions = st.resolver.SuggestRooms(room.Name)
	res.changes = append(res.changes, *change)
	return match.ID, nil
}

// changeFields encodes the supplied fields of desired and, for an existing
// record, the same fields of the stored version.
func changeFields[T any](existing *T, desired T, supplied []string) (current, next persistence.Fields, err error) {
	next, err = persistence.EncodeFields(desired)
	if err != nil {
		return nil, nil, err
	}
	next = next.Pick(supplied)
	if existing == nil {
		return nil, next, nil
	}
	current, err = persistence.EncodeFields(*existing)
	if err != nil {
		return nil, nil, err
	}
	return current.Pick(supplied), next, nil
}

// entityChange returns the add or modify Change for one record, or nil when
// an existing record already holds every supplied value.
func (b *ChangeSetBuilder) entityChange(collection, id string, isNew bool, current, next persistence.Fields, groupKey, label string) (*Change, error) {
	group := groupKey
	change := &Change{
		ID:         b.idGenerator(),
		Collection: collection,
		GroupKey:   &group,
		Label:      label,
		Diff:       []DiffEntry{},
	}
	if isNew {
		change.Action = ActionAdd
		change.PendingID = id
		change.NewData = next
		return change, nil
	}

	diff, err := diffFields(current, next, trackableFields[collection])
	if err != nil {
		return nil, err
	}
	if len(diff) == 0 {
		return nil, nil
	}
	target := id
	change.Action = ActionModify
	change.TargetID = &target
	change.NewData = next
	change.Diff = diff
	return change, nil
}

// diffFields returns one entry per top-level key that differs, in order.
func diffFields(current, next persistence.Fields, order []string) ([]DiffEntry, error) {
	src, err := current.JSON()
	if err != nil {
		return nil, err
	}
	tgt, err := next.JSON()
	if err != nil {
		return nil, err
	}
	patch, err := jsondiff.CompareJSON(src, tgt)
	if err != nil {
		return nil, fmt.Errorf("diff fields: %w", err)
	}

	changed := make(map[string]bool, len(patch))
	for _, op := range patch {
		key, _, _ := strings.Cut(strings.TrimPrefix(op.Path, "/"), "/")
		changed[key] = true
	}

	entries := make([]DiffEntry, 0, len(changed))
	for _, key := range order {
		if !changed[key] {
			continue
		}
		entries = append(entries, DiffEntry{Key: key, From: rawOrNull(current[key]), To: rawOrNull(next[key])})
	}
	return entries, nil
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nullJSON
	}
	return raw
}

// appendDeletes emits a delete for every stored, unprotected schedule of the
// semester whose import key no row mentioned.
func (b *ChangeSetBuilder) appendDeletes(st *buildState) error {
	for _, s := range st.resolver.SemesterSchedules() {
		if s.ImportKey == "" || s.Protected {
			continue
		}
		if _, seen := st.importKeys[s.ImportKey]; seen {
			continue
		}
		target := s.ID
		label := s.CourseCode
		if s.Section != "" {
			label += "-" + s.Section
		}
		st.tx.Changes = append(st.tx.Changes, Change{
			ID:         b.idGenerator(),
			Collection: persistence.CollectionSchedules,
			Action:     ActionDelete,
			TargetID:   &target,
			Diff:       []DiffEntry{},
			Label:      label,
		})
		delete(st.resulting, s.ID)
	}
	return nil
}

func (st *buildState) detectWarnings() []scheduler.Conflict {
	sections := make([]scheduler.Section, 0, len(st.resultOrder))
	for _, id := range st.resultOrder {
		s, ok := st.resulting[id]
		if !ok {
			continue
		}
		section := scheduler.Section{ID: id, RoomID: s.RoomID}
		for _, instructor := range s.Instructors {
			section.Participants = append(section.Participants, instructor.PersonID)
		}
		for _, m := range s.Meetings {
			section.Meetings = append(section.Meetings, scheduler.Meeting{Day: m.Day, StartMinute: m.StartMinute, EndMinute: m.EndMinute})
		}
		sections = append(sections, section)
	}
	warnings := scheduler.DetectAll(sections)
	if warnings == nil {
		return []scheduler.Conflict{}
	}
	return warnings
}

func overlaySchedule(base, desired persistence.Schedule, supplied []string) persistence.Schedule {
	out := base
	for _, key := range supplied {
		switch key {
		case "instructors":
			out.Instructors = desired.Instructors
		case "hasStaffPlaceholder":
			out.HasStaffPlaceholder = desired.HasStaffPlaceholder
		case "meetings":
			out.Meetings = desired.Meetings
		case "roomId":
			out.RoomID = desired.RoomID
		}
	}
	return out
}

func personFromName(name parse.Name, externalID string) persistence.Person {
	return persistence.Person{
		ExternalID: externalID,
		Title:      name.Title,
		FirstName:  name.First,
		MiddleName: name.Middle,
		LastName:   name.Last,
	}
}

func displayLastFirst(name parse.Name) string {
	switch {
	case name.Last == "":
		return name.First
	case name.First == "":
		return name.Last
	}
	return name.Last + ", " + name.First
}

func isUnassignedRoom(raw string) bool {
	switch strings.ToUpper(raw) {
	case "TBA", "TBD":
		return true
	}
	return false
}

// roomFromName splits "SCI 101" into building "SCI" and number "101". A last
// token without digits is treated as part of the building name.
func roomFromName(raw string) persistence.Room {
	name := strings.Join(strings.Fields(raw), " ")
	room := persistence.Room{Name: name}
	tokens := strings.Fields(name)
	if len(tokens) < 2 {
		return room
	}
	last := tokens[len(tokens)-1]
	if strings.IndexFunc(last, func(r rune) bool { return r >= '0' && r <= '9' }) < 0 {
		room.Building = name
		return room
	}
	room.Building = strings.Join(tokens[:len(tokens)-1], " ")
	room.Number = last
	return room
}

func (r InputRow) trimmed() InputRow {
	return InputRow{
		CourseCode:          collapse(r.CourseCode),
		CourseTitle:         collapse(r.CourseTitle),
		Section:             strings.TrimSpace(r.Section),
		Term:                collapse(r.Term),
		Credits:             strings.TrimSpace(r.Credits),
		InstructorField:     strings.TrimSpace(r.InstructorField),
		MeetingPatternField: strings.TrimSpace(r.MeetingPatternField),
		RoomField:           collapse(r.RoomField),
		CRN:                 strings.TrimSpace(r.CRN),
	}
}

// importKey identifies a section across imports: the CRN when exported,
// otherwise course code and section.
func (r InputRow) importKey() string {
	if r.CRN != "" {
		if n, err := strconv.Atoi(r.CRN); err == nil {
			return strconv.Itoa(n)
		}
		return r.CRN
	}
	return strings.ToUpper(r.CourseCode) + "-" + strings.ToUpper(r.Section)
}

func (r DirectoryRow) trimmed() DirectoryRow {
	return DirectoryRow{
		Name:       collapse(r.Name),
		Email:      strings.TrimSpace(r.Email),
		JobTitle:   collapse(r.JobTitle),
		Department: collapse(r.Department),
		ExternalID: strings.TrimSpace(r.ExternalID),
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
