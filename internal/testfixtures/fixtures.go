package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/course-scheduler/internal/application"
	"github.com/example/course-scheduler/internal/persistence"
)

// DefaultSemester is the import semester fixtures use unless overridden.
const DefaultSemester = "Fall 2024"

var (
	personCounter   uint64
	roomCounter     uint64
	scheduleCounter uint64
	rowCounter      uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- Input rows -----------------------------

// RowOption configures a generated course row.
type RowOption func(*application.InputRow)

// NewCourseRow returns a valid course row with a unique course code.
func NewCourseRow(opts ...RowOption) application.InputRow {
	idx := atomic.AddUint64(&rowCounter, 1)
	row := application.InputRow{
		CourseCode:  fmt.Sprintf("GEN %03d", 100+idx),
		CourseTitle: fmt.Sprintf("General Studies %d", idx),
		Section:     "01",
		Term:        DefaultSemester,
		Credits:     "3",
	}
	for _, opt := range opts {
		opt(&row)
	}
	return row
}

// YooRow is the single-instructor, two-meeting row used throughout the tests.
func YooRow() application.InputRow {
	return application.InputRow{
		CourseCode:          "MUS 101",
		CourseTitle:         "Music Theory",
		Section:             "01",
		Term:                DefaultSemester,
		Credits:             "3.0",
		InstructorField:     "Yoo, Jeongju (891178020) [Primary, 100%]",
		MeetingPatternField: "T 2pm-3:15pm; T 2pm-4pm",
	}
}

// WithCourse overrides the course code and section.
func WithCourse(code, section string) RowOption {
	return func(r *application.InputRow) {
		r.CourseCode = code
		r.Section = section
	}
}

// WithCRN sets the registrar CRN.
func WithCRN(crn string) RowOption {
	return func(r *application.InputRow) {
		r.CRN = crn
	}
}

// WithTerm overrides the row's term.
func WithTerm(term string) RowOption {
	return func(r *application.InputRow) {
		r.Term = term
	}
}

// WithTitle overrides the course title.
func WithTitle(title string) RowOption {
	return func(r *application.InputRow) {
		r.CourseTitle = title
	}
}

// WithCredits overrides the credits column.
func WithCredits(credits string) RowOption {
	return func(r *application.InputRow) {
		r.Credits = credits
	}
}

// WithInstructors sets the raw instructor field.
func WithInstructors(field string) RowOption {
	return func(r *application.InputRow) {
		r.InstructorField = field
	}
}

// WithMeetings sets the raw meeting pattern field.
func WithMeetings(field string) RowOption {
	return func(r *application.InputRow) {
		r.MeetingPatternField = field
	}
}

// WithRoom sets the raw room field.
func WithRoom(room string) RowOption {
	return func(r *application.InputRow) {
		r.RoomField = room
	}
}

// NewDirectoryRow returns a directory row for name.
func NewDirectoryRow(name, externalID, jobTitle string) application.DirectoryRow {
	return application.DirectoryRow{
		Name:       name,
		ExternalID: externalID,
		JobTitle:   jobTitle,
	}
}

// ----------------------------- Stored records -----------------------------

// PersonOption configures a generated person record.
type PersonOption func(*persistence.Person)

// NewPersonFixture returns a stored person with a unique id.
func NewPersonFixture(first, last string, opts ...PersonOption) persistence.Person {
	idx := atomic.AddUint64(&personCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	person := persistence.Person{
		ID:        fmt.Sprintf("person-%03d", idx),
		FirstName: first,
		LastName:  last,
		CreatedAt: created,
		UpdatedAt: created,
	}
	for _, opt := range opts {
		opt(&person)
	}
	return person
}

// WithPersonID overrides the generated person id.
func WithPersonID(id string) PersonOption {
	return func(p *persistence.Person) {
		p.ID = id
	}
}

// WithExternalID sets the registrar id.
func WithExternalID(id string) PersonOption {
	return func(p *persistence.Person) {
		p.ExternalID = id
	}
}

// WithEmail sets the email address.
func WithEmail(email string) PersonOption {
	return func(p *persistence.Person) {
		p.Email = email
	}
}

// RoomOption configures a generated room record.
type RoomOption func(*persistence.Room)

// NewRoomFixture returns a stored room with a unique id.
func NewRoomFixture(name string, opts ...RoomOption) persistence.Room {
	idx := atomic.AddUint64(&roomCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Hour)
	room := persistence.Room{
		ID:        fmt.Sprintf("room-%03d", idx),
		Name:      name,
		CreatedAt: created,
		UpdatedAt: created,
	}
	for _, opt := range opts {
		opt(&room)
	}
	return room
}

// WithRoomID overrides the generated room id.
func WithRoomID(id string) RoomOption {
	return func(r *persistence.Room) {
		r.ID = id
	}
}

// ScheduleOption configures a generated schedule record.
type ScheduleOption func(*persistence.Schedule)

// NewScheduleFixture returns a stored schedule in DefaultSemester whose import
// key matches the given course code and section.
func NewScheduleFixture(code, section string, opts ...ScheduleOption) persistence.Schedule {
	idx := atomic.AddUint64(&scheduleCounter, 1)
	created := referenceTime.Add(time.Duration(idx) * time.Hour)
	schedule := persistence.Schedule{
		ID:          fmt.Sprintf("schedule-%03d", idx),
		Semester:    DefaultSemester,
		ImportKey:   code + "-" + section,
		CourseCode:  code,
		Section:     section,
		Instructors: []persistence.ScheduleInstructor{},
		Meetings:    []persistence.Meeting{},
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	for _, opt := range opts {
		opt(&schedule)
	}
	return schedule
}

// WithScheduleID overrides the generated schedule id.
func WithScheduleID(id string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.ID = id
	}
}

// WithScheduleTitle sets the course title.
func WithScheduleTitle(title string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.CourseTitle = title
	}
}

// WithScheduleCredits sets the canonical credits value.
func WithScheduleCredits(credits string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.Credits = credits
	}
}

// WithScheduleRoom sets the room reference.
func WithScheduleRoom(roomID string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.RoomID = roomID
	}
}

// WithScheduleSemester moves the schedule to another semester.
func WithScheduleSemester(semester string) ScheduleOption {
	return func(s *persistence.Schedule) {
		s.Semester = semester
	}
}

// WithProtected marks the schedule as hand-maintained.
func WithProtected() ScheduleOption {
	return func(s *persistence.Schedule) {
		s.Protected = true
	}
}

// WithoutImportKey clears the import key, as for manually created schedules.
func WithoutImportKey() ScheduleOption {
	return func(s *persistence.Schedule) {
		s.ImportKey = ""
	}
}

// ----------------------------- Snapshots -----------------------------

// SnapshotFixture groups stored records for seeding a store or building
// against a snapshot directly.
type SnapshotFixture struct {
	People    []persistence.Person
	Rooms     []persistence.Room
	Schedules []persistence.Schedule
}

// Snapshot returns the fixture as an application.Snapshot.
func (f SnapshotFixture) Snapshot() application.Snapshot {
	return application.Snapshot{
		People:    append([]persistence.Person(nil), f.People...),
		Rooms:     append([]persistence.Room(nil), f.Rooms...),
		Schedules: append([]persistence.Schedule(nil), f.Schedules...),
	}
}

// Seed writes every record of the fixture into store.
func (f SnapshotFixture) Seed(tb testing.TB, store persistence.DocumentStore) {
	tb.Helper()
	for _, p := range f.People {
		seed(tb, store, persistence.CollectionPeople, p.ID, p)
	}
	for _, r := range f.Rooms {
		seed(tb, store, persistence.CollectionRooms, r.ID, r)
	}
	for _, s := range f.Schedules {
		seed(tb, store, persistence.CollectionSchedules, s.ID, s)
	}
}

func seed(tb testing.TB, store persistence.DocumentStore, collection, id string, record any) {
	tb.Helper()
	fields, err := persistence.EncodeFields(record)
	if err != nil {
		tb.Fatalf("encode %s/%s: %v", collection, id, err)
	}
	if err := store.Upsert(context.Background(), collection, id, fields); err != nil {
		tb.Fatalf("seed %s/%s: %v", collection, id, err)
	}
}
