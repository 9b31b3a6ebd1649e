package application

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/example/course-scheduler/internal/parse"
	"github.com/example/course-scheduler/internal/persistence"
	"github.com/example/course-scheduler/internal/scheduler"
)

const testSemester = "Fall 2024"

func fixedNow() time.Time {
	return time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)
}

func newTestBuilder() *ChangeSetBuilder {
	return NewChangeSetBuilder(nil, sequence("id"), fixedNow)
}

func yooRow() InputRow {
	return InputRow{
		CourseCode:          "MUS 101",
		CourseTitle:         "Music Theory",
		Section:             "01",
		Term:                testSemester,
		Credits:             "3.0",
		InstructorField:     "Yoo, Jeongju (891178020) [Primary, 100%]",
		MeetingPatternField: "T 2pm-3:15pm; T 2pm-4pm",
	}
}

func decodeSchedule(t *testing.T, fields persistence.Fields) persistence.Schedule {
	t.Helper()
	var schedule persistence.Schedule
	if err := persistence.DecodeFields(fields, &schedule); err != nil {
		t.Fatalf("decode schedule: %v", err)
	}
	return schedule
}

func TestChangeSetBuilder_YooScenario(t *testing.T) {
	t.Parallel()

	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: []InputRow{yooRow()}})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if tx.Status != StatusPending {
		t.Fatalf("expected pending transaction, got %s", tx.Status)
	}
	if len(tx.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(tx.Changes), tx.Changes)
	}

	person, schedule := tx.Changes[0], tx.Changes[1]
	if person.Collection != persistence.CollectionPeople || person.Action != ActionAdd {
		t.Fatalf("expected people add first, got %s %s", person.Collection, person.Action)
	}
	if person.TargetID != nil || len(person.Diff) != 0 {
		t.Fatalf("add change must have no target and no diff")
	}
	var created persistence.Person
	if err := persistence.DecodeFields(person.NewData, &created); err != nil {
		t.Fatalf("decode person: %v", err)
	}
	if created.ExternalID != "891178020" || created.FirstName != "Jeongju" || created.LastName != "Yoo" {
		t.Fatalf("unexpected person data: %+v", created)
	}
	if person.Label != "Yoo, Jeongju" {
		t.Fatalf("unexpected label %q", person.Label)
	}

	if schedule.Collection != persistence.CollectionSchedules || schedule.Action != ActionAdd {
		t.Fatalf("expected schedules add second, got %s %s", schedule.Collection, schedule.Action)
	}
	got := decodeSchedule(t, schedule.NewData)
	wantMeetings := []persistence.Meeting{
		{Day: "T", StartMinute: 840, EndMinute: 915},
		{Day: "T", StartMinute: 840, EndMinute: 960},
	}
	if diff := cmp.Diff(wantMeetings, got.Meetings); diff != "" {
		t.Fatalf("unexpected meetings (-want +got):\n%s", diff)
	}
	if got.Credits != "3" {
		t.Fatalf("expected canonical credits 3, got %q", got.Credits)
	}
	wantInstructors := []persistence.ScheduleInstructor{{PersonID: person.PendingID, Role: "Primary", LoadPercent: 100}}
	if diff := cmp.Diff(wantInstructors, got.Instructors); diff != "" {
		t.Fatalf("unexpected instructors (-want +got):\n%s", diff)
	}

	if *person.GroupKey != "row:1" || *schedule.GroupKey != "row:1" {
		t.Fatalf("expected both changes in group row:1, got %s and %s", *person.GroupKey, *schedule.GroupKey)
	}
}

func TestChangeSetBuilder_UnchangedDataProducesNothing(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{
		People: []persistence.Person{{ID: "p1", ExternalID: "891178020", FirstName: "Jeongju", LastName: "Yoo"}},
		Schedules: []persistence.Schedule{{
			ID:          "s1",
			Semester:    testSemester,
			ImportKey:   "MUS 101-01",
			CourseCode:  "MUS 101",
			CourseTitle: "Music Theory",
			Section:     "01",
			Credits:     "3",
			Instructors: []persistence.ScheduleInstructor{{PersonID: "p1", Role: "Primary", LoadPercent: 100}},
			Meetings: []persistence.Meeting{
				{Day: "T", StartMinute: 840, EndMinute: 915},
				{Day: "T", StartMinute: 840, EndMinute: 960},
			},
		}},
	}

	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: []InputRow{yooRow()}, Snapshot: snapshot})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(tx.Changes) != 0 {
		t.Fatalf("expected empty transaction, got %+v", tx.Changes)
	}
}

func TestChangeSetBuilder_ModifyDiff(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{Schedules: []persistence.Schedule{{
		ID:          "s1",
		Semester:    testSemester,
		ImportKey:   "ENGL 101-01",
		CourseCode:  "ENGL 101",
		CourseTitle: "Composition",
		Section:     "01",
		Credits:     "3",
		RoomID:      "r-old",
	}}}
	row := InputRow{CourseCode: "ENGL 101", Section: "01", Term: testSemester, CourseTitle: "Composition I", Credits: "4", RoomField: "TBA"}

	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: []InputRow{row}, Snapshot: snapshot})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(tx.Changes) != 1 {
		t.Fatalf("expected one modify change, got %+v", tx.Changes)
	}
	change := tx.Changes[0]
	if change.Action != ActionModify || change.TargetID == nil || *change.TargetID != "s1" {
		t.Fatalf("expected modify of s1, got %+v", change)
	}
	if diff := cmp.Diff([]string{"courseTitle", "credits", "roomId"}, change.DiffKeys()); diff != "" {
		t.Fatalf("unexpected diff keys (-want +got):\n%s", diff)
	}
	first := change.Diff[0]
	if first.FromDisplay() != "Composition" || first.ToDisplay() != "Composition I" {
		t.Fatalf("unexpected display values %q -> %q", first.FromDisplay(), first.ToDisplay())
	}
	if room := change.Diff[2]; room.FromDisplay() != "r-old" || string(room.To) != "null" {
		t.Fatalf("expected TBA to clear the room, got %s -> %s", room.From, room.To)
	}
}

func TestChangeSetBuilder_Deletes(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{Schedules: []persistence.Schedule{
		{ID: "gone", Semester: testSemester, ImportKey: "99999", CourseCode: "HIST 200"},
		{ID: "protected", Semester: testSemester, ImportKey: "88888", Protected: true},
		{ID: "manual", Semester: testSemester},
		{ID: "other-term", Semester: "Spring 2025", ImportKey: "77777"},
	}}

	rows := []InputRow{{CourseCode: "HIST 300", Section: "01", Term: testSemester}}
	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: rows, Snapshot: snapshot})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(tx.Changes) != 2 {
		t.Fatalf("expected the HIST 300 add and one delete, got %+v", tx.Changes)
	}
	change := tx.Changes[1]
	if change.Action != ActionDelete || *change.TargetID != "gone" {
		t.Fatalf("expected delete of gone, got %+v", change)
	}
	if change.GroupKey != nil || change.NewData != nil {
		t.Fatalf("delete must have no group key and no data")
	}
}

func TestChangeSetBuilder_DirectoryOnlyKeepsSchedules(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{Schedules: []persistence.Schedule{
		{ID: "s-mus", Semester: testSemester, ImportKey: "MUS 101-01", CourseCode: "MUS 101", Section: "01"},
	}}
	directory := []DirectoryRow{{Name: "Jane Roe"}}

	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, DirectoryRows: directory, Snapshot: snapshot})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(tx.Changes) != 1 {
		t.Fatalf("expected only the person add, got %+v", tx.Changes)
	}
	if change := tx.Changes[0]; change.Action != ActionAdd || change.Collection != persistence.CollectionPeople {
		t.Fatalf("expected a people add, got %+v", change)
	}
}

func TestChangeSetBuilder_ReportsSourceLines(t *testing.T) {
	t.Parallel()

	rows := []InputRow{
		{CourseCode: "BIO 110", Section: "01", Term: testSemester, MeetingPatternField: "MWF 9am-9:50", Line: 2},
		{CourseCode: "BIO 111", Section: "01", Term: testSemester, Line: 5},
	}
	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: rows})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(tx.Issues) != 1 || tx.Issues[0].Row != 2 {
		t.Fatalf("expected the issue on sheet line 2, got %+v", tx.Issues)
	}
	if len(tx.Changes) != 1 || *tx.Changes[0].GroupKey != "row:5" {
		t.Fatalf("expected one change grouped under row:5, got %+v", tx.Changes)
	}
}

func TestChangeSetBuilder_FailedRowContributesNothing(t *testing.T) {
	t.Parallel()

	bad := InputRow{CourseCode: "BIO 110", Section: "01", Term: testSemester,
		InstructorField: "Smith, Ann [Primary, 100%]", MeetingPatternField: "MWF 9am-9:50"}
	good := InputRow{CourseCode: "BIO 111", Section: "01", Term: testSemester,
		InstructorField: "Smith, Ann [Primary, 100%]", MeetingPatternField: "MWF 9am-9:50am"}
	snapshot := Snapshot{Schedules: []persistence.Schedule{{ID: "s-bio", Semester: testSemester, ImportKey: "BIO 110-01"}}}

	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: []InputRow{bad, good}, Snapshot: snapshot})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(tx.Issues) != 1 {
		t.Fatalf("expected one issue, got %+v", tx.Issues)
	}
	issue := tx.Issues[0]
	if issue.Row != 1 || issue.Field != "meetingPatternField" || issue.Kind != "invalid_meeting_pattern" || !issue.Skipped {
		t.Fatalf("unexpected issue %+v", issue)
	}
	if len(tx.Changes) != 2 {
		t.Fatalf("expected person and schedule adds from row 2 only, got %+v", tx.Changes)
	}
	for _, change := range tx.Changes {
		if *change.GroupKey != "row:2" {
			t.Fatalf("expected only row:2 changes, got %s", *change.GroupKey)
		}
		if change.Action == ActionDelete {
			t.Fatalf("failed row must not cause the delete of its stored schedule")
		}
	}
}

func TestChangeSetBuilder_RowErrorPolicies(t *testing.T) {
	t.Parallel()

	row := InputRow{CourseCode: "CHEM 101", Section: "02", Term: testSemester, InstructorField: "Doe, Jane [Primary]"}

	t.Run("abort", func(t *testing.T) {
		_, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: []InputRow{row}, Options: BuildOptions{OnRowError: AbortImport}})
		if !errors.Is(err, ErrImportAborted) || !errors.Is(err, parse.ErrInvalidInstructorField) {
			t.Fatalf("expected aborted import wrapping the instructor error, got %v", err)
		}
	})

	t.Run("demote to staff", func(t *testing.T) {
		tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: []InputRow{row}, Options: BuildOptions{InstructorFallback: DemoteToStaff}})
		if err != nil {
			t.Fatalf("Build returned error: %v", err)
		}
		if len(tx.Changes) != 1 || len(tx.Issues) != 1 || tx.Issues[0].Skipped {
			t.Fatalf("expected one imported schedule with a non-skipping issue, got %+v / %+v", tx.Changes, tx.Issues)
		}
		got := decodeSchedule(t, tx.Changes[0].NewData)
		if !got.HasStaffPlaceholder || len(got.Instructors) != 0 {
			t.Fatalf("expected staff placeholder only, got %+v", got)
		}
	})
}

func TestChangeSetBuilder_RowValidation(t *testing.T) {
	t.Parallel()

	rows := []InputRow{
		{Section: "01", Term: testSemester},
		{CourseCode: "ART 100", Section: "01", Term: "Spring 2025"},
		{CourseCode: "ART 100", Term: testSemester, CRN: "12a"},
		{CourseCode: "ART 101", Section: "01", Term: testSemester, Credits: "three"},
		{CourseCode: "ART 102", Section: "01", Term: testSemester},
		{CourseCode: "art 102", Section: "01", Term: testSemester},
	}
	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: rows})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	wantFields := []string{"", "term", "", "credits", "importKey"}
	if len(tx.Issues) != len(wantFields) {
		t.Fatalf("expected %d issues, got %+v", len(wantFields), tx.Issues)
	}
	for i, issue := range tx.Issues {
		if issue.Kind != "validation" || issue.Field != wantFields[i] {
			t.Fatalf("issue %d: unexpected %+v", i, issue)
		}
	}
	if !strings.Contains(tx.Issues[0].Message, "courseCode: is required") {
		t.Fatalf("expected column name in message, got %q", tx.Issues[0].Message)
	}
	if len(tx.Changes) != 1 {
		t.Fatalf("expected only ART 102 to be added, got %+v", tx.Changes)
	}
}

func TestChangeSetBuilder_AmbiguousInstructor(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{People: []persistence.Person{
		{ID: "p1", FirstName: "Jane", LastName: "Doe"},
		{ID: "p2", FirstName: "Jane", LastName: "Doe"},
	}}
	row := InputRow{CourseCode: "MATH 120", Section: "01", Term: testSemester, InstructorField: "Doe, Jane [Primary, 100%]"}

	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: []InputRow{row}, Snapshot: snapshot})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(tx.Changes) != 0 || len(tx.Issues) != 1 || tx.Issues[0].Kind != "ambiguous_match" {
		t.Fatalf("expected an ambiguous match issue and no changes, got %+v / %+v", tx.Changes, tx.Issues)
	}

	tx, err = newTestBuilder().Build(BuildInput{
		Semester: testSemester,
		Rows:     []InputRow{row},
		Snapshot: snapshot,
		Options:  BuildOptions{Resolutions: map[string]string{"jane doe": "p2"}},
	})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(tx.Changes) != 1 {
		t.Fatalf("expected only the schedule add, got %+v", tx.Changes)
	}
	if got := decodeSchedule(t, tx.Changes[0].NewData); got.Instructors[0].PersonID != "p2" {
		t.Fatalf("expected resolved instructor p2, got %+v", got.Instructors)
	}
}

func TestChangeSetBuilder_DirectoryRows(t *testing.T) {
	t.Parallel()

	directory := []DirectoryRow{{
		Name:       "Dr. Sheri Dragoo",
		Email:      "sdragoo@example.edu",
		JobTitle:   "Administrative Professor",
		Department: "English",
		ExternalID: "892564540",
	}}
	rows := []InputRow{{CourseCode: "ENGL 300", Section: "01", Term: testSemester,
		InstructorField: "Dragoo, Sheri (892564540) [Primary, 100%]"}}

	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: rows, DirectoryRows: directory})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if len(tx.Changes) != 2 {
		t.Fatalf("expected one person and one schedule, got %+v", tx.Changes)
	}

	var person persistence.Person
	if err := persistence.DecodeFields(tx.Changes[0].NewData, &person); err != nil {
		t.Fatalf("decode person: %v", err)
	}
	if diff := cmp.Diff([]string{"faculty", "staff"}, person.Roles); diff != "" {
		t.Fatalf("unexpected roles (-want +got):\n%s", diff)
	}
	if person.Title != "Dr." || person.Email != "sdragoo@example.edu" {
		t.Fatalf("unexpected person %+v", person)
	}
	if *tx.Changes[0].GroupKey != "directory:1" {
		t.Fatalf("unexpected group key %s", *tx.Changes[0].GroupKey)
	}

	schedule := decodeSchedule(t, tx.Changes[1].NewData)
	if schedule.Instructors[0].PersonID != tx.Changes[0].PendingID {
		t.Fatalf("expected course row to reuse the directory person")
	}
}

func TestChangeSetBuilder_RoomConflictWarnings(t *testing.T) {
	t.Parallel()

	rows := []InputRow{
		{CourseCode: "PHYS 101", Section: "01", Term: testSemester, MeetingPatternField: "TR 9am-10:15am", RoomField: "SCI 101"},
		{CourseCode: "PHYS 102", Section: "01", Term: testSemester, MeetingPatternField: "R 10am-11am", RoomField: "sci 101"},
	}
	tx, err := newTestBuilder().Build(BuildInput{Semester: testSemester, Rows: rows})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}

	rooms := 0
	for _, change := range tx.Changes {
		if change.Collection == persistence.CollectionRooms {
			rooms++
			var room persistence.Room
			if err := persistence.DecodeFields(change.NewData, &room); err != nil {
				t.Fatalf("decode room: %v", err)
			}
			if room.Building != "SCI" || room.Number != "101" {
				t.Fatalf("unexpected room %+v", room)
			}
		}
	}
	if rooms != 1 {
		t.Fatalf("expected a single room add, got %d", rooms)
	}
	if len(tx.Warnings) != 1 || tx.Warnings[0].Type != scheduler.ConflictTypeRoom || tx.Warnings[0].Day != "R" {
		t.Fatalf("expected one room conflict on R, got %+v", tx.Warnings)
	}
}
