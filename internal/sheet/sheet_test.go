package sheet

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/example/course-scheduler/internal/application"
)

func TestReadCSV(t *testing.T) {
	t.Parallel()

	input := "\ufeffCourse Code,Title,Section,Term,Credit Hours,Instructor,Meeting Pattern,Room,CRN,Notes\n" +
		"MUS 101,Music Theory,01,Fall 2024,3,\"Yoo, Jeongju (891178020) [Primary, 100%]\",T 2pm-3:15pm,SCI 101,12345,ignored\n" +
		",,,,,,,,,\n" +
		"ART 100, Drawing ,02,Fall 2024\n"

	rows, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV returned error: %v", err)
	}
	want := []application.InputRow{
		{
			CourseCode:          "MUS 101",
			CourseTitle:         "Music Theory",
			Section:             "01",
			Term:                "Fall 2024",
			Credits:             "3",
			InstructorField:     "Yoo, Jeongju (891178020) [Primary, 100%]",
			MeetingPatternField: "T 2pm-3:15pm",
			RoomField:           "SCI 101",
			CRN:                 "12345",
			Line:                2,
		},
		{CourseCode: "ART 100", CourseTitle: "Drawing", Section: "02", Term: "Fall 2024", Line: 4},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestReadCSV_SourceLines(t *testing.T) {
	t.Parallel()

	input := "Course,Section,Term,Instructor\n" +
		"\n" +
		"MUS 101,01,Fall 2024,\"Yoo,\nJeongju\"\n" +
		"ART 100,02,Fall 2024,\n"

	rows, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV returned error: %v", err)
	}
	var got []int
	for _, row := range rows {
		got = append(got, row.Line)
	}
	if diff := cmp.Diff([]int{3, 5}, got); diff != "" {
		t.Fatalf("unexpected lines (-want +got):\n%s", diff)
	}
}

func TestReadCSV_HeaderErrors(t *testing.T) {
	t.Parallel()

	if _, err := ReadCSV(strings.NewReader("Title,Section\nX,01\n")); !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("expected ErrMissingHeader, got %v", err)
	}
	if _, err := ReadCSV(strings.NewReader("")); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestReadXLSX(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	defer f.Close()
	if _, err := f.NewSheet("Fall"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	for i, row := range [][]any{
		{"course_code", "section", "semester", "meetings", "location"},
		{"CHEM 110", "01", "Fall 2024", "MWF 9am-9:50am", "SCI 2"},
	} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Fall", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	rows, err := ReadXLSX(buf, "Fall")
	if err != nil {
		t.Fatalf("ReadXLSX returned error: %v", err)
	}
	want := []application.InputRow{{
		CourseCode:          "CHEM 110",
		Section:             "01",
		Term:                "Fall 2024",
		MeetingPatternField: "MWF 9am-9:50am",
		RoomField:           "SCI 2",
		Line:                2,
	}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestReadDirectory(t *testing.T) {
	t.Parallel()

	input := "Full Name,Email Address,Job Title,Department,Employee ID\n" +
		"Dr. Sheri Dragoo,sdragoo@example.edu,Professor,English,892564540\n"
	rows, err := ReadDirectory("staff.CSV", strings.NewReader(input), "")
	if err != nil {
		t.Fatalf("ReadDirectory returned error: %v", err)
	}
	want := []application.DirectoryRow{{
		Name:       "Dr. Sheri Dragoo",
		Email:      "sdragoo@example.edu",
		JobTitle:   "Professor",
		Department: "English",
		ExternalID: "892564540",
		Line:       2,
	}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestRead_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	if _, err := Read("export.ods", strings.NewReader(""), ""); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
