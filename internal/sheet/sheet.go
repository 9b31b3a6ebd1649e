// Package sheet reads registrar spreadsheet exports into import rows.
package sheet

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/example/course-scheduler/internal/application"
)

var (
	// ErrMissingHeader indicates the header row lacks a required column.
	ErrMissingHeader = errors.New("sheet: missing required header")
	// ErrUnsupportedFormat indicates a file extension that is neither .csv nor .xlsx.
	ErrUnsupportedFormat = errors.New("sheet: unsupported file format")
	// ErrEmpty indicates the export has no header row.
	ErrEmpty = errors.New("sheet: empty export")
)

// Column names recognised in course exports, keyed by normalized header.
var courseAliases = map[string]string{
	"course":          "courseCode",
	"course code":     "courseCode",
	"subject course":  "courseCode",
	"title":           "courseTitle",
	"course title":    "courseTitle",
	"section":         "section",
	"section number":  "section",
	"term":            "term",
	"semester":        "term",
	"credits":         "credits",
	"credit hours":    "credits",
	"instructor":      "instructorField",
	"instructors":     "instructorField",
	"meeting pattern": "meetingPatternField",
	"meetings":        "meetingPatternField",
	"room":            "roomField",
	"location":        "roomField",
	"crn":             "crn",
}

var courseRequired = []string{"courseCode", "term"}

var directoryAliases = map[string]string{
	"name":          "name",
	"full name":     "name",
	"email":         "email",
	"email address": "email",
	"job title":     "jobTitle",
	"title":         "jobTitle",
	"department":    "department",
	"id":            "externalId",
	"employee id":   "externalId",
	"external id":   "externalId",
}

var directoryRequired = []string{"name"}

// Read dispatches on the file extension of name.
func Read(name string, r io.Reader, sheetName string) ([]application.InputRow, error) {
	t, err := readTable(name, r, sheetName)
	if err != nil {
		return nil, err
	}
	return courseRows(t)
}

// ReadDirectory reads a staff directory export, dispatching on the file extension of name.
func ReadDirectory(name string, r io.Reader, sheetName string) ([]application.DirectoryRow, error) {
	t, err := readTable(name, r, sheetName)
	if err != nil {
		return nil, err
	}
	return directoryRows(t)
}

// ReadCSV reads a course export in CSV form.
func ReadCSV(r io.Reader) ([]application.InputRow, error) {
	t, err := csvRecords(r)
	if err != nil {
		return nil, err
	}
	return courseRows(t)
}

// ReadXLSX reads a course export from the named worksheet, or the active
// worksheet when sheetName is empty.
func ReadXLSX(r io.Reader, sheetName string) ([]application.InputRow, error) {
	t, err := xlsxRecords(r, sheetName)
	if err != nil {
		return nil, err
	}
	return courseRows(t)
}

// table holds raw records and the 1-based source line each one starts on.
type table struct {
	records [][]string
	lines   []int
}

func readTable(name string, r io.Reader, sheetName string) (table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return csvRecords(r)
	case ".xlsx", ".xlsm":
		return xlsxRecords(r, sheetName)
	default:
		return table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

func csvRecords(r io.Reader) (table, error) {
	br := stripUTF8BOM(bufio.NewReader(r))
	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	var t table
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return table{}, fmt.Errorf("sheet: read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		t.records = append(t.records, rec)
		t.lines = append(t.lines, line)
	}
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

func xlsxRecords(r io.Reader, sheetName string) (table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return table{}, fmt.Errorf("sheet: open xlsx: %w", err)
	}
	defer f.Close()

	if sheetName == "" {
		sheetName = f.GetSheetName(f.GetActiveSheetIndex())
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return table{}, fmt.Errorf("sheet: read worksheet %q: %w", sheetName, err)
	}
	// GetRows keeps interior empty rows, so the index is the worksheet row.
	lines := make([]int, len(rows))
	for i := range rows {
		lines[i] = i + 1
	}
	return table{records: rows, lines: lines}, nil
}

// normalizeHeader lowercases a header cell and folds separators to single spaces.
func normalizeHeader(h string) string {
	h = strings.ToLower(h)
	h = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// columns maps canonical column names to their index in header.
func columns(header []string, aliases map[string]string, required []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		canonical, ok := aliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, seen := index[canonical]; !seen {
			index[canonical] = i
		}
	}
	var missing []string
	for _, req := range required {
		if _, ok := index[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingHeader, strings.Join(missing, ", "))
	}
	return index, nil
}

type record struct {
	cells []string
	index map[string]int
}

func (r record) get(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// dataRow is a non-blank body row with its 1-based line in the source sheet.
type dataRow struct {
	line  int
	cells []string
}

// body splits records into the column index and the non-blank data rows.
func body(t table, aliases map[string]string, required []string) (map[string]int, []dataRow, error) {
	start := 0
	for start < len(t.records) && blank(t.records[start]) {
		start++
	}
	if start == len(t.records) {
		return nil, nil, ErrEmpty
	}
	index, err := columns(t.records[start], aliases, required)
	if err != nil {
		return nil, nil, err
	}
	data := make([]dataRow, 0, len(t.records)-start-1)
	for i := start + 1; i < len(t.records); i++ {
		if !blank(t.records[i]) {
			data = append(data, dataRow{line: t.lines[i], cells: t.records[i]})
		}
	}
	return index, data, nil
}

func courseRows(t table) ([]application.InputRow, error) {
	index, data, err := body(t, courseAliases, courseRequired)
	if err != nil {
		return nil, err
	}
	rows := make([]application.InputRow, 0, len(data))
	for _, d := range data {
		rec := record{cells: d.cells, index: index}
		rows = append(rows, application.InputRow{
			Line:                d.line,
			CourseCode:          rec.get("courseCode"),
			CourseTitle:         rec.get("courseTitle"),
			Section:             rec.get("section"),
			Term:                rec.get("term"),
			Credits:             rec.get("credits"),
			InstructorField:     rec.get("instructorField"),
			MeetingPatternField: rec.get("meetingPatternField"),
			RoomField:           rec.get("roomField"),
			CRN:                 rec.get("crn"),
		})
	}
	return rows, nil
}

func directoryRows(t table) ([]application.DirectoryRow, error) {
	index, data, err := body(t, directoryAliases, directoryRequired)
	if err != nil {
		return nil, err
	}
	rows := make([]application.DirectoryRow, 0, len(data))
	for _, d := range data {
		rec := record{cells: d.cells, index: index}
		rows = append(rows, application.DirectoryRow{
			Line:       d.line,
			Name:       rec.get("name"),
			Email:      rec.get("email"),
			JobTitle:   rec.get("jobTitle"),
			Department: rec.get("department"),
			ExternalID: rec.get("externalId"),
		})
	}
	return rows, nil
}
