package persistence

import "time"

// Collection names used by the document store.
const (
	CollectionPeople    = "people"
	CollectionSchedules = "schedules"
	CollectionRooms     = "rooms"
)

// Person represents a directory entry for an instructor or employee.
type Person struct {
	ID         string    `json:"-"`
	ExternalID string    `json:"externalId,omitempty"`
	Title      string    `json:"title,omitempty"`
	FirstName  string    `json:"firstName,omitempty"`
	MiddleName string    `json:"middleName,omitempty"`
	LastName   string    `json:"lastName,omitempty"`
	Email      string    `json:"email,omitempty"`
	JobTitle   string    `json:"jobTitle,omitempty"`
	Department string    `json:"department,omitempty"`
	Roles      []string  `json:"roles,omitempty"`
	Protected  bool      `json:"protected,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Room represents a teaching space.
type Room struct {
	ID        string    `json:"-"`
	Name      string    `json:"name"`
	Building  string    `json:"building,omitempty"`
	Number    string    `json:"number,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ScheduleInstructor links a schedule to a person with a teaching share.
type ScheduleInstructor struct {
	PersonID    string `json:"personId"`
	Role        string `json:"role,omitempty"`
	LoadPercent int    `json:"loadPercent"`
}

// Meeting is one weekly session of a schedule.
type Meeting struct {
	Day         string `json:"day"`
	StartMinute int    `json:"startMinute"`
	EndMinute   int    `json:"endMinute"`
}

// Schedule represents a course section offered in a semester.
type Schedule struct {
	ID                  string               `json:"-"`
	Semester            string               `json:"semester"`
	ImportKey           string               `json:"importKey,omitempty"`
	CRN                 string               `json:"crn,omitempty"`
	CourseCode          string               `json:"courseCode"`
	CourseTitle         string               `json:"courseTitle,omitempty"`
	Section             string               `json:"section,omitempty"`
	Credits             string               `json:"credits,omitempty"`
	Instructors         []ScheduleInstructor `json:"instructors"`
	HasStaffPlaceholder bool                 `json:"hasStaffPlaceholder,omitempty"`
	Meetings            []Meeting            `json:"meetings"`
	RoomID              string               `json:"roomId,omitempty"`
	Protected           bool                 `json:"protected,omitempty"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// AuditRecord documents one applied import change.
type AuditRecord struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	ChangeID      string    `json:"changeId"`
	Collection    string    `json:"collection"`
	Action        string    `json:"action"`
	TargetID      string    `json:"targetId"`
	Fields        Fields    `json:"fields,omitempty"`
	Digest        string    `json:"digest"`
	AppliedAt     time.Time `json:"appliedAt"`
}
