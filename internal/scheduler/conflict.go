package scheduler

import "sort"

// Meeting is one weekly session expressed as a day letter and a minute range.
type Meeting struct {
	Day         string
	StartMinute int
	EndMinute   int
}

// Section represents a course section's weekly footprint in a semester.
type Section struct {
	ID           string
	Participants []string
	RoomID       string
	Meetings     []Meeting
}

// ConflictType describes the type of conflict detected between sections.
type ConflictType string

const (
	// ConflictTypeParticipant indicates an instructor is double-booked.
	ConflictTypeParticipant ConflictType = "participant"
	// ConflictTypeRoom indicates a room is double-booked.
	ConflictTypeRoom ConflictType = "room"
)

// Conflict details an overlapping section relation that callers can present to users.
type Conflict struct {
	ScheduleID     string       `json:"scheduleId"`
	WithScheduleID string       `json:"withScheduleId"`
	Type           ConflictType `json:"type"`
	Day            string       `json:"day"`
	Participant    string       `json:"participant,omitempty"`
	RoomID         string       `json:"roomId,omitempty"`
}

// DetectConflicts identifies conflicts for the candidate section against existing ones.
// A section never conflicts with itself, and meetings that merely touch do not overlap.
func DetectConflicts(existing []Section, candidate Section) []Conflict {
	var conflicts []Conflict
	for _, other := range existing {
		if other.ID == candidate.ID {
			continue
		}
		day, ok := firstOverlap(candidate.Meetings, other.Meetings)
		if !ok {
			continue
		}

		if candidate.RoomID != "" && candidate.RoomID == other.RoomID {
			conflicts = append(conflicts, Conflict{
				ScheduleID:     candidate.ID,
				WithScheduleID: other.ID,
				Type:           ConflictTypeRoom,
				Day:            day,
				RoomID:         candidate.RoomID,
			})
		}

		for _, participant := range shared(candidate.Participants, other.Participants) {
			conflicts = append(conflicts, Conflict{
				ScheduleID:     candidate.ID,
				WithScheduleID: other.ID,
				Type:           ConflictTypeParticipant,
				Day:            day,
				Participant:    participant,
			})
		}
	}
	return conflicts
}

// DetectAll reports every conflicting pair among sections once, ordered by
// the position of the earlier section.
func DetectAll(sections []Section) []Conflict {
	var conflicts []Conflict
	for i := range sections {
		conflicts = append(conflicts, DetectConflicts(sections[i+1:], sections[i])...)
	}
	return conflicts
}

func firstOverlap(a, b []Meeting) (string, bool) {
	for _, x := range a {
		for _, y := range b {
			if x.Day == y.Day && x.StartMinute < y.EndMinute && y.StartMinute < x.EndMinute {
				return x.Day, true
			}
		}
	}
	return "", false
}

func shared(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, v := range a {
		if _, ok := set[v]; !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
