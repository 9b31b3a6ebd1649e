package application

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/example/course-scheduler/internal/parse"
	"github.com/example/course-scheduler/internal/persistence"
)

func sequence(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  José  DE la Cruz ": "jose de la cruz",
		"O'Brien-Smith":       "o'brien-smith",
		"St. John":            "st john",
		"Dragoo,Sheri":        "dragoo sheri",
		"":                    "",
	}
	for input, want := range cases {
		if got := NormalizeName(input); got != want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestResolver_ResolvePersonPriority(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{People: []persistence.Person{
		{ID: "p-ext", ExternalID: "100", FirstName: "Alex", LastName: "Other"},
		{ID: "p-email", FirstName: "Jane", LastName: "Doe", Email: "jane@example.edu"},
		{ID: "p-name", FirstName: "Jane", LastName: "Doe"},
		{ID: "p-solo", FirstName: "Mina", LastName: "Park", ExternalID: "300"},
	}}

	t.Run("external id wins over name", func(t *testing.T) {
		r := NewResolver(snapshot, "Fall 2024", nil, sequence("new"))
		match, err := r.ResolvePerson(PersonQuery{ExternalID: "100", Name: parse.Name{First: "Jane", Last: "Doe"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if match.ID != "p-ext" || match.IsNew() {
			t.Fatalf("expected p-ext, got %+v", match)
		}
	})

	t.Run("name and email narrow duplicate names", func(t *testing.T) {
		r := NewResolver(snapshot, "Fall 2024", nil, sequence("new"))
		match, err := r.ResolvePerson(PersonQuery{Name: parse.Name{First: "JANE", Last: "doe"}, Email: "Jane@Example.edu"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if match.ID != "p-email" {
			t.Fatalf("expected p-email, got %s", match.ID)
		}
	})

	t.Run("name only match is ambiguous", func(t *testing.T) {
		r := NewResolver(snapshot, "Fall 2024", nil, sequence("new"))
		_, err := r.ResolvePerson(PersonQuery{Name: parse.Name{First: "Jane", Last: "Doe"}})
		var ambiguous *AmbiguousMatchError
		if !errors.As(err, &ambiguous) {
			t.Fatalf("expected AmbiguousMatchError, got %v", err)
		}
		if diff := cmp.Diff([]string{"p-email", "p-name"}, ambiguous.CandidateIDs); diff != "" {
			t.Fatalf("unexpected candidates (-want +got):\n%s", diff)
		}
	})

	t.Run("manual resolution picks a candidate", func(t *testing.T) {
		r := NewResolver(snapshot, "Fall 2024", map[string]string{"jane doe": "p-name"}, sequence("new"))
		match, err := r.ResolvePerson(PersonQuery{Name: parse.Name{First: "Jane", Last: "Doe"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if match.ID != "p-name" {
			t.Fatalf("expected p-name, got %s", match.ID)
		}
	})

	t.Run("different external id is a different person", func(t *testing.T) {
		r := NewResolver(snapshot, "Fall 2024", nil, sequence("new"))
		match, err := r.ResolvePerson(PersonQuery{ExternalID: "999", Name: parse.Name{First: "Mina", Last: "Park"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !match.IsNew() || !match.Created {
			t.Fatalf("expected a new person, got %+v", match)
		}
	})
}

func TestResolver_PendingIdentities(t *testing.T) {
	t.Parallel()

	r := NewResolver(Snapshot{}, "Fall 2024", nil, sequence("new"))
	query := PersonQuery{ExternalID: "891178020", Name: parse.Name{First: "Jeongju", Last: "Yoo"}}

	first, err := r.ResolvePerson(query)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(first.ID, PendingPrefix) || !first.Created {
		t.Fatalf("expected a freshly minted pending id, got %+v", first)
	}

	again, _ := r.ResolvePerson(PersonQuery{Name: parse.Name{First: "jeongju", Last: "YOO"}})
	if again.ID != first.ID || again.Created {
		t.Fatalf("expected staged identity to be reused, got %+v", again)
	}

	r.DiscardRow()
	discarded, _ := r.ResolvePerson(query)
	if discarded.ID == first.ID {
		t.Fatalf("expected discarded identity to be forgotten")
	}

	r.CommitRow()
	kept, _ := r.ResolvePerson(query)
	if kept.ID != discarded.ID || kept.Created {
		t.Fatalf("expected committed identity %s, got %+v", discarded.ID, kept)
	}
}

func TestResolver_RoomsAndSchedules(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{
		Rooms: []persistence.Room{{ID: "r1", Name: "SCI 101"}},
		Schedules: []persistence.Schedule{
			{ID: "s1", Semester: "Fall 2024", ImportKey: "12345"},
			{ID: "s2", Semester: "Spring 2025", ImportKey: "12345"},
		},
	}
	r := NewResolver(snapshot, "Fall 2024", nil, sequence("new"))

	room, err := r.ResolveRoom("  sci   101 ")
	if err != nil || room.ID != "r1" {
		t.Fatalf("expected r1, got %+v (%v)", room, err)
	}

	schedule, err := r.ResolveSchedule("12345")
	if err != nil || schedule.ID != "s1" {
		t.Fatalf("expected s1 from the import semester, got %+v (%v)", schedule, err)
	}
	if got := len(r.SemesterSchedules()); got != 1 {
		t.Fatalf("expected one semester schedule, got %d", got)
	}

	created, _ := r.ResolveRoom("ART 2")
	reused, _ := r.ResolveRoom("art 2")
	if !created.IsNew() || created.ID != reused.ID {
		t.Fatalf("expected one pending room, got %s and %s", created.ID, reused.ID)
	}
}

func TestResolver_Suggestions(t *testing.T) {
	t.Parallel()

	snapshot := Snapshot{People: []persistence.Person{
		{ID: "p1", FirstName: "Sherri", LastName: "Dragoo"},
		{ID: "p2", FirstName: "Unrelated", LastName: "Person"},
	}}
	r := NewResolver(snapshot, "Fall 2024", nil, sequence("new"))

	got := r.SuggestPeople(parse.Name{First: "Sheri", Last: "Dragoo"})
	want := []Suggestion{{ID: "p1", Label: "Sherri Dragoo"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected suggestions (-want +got):\n%s", diff)
	}
}
