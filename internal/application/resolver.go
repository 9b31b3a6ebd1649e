package application

import (
	"sort"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/example/course-scheduler/internal/parse"
	"github.com/example/course-scheduler/internal/persistence"
)

const maxSuggestions = 3

// NormalizeName folds case, strips diacritics and punctuation dots and
// collapses whitespace so "José  de la Cruz" and "jose de la cruz" compare equal.
func NormalizeName(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	folded = cases.Fold().String(folded)
	folded = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',':
			return ' '
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// personNameKey is the identity used for name matching. Middle names and
// titles are ignored because exports rarely carry them consistently.
func personNameKey(name parse.Name) string {
	return NormalizeName(name.First + " " + name.Last)
}

// Match is the outcome of resolving one identity. Existing is nil for new
// entities, whose ID is then a pending identity.
type Match[T any] struct {
	ID       string
	Existing *T
	// Created is true when this lookup minted the pending identity.
	Created bool
}

// IsNew reports whether the identity matched nothing in the snapshot.
func (m Match[T]) IsNew() bool { return m.Existing == nil }

// PersonQuery is the identity parsed from an instructor or directory row.
type PersonQuery struct {
	ExternalID string
	Name       parse.Name
	Email      string
}

type pendingPerson struct {
	id         string
	externalID string
}

// Resolver matches parsed identities against an immutable snapshot. New
// identities get pending ids that stay stable for the whole build. Lookups
// made while a row is being built are staged and only kept by CommitRow.
type Resolver struct {
	semester    string
	resolutions map[string]string
	newID       func() string

	people          []persistence.Person
	peopleByExt     map[string][]int
	peopleByNameKey map[string][]int
	peopleByEmail   map[string][]int

	rooms       []persistence.Room
	roomsByName map[string][]int

	schedules      []persistence.Schedule
	schedulesByKey map[string][]int

	pendingPeople map[string]pendingPerson
	pendingOther  map[string]string
	stagedPeople  map[string]pendingPerson
	stagedOther   map[string]string
}

// NewResolver indexes snapshot for lookups in semester. newID supplies the
// unique part of pending identities.
func NewResolver(snapshot Snapshot, semester string, resolutions map[string]string, newID func() string) *Resolver {
	r := &Resolver{
		semester:        semester,
		resolutions:     resolutions,
		newID:           newID,
		people:          snapshot.People,
		peopleByExt:     make(map[string][]int),
		peopleByNameKey: make(map[string][]int),
		peopleByEmail:   make(map[string][]int),
		rooms:           snapshot.Rooms,
		roomsByName:     make(map[string][]int),
		schedulesByKey:  make(map[string][]int),
		pendingPeople:   make(map[string]pendingPerson),
		pendingOther:    make(map[string]string),
		stagedPeople:    make(map[string]pendingPerson),
		stagedOther:     make(map[string]string),
	}

	for i, p := range r.people {
		if ext := strings.TrimSpace(p.ExternalID); ext != "" {
			r.peopleByExt[ext] = append(r.peopleByExt[ext], i)
		}
		key := personNameKey(parse.Name{First: p.FirstName, Last: p.LastName})
		if key == "" {
			continue
		}
		r.peopleByNameKey[key] = append(r.peopleByNameKey[key], i)
		if email := strings.ToLower(strings.TrimSpace(p.Email)); email != "" {
			r.peopleByEmail[key+"|"+email] = append(r.peopleByEmail[key+"|"+email], i)
		}
	}

	for i, room := range r.rooms {
		key := NormalizeName(room.Name)
		r.roomsByName[key] = append(r.roomsByName[key], i)
	}

	for _, s := range snapshot.Schedules {
		if s.Semester != semester {
			continue
		}
		r.schedules = append(r.schedules, s)
		if s.ImportKey != "" {
			r.schedulesByKey[s.ImportKey] = append(r.schedulesByKey[s.ImportKey], len(r.schedules)-1)
		}
	}

	return r
}

// ResolvePerson looks a person up by external id, then normalized name plus
// email, then normalized name alone.
func (r *Resolver) ResolvePerson(q PersonQuery) (Match[persistence.Person], error) {
	ext := strings.TrimSpace(q.ExternalID)
	nameKey := personNameKey(q.Name)
	email := strings.ToLower(strings.TrimSpace(q.Email))

	if ext != "" {
		if idx := r.peopleByExt[ext]; len(idx) > 0 {
			if len(idx) > 1 {
				return Match[persistence.Person]{}, r.ambiguousPeople("externalId "+ext, idx)
			}
			return r.existingPerson(idx[0]), nil
		}
	}

	if nameKey != "" && email != "" {
		if idx := r.peopleByEmail[nameKey+"|"+email]; len(idx) == 1 {
			return r.existingPerson(idx[0]), nil
		} else if len(idx) > 1 {
			return Match[persistence.Person]{}, r.ambiguousPeople(nameKey, idx)
		}
	}

	if nameKey != "" {
		var candidates []int
		for _, i := range r.peopleByNameKey[nameKey] {
			stored := strings.TrimSpace(r.people[i].ExternalID)
			if ext == "" || stored == "" || stored == ext {
				candidates = append(candidates, i)
			}
		}
		switch {
		case len(candidates) == 1:
			return r.existingPerson(candidates[0]), nil
		case len(candidates) > 1:
			if chosen, ok := r.resolutions[nameKey]; ok {
				for _, i := range candidates {
					if r.people[i].ID == chosen {
						return r.existingPerson(i), nil
					}
				}
			}
			return Match[persistence.Person]{}, r.ambiguousPeople(nameKey, candidates)
		}
	}

	if p, ok := r.lookupPendingPerson(ext, nameKey); ok {
		return Match[persistence.Person]{ID: p.id}, nil
	}

	p := pendingPerson{id: PendingPrefix + r.newID(), externalID: ext}
	if ext != "" {
		r.stagedPeople["ext:"+ext] = p
	}
	if nameKey != "" {
		r.stagedPeople["name:"+nameKey] = p
	}
	return Match[persistence.Person]{ID: p.id, Created: true}, nil
}

func (r *Resolver) lookupPendingPerson(ext, nameKey string) (pendingPerson, bool) {
	find := func(key string) (pendingPerson, bool) {
		if p, ok := r.stagedPeople[key]; ok {
			return p, true
		}
		p, ok := r.pendingPeople[key]
		return p, ok
	}
	if ext != "" {
		if p, ok := find("ext:" + ext); ok {
			return p, true
		}
	}
	if nameKey != "" {
		if p, ok := find("name:" + nameKey); ok && (ext == "" || p.externalID == "" || p.externalID == ext) {
			return p, true
		}
	}
	return pendingPerson{}, false
}

func (r *Resolver) existingPerson(i int) Match[persistence.Person] {
	return Match[persistence.Person]{ID: r.people[i].ID, Existing: &r.people[i]}
}

func (r *Resolver) ambiguousPeople(query string, idx []int) error {
	ids := make([]string, len(idx))
	for n, i := range idx {
		ids[n] = r.people[i].ID
	}
	sort.Strings(ids)
	return &AmbiguousMatchError{Collection: persistence.CollectionPeople, Query: query, CandidateIDs: ids}
}

// ResolveRoom looks a room up by normalized name.
func (r *Resolver) ResolveRoom(name string) (Match[persistence.Room], error) {
	key := NormalizeName(name)
	switch idx := r.roomsByName[key]; {
	case len(idx) == 1:
		return Match[persistence.Room]{ID: r.rooms[idx[0]].ID, Existing: &r.rooms[idx[0]]}, nil
	case len(idx) > 1:
		if chosen, ok := r.resolutions[key]; ok {
			for _, i := range idx {
				if r.rooms[i].ID == chosen {
					return Match[persistence.Room]{ID: chosen, Existing: &r.rooms[i]}, nil
				}
			}
		}
		ids := make([]string, len(idx))
		for n, i := range idx {
			ids[n] = r.rooms[i].ID
		}
		sort.Strings(ids)
		return Match[persistence.Room]{}, &AmbiguousMatchError{Collection: persistence.CollectionRooms, Query: key, CandidateIDs: ids}
	}

	id, created := r.pendingIdentity("rooms:" + key)
	return Match[persistence.Room]{ID: id, Created: created}, nil
}

// ResolveSchedule looks a schedule of the resolver's semester up by import key.
func (r *Resolver) ResolveSchedule(importKey string) (Match[persistence.Schedule], error) {
	switch idx := r.schedulesByKey[importKey]; {
	case len(idx) == 1:
		return Match[persistence.Schedule]{ID: r.schedules[idx[0]].ID, Existing: &r.schedules[idx[0]]}, nil
	case len(idx) > 1:
		ids := make([]string, len(idx))
		for n, i := range idx {
			ids[n] = r.schedules[i].ID
		}
		sort.Strings(ids)
		return Match[persistence.Schedule]{}, &AmbiguousMatchError{Collection: persistence.CollectionSchedules, Query: importKey, CandidateIDs: ids}
	}

	id, created := r.pendingIdentity("schedules:" + importKey)
	return Match[persistence.Schedule]{ID: id, Created: created}, nil
}

func (r *Resolver) pendingIdentity(key string) (string, bool) {
	if id, ok := r.stagedOther[key]; ok {
		return id, false
	}
	if id, ok := r.pendingOther[key]; ok {
		return id, false
	}
	id := PendingPrefix + r.newID()
	r.stagedOther[key] = id
	return id, true
}

// SemesterSchedules returns the stored schedules of the resolver's semester.
func (r *Resolver) SemesterSchedules() []persistence.Schedule {
	return r.schedules
}

// CommitRow keeps the pending identities minted since the last row boundary.
func (r *Resolver) CommitRow() {
	for k, v := range r.stagedPeople {
		r.pendingPeople[k] = v
	}
	for k, v := range r.stagedOther {
		r.pendingOther[k] = v
	}
	r.DiscardRow()
}

// DiscardRow forgets the pending identities minted since the last row boundary.
func (r *Resolver) DiscardRow() {
	clear(r.stagedPeople)
	clear(r.stagedOther)
}

// SuggestPeople lists stored people whose names look like name.
func (r *Resolver) SuggestPeople(name parse.Name) []Suggestion {
	labels := make([]string, len(r.people))
	for i, p := range r.people {
		labels[i] = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	return suggest(strings.TrimSpace(name.First+" "+name.Last), labels, func(i int) string { return r.people[i].ID })
}

// SuggestRooms lists stored rooms whose names look like name.
func (r *Resolver) SuggestRooms(name string) []Suggestion {
	labels := make([]string, len(r.rooms))
	for i, room := range r.rooms {
		labels[i] = room.Name
	}
	return suggest(name, labels, func(i int) string { return r.rooms[i].ID })
}

// suggest ranks labels that contain query as a subsequence or are within two
// edits of it. Exact matches never reach here, so every hit is a near miss.
func suggest(query string, labels []string, idAt func(int) string) []Suggestion {
	query = NormalizeName(query)
	if query == "" || len(labels) == 0 {
		return nil
	}

	type candidate struct {
		index    int
		distance int
	}
	best := make(map[int]int)
	normalized := make([]string, len(labels))
	for i, label := range labels {
		normalized[i] = NormalizeName(label)
		if d := fuzzy.LevenshteinDistance(query, normalized[i]); d > 0 && d <= 2 {
			best[i] = d
		}
	}
	for _, rank := range fuzzy.RankFindNormalizedFold(query, normalized) {
		if rank.Distance == 0 {
			continue
		}
		if d, ok := best[rank.OriginalIndex]; !ok || rank.Distance < d {
			best[rank.OriginalIndex] = rank.Distance
		}
	}

	candidates := make([]candidate, 0, len(best))
	for i, d := range best {
		candidates = append(candidates, candidate{index: i, distance: d})
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].distance != candidates[b].distance {
			return candidates[a].distance < candidates[b].distance
		}
		return candidates[a].index < candidates[b].index
	})
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}

	out := make([]Suggestion, len(candidates))
	for i, c := range candidates {
		out[i] = Suggestion{ID: idAt(c.index), Label: labels[c.index]}
	}
	return out
}
