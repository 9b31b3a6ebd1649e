package parse

import (
	"strconv"
	"strings"
)

const staffPlaceholder = "Staff"

// InstructorReference is one instructor entry of a course row.
type InstructorReference struct {
	DisplayName        string
	ExternalID         string
	CourseRole         string
	LoadPercent        int
	IsStaffPlaceholder bool
	Name               Name
}

// ParseInstructor parses `Name [(ExternalId)] [Role, Load%]`, for example
// "Dragoo, Sheri (892564540) [Primary, 100%]" or "Staff [Primary, 100%]".
func ParseInstructor(raw string) (InstructorReference, error) {
	text := strings.TrimSpace(raw)
	ref := InstructorReference{LoadPercent: 100}

	if strings.HasSuffix(text, "]") {
		open := strings.LastIndex(text, "[")
		if open < 0 {
			return InstructorReference{}, newError(KindInvalidInstructorField, raw, "unbalanced role suffix", nil)
		}
		role, load, err := parseRoleSuffix(raw, text[open+1:len(text)-1])
		if err != nil {
			return InstructorReference{}, err
		}
		ref.CourseRole, ref.LoadPercent = role, load
		text = strings.TrimSpace(text[:open])
	}

	if strings.HasSuffix(text, ")") {
		open := strings.LastIndex(text, "(")
		if open < 0 {
			return InstructorReference{}, newError(KindInvalidInstructorField, raw, "unbalanced external id", nil)
		}
		id := strings.TrimSpace(text[open+1 : len(text)-1])
		if id == "" || !isDigits(id) {
			return InstructorReference{}, newError(KindInvalidInstructorField, raw, "external id must be numeric", nil)
		}
		ref.ExternalID = id
		text = strings.TrimSpace(text[:open])
	}

	if strings.ContainsAny(text, "[]()") {
		return InstructorReference{}, newError(KindInvalidInstructorField, raw, "malformed id or role suffix", nil)
	}

	if strings.EqualFold(text, staffPlaceholder) {
		ref.IsStaffPlaceholder = true
		ref.DisplayName = staffPlaceholder
		ref.ExternalID = ""
		return ref, nil
	}

	name, err := ParseName(text)
	if err != nil {
		return InstructorReference{}, newError(KindInvalidInstructorField, raw, "instructor name is invalid", err)
	}
	ref.Name = name
	ref.DisplayName = strings.Join(strings.Fields(text), " ")
	return ref, nil
}

// ParseInstructors parses a ';'-separated list of instructor references. Blank
// input yields no references.
func ParseInstructors(raw string) ([]InstructorReference, error) {
	var refs []InstructorReference
	for _, part := range strings.Split(raw, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ref, err := ParseInstructor(part)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseRoleSuffix(raw, content string) (string, int, error) {
	tokens := strings.Split(content, ",")
	if len(tokens) != 2 {
		return "", 0, newError(KindInvalidInstructorField, raw, "role suffix must be [Role, Load%]", nil)
	}

	role := strings.TrimSpace(tokens[0])
	if role == "" {
		return "", 0, newError(KindInvalidInstructorField, raw, "course role is empty", nil)
	}

	loadText := strings.TrimSpace(tokens[1])
	if !strings.HasSuffix(loadText, "%") {
		return "", 0, newError(KindInvalidInstructorField, raw, "load must end with %", nil)
	}
	load, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(loadText, "%")))
	if err != nil {
		return "", 0, newError(KindInvalidInstructorField, raw, "load is not numeric", err)
	}
	if load < 0 || load > 100 {
		return "", 0, newError(KindInvalidInstructorField, raw, "load must be between 0 and 100", nil)
	}
	return role, load, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
