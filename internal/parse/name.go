package parse

import "strings"

// Name is a person name split into its parts. At least one of First or Last is set.
type Name struct {
	Title  string `json:"title,omitempty"`
	First  string `json:"first,omitempty"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last,omitempty"`
}

// Display returns "First Middle Last" without the title.
func (n Name) Display() string {
	parts := make([]string, 0, 3)
	for _, part := range []string{n.First, n.Middle, n.Last} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " ")
}

var honorifics = map[string]string{
	"dr":        "Dr.",
	"mr":        "Mr.",
	"mrs":       "Mrs.",
	"ms":        "Ms.",
	"miss":      "Miss",
	"mx":        "Mx.",
	"prof":      "Prof.",
	"professor": "Professor",
	"rev":       "Rev.",
	"fr":        "Fr.",
	"sr":        "Sr.",
	"hon":       "Hon.",
}

var surnameParticles = map[string]bool{
	"de":    true,
	"del":   true,
	"della": true,
	"da":    true,
	"di":    true,
	"la":    true,
	"le":    true,
	"van":   true,
	"von":   true,
	"der":   true,
	"den":   true,
	"du":    true,
	"st.":   true,
}

// ParseName splits "Title First Middle Last" or "Last, Title First Middle".
//
// A single remaining token is returned as First with an empty Last. Hyphenated
// tokens are kept whole, and lower-case particles such as "van" or "de" directly
// before the final token are folded into Last.
func ParseName(raw string) (Name, error) {
	text := strings.Join(strings.Fields(raw), " ")
	if text == "" {
		return Name{}, newError(KindInvalidName, raw, "name is empty", nil)
	}

	if idx := strings.Index(text, ","); idx >= 0 {
		return parseCommaName(raw, text[:idx], text[idx+1:])
	}

	title, rest := stripHonorifics(strings.Fields(text))
	name := Name{Title: title}
	switch len(rest) {
	case 0:
		return Name{}, newError(KindInvalidName, raw, "name contains only a title", nil)
	case 1:
		name.First = rest[0]
		return name, nil
	}

	lastStart := len(rest) - 1
	for lastStart > 1 && surnameParticles[rest[lastStart-1]] {
		lastStart--
	}

	name.First = rest[0]
	name.Middle = strings.Join(rest[1:lastStart], " ")
	name.Last = strings.Join(rest[lastStart:], " ")
	return name, nil
}

func parseCommaName(raw, lastPart, givenPart string) (Name, error) {
	last := strings.TrimSpace(lastPart)
	title, given := stripHonorifics(strings.Fields(givenPart))

	name := Name{Title: title, Last: last}
	if len(given) > 0 {
		name.First = given[0]
		name.Middle = strings.Join(given[1:], " ")
	}
	if name.First == "" && name.Last == "" {
		return Name{}, newError(KindInvalidName, raw, "name has neither first nor last part", nil)
	}
	return name, nil
}

func stripHonorifics(tokens []string) (string, []string) {
	titles := make([]string, 0, 1)
	for len(tokens) > 0 {
		key := strings.ToLower(strings.TrimSuffix(tokens[0], "."))
		canonical, ok := honorifics[key]
		if !ok {
			break
		}
		titles = append(titles, canonical)
		tokens = tokens[1:]
	}
	return strings.Join(titles, " "), tokens
}
