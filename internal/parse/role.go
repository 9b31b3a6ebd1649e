package parse

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role is a normalized role tag derived from a job title.
type Role string

const (
	RoleFaculty  Role = "faculty"
	RoleAdjunct  Role = "adjunct"
	RoleEmeritus Role = "emeritus"
	RoleStaff    Role = "staff"
	RoleStudent  Role = "student"
)

//go:embed roles.yaml
var defaultRoleRules []byte

// RoleRule maps any of its keywords to Tag. Rules with the same non-empty Group
// are mutually exclusive.
type RoleRule struct {
	Tag      Role     `yaml:"tag"`
	Group    string   `yaml:"group"`
	Keywords []string `yaml:"keywords"`
}

type roleRuleFile struct {
	Rules []RoleRule `yaml:"rules"`
}

// RoleClassifier evaluates an ordered rule list against job titles.
type RoleClassifier struct {
	rules []RoleRule
}

// DefaultRoleClassifier returns the classifier built from the embedded rule table.
func DefaultRoleClassifier() *RoleClassifier {
	classifier, err := LoadRoleClassifier(strings.NewReader(string(defaultRoleRules)))
	if err != nil {
		panic(fmt.Sprintf("parse: embedded role rules are invalid: %v", err))
	}
	return classifier
}

// LoadRoleClassifierFile reads a YAML rule table from path.
func LoadRoleClassifierFile(path string) (*RoleClassifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open role rules: %w", err)
	}
	defer f.Close()
	return LoadRoleClassifier(f)
}

// LoadRoleClassifier decodes a YAML rule table. Keywords are lower-cased; rule
// order is preserved.
func LoadRoleClassifier(r io.Reader) (*RoleClassifier, error) {
	var file roleRuleFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode role rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("decode role rules: no rules defined")
	}
	return NewRoleClassifier(file.Rules)
}

// NewRoleClassifier validates and copies rules.
func NewRoleClassifier(rules []RoleRule) (*RoleClassifier, error) {
	out := make([]RoleRule, 0, len(rules))
	for i, rule := range rules {
		if strings.TrimSpace(string(rule.Tag)) == "" {
			return nil, fmt.Errorf("role rule %d: tag is required", i)
		}
		keywords := make([]string, 0, len(rule.Keywords))
		for _, keyword := range rule.Keywords {
			if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" {
				keywords = append(keywords, keyword)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("role rule %d (%s): at least one keyword is required", i, rule.Tag)
		}
		out = append(out, RoleRule{Tag: rule.Tag, Group: strings.TrimSpace(rule.Group), Keywords: keywords})
	}
	return &RoleClassifier{rules: out}, nil
}

// Classify returns the distinct tags whose rules match title, in rule order. An
// empty result means the title is unclassified.
func (c *RoleClassifier) Classify(title string) []Role {
	lower := strings.ToLower(strings.TrimSpace(title))
	if c == nil || lower == "" {
		return nil
	}

	var tags []Role
	claimedGroups := make(map[string]bool)
	seen := make(map[Role]bool)
	for _, rule := range c.rules {
		if rule.Group != "" && claimedGroups[rule.Group] {
			continue
		}
		if !containsAny(lower, rule.Keywords) {
			continue
		}
		if rule.Group != "" {
			claimedGroups[rule.Group] = true
		}
		if !seen[rule.Tag] {
			seen[rule.Tag] = true
			tags = append(tags, rule.Tag)
		}
	}
	return tags
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
