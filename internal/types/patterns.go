package types

import (
	"fmt"
	"strings"

	sshUtil "github.com/tionis/ssh-tools/util"
	"gopkg.in/yaml.v3"
)

// PatternList is an ssh-style list of glob patterns. Entries prefixed with
// "!" exclude what they match.
type PatternList struct {
	include []*sshUtil.Pattern
	exclude []*sshUtil.Pattern
}

// ParsePatternList builds a PatternList from its string form.
func ParsePatternList(patterns []string) (PatternList, error) {
	var list PatternList
	for _, raw := range patterns {
		if err := list.Add(raw); err != nil {
			return PatternList{}, err
		}
	}
	return list, nil
}

// Add appends a single pattern.
func (l *PatternList) Add(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	negated := strings.HasPrefix(raw, "!")
	pattern, err := sshUtil.NewPattern(strings.TrimPrefix(raw, "!"))
	if err != nil {
		return fmt.Errorf("invalid pattern %q: %w", raw, err)
	}

	if negated {
		l.exclude = append(l.exclude, pattern)
	} else {
		l.include = append(l.include, pattern)
	}
	return nil
}

// Empty reports whether no pattern was configured.
func (l PatternList) Empty() bool {
	return len(l.include) == 0 && len(l.exclude) == 0
}

// Match reports whether name is selected. With only exclusions configured,
// everything not excluded matches.
func (l PatternList) Match(name string) bool {
	for _, pattern := range l.exclude {
		if sshUtil.MatchPatternList([]*sshUtil.Pattern{pattern}, name) {
			return false
		}
	}

	if len(l.include) == 0 {
		return true
	}

	return sshUtil.MatchPatternList(l.include, name)
}

// Strings returns the patterns in their configured form.
func (l PatternList) Strings() []string {
	out := make([]string, 0, len(l.include)+len(l.exclude))
	for _, pattern := range l.include {
		out = append(out, pattern.String())
	}
	for _, pattern := range l.exclude {
		out = append(out, "!"+pattern.String())
	}
	return out
}

// MarshalYAML implements custom YAML marshaling for PatternList.
func (l PatternList) MarshalYAML() (interface{}, error) {
	return l.Strings(), nil
}

// UnmarshalYAML implements custom YAML unmarshaling for PatternList.
func (l *PatternList) UnmarshalYAML(node *yaml.Node) error {
	var raw []string

	// A single scalar is accepted as a one-element list
	if node.Kind == yaml.ScalarNode {
		var single string
		if err := node.Decode(&single); err != nil {
			return err
		}
		raw = []string{single}
	} else if err := node.Decode(&raw); err != nil {
		return err
	}

	parsed, err := ParsePatternList(raw)
	if err != nil {
		return err
	}

	*l = parsed
	return nil
}
