package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// GroupMapping routes ticket categories to staff group chats. It is never mutated after Load.
type GroupMapping struct {
	DefaultCategory string
	groups          map[string]int64
}

type groupsFile struct {
	DefaultCategory string           `yaml:"default_category"`
	Groups          map[string]int64 `yaml:"groups"`
}

// NewGroupMapping copies routes so later changes to the argument do not leak in.
func NewGroupMapping(defaultCategory string, routes map[string]int64) GroupMapping {
	groups := make(map[string]int64, len(routes))
	for category, groupID := range routes {
		groups[normalizeCategory(category)] = groupID
	}
	return GroupMapping{DefaultCategory: normalizeCategory(defaultCategory), groups: groups}
}

// LoadGroupMapping reads the YAML file when given, otherwise the JSON object in rawJSON.
// mainGroupID, when non-zero, serves the default category if nothing else routes it.
func LoadGroupMapping(path, rawJSON, defaultCategory string, mainGroupID int64) (GroupMapping, error) {
	routes := map[string]int64{}

	switch {
	case path != "":
		content, err := os.ReadFile(path)
		if err != nil {
			return GroupMapping{}, fmt.Errorf("read groups file: %w", err)
		}
		var file groupsFile
		if err := yaml.Unmarshal(content, &file); err != nil {
			return GroupMapping{}, fmt.Errorf("parse groups file %s: %w", path, err)
		}
		for category, groupID := range file.Groups {
			routes[category] = groupID
		}
		if file.DefaultCategory != "" {
			defaultCategory = file.DefaultCategory
		}
	case strings.TrimSpace(rawJSON) != "":
		if err := json.Unmarshal([]byte(rawJSON), &routes); err != nil {
			return GroupMapping{}, fmt.Errorf("parse CATEGORY_GROUPS: %w", err)
		}
	}

	mapping := NewGroupMapping(defaultCategory, routes)
	if _, ok := mapping.groups[mapping.DefaultCategory]; !ok && mainGroupID != 0 {
		mapping.groups[mapping.DefaultCategory] = mainGroupID
	}
	return mapping, nil
}

// Validate checks that the default category is routable.
func (m GroupMapping) Validate() error {
	if len(m.groups) == 0 {
		return errors.New("no staff groups configured: set GROUPS_FILE, CATEGORY_GROUPS or MAIN_GROUP_ID")
	}
	if _, ok := m.groups[m.DefaultCategory]; !ok {
		return fmt.Errorf("default category %q has no staff group", m.DefaultCategory)
	}
	return nil
}

// Resolve returns the category actually used and its group; unknown categories fall back to the default.
func (m GroupMapping) Resolve(category string) (string, int64) {
	category = normalizeCategory(category)
	if groupID, ok := m.groups[category]; ok && category != "" {
		return category, groupID
	}
	return m.DefaultCategory, m.groups[m.DefaultCategory]
}

// Has reports whether category is explicitly configured.
func (m GroupMapping) Has(category string) bool {
	_, ok := m.groups[normalizeCategory(category)]
	return ok
}

// IsStaffGroup reports whether chatID is one of the configured staff groups.
func (m GroupMapping) IsStaffGroup(chatID int64) bool {
	for _, groupID := range m.groups {
		if groupID == chatID {
			return true
		}
	}
	return false
}

// Categories lists configured categories in sorted order.
func (m GroupMapping) Categories() []string {
	out := make([]string, 0, len(m.groups))
	for category := range m.groups {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
