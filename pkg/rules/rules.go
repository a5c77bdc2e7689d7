// Copyright 2024-2026 Aiku AI

// Package rules holds the static forwarding rule table: for each source
// (platform, group) pair, the ordered list of targets its messages are copied to.
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
)

// Target is one forwarding destination. Format is kept as the configured
// string; it is parsed when the target is used so that a typo only disables
// that target.
type Target struct {
	Platform string `yaml:"type" json:"type"`
	GroupID  string `yaml:"group_id" json:"group_id"`
	Format   string `yaml:"format" json:"format"`
}

func (t Target) String() string {
	return t.Platform + "/" + t.GroupID + " (" + t.Format + ")"
}

// Config is the configuration shape of the rule table:
// source platform → source group → targets.
type Config map[string]map[string][]Target

type source struct {
	platform string
	groupID  string
}

// Table is an immutable rule table.
type Table struct {
	rules map[source][]Target
	order []source
}

// Load builds a table from cfg. Targets pointing back at their own source
// group are dropped.
func Load(cfg Config) *Table {
	t := &Table{rules: make(map[source][]Target)}
	platforms := make([]string, 0, len(cfg))
	for platform := range cfg {
		platforms = append(platforms, platform)
	}
	slices.Sort(platforms)
	for _, platform := range platforms {
		groups := make([]string, 0, len(cfg[platform]))
		for groupID := range cfg[platform] {
			groups = append(groups, groupID)
		}
		slices.Sort(groups)
		for _, groupID := range groups {
			src := source{platform, groupID}
			for _, target := range cfg[platform][groupID] {
				if target.Platform == platform && target.GroupID == groupID {
					continue
				}
				if _, ok := t.rules[src]; !ok {
					t.order = append(t.order, src)
				}
				t.rules[src] = append(t.rules[src], target)
			}
		}
	}
	return t
}

// Targets returns the ordered targets for a source group. The result is a
// copy; it is empty when no rule exists.
func (t *Table) Targets(platform, groupID string) []Target {
	return slices.Clone(t.rules[source{platform, groupID}])
}

// Platforms returns every platform referenced as a source or target, sorted.
func (t *Table) Platforms() []string {
	seen := make(map[string]struct{})
	for src, targets := range t.rules {
		seen[src.platform] = struct{}{}
		for _, target := range targets {
			seen[target.Platform] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for platform := range seen {
		out = append(out, platform)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of source groups with at least one target.
func (t *Table) Len() int {
	return len(t.order)
}

// Config returns the table in its configuration shape.
func (t *Table) Config() Config {
	cfg := make(Config)
	for _, src := range t.order {
		if cfg[src.platform] == nil {
			cfg[src.platform] = make(map[string][]Target)
		}
		cfg[src.platform][src.groupID] = slices.Clone(t.rules[src])
	}
	return cfg
}

// Each calls fn for every source group in a stable order.
func (t *Table) Each(fn func(platform, groupID string, targets []Target)) {
	for _, src := range t.order {
		fn(src.platform, src.groupID, slices.Clone(t.rules[src]))
	}
}

// Mirror returns a copy of cfg in which every target also forwards back to
// its source. Reverse rules that are already configured are left alone. The
// reverse format is the one the reverse rule would use for other targets on
// the same platform, defaulting to text.
func Mirror(cfg Config) Config {
	out := make(Config, len(cfg))
	for platform, groups := range cfg {
		out[platform] = make(map[string][]Target, len(groups))
		for groupID, targets := range groups {
			out[platform][groupID] = slices.Clone(targets)
		}
	}
	for _, platform := range slices.Sorted(maps.Keys(cfg)) {
		groups := cfg[platform]
		for _, groupID := range slices.Sorted(maps.Keys(groups)) {
			for _, target := range groups[groupID] {
				if out[target.Platform] == nil {
					out[target.Platform] = make(map[string][]Target)
				}
				existing := out[target.Platform][target.GroupID]
				if slices.ContainsFunc(existing, func(t Target) bool {
					return t.Platform == platform && t.GroupID == groupID
				}) {
					continue
				}
				out[target.Platform][target.GroupID] = append(existing, Target{
					Platform: platform,
					GroupID:  groupID,
					Format:   formatFor(cfg, platform),
				})
			}
		}
	}
	return out
}

// formatFor picks the format already used for targets on platform, taking
// the first one in sorted source order.
func formatFor(cfg Config, platform string) string {
	for _, source := range slices.Sorted(maps.Keys(cfg)) {
		groups := cfg[source]
		for _, groupID := range slices.Sorted(maps.Keys(groups)) {
			for _, target := range groups[groupID] {
				if target.Platform == platform && target.Format != "" {
					return target.Format
				}
			}
		}
	}
	return "text"
}

// LoadFile reads a JSON or JSON5 rule file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON or JSON5 rule document. Group IDs may be written as
// numbers or strings.
func Parse(data []byte) (Config, error) {
	var raw map[string]map[string][]map[string]any
	dec := json5.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	cfg := make(Config, len(raw))
	for platform, groups := range raw {
		cfg[platform] = make(map[string][]Target, len(groups))
		for groupID, targets := range groups {
			list := make([]Target, 0, len(targets))
			for i, entry := range targets {
				target, err := parseTarget(entry)
				if err != nil {
					return nil, fmt.Errorf("rule %s/%s[%d]: %w", platform, groupID, i, err)
				}
				list = append(list, target)
			}
			cfg[platform][groupID] = list
		}
	}
	return cfg, nil
}

func parseTarget(entry map[string]any) (Target, error) {
	var target Target
	var err error
	if target.Platform, err = stringField(entry, "type"); err != nil {
		return target, err
	}
	if target.GroupID, err = stringField(entry, "group_id"); err != nil {
		return target, err
	}
	if _, ok := entry["format"]; ok {
		if target.Format, err = stringField(entry, "format"); err != nil {
			return target, err
		}
	}
	if target.Platform == "" || target.GroupID == "" {
		return target, errors.New("target needs type and group_id")
	}
	return target, nil
}

func stringField(entry map[string]any, name string) (string, error) {
	switch v := entry[name].(type) {
	case string:
		return v, nil
	case json5.Number:
		return v.String(), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("field %q has unexpected type %T", name, v)
	}
}
