// Package rules loads the keyword rule sets that drive article scoring.
// Rule sets are versioned YAML documents so scoring changes ship as data,
// not as code.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultRulesYAML []byte

// Rule binds a keyword to a scoring weight and a reporting category.
type Rule struct {
	Keyword  string  `yaml:"keyword"`
	Weight   float64 `yaml:"weight"`
	Category string  `yaml:"category"`
}

// Set is an ordered rule set. Order is preserved from the source file;
// duplicate keywords are merged by summing their weights.
type Set struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Load reads and parses a rule set file.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded default rule set.
func Default() *Set {
	set, err := Parse(DefaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default rules are invalid: %v", err))
	}
	return set
}

// Parse parses YAML bytes into a Set, merging duplicate keywords.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if len(set.Rules) == 0 {
		return nil, fmt.Errorf("rule set has no rules")
	}
	for i, r := range set.Rules {
		if strings.TrimSpace(r.Keyword) == "" {
			return nil, fmt.Errorf("rule %d has an empty keyword", i+1)
		}
		if r.Weight < 0 {
			return nil, fmt.Errorf("rule %q has negative weight %v", r.Keyword, r.Weight)
		}
	}
	set.Rules = mergeDuplicates(set.Rules)
	return &set, nil
}

// mergeDuplicates collapses rules sharing a keyword (case-insensitive)
// into one rule at the first occurrence's position, summing weights.
// The first occurrence's category wins.
func mergeDuplicates(in []Rule) []Rule {
	index := make(map[string]int, len(in))
	out := make([]Rule, 0, len(in))
	for _, r := range in {
		key := strings.ToLower(strings.TrimSpace(r.Keyword))
		if i, seen := index[key]; seen {
			out[i].Weight += r.Weight
			continue
		}
		r.Keyword = strings.TrimSpace(r.Keyword)
		index[key] = len(out)
		out = append(out, r)
	}
	return out
}

// Categories returns the distinct categories in rule order.
func (s *Set) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range s.Rules {
		if r.Category == "" {
			continue
		}
		if _, ok := seen[r.Category]; ok {
			continue
		}
		seen[r.Category] = struct{}{}
		out = append(out, r.Category)
	}
	return out
}
