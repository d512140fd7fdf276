package rules

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout of a built-in rule set.
type SeedFile struct {
	Rules []SeedRule `yaml:"rules"`
}

// SeedRule is one built-in rule.
type SeedRule struct {
	Name     string   `yaml:"name"`
	Leaf     string   `yaml:"leaf"`
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
	Priority int      `yaml:"priority"`
	Strict   bool     `yaml:"strict"`
}

// DefaultSeedPriority applies to seed rules that do not set a priority.
const DefaultSeedPriority = 100

// LoadSeeds decodes a seed rule file.
func LoadSeeds(r io.Reader) ([]NewRule, error) {
	var file SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode seed rules: %w", err)
	}

	seeds := make([]NewRule, 0, len(file.Rules))
	for i, r := range file.Rules {
		if r.Leaf == "" {
			return nil, fmt.Errorf("seed rule %d (%q) has no leaf", i, r.Name)
		}
		priority := r.Priority
		if priority == 0 {
			priority = DefaultSeedPriority
		}
		seeds = append(seeds, NewRule{
			Name:       r.Name,
			TargetLeaf: r.Leaf,
			Positive:   r.Positive,
			Negative:   r.Negative,
			Priority:   priority,
			Strict:     r.Strict,
			IsSystem:   true,
		})
	}
	return seeds, nil
}

// LoadSeedFile reads seed rules from path.
func LoadSeedFile(path string) ([]NewRule, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadSeeds(f)
}

// SeedResult counts the outcome of a seeding run.
type SeedResult struct {
	Created int
	Merged  int
}

// SeedSystemRules installs built-in rules. Seeds for a leaf that already has an active
// rule are merged into it, so seeding twice changes nothing.
func (s *Store) SeedSystemRules(ctx context.Context, seeds []NewRule) (SeedResult, error) {
	var result SeedResult
	for _, seed := range seeds {
		seed.IsSystem = true
		res, err := s.Create(ctx, seed)
		if err != nil {
			return result, fmt.Errorf("failed to seed rule %q: %w", seed.Name, err)
		}
		if res.Merged {
			result.Merged++
		} else {
			result.Created++
		}
	}

	s.logger.Info("Seeded system rules", "created", result.Created, "merged", result.Merged)
	return result, nil
}
