package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overridesFile is the YAML layout accepted by LoadOverrides.
//
//	default_cost: 12
//	features:
//	  writing:
//	    default_tier: medium
//	    tiers:
//	      medium: 30
type overridesFile struct {
	DefaultCost int64 `yaml:"default_cost"`
	Features    map[string]struct {
		DefaultTier string           `yaml:"default_tier"`
		Tiers       map[string]int64 `yaml:"tiers"`
	} `yaml:"features"`
}

// LoadOverrides reads a YAML overrides file and returns a new table built
// from base with the overrides applied. base is left untouched.
func LoadOverrides(base *Table, path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing overrides: %w", err)
	}
	return ApplyOverrides(base, raw)
}

// ApplyOverrides parses YAML overrides and merges them over base.
func ApplyOverrides(base *Table, raw []byte) (*Table, error) {
	var f overridesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse pricing overrides: %w", err)
	}
	if f.DefaultCost < 0 {
		return nil, fmt.Errorf("pricing overrides: default_cost must not be negative")
	}

	features := make(map[string]Feature, len(base.features)+len(f.Features))
	for id, feat := range base.features {
		features[id] = cloneFeature(feat)
	}
	for id, o := range f.Features {
		feat, ok := features[id]
		if !ok {
			feat = Feature{ID: id, Tiers: map[string]int64{}}
		}
		for tier, cost := range o.Tiers {
			if cost <= 0 {
				return nil, fmt.Errorf("pricing overrides: %s/%s cost must be positive", id, tier)
			}
			feat.Tiers[tier] = cost
		}
		if o.DefaultTier != "" {
			if _, ok := feat.Tiers[o.DefaultTier]; !ok {
				return nil, fmt.Errorf("pricing overrides: %s default tier %q has no cost", id, o.DefaultTier)
			}
			feat.DefaultTier = o.DefaultTier
		}
		features[id] = feat
	}

	list := make([]Feature, 0, len(features))
	for _, feat := range features {
		list = append(list, feat)
	}
	tiers := make([]Tier, 0, len(base.tiers))
	for _, tier := range base.tiers {
		tiers = append(tiers, tier)
	}
	defaultCost := base.defaultCost
	if f.DefaultCost > 0 {
		defaultCost = f.DefaultCost
	}
	return New(list, tiers, defaultCost), nil
}
