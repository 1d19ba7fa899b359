// Package pricing maps AI features to point costs and defines the
// purchasable entitlement tiers.
//
// Cost resolution never fails:
//   - empty or unknown tier → the feature's default tier
//   - unknown feature       → DefaultCost
package pricing

import (
	"sort"
	"time"
)

// DefaultCost is charged for features missing from the table.
const DefaultCost int64 = 10

// Feature is one priced AI tool.
type Feature struct {
	ID          string           `json:"id" yaml:"id"`
	DefaultTier string           `json:"default_tier" yaml:"default_tier"`
	Tiers       map[string]int64 `json:"tiers" yaml:"tiers"`
}

// Quote is a resolved price for a (feature, tier) pair.
type Quote struct {
	Feature string `json:"feature"`
	Tier    string `json:"tier"`
	Cost    int64  `json:"cost"`
	Known   bool   `json:"known"` // false when DefaultCost applied
}

// Tier is a purchasable entitlement bundle.
type Tier struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Points   int64         `json:"points"`
	Price    int64         `json:"price"`    // Money in minor units
	Duration time.Duration `json:"duration"` // Zero means no expiry
}

// Unlimited reports whether the tier never expires.
func (t Tier) Unlimited() bool { return t.Duration == 0 }

// Table is an immutable pricing table. The zero value prices every feature
// at DefaultCost and sells no tiers.
type Table struct {
	features    map[string]Feature
	tiers       map[string]Tier
	defaultCost int64
}

// Cost returns the point cost of featureID at tier.
func (t *Table) Cost(featureID, tier string) int64 {
	return t.Quote(featureID, tier).Cost
}

// Quote resolves featureID and tier to a cost.
func (t *Table) Quote(featureID, tier string) Quote {
	f, ok := t.features[featureID]
	if !ok {
		return Quote{Feature: featureID, Tier: tier, Cost: t.fallbackCost()}
	}
	cost, ok := f.Tiers[tier]
	if !ok {
		tier = f.DefaultTier
		cost = f.Tiers[tier]
	}
	return Quote{Feature: featureID, Tier: tier, Cost: cost, Known: true}
}

// DefaultCost returns the cost charged for unknown features.
func (t *Table) DefaultCost() int64 { return t.fallbackCost() }

func (t *Table) fallbackCost() int64 {
	if t.defaultCost > 0 {
		return t.defaultCost
	}
	return DefaultCost
}

// Features returns all priced features sorted by ID.
func (t *Table) Features() []Feature {
	out := make([]Feature, 0, len(t.features))
	for _, f := range t.features {
		out = append(out, cloneFeature(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tier looks up an entitlement tier by ID.
func (t *Table) Tier(id string) (Tier, bool) {
	tier, ok := t.tiers[id]
	return tier, ok
}

// Tiers returns all entitlement tiers ordered by price.
func (t *Table) Tiers() []Tier {
	out := make([]Tier, 0, len(t.tiers))
	for _, tier := range t.tiers {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// ─── Built-in Table ─────────────────────────────────────────────────────────

// Default returns the built-in pricing table.
func Default() *Table {
	features := []Feature{
		{ID: "writing", DefaultTier: "medium", Tiers: map[string]int64{"short": 10, "medium": 25, "long": 50}},
		{ID: "ppt", DefaultTier: "standard", Tiers: map[string]int64{"standard": 30, "premium": 60}},
		{ID: "paper", DefaultTier: "full", Tiers: map[string]int64{"outline": 20, "full": 80}},
		{ID: "image-edit", DefaultTier: "basic", Tiers: map[string]int64{"basic": 5, "advanced": 15}},
		{ID: "image-gen", DefaultTier: "standard", Tiers: map[string]int64{"standard": 10, "hd": 20}},
		{ID: "video-gen", DefaultTier: "short", Tiers: map[string]int64{"short": 100, "long": 200}},
		{ID: "tts", DefaultTier: "standard", Tiers: map[string]int64{"standard": 5, "premium": 10}},
		{ID: "text-extract", DefaultTier: "standard", Tiers: map[string]int64{"standard": 3}},
	}
	tiers := []Tier{
		{ID: "monthly", Name: "Monthly", Points: 1000, Price: 9900, Duration: 30 * 24 * time.Hour},
		{ID: "yearly", Name: "Yearly", Points: 12000, Price: 99900, Duration: 365 * 24 * time.Hour},
		{ID: "lifetime", Name: "Lifetime", Points: 50000, Price: 299900},
	}
	return New(features, tiers, DefaultCost)
}

// New builds a table from features and tiers. Features without tiers are
// skipped; features without a valid default tier get their cheapest tier.
func New(features []Feature, tiers []Tier, defaultCost int64) *Table {
	t := &Table{
		features:    make(map[string]Feature, len(features)),
		tiers:       make(map[string]Tier, len(tiers)),
		defaultCost: defaultCost,
	}
	for _, f := range features {
		if len(f.Tiers) == 0 {
			continue
		}
		f = cloneFeature(f)
		if _, ok := f.Tiers[f.DefaultTier]; !ok {
			f.DefaultTier = cheapestTier(f.Tiers)
		}
		t.features[f.ID] = f
	}
	for _, tier := range tiers {
		t.tiers[tier.ID] = tier
	}
	return t
}

func cheapestTier(tiers map[string]int64) string {
	best := ""
	for name, cost := range tiers {
		if best == "" || cost < tiers[best] || (cost == tiers[best] && name < best) {
			best = name
		}
	}
	return best
}

func cloneFeature(f Feature) Feature {
	tiers := make(map[string]int64, len(f.Tiers))
	for k, v := range f.Tiers {
		tiers[k] = v
	}
	f.Tiers = tiers
	return f
}
