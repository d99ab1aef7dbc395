package model

import "time"

// ScopeGlobal is the scope value for variants visible to every user.
const ScopeGlobal = "global"

// Variant is a persisted indicator configuration from the variant registry:
// one row per (name, scope) describing which indicator kind to run and with
// what parameters. Variants are soft-deleted, never physically removed; the
// engine retires the matching accumulators when IsDeleted flips.
type Variant struct {
	ID        string     `json:"id"` // uuid
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`   // "EMA", "SMA", "VWAP", "RSI", "TWPA"
	Params    string     `json:"params"` // e.g. "period=20" or "window=5m"
	Scope     string     `json:"scope"`  // "global" or a user id
	CreatedBy string     `json:"created_by"`
	IsDeleted bool       `json:"is_deleted"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Active reports whether the variant should have live accumulators.
func (v *Variant) Active() bool {
	return !v.IsDeleted
}

// DedupeVariants collapses duplicate (name, scope) tuples, keeping the most
// recently updated row. The registry does not enforce uniqueness, so the
// engine treats duplicates defensively rather than running both.
func DedupeVariants(vs []Variant) []Variant {
	type key struct{ name, scope string }
	best := make(map[key]int, len(vs))
	out := make([]Variant, 0, len(vs))
	for i := range vs {
		k := key{vs[i].Name, vs[i].Scope}
		j, seen := best[k]
		if !seen {
			best[k] = len(out)
			out = append(out, vs[i])
			continue
		}
		if vs[i].UpdatedAt.After(out[j].UpdatedAt) {
			out[j] = vs[i]
		}
	}
	return out
}
