// Package engine owns the live accumulator arena: one indicator instance per
// (symbol, variant) pair, created when the pair becomes active and destroyed
// explicitly — on registry soft-delete or on a memory-pressure signal, never
// by heuristic garbage collection.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"indstream/internal/indicator"
	"indstream/internal/memmon"
	"indstream/internal/model"
)

// slotKey identifies one accumulator in the arena.
type slotKey struct {
	Symbol    string
	VariantID string
}

// slot holds one accumulator plus its own lock. Locking is per
// (symbol, variant): ingestion and harvest may run on different goroutines,
// and a single engine-wide lock would serialize unrelated symbols.
type slot struct {
	mu         sync.Mutex
	ind        indicator.Indicator
	name       string
	lastIngest time.Time
}

// compactable is implemented by window-backed indicators (VWAP, TWPA) whose
// evicted prefix can be reclaimed on demand.
type compactable interface {
	Compact()
}

// Engine maintains accumulators for the cross product of subscribed symbols
// and active registry variants.
type Engine struct {
	log *slog.Logger

	mu       sync.RWMutex // guards the maps below, not slot contents
	slots    map[slotKey]*slot
	variants map[string]model.Variant // active variants by ID
	symbols  map[string]bool

	// Optional hooks for metrics; nil-safe.
	OnIngest   func(accepted bool)
	OnEviction func(n int)
}

// New creates an engine for the given symbol universe.
func New(symbols []string, log *slog.Logger) *Engine {
	e := &Engine{
		log:      log,
		slots:    make(map[slotKey]*slot, 64),
		variants: make(map[string]model.Variant, 16),
		symbols:  make(map[string]bool, len(symbols)),
	}
	for _, s := range symbols {
		e.symbols[s] = true
	}
	return e
}

// SyncVariants reconciles the arena against the registry's current view.
// New active variants get accumulators for every subscribed symbol;
// soft-deleted or vanished variants have theirs retired. Duplicate
// (name, scope) rows are collapsed defensively before applying.
// Returns (added, retired) accumulator counts.
func (e *Engine) SyncVariants(vs []model.Variant) (added, retired int) {
	vs = model.DedupeVariants(vs)

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]model.Variant, len(vs))
	for _, v := range vs {
		if !v.Active() {
			continue
		}
		kind, err := indicator.ParseKind(v.Kind)
		if err != nil {
			e.log.Warn("skipping variant with unknown kind", "variant", v.Name, "kind", v.Kind)
			continue
		}
		params, err := indicator.ParseParams(kind, v.Params)
		if err != nil {
			e.log.Warn("skipping variant with invalid params", "variant", v.Name, "err", err)
			continue
		}
		next[v.ID] = v

		for sym := range e.symbols {
			k := slotKey{Symbol: sym, VariantID: v.ID}
			if _, exists := e.slots[k]; exists {
				continue
			}
			// Explicit insertion point — accumulators are never created as a
			// side effect of a map read.
			ind, err := indicator.New(kind, params)
			if err != nil {
				e.log.Warn("variant construction failed", "variant", v.Name, "err", err)
				continue
			}
			e.slots[k] = &slot{ind: ind, name: v.Name}
			added++
		}
	}

	for k := range e.slots {
		if _, live := next[k.VariantID]; !live {
			delete(e.slots, k)
			retired++
		}
	}
	e.variants = next

	if added > 0 || retired > 0 {
		e.log.Info("variant sync applied", "added", added, "retired", retired,
			"active_variants", len(next), "slots", len(e.slots))
	}
	return added, retired
}

// Ingest feeds a tick to every accumulator subscribed to its symbol.
// All accumulators see the same immutable tick. A malformed tick is rejected
// identically by each accumulator; the first *ValidationError is returned so
// the adapter layer can drop the tick and continue.
func (e *Engine) Ingest(t model.Tick) error {
	e.mu.RLock()
	targets := make([]*slot, 0, 8)
	for k, s := range e.slots {
		if k.Symbol == t.Symbol {
			targets = append(targets, s)
		}
	}
	e.mu.RUnlock()

	var firstErr error
	for _, s := range targets {
		s.mu.Lock()
		err := s.ind.Ingest(t)
		if err == nil {
			s.lastIngest = t.TS
		}
		s.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.OnIngest != nil {
		e.OnIngest(firstErr == nil)
	}
	return firstErr
}

// Harvest reads the current value of every accumulator, stamped with the
// given axis-aligned timestamp. Accumulators with no value yet are skipped —
// no placeholder rows.
func (e *Engine) Harvest(ts time.Time) []model.IndicatorPoint {
	e.mu.RLock()
	type entry struct {
		k slotKey
		s *slot
	}
	entries := make([]entry, 0, len(e.slots))
	for k, s := range e.slots {
		entries = append(entries, entry{k, s})
	}
	e.mu.RUnlock()

	points := make([]model.IndicatorPoint, 0, len(entries))
	for _, en := range entries {
		en.s.mu.Lock()
		v, ok := en.s.ind.Value()
		name := en.s.name
		en.s.mu.Unlock()
		if !ok {
			continue
		}
		points = append(points, model.IndicatorPoint{
			Symbol:    en.k.Symbol,
			VariantID: en.k.VariantID,
			Name:      name,
			TS:        ts,
			Value:     v,
		})
	}
	return points
}

// Cleanup reacts to a memory-pressure severity from the monitor.
//
//	standard:  compact window-backed accumulators (reclaim evicted prefixes)
//	force:     additionally evict accumulators idle longer than 10 minutes
//	emergency: evict accumulators idle longer than 1 minute
//
// Returns the number of accumulators evicted. Eviction is explicit and
// logged; an evicted pair is rebuilt cold on its next registry sync only if
// still active.
func (e *Engine) Cleanup(sev memmon.Severity) int {
	if sev <= memmon.SeverityNone {
		return 0
	}

	idleCutoff := time.Duration(0)
	switch sev {
	case memmon.SeverityForce:
		idleCutoff = 10 * time.Minute
	case memmon.SeverityEmergency:
		idleCutoff = time.Minute
	}

	now := time.Now()
	evicted := 0

	e.mu.Lock()
	for k, s := range e.slots {
		s.mu.Lock()
		if c, ok := s.ind.(compactable); ok {
			c.Compact()
		}
		idle := s.lastIngest
		s.mu.Unlock()

		if idleCutoff > 0 && !idle.IsZero() && now.Sub(idle) > idleCutoff {
			delete(e.slots, k)
			evicted++
		}
	}
	e.mu.Unlock()

	if evicted > 0 {
		e.log.Warn("memory pressure eviction", "severity", sev.String(), "evicted", evicted)
		if e.OnEviction != nil {
			e.OnEviction(evicted)
		}
	}
	return evicted
}

// SlotCount returns the number of live accumulators (for health reporting).
func (e *Engine) SlotCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.slots)
}

// ActiveVariants returns a copy of the currently active variant set.
func (e *Engine) ActiveVariants() []model.Variant {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Variant, 0, len(e.variants))
	for _, v := range e.variants {
		out = append(out, v)
	}
	return out
}
