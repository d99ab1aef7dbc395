package engine

import (
	"log/slog"
	"testing"
	"time"

	"indstream/internal/indicator"
	"indstream/internal/memmon"
	"indstream/internal/model"
)

var base = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func variant(id, name, kind, params string) model.Variant {
	return model.Variant{
		ID: id, Name: name, Kind: kind, Params: params,
		Scope: model.ScopeGlobal, UpdatedAt: base,
	}
}

func tk(sym string, sec float64, price float64) model.Tick {
	return model.Tick{
		Symbol: sym,
		TS:     base.Add(time.Duration(sec * float64(time.Second))),
		Price:  price,
		Volume: 1,
	}
}

func newTestEngine(symbols ...string) *Engine {
	return New(symbols, slog.Default())
}

func TestSyncVariants_CreatesSlotsPerSymbol(t *testing.T) {
	e := newTestEngine("BTCUSDT", "ETHUSDT")
	added, retired := e.SyncVariants([]model.Variant{
		variant("v1", "EMA_20", "EMA", "period=20"),
		variant("v2", "RSI_14", "RSI", "period=14"),
	})
	if added != 4 || retired != 0 {
		t.Fatalf("sync: added=%d retired=%d, want 4/0", added, retired)
	}
	if e.SlotCount() != 4 {
		t.Fatalf("slot count %d, want 4", e.SlotCount())
	}
}

func TestSyncVariants_SoftDeleteRetires(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.SyncVariants([]model.Variant{variant("v1", "EMA_20", "EMA", "period=20")})

	gone := variant("v1", "EMA_20", "EMA", "period=20")
	gone.IsDeleted = true
	_, retired := e.SyncVariants([]model.Variant{gone})
	if retired != 1 || e.SlotCount() != 0 {
		t.Fatalf("soft delete: retired=%d slots=%d, want 1/0", retired, e.SlotCount())
	}
}

func TestSyncVariants_SkipsInvalid(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	added, _ := e.SyncVariants([]model.Variant{
		variant("v1", "MACD_12", "MACD", "period=12"),  // unknown kind
		variant("v2", "EMA_bad", "EMA", "period=zero"), // bad params
		variant("v3", "SMA_9", "SMA", "period=9"),
	})
	if added != 1 || e.SlotCount() != 1 {
		t.Fatalf("invalid variants: added=%d slots=%d, want 1/1", added, e.SlotCount())
	}
}

func TestSyncVariants_DuplicateNameScopeCollapsed(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	older := variant("v1", "EMA_20", "EMA", "period=20")
	newer := variant("v2", "EMA_20", "EMA", "period=20")
	newer.UpdatedAt = base.Add(time.Hour)
	e.SyncVariants([]model.Variant{older, newer})
	if e.SlotCount() != 1 {
		t.Fatalf("duplicates not collapsed: %d slots, want 1", e.SlotCount())
	}
	vs := e.ActiveVariants()
	if len(vs) != 1 || vs[0].ID != "v2" {
		t.Fatalf("kept %+v, want the most recently updated duplicate v2", vs)
	}
}

func TestIngestAndHarvest(t *testing.T) {
	e := newTestEngine("BTCUSDT", "ETHUSDT")
	e.SyncVariants([]model.Variant{variant("v1", "EMA_9", "EMA", "period=9")})

	if err := e.Ingest(tk("BTCUSDT", 0, 50000)); err != nil {
		t.Fatal(err)
	}

	pts := e.Harvest(base.Add(time.Second))
	// ETHUSDT has no samples yet — skipped, no placeholder row.
	if len(pts) != 1 {
		t.Fatalf("harvest returned %d points, want 1 (unseeded symbol skipped)", len(pts))
	}
	p := pts[0]
	if p.Symbol != "BTCUSDT" || p.VariantID != "v1" || p.Name != "EMA_9" {
		t.Errorf("point identity wrong: %+v", p)
	}
	if p.Value != 50000 {
		t.Errorf("EMA seed value %v, want 50000", p.Value)
	}
	if !p.TS.Equal(base.Add(time.Second)) {
		t.Errorf("point TS %v not harvest-aligned", p.TS)
	}
}

func TestHarvest_SkipsUnready(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.SyncVariants([]model.Variant{
		variant("v1", "EMA_9", "EMA", "period=9"),
		variant("v2", "RSI_14", "RSI", "period=14"),
	})
	// One tick: EMA seeds immediately, RSI needs 14 deltas.
	e.Ingest(tk("BTCUSDT", 0, 100))

	pts := e.Harvest(base.Add(time.Second))
	if len(pts) != 1 || pts[0].Name != "EMA_9" {
		t.Fatalf("harvest = %+v, want only EMA_9", pts)
	}
}

func TestIngest_MalformedTickRejectedEverywhere(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.SyncVariants([]model.Variant{variant("v1", "SMA_3", "SMA", "period=3")})
	e.Ingest(tk("BTCUSDT", 0, 100))

	bad := tk("BTCUSDT", 1, 100)
	bad.Volume = -5
	err := e.Ingest(bad)
	if _, ok := err.(*indicator.ValidationError); !ok {
		t.Fatalf("malformed tick: got %v, want *indicator.ValidationError", err)
	}

	pts := e.Harvest(base.Add(2 * time.Second))
	if len(pts) != 1 || pts[0].Value != 100 {
		t.Fatalf("state after rejected tick = %+v, want untouched SMA=100", pts)
	}
}

func TestIngest_UnknownSymbolIsNoop(t *testing.T) {
	e := newTestEngine("BTCUSDT")
	e.SyncVariants([]model.Variant{variant("v1", "EMA_9", "EMA", "period=9")})
	if err := e.Ingest(tk("DOGEUSDT", 0, 1)); err != nil {
		t.Fatalf("tick for unsubscribed symbol: %v", err)
	}
	if pts := e.Harvest(base.Add(time.Second)); len(pts) != 0 {
		t.Fatalf("unsubscribed symbol produced points: %+v", pts)
	}
}

func TestCleanup_EvictsIdleUnderPressure(t *testing.T) {
	e := newTestEngine("BTCUSDT", "ETHUSDT")
	e.SyncVariants([]model.Variant{variant("v1", "TWPA_1m", "TWPA", "window=1m")})

	// BTC last ingested long ago; ETH never ingested (zero lastIngest is
	// kept — a cold accumulator is not a leak).
	old := model.Tick{Symbol: "BTCUSDT", TS: time.Now().Add(-time.Hour), Price: 10, Volume: 1}
	e.Ingest(old)

	if n := e.Cleanup(memmon.SeverityNone); n != 0 {
		t.Fatalf("SeverityNone evicted %d", n)
	}
	if n := e.Cleanup(memmon.SeverityStandard); n != 0 {
		t.Fatalf("standard cleanup evicted %d, want 0 (compact only)", n)
	}
	if n := e.Cleanup(memmon.SeverityForce); n != 1 {
		t.Fatalf("force cleanup evicted %d, want 1 idle accumulator", n)
	}
	if e.SlotCount() != 1 {
		t.Fatalf("slots after eviction = %d, want 1", e.SlotCount())
	}

	// Next registry sync rebuilds the evicted pair.
	e.SyncVariants([]model.Variant{variant("v1", "TWPA_1m", "TWPA", "window=1m")})
	if e.SlotCount() != 2 {
		t.Fatalf("slots after resync = %d, want 2", e.SlotCount())
	}
}
