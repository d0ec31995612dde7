package model

import "testing"

func TestIDForKeyIsStable(t *testing.T) {
	keys := []string{"asset:1", "asset:2", "flight:3c6444", "ship:", ""}
	first := make(map[string]EntityID, len(keys))
	for _, k := range keys {
		first[k] = IDForKey(k)
	}
	for i := 0; i < 100; i++ {
		for _, k := range keys {
			if got := IDForKey(k); got != first[k] {
				t.Fatalf("IDForKey(%q) = %s on call %d, want %s", k, got, i, first[k])
			}
		}
	}
	if IDForKey("asset:1") == IDForKey("asset:2") {
		t.Fatalf("distinct keys produced the same id")
	}
}

func TestKindRoundTrip(t *testing.T) {
	for _, k := range AllKinds {
		if got := ParseKind(k.String()); got != k {
			t.Fatalf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if got := ParseKind("zeppelin"); got != KindUnknown {
		t.Fatalf("ParseKind of unknown name = %v, want unknown", got)
	}
}

func TestRecordKeysCarryKindPrefix(t *testing.T) {
	recs := []Record{
		AssetRecord{Base: Base{SourceID: "7"}},
		UnitRecord{Base: Base{SourceID: "7"}},
		FlightRecord{Base: Base{SourceID: "7"}},
		ShipRecord{Base: Base{SourceID: "7"}},
	}
	seen := make(map[string]bool)
	for _, r := range recs {
		if seen[r.Key()] {
			t.Fatalf("duplicate key %q across kinds", r.Key())
		}
		seen[r.Key()] = true
	}
	if got := (AssetRecord{Base: Base{SourceID: "42"}}).Key(); got != "asset:42" {
		t.Fatalf("asset key = %q, want asset:42", got)
	}
}

func TestFlightLabelPrefersCallsign(t *testing.T) {
	r := FlightRecord{Base: Base{Name: "N123"}, Callsign: "DAL12"}
	if r.Label() != "DAL12" {
		t.Fatalf("Label() = %q, want callsign", r.Label())
	}
	r.Callsign = ""
	if r.Label() != "N123" {
		t.Fatalf("Label() = %q, want name fallback", r.Label())
	}
}

func TestTileKeyValid(t *testing.T) {
	if !(TileKey{Zoom: 2, X: 3, Y: 3}).Valid() {
		t.Fatalf("3/3 at z2 should be valid")
	}
	if (TileKey{Zoom: 2, X: 4, Y: 0}).Valid() {
		t.Fatalf("x=4 at z2 should be invalid")
	}
}
