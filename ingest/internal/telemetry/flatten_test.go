package telemetry

import "testing"

func TestFlattenIndexedKeys(t *testing.T) {
	flat := Flatten(map[string]any{
		"time":        "2026-01-02T03:04:05Z",
		"voltages[0]": 11.9,
		"voltages[1]": 12.1,
		"lat":         52.1,
	})
	if len(flat) != 4 {
		t.Fatalf("expected 4 keys, got %d: %v", len(flat), flat)
	}
	if flat["voltages_0"] != 11.9 || flat["voltages_1"] != 12.1 {
		t.Fatalf("indexed keys not flattened: %v", flat)
	}
	if flat["time"] != "2026-01-02T03:04:05Z" || flat["lat"] != 52.1 {
		t.Fatalf("plain keys must pass through untouched: %v", flat)
	}
}

func TestFlattenLeavesMalformedKeysAlone(t *testing.T) {
	flat := Flatten(map[string]any{
		"[0]":    1, // no name before the bracket
		"a]b[":   2, // close before open
		"plain":  3,
		"v[12]":  4,
		"w[0]x]": 5, // trailing junk after the first close is dropped
	})
	if _, ok := flat["[0]"]; !ok {
		t.Fatalf("key with leading bracket must pass through: %v", flat)
	}
	if _, ok := flat["a]b["]; !ok {
		t.Fatalf("key with reversed brackets must pass through: %v", flat)
	}
	if flat["v_12"] != 4 {
		t.Fatalf("expected v_12, got %v", flat)
	}
	if flat["w_0"] != 5 {
		t.Fatalf("expected w_0, got %v", flat)
	}
}

func TestFlattenEmpty(t *testing.T) {
	flat := Flatten(map[string]any{})
	if len(flat) != 0 {
		t.Fatalf("expected empty result, got %v", flat)
	}
}
