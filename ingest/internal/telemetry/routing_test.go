package telemetry

import "testing"

func TestDefaultTableMapRoutes(t *testing.T) {
	m := DefaultTableMap()
	table, ok := m.Route(24)
	if !ok || table != "gps_raw_int_24" {
		t.Fatalf("expected msgId 24 -> gps_raw_int_24, got %q ok=%v", table, ok)
	}
	if _, ok := m.Route(999); ok {
		t.Fatalf("expected msgId 999 to be unrouted")
	}
}

func TestDefaultRobotMapPositions(t *testing.T) {
	roster := DefaultRobotRoster()
	m := DefaultRobotMap()
	if len(m) != len(roster) {
		t.Fatalf("expected %d robots, got %d", len(roster), len(m))
	}
	for i, robotUUID := range roster {
		id, ok := m.NumericID(robotUUID)
		if !ok {
			t.Fatalf("roster robot %s missing from map", robotUUID)
		}
		if id != i+1 {
			t.Fatalf("robot %s: expected numeric id %d, got %d", robotUUID, i+1, id)
		}
	}
	if _, ok := m.NumericID("ffffffff-0000-0000-0000-000000000000"); ok {
		t.Fatalf("unlisted robot must have no numeric id")
	}
}
