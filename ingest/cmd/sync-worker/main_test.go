package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"shrc-fleet-telemetry/ingest/internal/telemetry"
	"shrc-fleet-telemetry/shared/config"
	"shrc-fleet-telemetry/shared/logx"
)

type fakeFleetSyncer struct {
	rows   map[string]int
	errs   map[string]error
	calls  []string
	ranges [][2]string

	historyWrites int
}

func (f *fakeFleetSyncer) SyncRecent(ctx context.Context, robotUUID string, fromTs string, toTs string) (int, error) {
	f.calls = append(f.calls, robotUUID)
	f.ranges = append(f.ranges, [2]string{fromTs, toTs})
	if err := f.errs[robotUUID]; err != nil {
		return 0, err
	}
	return f.rows[robotUUID], nil
}

// RecordUpdate exists so a regression reintroducing a history write in
// the sweep would have somewhere to land and be counted.
func (f *fakeFleetSyncer) RecordUpdate(ctx context.Context, fromTs string, toTs string, rowsUpserted int) error {
	f.historyWrites++
	return nil
}

type fakeRoster struct {
	uuids []string
	err   error
}

func (f *fakeRoster) ListRobotUUIDs(ctx context.Context) ([]string, error) {
	return f.uuids, f.err
}

func testWorkerLogger() logx.Logger {
	return logx.New("sync-worker", "test", "", "error")
}

func TestRunFleetSyncIsolatesRobotFailures(t *testing.T) {
	syncer := &fakeFleetSyncer{
		rows: map[string]int{"r1": 3, "r3": 4},
		errs: map[string]error{"r2": errors.New("upstream down")},
	}
	roster := &fakeRoster{uuids: []string{"r1", "r2", "r3"}}
	cfg := config.Config{SyncLookbackHours: 3}

	err := runFleetSync(context.Background(), cfg, syncer, roster, nil, nil, testWorkerLogger())
	if err != nil {
		t.Fatalf("a failing robot must not fail the sweep, got %v", err)
	}
	if len(syncer.calls) != 3 {
		t.Fatalf("every robot must be attempted, got %v", syncer.calls)
	}
	if syncer.calls[2] != "r3" {
		t.Fatalf("robots after a failure must still be synced, got %v", syncer.calls)
	}
	if syncer.historyWrites != 0 {
		t.Fatalf("a sweep must never advance the watermark ledger, got %d writes", syncer.historyWrites)
	}
}

func TestRunFleetSyncNeverWritesHistoryOnSuccess(t *testing.T) {
	syncer := &fakeFleetSyncer{rows: map[string]int{"r1": 2, "r2": 5}}
	roster := &fakeRoster{uuids: []string{"r1", "r2"}}
	cfg := config.Config{SyncLookbackHours: 3}

	if err := runFleetSync(context.Background(), cfg, syncer, roster, nil, nil, testWorkerLogger()); err != nil {
		t.Fatalf("runFleetSync: %v", err)
	}
	if syncer.historyWrites != 0 {
		t.Fatalf("the watermark ledger belongs to the fleet-wide update path, got %d writes", syncer.historyWrites)
	}
}

func TestRunFleetSyncWindowAndRosterFallback(t *testing.T) {
	syncer := &fakeFleetSyncer{}
	roster := &fakeRoster{err: errors.New("db down")}
	cfg := config.Config{SyncLookbackHours: 3}

	before := time.Now().UTC()
	if err := runFleetSync(context.Background(), cfg, syncer, roster, nil, nil, testWorkerLogger()); err != nil {
		t.Fatalf("runFleetSync: %v", err)
	}

	seeded := telemetry.DefaultRobotRoster()
	if len(syncer.calls) != len(seeded) {
		t.Fatalf("expected the seeded roster on registry failure, got %v", syncer.calls)
	}

	from, err := time.Parse(telemetry.TsLayout, syncer.ranges[0][0])
	if err != nil {
		t.Fatalf("parse from_ts: %v", err)
	}
	to, err := time.Parse(telemetry.TsLayout, syncer.ranges[0][1])
	if err != nil {
		t.Fatalf("parse to_ts: %v", err)
	}
	if window := to.Sub(from); window != 3*time.Hour {
		t.Fatalf("expected a 3h lookback window, got %v", window)
	}
	if to.Before(before.Truncate(time.Second)) {
		t.Fatalf("window must end at the sweep's wall clock, got %v", to)
	}
}
