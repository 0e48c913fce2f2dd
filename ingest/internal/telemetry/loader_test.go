package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeLoaderDB struct {
	copyTable   pgx.Identifier
	copyColumns []string
	copyValues  [][]any
	copyCalls   int
	copyErr     error

	execSQL   string
	execArgs  []any
	execCalls int
	execErr   error
}

func (f *fakeLoaderDB) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	f.copyCalls++
	f.copyTable = tableName
	f.copyColumns = columnNames
	f.copyValues = nil
	for rowSrc.Next() {
		values, err := rowSrc.Values()
		if err != nil {
			return 0, err
		}
		f.copyValues = append(f.copyValues, values)
	}
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	return int64(len(f.copyValues)), nil
}

func (f *fakeLoaderDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execCalls++
	f.execSQL = sql
	f.execArgs = args
	return pgconn.CommandTag{}, f.execErr
}

func sampleRow(fields map[string]any) Row {
	return Row{
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		RobotID: 2,
		Fields:  fields,
	}
}

func TestLoadBatchColumnsSortedAndLowercased(t *testing.T) {
	db := &fakeLoaderDB{}
	loader := NewLoader(db, "shrc")

	rows := []Row{
		sampleRow(map[string]any{"Lat": 52.1, "lon": 4.3}),
		sampleRow(map[string]any{"lat": 52.2, "Lon": 4.4}),
	}
	if err := loader.LoadBatch(context.Background(), "gps_raw_int_24", rows); err != nil {
		t.Fatalf("LoadBatch: %v", err)
	}
	if db.copyCalls != 1 {
		t.Fatalf("expected one COPY, got %d", db.copyCalls)
	}
	if db.copyTable[0] != "shrc" || db.copyTable[1] != "gps_raw_int_24" {
		t.Fatalf("unexpected target table: %v", db.copyTable)
	}
	want := []string{"time", "robot_id", "lat", "lon"}
	if len(db.copyColumns) != len(want) {
		t.Fatalf("expected columns %v, got %v", want, db.copyColumns)
	}
	for i, col := range want {
		if db.copyColumns[i] != col {
			t.Fatalf("column %d: expected %q, got %q", i, col, db.copyColumns[i])
		}
	}
	if len(db.copyValues) != 2 {
		t.Fatalf("expected 2 records, got %d", len(db.copyValues))
	}
	if db.copyValues[0][2] != 52.1 || db.copyValues[1][3] != 4.4 {
		t.Fatalf("values not aligned to columns: %v", db.copyValues)
	}
}

func TestLoadBatchMissingColumnFails(t *testing.T) {
	db := &fakeLoaderDB{}
	loader := NewLoader(db, "shrc")

	rows := []Row{
		sampleRow(map[string]any{"lat": 52.1, "lon": 4.3}),
		sampleRow(map[string]any{"lat": 52.2}),
	}
	err := loader.LoadBatch(context.Background(), "gps_raw_int_24", rows)
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if loadErr.Table != "gps_raw_int_24" || loadErr.Rows != 2 {
		t.Fatalf("unexpected LoadError fields: %+v", loadErr)
	}
	if db.copyCalls != 0 {
		t.Fatalf("COPY must not run for a ragged batch")
	}
}

func TestLoadBatchEmptyIsNoop(t *testing.T) {
	db := &fakeLoaderDB{}
	loader := NewLoader(db, "shrc")
	if err := loader.LoadBatch(context.Background(), "altitude_141", nil); err != nil {
		t.Fatalf("empty batch must be a no-op, got %v", err)
	}
	if db.copyCalls != 0 {
		t.Fatalf("empty batch must not reach the database")
	}
}

func TestLoadBatchWrapsCopyError(t *testing.T) {
	cause := errors.New("boom")
	db := &fakeLoaderDB{copyErr: cause}
	loader := NewLoader(db, "shrc")

	err := loader.LoadBatch(context.Background(), "battery_status_147", []Row{
		sampleRow(map[string]any{"voltage": 11.9}),
	})
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("LoadError must wrap the copy failure")
	}
}

func TestInsertRowBuildsQuotedInsert(t *testing.T) {
	db := &fakeLoaderDB{}
	loader := NewLoader(db, "shrc")

	err := loader.InsertRow(context.Background(), "gps_raw_int_24", sampleRow(map[string]any{"lat": 52.1}))
	if err != nil {
		t.Fatalf("InsertRow: %v", err)
	}
	if db.execCalls != 1 {
		t.Fatalf("expected one INSERT, got %d", db.execCalls)
	}
	if !strings.HasPrefix(db.execSQL, `INSERT INTO "shrc"."gps_raw_int_24"`) {
		t.Fatalf("unexpected SQL: %s", db.execSQL)
	}
	if !strings.Contains(db.execSQL, `"time"`) || !strings.Contains(db.execSQL, `"robot_id"`) || !strings.Contains(db.execSQL, `"lat"`) {
		t.Fatalf("columns missing from SQL: %s", db.execSQL)
	}
	if len(db.execArgs) != 3 {
		t.Fatalf("expected 3 args, got %d", len(db.execArgs))
	}
	if db.execArgs[1] != 2 || db.execArgs[2] != 52.1 {
		t.Fatalf("args not aligned: %v", db.execArgs)
	}
}
