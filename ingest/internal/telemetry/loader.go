package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"shrc-fleet-telemetry/shared/metricsx"
)

// Row is one flattened telemetry sample ready for storage. Fields holds
// every flattened column except time; RobotID is the mapped integer id,
// never the raw UUID.
type Row struct {
	Time    time.Time
	RobotID int
	Fields  map[string]any
}

// LoaderDB is the slice of pgx the loader needs; *pgxpool.Pool satisfies it.
type LoaderDB interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Loader writes telemetry rows into per-message-type tables under one
// schema. LoadBatch streams rows through binary COPY; InsertRow is the
// slow row-at-a-time path used by auditable backfills.
type Loader struct {
	db     LoaderDB
	schema string
}

func NewLoader(db LoaderDB, schema string) *Loader {
	return &Loader{db: db, schema: schema}
}

// LoadBatch bulk-inserts rows into table in one COPY. The column list is
// time, robot_id, then the lower-cased union of field names across the
// batch; a row missing any declared column fails the whole batch, there
// is no defaulting. Duplicate-range reloads produce duplicate rows: the
// tables carry no unique key for an upsert.
func (l *Loader) LoadBatch(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	fields, normalized := batchColumns(rows)
	columns := append([]string{"time", "robot_id"}, fields...)

	values := make([][]any, 0, len(rows))
	for i, row := range rows {
		record := make([]any, 0, len(columns))
		record = append(record, row.Time, row.RobotID)
		for _, col := range fields {
			v, ok := normalized[i][col]
			if !ok {
				return &LoadError{Table: table, Rows: len(rows), Err: fmt.Errorf("row %d missing column %q", i, col)}
			}
			record = append(record, v)
		}
		values = append(values, record)
	}

	copied, err := l.db.CopyFrom(ctx, pgx.Identifier{l.schema, table}, columns, pgx.CopyFromRows(values))
	if err != nil {
		metricsx.IncLoadFailure(table)
		return &LoadError{Table: table, Rows: len(rows), Err: err}
	}
	metricsx.AddRowsLoaded(table, int(copied))
	return nil
}

// InsertRow writes a single row with a plain INSERT.
func (l *Loader) InsertRow(ctx context.Context, table string, row Row) error {
	fields, normalized := batchColumns([]Row{row})
	columns := append([]string{"time", "robot_id"}, fields...)

	args := make([]any, 0, len(columns))
	args = append(args, row.Time, row.RobotID)
	placeholders := make([]string, len(columns))
	quoted := make([]string, len(columns))
	for i, col := range columns {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		quoted[i] = pgx.Identifier{col}.Sanitize()
	}
	for _, col := range fields {
		args = append(args, normalized[0][col])
	}

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{l.schema, table}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
	)
	if _, err := l.db.Exec(ctx, sql, args...); err != nil {
		metricsx.IncLoadFailure(table)
		return &LoadError{Table: table, Rows: 1, Err: err}
	}
	metricsx.AddRowsLoaded(table, 1)
	return nil
}

// batchColumns lower-cases every row's field names and returns the
// sorted union plus the normalized per-row maps.
func batchColumns(rows []Row) ([]string, []map[string]any) {
	normalized := make([]map[string]any, len(rows))
	seen := map[string]bool{}
	var fields []string
	for i, row := range rows {
		norm := make(map[string]any, len(row.Fields))
		for k, v := range row.Fields {
			key := strings.ToLower(k)
			norm[key] = v
			if !seen[key] {
				seen[key] = true
				fields = append(fields, key)
			}
		}
		normalized[i] = norm
	}
	sort.Strings(fields)
	return fields, normalized
}
