package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"shrc-fleet-telemetry/ingest/internal/models"
)

// HistoryRepo reads and appends the telemetry update watermark ledger.
// Records are append-only; only the newest one matters operationally.
type HistoryRepo struct {
	db     DBTX
	schema string
}

func NewHistoryRepo(db DBTX, schema string) *HistoryRepo {
	return &HistoryRepo{db: db, schema: schema}
}

func (r *HistoryRepo) LastUpdate(ctx context.Context) (*models.UpdateHistory, error) {
	var record models.UpdateHistory
	err := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT last_from_ts, last_to_ts, rows_upserted, updated_at
		FROM %s
		ORDER BY updated_at DESC
		LIMIT 1
	`, r.table("telemetry_update_history"))).
		Scan(&record.LastFromTs, &record.LastToTs, &record.RowsUpserted, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *HistoryRepo) RecordUpdate(ctx context.Context, fromTs string, toTs string, rowsUpserted int) error {
	_, err := r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (last_from_ts, last_to_ts, rows_upserted, updated_at)
		VALUES ($1, $2, $3, NOW())
	`, r.table("telemetry_update_history")), fromTs, toTs, rowsUpserted)
	return err
}

func (r *HistoryRepo) table(name string) string {
	return pgx.Identifier{r.schema, name}.Sanitize()
}
