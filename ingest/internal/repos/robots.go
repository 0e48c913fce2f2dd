package repos

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"shrc-fleet-telemetry/ingest/internal/telemetry"
)

// RobotsRepo reads the robot registry: the set of externally issued
// robot UUIDs and their compact numeric ids.
type RobotsRepo struct {
	db     DBTX
	schema string
}

func NewRobotsRepo(db DBTX, schema string) *RobotsRepo {
	return &RobotsRepo{db: db, schema: schema}
}

func (r *RobotsRepo) ListRobotUUIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT robot_id
		FROM %s
		ORDER BY robot_num
	`, r.table()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadIdentityMap rebuilds the UUID -> numeric id mapping from storage.
// Called once at startup; an empty registry is reported as an error so
// callers can fall back to the seeded defaults.
func (r *RobotsRepo) LoadIdentityMap(ctx context.Context) (telemetry.RobotMap, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT robot_id, robot_num
		FROM %s
	`, r.table()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := telemetry.RobotMap{}
	for rows.Next() {
		var id string
		var num int
		if err := rows.Scan(&id, &num); err != nil {
			return nil, err
		}
		m[id] = num
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("robot registry is empty")
	}
	return m, nil
}

func (r *RobotsRepo) table() string {
	return pgx.Identifier{r.schema, "robots"}.Sanitize()
}
