package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"shrc-fleet-telemetry/ingest/internal/models"
	"shrc-fleet-telemetry/shared/logx"
	"shrc-fleet-telemetry/shared/metricsx"
)

// TsLayout is the request-parameter timestamp form the upstream expects.
const TsLayout = "20060102150405"

type MessageAPI interface {
	ListMessages(ctx context.Context, robotUUID string, fromTs string, toTs string) ([]models.MessageEnvelope, error)
	FetchDetail(ctx context.Context, robotUUID string, msgID int, fromTs string, toTs string) ([]map[string]any, error)
}

type RowWriter interface {
	LoadBatch(ctx context.Context, table string, rows []Row) error
	InsertRow(ctx context.Context, table string, row Row) error
}

type HistoryStore interface {
	LastUpdate(ctx context.Context) (*models.UpdateHistory, error)
	RecordUpdate(ctx context.Context, fromTs string, toTs string, rowsUpserted int) error
}

type RobotRegistry interface {
	ListRobotUUIDs(ctx context.Context) ([]string, error)
}

// Syncer coordinates list fetch, detail fan-out, flattening and loading.
// It holds no mutable state and never retries: every failure propagates
// to the caller, which decides whether re-running the range is worth the
// duplicate rows it would create.
type Syncer struct {
	api      MessageAPI
	writer   RowWriter
	history  HistoryStore
	registry RobotRegistry
	tables   TableMap
	robots   RobotMap
	log      logx.Logger

	now func() time.Time
}

func NewSyncer(api MessageAPI, writer RowWriter, history HistoryStore, registry RobotRegistry, tables TableMap, robots RobotMap, logger logx.Logger) *Syncer {
	return &Syncer{
		api:      api,
		writer:   writer,
		history:  history,
		registry: registry,
		tables:   tables,
		robots:   robots,
		log:      logger,
		now:      time.Now,
	}
}

// SyncRange walks [fromTs, toTs] one calendar day at a time, fetching
// details sequentially and inserting row by row. Slow, but every insert
// is individually attributable; used for historical backfill.
func (s *Syncer) SyncRange(ctx context.Context, robotUUID string, fromTs string, toTs string) (int, error) {
	startDay, err := dayOf(fromTs)
	if err != nil {
		return 0, fmt.Errorf("parse from_ts: %w", err)
	}
	endDay, err := dayOf(toTs)
	if err != nil {
		return 0, fmt.Errorf("parse to_ts: %w", err)
	}

	total := 0
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		dayFrom := day.Format("20060102") + "000000"
		dayTo := day.Format("20060102") + "235959"
		s.log.Info(ctx, "backfill_day", "listing day",
			slog.String("robot", robotUUID),
			slog.String("day", day.Format("2006-01-02")),
		)

		envelopes, err := s.api.ListMessages(ctx, robotUUID, dayFrom, dayTo)
		if err != nil {
			return 0, err
		}
		for _, env := range envelopes {
			table, ok := s.tables.Route(env.MsgID)
			if !ok {
				s.log.Warn(ctx, "msg_unrouted", "no destination table for message type",
					slog.Int("msg_id", env.MsgID),
					slog.String("msg_name", env.MsgName),
				)
				continue
			}

			payloads, err := s.api.FetchDetail(ctx, robotUUID, env.MsgID, dayFrom, dayTo)
			if err != nil {
				return 0, err
			}
			for _, payload := range payloads {
				row, err := s.buildRow(robotUUID, payload)
				if err != nil {
					return 0, err
				}
				if err := s.writer.InsertRow(ctx, table, row); err != nil {
					return 0, err
				}
				total++
			}
		}
	}
	return total, nil
}

// SyncRecent covers the whole range with a single list call, fetches
// every routed message type's detail concurrently with a fail-fast join,
// then bulk-loads the buffered rows table by table. Table loads are
// sequential and not wrapped in one transaction: a late load failure
// leaves earlier tables committed.
func (s *Syncer) SyncRecent(ctx context.Context, robotUUID string, fromTs string, toTs string) (int, error) {
	start := time.Now()
	s.log.Info(ctx, "sync_start", "recent sync starting",
		slog.String("robot", robotUUID),
		slog.String("from", fromTs),
		slog.String("to", toTs),
	)

	envelopes, err := s.api.ListMessages(ctx, robotUUID, fromTs, toTs)
	if err != nil {
		metricsx.IncSyncFailure(robotUUID)
		return 0, err
	}
	s.log.Info(ctx, "msg_list", "message list received",
		slog.String("robot", robotUUID),
		slog.Int("count", len(envelopes)),
	)

	type target struct {
		msgID int
		table string
	}
	var targets []target
	for _, env := range envelopes {
		table, ok := s.tables.Route(env.MsgID)
		if !ok {
			s.log.Debug(ctx, "msg_unrouted", "skipping message type without table",
				slog.Int("msg_id", env.MsgID),
				slog.String("msg_name", env.MsgName),
			)
			continue
		}
		targets = append(targets, target{msgID: env.MsgID, table: table})
	}
	if len(targets) == 0 {
		s.log.Warn(ctx, "sync_empty", "no routed message types in range",
			slog.String("robot", robotUUID),
		)
		return 0, nil
	}

	details := make([][]map[string]any, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			payloads, err := s.api.FetchDetail(gctx, robotUUID, t.msgID, fromTs, toTs)
			if err != nil {
				return err
			}
			details[i] = payloads
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metricsx.IncSyncFailure(robotUUID)
		return 0, err
	}

	buffer := map[string][]Row{}
	total := 0
	for i, t := range targets {
		for _, payload := range details[i] {
			row, err := s.buildRow(robotUUID, payload)
			if err != nil {
				metricsx.IncSyncFailure(robotUUID)
				return 0, err
			}
			buffer[t.table] = append(buffer[t.table], row)
			total++
		}
	}

	tables := make([]string, 0, len(buffer))
	for table := range buffer {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		rows := buffer[table]
		if err := s.writer.LoadBatch(ctx, table, rows); err != nil {
			metricsx.IncSyncFailure(robotUUID)
			s.log.Error(ctx, "copy_failed", "bulk load failed",
				slog.String("table", table),
				slog.Int("rows", len(rows)),
				slog.String("error", err.Error()),
			)
			return 0, err
		}
		s.log.Info(ctx, "copy_insert", "bulk load committed",
			slog.String("table", table),
			slog.Int("rows", len(rows)),
		)
	}

	elapsed := time.Since(start)
	metricsx.ObserveSyncDuration(elapsed)
	s.log.Info(ctx, "sync_done", "recent sync finished",
		slog.String("robot", robotUUID),
		slog.Int("total_rows", total),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()),
	)
	return total, nil
}

// RunFullUpdate syncs every registered robot over the window since the
// last recorded watermark (or a zero-width window starting now on first
// run) and appends one history record with the aggregate row count.
// Any robot failing aborts the remaining robots and the history write.
func (s *Syncer) RunFullUpdate(ctx context.Context) (models.UpdateSummary, error) {
	robots, err := s.registry.ListRobotUUIDs(ctx)
	if err != nil {
		return models.UpdateSummary{}, fmt.Errorf("list robots: %w", err)
	}

	last, err := s.history.LastUpdate(ctx)
	if err != nil {
		return models.UpdateSummary{}, fmt.Errorf("read last update: %w", err)
	}

	now := s.now().UTC()
	toTs := now.Format(TsLayout)
	fromTs := toTs
	if last != nil {
		fromTs = last.LastToTs
	}
	s.log.Info(ctx, "full_update_start", "fleet update starting",
		slog.Int("robots", len(robots)),
		slog.String("from", fromTs),
		slog.String("to", toTs),
	)

	total := 0
	for _, robot := range robots {
		rows, err := s.SyncRecent(ctx, robot, fromTs, toTs)
		if err != nil {
			return models.UpdateSummary{}, fmt.Errorf("sync robot %s: %w", robot, err)
		}
		total += rows
	}

	if err := s.history.RecordUpdate(ctx, fromTs, toTs, total); err != nil {
		return models.UpdateSummary{}, fmt.Errorf("record update: %w", err)
	}
	return models.UpdateSummary{FromTs: fromTs, ToTs: toTs, RowsUpserted: total}, nil
}

// buildRow flattens one raw payload into a storable row. The payload's
// time field must be ISO-8601 and the robot UUID must have a numeric
// mapping; either failing is fatal for the containing sync.
func (s *Syncer) buildRow(robotUUID string, payload map[string]any) (Row, error) {
	flat := Flatten(payload)

	rawTime, ok := flat["time"].(string)
	if !ok {
		return Row{}, fmt.Errorf("payload has no time field")
	}
	ts, err := time.Parse(time.RFC3339, rawTime)
	if err != nil {
		return Row{}, fmt.Errorf("parse payload time %q: %w", rawTime, err)
	}

	numericID, ok := s.robots.NumericID(robotUUID)
	if !ok {
		return Row{}, &UnknownRobotError{RobotUUID: robotUUID}
	}

	fields := make(map[string]any, len(flat)-1)
	for k, v := range flat {
		if k == "time" {
			continue
		}
		fields[k] = v
	}
	return Row{Time: ts, RobotID: numericID, Fields: fields}, nil
}

func dayOf(ts string) (time.Time, error) {
	t, err := time.Parse(TsLayout, ts)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}
