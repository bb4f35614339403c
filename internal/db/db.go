package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"schoolbus-tracker/internal/publisher"
	"schoolbus-tracker/internal/route"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schemaSQL string

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// EnsureSchema creates the route and position tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

type waypointRow struct {
	RouteID   string
	RouteName string
	Seq       int
	route.Waypoint
}

// FetchRoutes loads every route with its ordered waypoints.
func FetchRoutes(ctx context.Context, db *sql.DB) (map[string]*route.Route, error) {
	q := `
SELECT r.route_id, r.name, w.seq, COALESCE(w.name, ''), w.lat, w.lon
FROM routes r
JOIN route_waypoints w ON w.route_id = r.route_id
ORDER BY r.route_id, w.seq`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var wrs []waypointRow
	for rows.Next() {
		var w waypointRow
		if err := rows.Scan(&w.RouteID, &w.RouteName, &w.Seq, &w.Name, &w.Lat, &w.Lon); err != nil {
			return nil, err
		}
		wrs = append(wrs, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groupWaypoints(wrs)
}

// groupWaypoints builds routes from rows sorted by route id then sequence.
func groupWaypoints(rows []waypointRow) (map[string]*route.Route, error) {
	out := make(map[string]*route.Route)
	flush := func(id, name string, wps []route.Waypoint) error {
		if id == "" {
			return nil
		}
		r, err := route.New(id, name, wps)
		if err != nil {
			return err
		}
		out[id] = r
		return nil
	}

	var curID, curName string
	var wps []route.Waypoint
	for _, w := range rows {
		if w.RouteID != curID {
			if err := flush(curID, curName, wps); err != nil {
				return nil, err
			}
			curID, curName, wps = w.RouteID, w.RouteName, nil
		}
		wps = append(wps, w.Waypoint)
	}
	if err := flush(curID, curName, wps); err != nil {
		return nil, err
	}
	return out, nil
}

// SeedRoutes inserts routes that are not stored yet. Existing rows are left
// untouched.
func SeedRoutes(ctx context.Context, db *sql.DB, routes map[string]*route.Route) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for id, r := range routes {
		res, err := tx.ExecContext(ctx, `INSERT INTO routes (route_id, name) VALUES ($1, $2) ON CONFLICT (route_id) DO NOTHING`, id, r.Name)
		if err != nil {
			return fmt.Errorf("seed route %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		for seq, w := range r.Waypoints {
			if _, err := tx.ExecContext(ctx, `INSERT INTO route_waypoints (route_id, seq, name, lat, lon) VALUES ($1, $2, $3, $4, $5)`,
				id, seq, w.Name, w.Lat, w.Lon); err != nil {
				return fmt.Errorf("seed waypoint %s/%d: %w", id, seq, err)
			}
		}
	}
	return tx.Commit()
}

// PositionStore keeps the position history of simulated buses.
type PositionStore struct {
	db *sql.DB
}

func NewPositionStore(db *sql.DB) *PositionStore { return &PositionStore{db: db} }

func (s *PositionStore) RecordPosition(ctx context.Context, m publisher.PositionMessage) error {
	q := `
INSERT INTO bus_positions (bus_id, run_id, route_id, recorded_at, lat, lon, bearing, progress, segment_index, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.ExecContext(ctx, q, m.BusID, m.RunID, m.RouteID, m.Timestamp, m.Lat, m.Lon, m.Bearing, m.Progress, m.SegmentIndex, m.Status)
	if err != nil {
		return fmt.Errorf("insert position for %s: %w", m.BusID, err)
	}
	return nil
}

// RecentPositions returns up to limit positions for a bus, newest first.
func (s *PositionStore) RecentPositions(ctx context.Context, busID string, limit int) ([]publisher.PositionMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT bus_id, run_id, route_id, recorded_at, lat, lon, bearing, progress, segment_index, status
FROM bus_positions
WHERE bus_id = $1
ORDER BY recorded_at DESC
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, busID, limit)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []publisher.PositionMessage
	for rows.Next() {
		var m publisher.PositionMessage
		if err := rows.Scan(&m.BusID, &m.RunID, &m.RouteID, &m.Timestamp, &m.Lat, &m.Lon, &m.Bearing, &m.Progress, &m.SegmentIndex, &m.Status); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
