package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devskill-org/peilbeheer/mpc"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pump_schedules (
	area_code      TEXT             NOT NULL,
	hour_start     TIMESTAMPTZ      NOT NULL,
	fraction       DOUBLE PRECISION NOT NULL,
	level          DOUBLE PRECISION NOT NULL,
	price          DOUBLE PRECISION NOT NULL,
	energy_mwh     DOUBLE PRECISION NOT NULL,
	expected_cost  DOUBLE PRECISION NOT NULL,
	created_at     TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (area_code, hour_start)
);
CREATE TABLE IF NOT EXISTS gemaal_metrics (
	area_code      TEXT             NOT NULL,
	timestamp      TIMESTAMPTZ      NOT NULL,
	sample_count   INTEGER          NOT NULL,
	pumped_volume  DOUBLE PRECISION NOT NULL,
	energy_kwh     DOUBLE PRECISION NOT NULL,
	energy_cost    DOUBLE PRECISION NOT NULL,
	mean_level     DOUBLE PRECISION NOT NULL,
	last_level     DOUBLE PRECISION NOT NULL,
	running_share  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (area_code, timestamp)
);`

// openDatabase connects to Postgres and creates the tables if needed.
func (s *PeilScheduler) openDatabase(ctx context.Context, connString string) error {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()
	return nil
}

func (s *PeilScheduler) getDB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// saveSchedule persists the schedule of the configured area, replacing any
// stored entries from its first hour on.
func (s *PeilScheduler) saveSchedule(ctx context.Context, schedule *mpc.PumpSchedule) error {
	db := s.getDB()
	if db == nil {
		return fmt.Errorf("database connection not available")
	}

	entries := schedule.Entries()
	if len(entries) == 0 {
		return nil
	}
	area := s.GetConfig().AreaCode

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM pump_schedules WHERE area_code = $1 AND hour_start >= $2`,
		area, entries[0].HourStart)
	if err != nil {
		return fmt.Errorf("failed to delete existing entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pump_schedules (
			area_code,
			hour_start,
			fraction,
			level,
			price,
			energy_mwh,
			expected_cost
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (area_code, hour_start) DO UPDATE SET
			fraction = EXCLUDED.fraction,
			level = EXCLUDED.level,
			price = EXCLUDED.price,
			energy_mwh = EXCLUDED.energy_mwh,
			expected_cost = EXCLUDED.expected_cost,
			created_at = now()
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			area,
			e.HourStart,
			e.Fraction,
			e.Level,
			e.PriceEURPerMWh,
			e.EnergyMWh,
			e.ExpectedCost,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry for %s: %w", e.HourStart.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Printf("Saved %d schedule entries for %s to database", len(entries), area)
	return nil
}

// loadLatestSchedule loads the stored entries of the configured area from
// the current hour on. It returns nil when nothing is stored.
func (s *PeilScheduler) loadLatestSchedule(ctx context.Context) (*mpc.PumpSchedule, error) {
	db := s.getDB()
	if db == nil {
		return nil, fmt.Errorf("database connection not available")
	}

	area := s.GetConfig().AreaCode
	from := s.now().Truncate(time.Hour)

	rows, err := db.QueryContext(ctx, `
		SELECT
			hour_start,
			fraction,
			level,
			price,
			energy_mwh,
			expected_cost
		FROM pump_schedules
		WHERE area_code = $1 AND hour_start >= $2
		ORDER BY hour_start ASC
	`, area, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	defer rows.Close()

	var entries []mpc.ScheduleEntry
	for rows.Next() {
		var e mpc.ScheduleEntry
		if err := rows.Scan(&e.HourStart, &e.Fraction, &e.Level, &e.PriceEURPerMWh, &e.EnergyMWh, &e.ExpectedCost); err != nil {
			return nil, fmt.Errorf("failed to scan schedule entry: %w", err)
		}
		e.Running = e.Fraction > 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule: %w", err)
	}

	if len(entries) == 0 {
		s.logger.Printf("No stored schedule found for %s", area)
		return nil, nil
	}

	schedule, err := mpc.NewPumpSchedule(entries)
	if err != nil {
		return nil, fmt.Errorf("stored schedule is invalid: %w", err)
	}
	s.logger.Printf("Loaded %d schedule entries for %s from database", schedule.Len(), area)
	return schedule, nil
}
