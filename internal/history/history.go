// SPDX-License-Identifier: MIT

// Package history records per-circuit energy samples in SQLite so clients
// can chart consumption and production over time.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	xlog "github.com/spanops/spand/internal/log"
	"github.com/spanops/spand/internal/metrics"
	"github.com/spanops/spand/internal/poller"
)

// Sample is one recorded energy reading for a circuit.
type Sample struct {
	Serial        string    `json:"serial"`
	CircuitID     string    `json:"circuitId"`
	SampledAt     time.Time `json:"sampledAt"`
	InstantPowerW float64   `json:"instantPowerW"`
	ProducedWh    float64   `json:"producedEnergyWh"`
	ConsumedWh    float64   `json:"consumedEnergyWh"`
}

// DB records and queries energy samples.
type DB struct {
	db *sql.DB
}

// Open opens the history database at path and runs migrations. WAL mode and
// busy_timeout avoid "database locked" errors with the poller writing while
// the API reads.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	h := &DB{db: db}
	if err := h.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}

	hlog := xlog.WithComponent("history")
	hlog.Info().
		Str("event", "history.opened").
		Str("path", path).
		Msg("energy history opened")
	return h, nil
}

func (h *DB) Close() error { return h.db.Close() }

func (h *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS energy_samples (
		serial TEXT NOT NULL,
		circuit_id TEXT NOT NULL,
		sampled_at_unix INTEGER NOT NULL,
		instant_power_w REAL NOT NULL,
		produced_wh REAL NOT NULL,
		consumed_wh REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_energy_samples_lookup
		ON energy_samples(serial, circuit_id, sampled_at_unix);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Append writes one sample per circuit of the snapshot in a single
// transaction.
func (h *DB) Append(ctx context.Context, snap *poller.Snapshot) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO energy_samples (serial, circuit_id, sampled_at_unix, instant_power_w, produced_wh, consumed_wh)
	VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	serial := snap.Serial()
	at := snap.UpdatedAt.Unix()
	for id, c := range snap.Circuits {
		if _, err := stmt.ExecContext(ctx, serial, id, at, c.InstantPowerW, c.ProducedEnergyWh, c.ConsumedEnergyWh); err != nil {
			return fmt.Errorf("insert sample %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	metrics.AddHistorySamples(len(snap.Circuits))
	return nil
}

// Query returns samples for one circuit in [since, until], oldest first,
// capped at limit.
func (h *DB) Query(ctx context.Context, serial, circuitID string, since, until time.Time, limit int) ([]Sample, error) {
	rows, err := h.db.QueryContext(ctx, `
	SELECT serial, circuit_id, sampled_at_unix, instant_power_w, produced_wh, consumed_wh
	FROM energy_samples
	WHERE serial = ? AND circuit_id = ? AND sampled_at_unix BETWEEN ? AND ?
	ORDER BY sampled_at_unix ASC
	LIMIT ?
	`, serial, circuitID, since.Unix(), until.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Sample
	for rows.Next() {
		var s Sample
		var at int64
		if err := rows.Scan(&s.Serial, &s.CircuitID, &at, &s.InstantPowerW, &s.ProducedWh, &s.ConsumedWh); err != nil {
			return nil, err
		}
		s.SampledAt = time.Unix(at, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes samples older than cutoff and returns the number removed.
func (h *DB) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx,
		`DELETE FROM energy_samples WHERE sampled_at_unix < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		hlog := xlog.WithComponent("history")
		hlog.Info().
			Str("event", "history.pruned").
			Int64("removed", n).
			Time("cutoff", cutoff).
			Msg("pruned old energy samples")
	}
	return n, nil
}
