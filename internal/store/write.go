package store

import (
	"context"
	"fmt"
)

// WriteRun records run and its plans and caches in one transaction. The
// run is appended after every recorded run: its seq is one past the
// largest seq in the history.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency. Writing a run id that
// is already recorded changes nothing and returns the recorded seq with
// inserted false.
func (s *Store) WriteRun(ctx context.Context, run Run) (seq int64, inserted bool, err error) {
	if run.ID == "" {
		return 0, false, fmt.Errorf("write run: empty run id")
	}
	diagJSON, err := marshalDiagnostics(run.Diagnostics)
	if err != nil {
		return 0, false, fmt.Errorf("write run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// WHERE true keeps SQLite from parsing ON CONFLICT as a join clause.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, seq, task, status, memory_ratio, latency_ceiling, server_memory, bundle_hash, diagnostics, bundle)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?
		FROM runs WHERE true
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Task,
		string(run.Status),
		run.MemoryRatio,
		run.LatencyCeiling,
		run.ServerMemory,
		run.BundleHash,
		diagJSON,
		string(run.Bundle),
	)
	if err != nil {
		return 0, false, fmt.Errorf("write run: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write run: rows affected: %w", err)
	}
	inserted = rowsAffected > 0

	if err := tx.QueryRowContext(ctx, `SELECT seq FROM runs WHERE id = ?`, run.ID).Scan(&seq); err != nil {
		return 0, false, fmt.Errorf("write run: select seq: %w", err)
	}

	if inserted {
		for i, p := range run.Plans {
			caches, err := marshalSignatures(p.Caches)
			if err != nil {
				return 0, false, fmt.Errorf("write run: plan %s: %w", p.Key, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO run_plans
				(run_id, position, key, avg_latency, upper_latency, switch_on_latency, caches)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, run.ID, i, p.Key, p.AvgLatency, p.UpperLatency, p.SwitchOnLatency, caches); err != nil {
				return 0, false, fmt.Errorf("write run: plan %s: %w", p.Key, err)
			}
		}
		for _, c := range run.Caches {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO run_caches
				(run_id, signature, static, at_server, size, structure)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(run_id, signature) DO NOTHING
			`, run.ID, c.Signature, boolInt(c.Static), boolInt(c.AtServer), c.Memory, c.Structure); err != nil {
				return 0, false, fmt.Errorf("write run: cache %s: %w", c.Signature, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write run: commit: %w", err)
	}
	return seq, inserted, nil
}
