package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/dashopt/internal/optimizer"
	"github.com/roach88/dashopt/internal/search"
)

// ErrRunNotFound is returned when no recorded run matches.
var ErrRunNotFound = errors.New("run not found")

// ListRuns returns the recorded runs of taskDir, or of every task when
// taskDir is empty, ordered by seq.
//
// Returns an empty slice (not nil) if nothing is recorded.
func (s *Store) ListRuns(ctx context.Context, taskDir string) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.seq, r.task, r.status, r.bundle_hash,
		       (SELECT COUNT(*) FROM run_plans p WHERE p.run_id = r.id)
		FROM runs r
		WHERE ? = '' OR r.task = ?
		ORDER BY r.seq ASC, r.id COLLATE BINARY ASC
	`, taskDir, taskDir)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var status string
		if err := rows.Scan(&r.ID, &r.Seq, &r.Task, &status, &r.BundleHash, &r.Plans); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = optimizer.Status(status)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns the run recorded under id with its plans and caches.
// Returns ErrRunNotFound if id is not recorded.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	var run Run
	var status, diagJSON, bundle string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, seq, task, status, memory_ratio, latency_ceiling, server_memory, bundle_hash, diagnostics, bundle
		FROM runs
		WHERE id = ?
	`, id).Scan(
		&run.ID, &run.Seq, &run.Task, &status, &run.MemoryRatio, &run.LatencyCeiling,
		&run.ServerMemory, &run.BundleHash, &diagJSON, &bundle,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("read run %q: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("read run %q: %w", id, err)
	}
	run.Status = optimizer.Status(status)
	run.Bundle = []byte(bundle)

	if run.Diagnostics, err = unmarshalDiagnostics(diagJSON); err != nil {
		return Run{}, fmt.Errorf("read run %q: %w", id, err)
	}
	if run.Plans, err = s.readPlans(ctx, id); err != nil {
		return Run{}, err
	}
	if run.Caches, err = s.readCaches(ctx, id); err != nil {
		return Run{}, err
	}
	return run, nil
}

// LatestRun returns the last recorded run of taskDir, or of any task when
// taskDir is empty. Returns ErrRunNotFound if nothing matches.
func (s *Store) LatestRun(ctx context.Context, taskDir string) (Run, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM runs
		WHERE ? = '' OR task = ?
		ORDER BY seq DESC
		LIMIT 1
	`, taskDir, taskDir).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return s.ReadRun(ctx, id)
}

func (s *Store) readPlans(ctx context.Context, runID string) ([]PlanRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, avg_latency, upper_latency, switch_on_latency, caches
		FROM run_plans
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	plans := []PlanRecord{}
	for rows.Next() {
		var p PlanRecord
		var caches string
		if err := rows.Scan(&p.Key, &p.AvgLatency, &p.UpperLatency, &p.SwitchOnLatency, &caches); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		if p.Caches, err = unmarshalSignatures(caches); err != nil {
			return nil, fmt.Errorf("plan %s: %w", p.Key, err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

func (s *Store) readCaches(ctx context.Context, runID string) ([]search.Cache, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signature, static, at_server, size, structure
		FROM run_caches
		WHERE run_id = ?
		ORDER BY signature COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query caches: %w", err)
	}
	defer rows.Close()

	caches := []search.Cache{}
	for rows.Next() {
		var c search.Cache
		var static, atServer int
		if err := rows.Scan(&c.Signature, &static, &atServer, &c.Memory, &c.Structure); err != nil {
			return nil, fmt.Errorf("scan cache: %w", err)
		}
		c.Static, c.AtServer = static != 0, atServer != 0
		caches = append(caches, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate caches: %w", err)
	}
	return caches, nil
}
