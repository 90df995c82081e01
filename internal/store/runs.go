package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/loadtest"
)

// RunSummary is one row of the run history.
type RunSummary struct {
	ID         string              `json:"id"`
	Target     string              `json:"target"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	StopReason loadtest.StopReason `json:"stop_reason"`
	AnswerRate *float64            `json:"answer_rate,omitempty"`
}

const insertRun = `
	INSERT INTO probe_runs (id, target, success_pattern, started_at, finished_at, stop_reason, answer_rate, answer_seq)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const insertBurst = `
	INSERT INTO probe_bursts (run_id, seq, started_at, attempted_rate, actual_rate, success_percent,
		median_latency_ms, requests, failures, dropped, elapsed_ms, passed, reason, abandoned)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// SaveReport stores a finished search and all its bursts in one
// transaction.
func (s *Store) SaveReport(ctx context.Context, report *loadtest.Report) (err error) {
	if _, err := uuid.Parse(report.ID); err != nil {
		return fmt.Errorf("save report: invalid run id %q: %w", report.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var answerRate sql.NullFloat64
	var answerSeq sql.NullInt64
	if report.Answer != nil {
		answerRate = sql.NullFloat64{Float64: report.Answer.AttemptedRate, Valid: true}
		answerSeq = sql.NullInt64{Int64: int64(report.Answer.Seq), Valid: true}
	}

	if _, err = tx.ExecContext(ctx, insertRun,
		report.ID, report.Target.URL, report.Target.SuccessPattern,
		report.StartedAt, report.FinishedAt, string(report.StopReason),
		answerRate, answerSeq,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRun
		}
		return fmt.Errorf("insert run: %w", err)
	}

	if len(report.Bursts) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertBurst)
		if err != nil {
			return fmt.Errorf("prepare burst insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, b := range report.Bursts {
			if _, err = stmt.ExecContext(ctx,
				report.ID, b.Seq, b.StartedAt, b.AttemptedRate, b.ActualRate, b.SuccessPercent,
				b.MedianLatencyMs, b.Requests, b.Failures, b.Dropped, b.ElapsedMs,
				b.Passed, string(b.Verdict), b.Abandoned,
			); err != nil {
				return fmt.Errorf("insert burst %d: %w", b.Seq, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("report saved", zap.String("run_id", report.ID), zap.Int("bursts", len(report.Bursts)))
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, target, started_at, finished_at, stop_reason, answer_rate
		FROM probe_runs
		ORDER BY started_at DESC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunSummary
	for rows.Next() {
		var (
			r      RunSummary
			reason string
			answer sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Target, &r.StartedAt, &r.FinishedAt, &reason, &answer); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StopReason = loadtest.StopReason(reason)
		if answer.Valid {
			rate := answer.Float64
			r.AnswerRate = &rate
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetReport rebuilds a stored report.
func (s *Store) GetReport(ctx context.Context, id string) (*loadtest.Report, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	var (
		report    = &loadtest.Report{ID: id}
		reason    string
		answerSeq sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT target, success_pattern, started_at, finished_at, stop_reason, answer_seq
		FROM probe_runs WHERE id = $1`, id,
	).Scan(&report.Target.URL, &report.Target.SuccessPattern, &report.StartedAt, &report.FinishedAt, &reason, &answerSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	report.StopReason = loadtest.StopReason(reason)

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, started_at, attempted_rate, actual_rate, success_percent, median_latency_ms,
			requests, failures, dropped, elapsed_ms, passed, reason, abandoned
		FROM probe_bursts WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query bursts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			b       loadtest.BurstResult
			verdict string
		)
		if err := rows.Scan(&b.Seq, &b.StartedAt, &b.AttemptedRate, &b.ActualRate, &b.SuccessPercent,
			&b.MedianLatencyMs, &b.Requests, &b.Failures, &b.Dropped, &b.ElapsedMs,
			&b.Passed, &verdict, &b.Abandoned); err != nil {
			return nil, fmt.Errorf("scan burst: %w", err)
		}
		b.Verdict = loadtest.Verdict(verdict)
		report.Bursts = append(report.Bursts, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read bursts: %w", err)
	}

	if answerSeq.Valid {
		for i := range report.Bursts {
			if int64(report.Bursts[i].Seq) == answerSeq.Int64 {
				answer := report.Bursts[i]
				report.Answer = &answer
				break
			}
		}
	}
	return report, nil
}
