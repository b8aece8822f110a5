package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Run represents a row in the runs table.
type Run struct {
	RunID      string
	IssueRef   string
	Repo       string
	Source     string
	Title      string
	Outcome    string
	ExitCode   *int
	RetryCount int
	Degraded   bool
	CommitSHA  string
	PRURL      string
	Error      string
	StartedAt  string
	FinishedAt string
}

// PhaseEvent represents a row in the phase_events table.
type PhaseEvent struct {
	ID         int
	RunID      string
	Seq        int
	Phase      string
	Result     string
	DurationMs int
	Detail     string
	Timestamp  string
}

// CheckRun represents a row in the check_runs table.
type CheckRun struct {
	ID         int
	RunID      string
	Attempt    int
	CheckName  string
	Passed     bool
	Skipped    bool
	TimedOut   bool
	ExitCode   int
	DurationMs int
	Summary    string
	Findings   string
	Timestamp  string
}

// ModelCall represents a row in the model_calls table.
type ModelCall struct {
	ID            int
	RunID         string
	Purpose       string
	PromptTokens  int
	ResponseChars int
	DurationMs    int
	Error         string
	Timestamp     string
}

// PurposeStats aggregates model calls by purpose.
type PurposeStats struct {
	Purpose      string
	Calls        int
	Errors       int
	PromptTokens int
	AvgMs        float64
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// StartRun inserts a run row.
func (d *DB) StartRun(r Run) error {
	if r.StartedAt == "" {
		r.StartedAt = now()
	}
	_, err := d.exec(
		`INSERT INTO runs (run_id, issue_ref, repo, source, title, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.IssueRef, r.Repo, r.Source, r.Title, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// UpdateRunIssue stores what ingestion resolved the reference to.
func (d *DB) UpdateRunIssue(runID, source, title string) error {
	_, err := d.exec(`UPDATE runs SET source = ?, title = ? WHERE run_id = ?`, source, title, runID)
	if err != nil {
		return fmt.Errorf("update run issue: %w", err)
	}
	return nil
}

// FinishRun records the terminal outcome of a run.
func (d *DB) FinishRun(r Run) error {
	if r.FinishedAt == "" {
		r.FinishedAt = now()
	}
	res, err := d.exec(
		`UPDATE runs SET outcome = ?, exit_code = ?, retry_count = ?, degraded = ?, commit_sha = ?, pr_url = ?, error = ?, finished_at = ?
		 WHERE run_id = ?`,
		r.Outcome, r.ExitCode, r.RetryCount, r.Degraded, r.CommitSHA, r.PRURL, r.Error, r.FinishedAt, r.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: run %s not found", r.RunID)
	}
	return nil
}

// GetRun returns a run by ID, or nil when it does not exist.
func (d *DB) GetRun(runID string) (*Run, error) {
	row := d.queryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first. Pass limit <= 0 for all.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// OutcomeCounts returns the number of finished runs per outcome.
func (d *DB) OutcomeCounts() (map[string]int, error) {
	rows, err := d.query(`SELECT outcome, COUNT(*) FROM runs WHERE outcome != '' GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("outcome counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

const runColumns = `run_id, issue_ref, repo, source, title, outcome, exit_code, retry_count, degraded, commit_sha, pr_url, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var exitCode sql.NullInt64
	err := s.Scan(&r.RunID, &r.IssueRef, &r.Repo, &r.Source, &r.Title, &r.Outcome, &exitCode,
		&r.RetryCount, &r.Degraded, &r.CommitSHA, &r.PRURL, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	return &r, nil
}

// LogPhase inserts a phase event. result is "ok" or "error".
func (d *DB) LogPhase(runID string, seq int, phase, result string, durationMs int, detail string) error {
	_, err := d.exec(
		`INSERT INTO phase_events (run_id, seq, phase, result, duration_ms, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, phase, result, durationMs, detail, now(),
	)
	if err != nil {
		return fmt.Errorf("log phase: %w", err)
	}
	return nil
}

// GetPhaseEvents returns a run's phase events in order.
func (d *DB) GetPhaseEvents(runID string) ([]PhaseEvent, error) {
	rows, err := d.query(
		`SELECT id, run_id, seq, phase, result, duration_ms, detail, timestamp
		 FROM phase_events WHERE run_id = ? ORDER BY seq ASC, id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get phase events: %w", err)
	}
	defer rows.Close()

	var events []PhaseEvent
	for rows.Next() {
		var e PhaseEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.Phase, &e.Result, &e.DurationMs, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan phase event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LogCheckRun inserts a check run.
func (d *DB) LogCheckRun(c CheckRun) error {
	_, err := d.exec(
		`INSERT INTO check_runs (run_id, attempt, check_name, passed, skipped, timed_out, exit_code, duration_ms, summary, findings, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Attempt, c.CheckName, c.Passed, c.Skipped, c.TimedOut, c.ExitCode, c.DurationMs, c.Summary, c.Findings, now(),
	)
	if err != nil {
		return fmt.Errorf("log check run: %w", err)
	}
	return nil
}

// GetCheckRuns returns a run's check executions in order.
func (d *DB) GetCheckRuns(runID string) ([]CheckRun, error) {
	rows, err := d.query(
		`SELECT id, run_id, attempt, check_name, passed, skipped, timed_out, exit_code, duration_ms, summary, findings, timestamp
		 FROM check_runs WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get check runs: %w", err)
	}
	defer rows.Close()

	var runs []CheckRun
	for rows.Next() {
		var c CheckRun
		var exitCode, duration sql.NullInt64
		if err := rows.Scan(&c.ID, &c.RunID, &c.Attempt, &c.CheckName, &c.Passed, &c.Skipped, &c.TimedOut,
			&exitCode, &duration, &c.Summary, &c.Findings, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		c.ExitCode = int(exitCode.Int64)
		c.DurationMs = int(duration.Int64)
		runs = append(runs, c)
	}
	return runs, rows.Err()
}

// FindingsText joins check messages for storage.
func FindingsText(errs []string) string {
	return strings.Join(errs, "\n")
}

// LogModelCall inserts a model call.
func (d *DB) LogModelCall(m ModelCall) error {
	_, err := d.exec(
		`INSERT INTO model_calls (run_id, purpose, prompt_tokens, response_chars, duration_ms, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, m.Purpose, m.PromptTokens, m.ResponseChars, m.DurationMs, m.Error, now(),
	)
	if err != nil {
		return fmt.Errorf("log model call: %w", err)
	}
	return nil
}

// ModelStats aggregates a run's model calls by purpose. An empty runID
// covers every run.
func (d *DB) ModelStats(runID string) ([]PurposeStats, error) {
	q := `SELECT purpose, COUNT(*), SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), SUM(prompt_tokens), AVG(duration_ms)
	      FROM model_calls`
	var args []any
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` GROUP BY purpose ORDER BY purpose`

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("model stats: %w", err)
	}
	defer rows.Close()

	var stats []PurposeStats
	for rows.Next() {
		var s PurposeStats
		if err := rows.Scan(&s.Purpose, &s.Calls, &s.Errors, &s.PromptTokens, &s.AvgMs); err != nil {
			return nil, fmt.Errorf("scan model stats: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
