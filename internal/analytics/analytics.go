// Package analytics aggregates run history: phase timings, how often the
// quality gate passes first time, retry distribution and weekly throughput.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Query(q string, args ...any) (*sql.Rows, error)
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// sinceClause restricts a query joined on runs r to runs started at or
// after since. since is compared as text, so it must be RFC3339 or a
// prefix of it such as 2024-06-01.
func sinceClause(since string, args []any) (string, []any) {
	if since == "" {
		return "", args
	}
	return ` WHERE r.started_at >= ?`, append(args, since)
}

// PhaseDuration holds duration stats for a phase.
type PhaseDuration struct {
	Phase  string  `json:"phase"`
	Count  int     `json:"count"`
	Errors int     `json:"errors"`
	Avg    float64 `json:"avg_seconds"`
	P50    float64 `json:"p50_seconds"`
	P95    float64 `json:"p95_seconds"`
}

// QueryPhaseDurations returns average and percentile durations per phase,
// in seconds. Failed phases count toward the timings.
func QueryPhaseDurations(database DB, since string) ([]PhaseDuration, error) {
	where, args := sinceClause(since, nil)
	rows, err := database.Query(`
		SELECT pe.phase, pe.result, pe.duration_ms
		FROM phase_events pe JOIN runs r ON r.run_id = pe.run_id`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query phase durations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	errs := make(map[string]int)
	for rows.Next() {
		var phase, result string
		var ms int64
		if err := rows.Scan(&phase, &result, &ms); err != nil {
			return nil, fmt.Errorf("scan phase duration: %w", err)
		}
		durations[phase] = append(durations[phase], float64(ms)/1000)
		if result == "error" {
			errs[phase]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []PhaseDuration
	for phase, ds := range durations {
		sort.Float64s(ds)
		results = append(results, PhaseDuration{
			Phase:  phase,
			Count:  len(ds),
			Errors: errs[phase],
			Avg:    avg(ds),
			P50:    percentile(ds, 50),
			P95:    percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Phase < results[j].Phase
	})
	return results, nil
}

// CheckPassRate holds how one check fared across runs.
type CheckPassRate struct {
	Check       string  `json:"check"`
	Runs        int     `json:"runs"`
	FirstPass   float64 `json:"first_pass_pct"`
	AfterRetry  float64 `json:"after_retry_pct"`
	NeverPassed float64 `json:"never_passed_pct"`
}

// QueryCheckPassRates classifies each run's check history: passed on the
// first attempt it ran, passed on a later attempt, or never passed.
// Skipped attempts are ignored.
func QueryCheckPassRates(database DB, since string) ([]CheckPassRate, error) {
	where, args := sinceClause(since, nil)
	rows, err := database.Query(`
		SELECT c.run_id, c.check_name, c.attempt, c.passed, c.skipped
		FROM check_runs c JOIN runs r ON r.run_id = c.run_id`+where+`
		ORDER BY c.run_id, c.check_name, c.attempt`, args...)
	if err != nil {
		return nil, fmt.Errorf("query check pass rates: %w", err)
	}
	defer rows.Close()

	type history struct {
		first, any, seen bool
	}
	type key struct{ run, check string }
	runs := make(map[key]*history)
	for rows.Next() {
		var runID, check string
		var attempt int
		var passed, skipped bool
		if err := rows.Scan(&runID, &check, &attempt, &passed, &skipped); err != nil {
			return nil, fmt.Errorf("scan check run: %w", err)
		}
		if skipped {
			continue
		}
		k := key{runID, check}
		h, ok := runs[k]
		if !ok {
			h = &history{}
			runs[k] = h
		}
		if !h.seen {
			h.first = passed
			h.seen = true
		}
		h.any = h.any || passed
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	type counts struct{ total, first, later, never int }
	byCheck := make(map[string]*counts)
	for k, h := range runs {
		c, ok := byCheck[k.check]
		if !ok {
			c = &counts{}
			byCheck[k.check] = c
		}
		c.total++
		switch {
		case h.first:
			c.first++
		case h.any:
			c.later++
		default:
			c.never++
		}
	}

	var results []CheckPassRate
	for check, c := range byCheck {
		results = append(results, CheckPassRate{
			Check:       check,
			Runs:        c.total,
			FirstPass:   pct(c.first, c.total),
			AfterRetry:  pct(c.later, c.total),
			NeverPassed: pct(c.never, c.total),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Check < results[j].Check
	})
	return results, nil
}

// RetryDist is the distribution of gate retries over finished runs.
type RetryDist struct {
	Runs      int     `json:"runs"`
	Zero      float64 `json:"zero_retries_pct"`
	One       float64 `json:"one_retry_pct"`
	Two       float64 `json:"two_retries_pct"`
	ThreePlus float64 `json:"three_plus_pct"`
}

// QueryRetryDistribution returns how many retries finished runs needed.
func QueryRetryDistribution(database DB, since string) (*RetryDist, error) {
	where, args := sinceClause(since, nil)
	if where == "" {
		where = ` WHERE r.outcome != ''`
	} else {
		where += ` AND r.outcome != ''`
	}
	rows, err := database.Query(`SELECT r.retry_count FROM runs r`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query retry distribution: %w", err)
	}
	defer rows.Close()

	var zero, one, two, more, total int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan retry count: %w", err)
		}
		total++
		switch {
		case n == 0:
			zero++
		case n == 1:
			one++
		case n == 2:
			two++
		default:
			more++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &RetryDist{
		Runs:      total,
		Zero:      pct(zero, total),
		One:       pct(one, total),
		Two:       pct(two, total),
		ThreePlus: pct(more, total),
	}, nil
}

// Throughput holds run counts for one ISO week.
type Throughput struct {
	Period      string  `json:"period"`
	Runs        int     `json:"runs"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	AvgDuration float64 `json:"avg_duration_minutes"`
}

// QueryThroughput groups finished runs by the ISO week they started in,
// oldest first.
func QueryThroughput(database DB, since string) ([]Throughput, error) {
	where, args := sinceClause(since, nil)
	rows, err := database.Query(`SELECT r.started_at, r.finished_at, r.outcome FROM runs r`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query throughput: %w", err)
	}
	defer rows.Close()

	weeks := make(map[string]*Throughput)
	durations := make(map[string][]float64)
	for rows.Next() {
		var startedAt, finishedAt, outcome string
		if err := rows.Scan(&startedAt, &finishedAt, &outcome); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		if outcome == "" {
			continue
		}
		start, err := parseTimestamp(startedAt)
		if err != nil {
			continue
		}
		year, week := start.ISOWeek()
		period := fmt.Sprintf("%d-W%02d", year, week)
		tp, ok := weeks[period]
		if !ok {
			tp = &Throughput{Period: period}
			weeks[period] = tp
		}
		tp.Runs++
		switch outcome {
		case "SUCCESS":
			tp.Succeeded++
		case "CANCELLED":
			tp.Cancelled++
		default:
			tp.Failed++
		}
		if end, err := parseTimestamp(finishedAt); err == nil && end.After(start) {
			durations[period] = append(durations[period], end.Sub(start).Minutes())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]Throughput, 0, len(weeks))
	for period, tp := range weeks {
		tp.AvgDuration = avg(durations[period])
		results = append(results, *tp)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Period < results[j].Period
	})
	return results, nil
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
