package analytics

import (
	"testing"

	"github.com/lucasnoah/issuefactory/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

type check struct {
	name            string
	attempt         int
	passed, skipped bool
}

type phase struct {
	name string
	ms   int
	err  bool
}

type fixture struct {
	id, started, finished, outcome string
	retries                        int
	phases                         []phase
	checks                         []check
}

func seed(t *testing.T, d *db.DB, runs ...fixture) {
	t.Helper()
	for _, r := range runs {
		if err := d.StartRun(db.Run{RunID: r.id, IssueRef: "42", StartedAt: r.started}); err != nil {
			t.Fatalf("start run: %v", err)
		}
		for i, p := range r.phases {
			result := "ok"
			if p.err {
				result = "error"
			}
			if err := d.LogPhase(r.id, i+1, p.name, result, p.ms, ""); err != nil {
				t.Fatalf("log phase: %v", err)
			}
		}
		for _, c := range r.checks {
			if err := d.LogCheckRun(db.CheckRun{RunID: r.id, Attempt: c.attempt, CheckName: c.name, Passed: c.passed, Skipped: c.skipped}); err != nil {
				t.Fatalf("log check: %v", err)
			}
		}
		if r.outcome != "" {
			if err := d.FinishRun(db.Run{RunID: r.id, Outcome: r.outcome, RetryCount: r.retries, FinishedAt: r.finished}); err != nil {
				t.Fatalf("finish run: %v", err)
			}
		}
	}
}

func seeded(t *testing.T) *db.DB {
	d := testDB(t)
	seed(t, d,
		fixture{
			id: "r1", started: "2024-06-03T10:00:00Z", finished: "2024-06-03T10:10:00Z", outcome: "SUCCESS",
			phases: []phase{{"plan", 2000, false}, {"gate", 4000, false}},
			checks: []check{{"lint", 1, true, false}, {"test", 1, true, false}},
		},
		fixture{
			id: "r2", started: "2024-06-04T10:00:00Z", finished: "2024-06-04T10:20:00Z", outcome: "QUALITY_FAILED", retries: 3,
			phases: []phase{{"plan", 4000, false}, {"gate", 10000, true}},
			checks: []check{
				{"lint", 1, false, false}, {"test", 1, false, true},
				{"lint", 2, true, false}, {"test", 2, false, false},
				{"lint", 3, true, false}, {"test", 3, false, false},
			},
		},
		fixture{
			id: "r3", started: "2024-06-12T09:00:00Z", finished: "2024-06-12T09:30:00Z", outcome: "SUCCESS", retries: 1,
			phases: []phase{{"plan", 6000, false}},
			checks: []check{{"lint", 1, true, false}, {"test", 1, false, false}, {"lint", 2, true, false}, {"test", 2, true, false}},
		},
		fixture{id: "r4", started: "2024-06-12T11:00:00Z"},
	)
	return d
}

func TestQueryPhaseDurations(t *testing.T) {
	results, err := QueryPhaseDurations(seeded(t), "")
	if err != nil {
		t.Fatalf("QueryPhaseDurations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(results))
	}

	gate, plan := results[0], results[1]
	if gate.Phase != "gate" || plan.Phase != "plan" {
		t.Fatalf("phases not sorted: %+v", results)
	}
	if plan.Count != 3 || plan.Avg != 4.0 || plan.P50 != 4.0 {
		t.Errorf("plan = %+v", plan)
	}
	if plan.P95 != 5.8 {
		t.Errorf("plan p95 = %f, want 5.8", plan.P95)
	}
	if gate.Count != 2 || gate.Errors != 1 || gate.Avg != 7.0 {
		t.Errorf("gate = %+v", gate)
	}
}

func TestQueryPhaseDurations_Since(t *testing.T) {
	results, err := QueryPhaseDurations(seeded(t), "2024-06-10")
	if err != nil {
		t.Fatalf("QueryPhaseDurations: %v", err)
	}
	if len(results) != 1 || results[0].Phase != "plan" || results[0].Count != 1 {
		t.Errorf("expected only r3's plan phase, got %+v", results)
	}
}

func TestQueryCheckPassRates(t *testing.T) {
	results, err := QueryCheckPassRates(seeded(t), "")
	if err != nil {
		t.Fatalf("QueryCheckPassRates: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(results))
	}

	lint, test := results[0], results[1]
	if lint.Check != "lint" || lint.Runs != 3 {
		t.Fatalf("lint = %+v", lint)
	}
	if lint.FirstPass != 66.7 || lint.AfterRetry != 33.3 || lint.NeverPassed != 0 {
		t.Errorf("lint rates = %+v", lint)
	}

	// r2's skipped first attempt does not count as its first run.
	if test.Runs != 3 || test.FirstPass != 33.3 || test.AfterRetry != 33.3 || test.NeverPassed != 33.3 {
		t.Errorf("test rates = %+v", test)
	}
}

func TestQueryRetryDistribution(t *testing.T) {
	d := seeded(t)
	dist, err := QueryRetryDistribution(d, "")
	if err != nil {
		t.Fatalf("QueryRetryDistribution: %v", err)
	}
	if dist.Runs != 3 {
		t.Fatalf("unfinished runs must be excluded, got %d runs", dist.Runs)
	}
	if dist.Zero != 33.3 || dist.One != 33.3 || dist.Two != 0 || dist.ThreePlus != 33.3 {
		t.Errorf("dist = %+v", dist)
	}

	recent, err := QueryRetryDistribution(d, "2024-06-10")
	if err != nil {
		t.Fatalf("QueryRetryDistribution since: %v", err)
	}
	if recent.Runs != 1 || recent.One != 100 {
		t.Errorf("recent = %+v", recent)
	}
}

func TestQueryThroughput(t *testing.T) {
	results, err := QueryThroughput(seeded(t), "")
	if err != nil {
		t.Fatalf("QueryThroughput: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 weeks, got %+v", results)
	}

	w23, w24 := results[0], results[1]
	if w23.Period != "2024-W23" || w23.Runs != 2 || w23.Succeeded != 1 || w23.Failed != 1 {
		t.Errorf("week 23 = %+v", w23)
	}
	if w23.AvgDuration != 15.0 {
		t.Errorf("week 23 avg = %f, want 15", w23.AvgDuration)
	}
	if w24.Period != "2024-W24" || w24.Runs != 1 || w24.AvgDuration != 30.0 {
		t.Errorf("week 24 = %+v", w24)
	}
}

func TestEmptyHistory(t *testing.T) {
	d := testDB(t)
	durations, err := QueryPhaseDurations(d, "")
	if err != nil || len(durations) != 0 {
		t.Errorf("durations = %v, %v", durations, err)
	}
	dist, err := QueryRetryDistribution(d, "")
	if err != nil || dist.Runs != 0 || dist.Zero != 0 {
		t.Errorf("dist = %+v, %v", dist, err)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		values []float64
		p      int
		want   float64
	}{
		{nil, 50, 0},
		{[]float64{3}, 95, 3},
		{[]float64{1, 2, 3, 4}, 50, 2.5},
		{[]float64{1, 2, 3, 4, 5}, 100, 5},
	}
	for _, tt := range tests {
		if got := percentile(tt.values, tt.p); got != tt.want {
			t.Errorf("percentile(%v, %d) = %f, want %f", tt.values, tt.p, got, tt.want)
		}
	}
}
