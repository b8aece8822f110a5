package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/lucasnoah/issuefactory/internal/db"
	"github.com/lucasnoah/issuefactory/internal/llm"
)

// History records runs in the run history database. *db.DB implements it.
// Recording failures are logged and never fail a run.
type History interface {
	StartRun(r db.Run) error
	UpdateRunIssue(runID, source, title string) error
	LogPhase(runID string, seq int, phase, result string, durationMs int, detail string) error
	LogCheckRun(c db.CheckRun) error
	LogModelCall(m db.ModelCall) error
	FinishRun(r db.Run) error
}

var _ History = (*db.DB)(nil)

// recordedModel logs every model call of a run to History.
type recordedModel struct {
	next    llm.Model
	runID   string
	history History
	tokens  *llm.TokenCounter
	logger  *slog.Logger
}

func (m *recordedModel) Generate(ctx context.Context, req llm.Request) (string, error) {
	start := time.Now()
	out, err := m.next.Generate(ctx, req)
	call := db.ModelCall{
		RunID:         m.runID,
		Purpose:       req.Purpose,
		PromptTokens:  m.tokens.Count(req.System) + m.tokens.Count(req.User),
		ResponseChars: len(out),
		DurationMs:    int(time.Since(start).Milliseconds()),
	}
	if err != nil {
		call.Error = err.Error()
	}
	if herr := m.history.LogModelCall(call); herr != nil {
		m.logger.Warn("record model call", "error", herr)
	}
	return out, err
}
