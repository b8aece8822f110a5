package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lucasnoah/issuefactory/internal/metrics"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

// WithTimeout bounds every call to d. A call that runs out of time returns
// *pipeline.ExternalCallTimeout.
func WithTimeout(m Model, d time.Duration) Model {
	if d <= 0 {
		return m
	}
	return &timeoutModel{next: m, timeout: d}
}

type timeoutModel struct {
	next    Model
	timeout time.Duration
}

func (t *timeoutModel) Generate(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	out, err := t.next.Generate(callCtx, req)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", &pipeline.ExternalCallTimeout{
			Call:    fmt.Sprintf("model %s", purposeOf(req)),
			Timeout: t.timeout,
			Err:     err,
		}
	}
	return out, err
}

// Instrumented records latency, status and prompt size of every call and
// logs it at debug level.
func Instrumented(m Model, provider string, rec *metrics.Recorder, counter *TokenCounter, logger *slog.Logger) Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &instrumentedModel{next: m, provider: provider, rec: rec, counter: counter, logger: logger}
}

type instrumentedModel struct {
	next     Model
	provider string
	rec      *metrics.Recorder
	counter  *TokenCounter
	logger   *slog.Logger
}

func (i *instrumentedModel) Generate(ctx context.Context, req Request) (string, error) {
	tokens := i.counter.Count(req.System) + i.counter.Count(req.User)
	start := time.Now()
	out, err := i.next.Generate(ctx, req)
	elapsed := time.Since(start)

	i.rec.ObserveModel(i.provider, purposeOf(req), tokens, err, elapsed)
	attrs := []any{
		"provider", i.provider,
		"purpose", purposeOf(req),
		"prompt_tokens", tokens,
		"duration_ms", elapsed.Milliseconds(),
	}
	if err != nil {
		i.logger.Warn("model call failed", append(attrs, "error", err)...)
	} else {
		i.logger.Debug("model call", append(attrs, "response_chars", len(out))...)
	}
	return out, err
}

func purposeOf(req Request) string {
	if req.Purpose == "" {
		return "generate"
	}
	return req.Purpose
}
