package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/issuefactory/internal/metrics"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

type slowModel struct{}

func (slowModel) Generate(ctx context.Context, req Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestStubQueuesByPurpose(t *testing.T) {
	s := NewStub().
		Reply("plan", "p1").
		Reply("", "any").
		Reply("plan", "p2")
	s.Fallback = func(req Request) (string, error) { return "fallback:" + req.Purpose, nil }

	ctx := context.Background()
	out, err := s.Generate(ctx, Request{Purpose: "plan"})
	require.NoError(t, err)
	assert.Equal(t, "p1", out)

	out, _ = s.Generate(ctx, Request{Purpose: "source"})
	assert.Equal(t, "any", out)

	out, _ = s.Generate(ctx, Request{Purpose: "plan"})
	assert.Equal(t, "p2", out)

	out, _ = s.Generate(ctx, Request{Purpose: "plan"})
	assert.Equal(t, "fallback:plan", out)

	assert.Equal(t, 3, s.CallCount("plan"))
	assert.Equal(t, 4, s.CallCount(""))
}

func TestStubNoReply(t *testing.T) {
	_, err := NewStub().Generate(context.Background(), Request{Purpose: "plan"})
	assert.Error(t, err)
}

func TestWithTimeoutReturnsExternalCallTimeout(t *testing.T) {
	m := WithTimeout(slowModel{}, 20*time.Millisecond)
	_, err := m.Generate(context.Background(), Request{Purpose: "plan"})

	var timeout *pipeline.ExternalCallTimeout
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, "model plan", timeout.Call)
}

func TestWithTimeoutParentCancelIsNotTimeout(t *testing.T) {
	m := WithTimeout(slowModel{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Generate(ctx, Request{})

	var timeout *pipeline.ExternalCallTimeout
	assert.False(t, errors.As(err, &timeout))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstrumentedPassesThrough(t *testing.T) {
	stub := NewStub().Reply("", "hello")
	m := Instrumented(stub, "stub", metrics.New(), NewTokenCounter(), pipeline.DiscardLogger())
	out, err := m.Generate(context.Background(), Request{User: "say hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestConfiguredAppliesDefaults(t *testing.T) {
	stub := NewStub().On("", func(req Request) (string, error) {
		assert.Equal(t, 512, req.MaxTokens)
		assert.InDelta(t, 0.2, req.Temperature, 0.0001)
		return "ok", nil
	})
	m := &configured{next: stub, maxTokens: 512, temperature: 0.2}
	_, err := m.Generate(context.Background(), Request{})
	require.NoError(t, err)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "bogus"})
	assert.Error(t, err)
}

func TestTokenCounterTruncate(t *testing.T) {
	tc := NewTokenCounter()
	text := strings.Repeat("def add(a, b):\n    return a + b\n", 200)
	assert.Greater(t, tc.Count(text), 100)

	cut, truncated := tc.Truncate(text, 100)
	assert.True(t, truncated)
	assert.LessOrEqual(t, tc.Count(cut), 100)
	assert.True(t, strings.HasSuffix(cut, "\n"))

	same, truncated := tc.Truncate("short", 100)
	assert.False(t, truncated)
	assert.Equal(t, "short", same)
}
