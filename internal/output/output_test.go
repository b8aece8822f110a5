package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestMessages(t *testing.T) {
	u, out, errOut := newTestUI()
	u.Info("run %s started", "01J")
	u.Success("committed %s", "abc123")
	u.Warning("check %s skipped", "test")
	u.Error("gate failed after %d attempts", 3)

	assert.Contains(t, out.String(), "run 01J started")
	assert.Contains(t, out.String(), "committed abc123")
	assert.Contains(t, errOut.String(), "check test skipped")
	assert.Contains(t, errOut.String(), "gate failed after 3 attempts")
}

func TestVerboseLog(t *testing.T) {
	u, out, _ := newTestUI()
	u.VerboseLog("hidden")
	assert.Empty(t, out.String())

	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestOutcomeColor(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	assert.Equal(t, "SUCCESS", OutcomeColor("SUCCESS"))
	assert.Equal(t, "QUALITY_FAILED", OutcomeColor("QUALITY_FAILED"))
	assert.Equal(t, "RUNNING", OutcomeColor(""))
	assert.Equal(t, "skipped", CheckColor(true, true))
	assert.Equal(t, "fail", CheckColor(false, false))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "250ms", Duration(250*time.Millisecond))
	assert.Equal(t, "1.5s", Duration(1500*time.Millisecond))
	assert.Equal(t, "2m5s", Duration(125*time.Second+300*time.Millisecond))
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Run", "Outcome"})
	require.NoError(t, table.Append([]string{"01J", "SUCCESS"}))
	require.NoError(t, table.Render())

	assert.Contains(t, out.String(), "01J")
	assert.Contains(t, out.String(), "SUCCESS")
}
