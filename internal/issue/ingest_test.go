package issue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/issuefactory/internal/github"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

type fakeHost struct {
	issues map[int]*github.Issue
	err    error
	calls  []int
	repos  []string
}

func (f *fakeHost) Issue(ctx context.Context, repo string, number int) (*github.Issue, error) {
	f.calls = append(f.calls, number)
	f.repos = append(f.repos, repo)
	if f.err != nil {
		return nil, f.err
	}
	is, ok := f.issues[number]
	if !ok {
		return nil, &github.HostError{Kind: github.KindNotFound, Op: "get issue", Err: errors.New("could not resolve to an issue")}
	}
	return is, nil
}

func newIngestor(h Host) *Ingestor {
	return NewIngestor(h, pipeline.DiscardLogger())
}

func TestIngest_Number(t *testing.T) {
	host := &fakeHost{issues: map[int]*github.Issue{
		42: {
			Number: 42,
			Title:  "Discount applied twice",
			Body:   "## Bug\n`apply_discount` in **price_utils.py** adds the discount.",
			State:  "OPEN",
			Labels: []github.Label{{Name: "bug"}},
		},
	}}

	rec, err := newIngestor(host).Ingest(context.Background(), "42", "https://github.com/acme/shop.git")
	require.NoError(t, err)

	assert.Equal(t, pipeline.SourceNumber, rec.Source)
	assert.Equal(t, 42, rec.Number)
	assert.Equal(t, "Discount applied twice", rec.Title)
	assert.Equal(t, []string{"bug"}, rec.Labels)
	assert.Equal(t, "Discount applied twice\n\nBug\n`apply_discount` in price_utils.py adds the discount.", rec.Text)
	assert.Equal(t, []string{"https://github.com/acme/shop.git"}, host.repos)
}

func TestIngest_HashNumber(t *testing.T) {
	host := &fakeHost{issues: map[int]*github.Issue{7: {Number: 7, Title: "t", Body: "b", State: "OPEN"}}}
	rec, err := newIngestor(host).Ingest(context.Background(), "#7", "")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Number)
}

func TestIngest_UnknownNumber(t *testing.T) {
	host := &fakeHost{}
	_, err := newIngestor(host).Ingest(context.Background(), "9999", "")
	require.Error(t, err)
	assert.True(t, pipeline.IsIssueNotFound(err))
}

func TestIngest_HostFailureIsNotNotFound(t *testing.T) {
	host := &fakeHost{err: &github.HostError{Kind: github.KindAuth, Op: "get issue", Err: errors.New("HTTP 401")}}
	_, err := newIngestor(host).Ingest(context.Background(), "3", "")

	var ie *pipeline.IngestionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, pipeline.IngestHost, ie.Kind)
	assert.False(t, pipeline.IsIssueNotFound(err))
}

func TestIngest_ClosedIssue(t *testing.T) {
	host := &fakeHost{issues: map[int]*github.Issue{5: {Number: 5, Body: "done", State: "CLOSED"}}}
	_, err := newIngestor(host).Ingest(context.Background(), "5", "")

	var ie *pipeline.IngestionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, pipeline.IngestClosed, ie.Kind)
}

func TestIngest_NonPositiveNumbers(t *testing.T) {
	host := &fakeHost{}
	for _, ref := range []string{"0", "-3"} {
		_, err := newIngestor(host).Ingest(context.Background(), ref, "")
		var ie *pipeline.IngestionError
		require.ErrorAs(t, err, &ie, ref)
		assert.Equal(t, pipeline.IngestInvalid, ie.Kind, ref)
	}
	assert.Empty(t, host.calls)
}

func TestIngest_NumberWithoutHost(t *testing.T) {
	_, err := newIngestor(nil).Ingest(context.Background(), "12", "")
	var ie *pipeline.IngestionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, pipeline.IngestHost, ie.Kind)
}

func TestIngest_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issue.md")
	require.NoError(t, os.WriteFile(path, []byte("# Fix rounding\n\nround_price returns floats\n"), 0o644))

	rec, err := newIngestor(nil).Ingest(context.Background(), path, "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.SourceFile, rec.Source)
	assert.Equal(t, path, rec.Path)
	assert.Equal(t, "Fix rounding", rec.Title)
	assert.Equal(t, "# Fix rounding\n\nround_price returns floats", rec.Text)
}

func TestIngest_UnreadablePath(t *testing.T) {
	dir := t.TempDir()
	_, err := newIngestor(nil).Ingest(context.Background(), dir, "")

	var ie *pipeline.IngestionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, pipeline.IngestRead, ie.Kind)
}

func TestIngest_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.md")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))

	_, err := newIngestor(nil).Ingest(context.Background(), path, "")
	var ie *pipeline.IngestionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, pipeline.IngestInvalid, ie.Kind)
}

func TestIngest_LiteralText(t *testing.T) {
	host := &fakeHost{}
	text := "apply_discount() in price_utils.py subtracts twice"
	rec, err := newIngestor(host).Ingest(context.Background(), "  "+text+"\n", "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.SourceText, rec.Source)
	assert.Equal(t, text, rec.Text)
	assert.Empty(t, host.calls)
}

func TestIngest_LargeIntegerIsText(t *testing.T) {
	host := &fakeHost{}
	rec, err := newIngestor(host).Ingest(context.Background(), "123456789012", "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.SourceText, rec.Source)
	assert.Empty(t, host.calls)
}

func TestIngest_Empty(t *testing.T) {
	_, err := newIngestor(nil).Ingest(context.Background(), "   ", "")
	var ie *pipeline.IngestionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, pipeline.IngestInvalid, ie.Kind)
}

func TestStripMarkdown(t *testing.T) {
	in := "## Steps\n<!-- template -->\n- [ ] call `apply_discount(100, 0.2)`\n* see [docs](http://x/y)\n\n\n\n```python\nprint(1)\n```\n__done__"
	want := "Steps\n\n- call `apply_discount(100, 0.2)`\n- see docs\n\nprint(1)\ndone"
	assert.Equal(t, want, StripMarkdown(in))
}

func TestTitleOf(t *testing.T) {
	assert.Equal(t, "Fix it", TitleOf("\n\n### Fix it\nbody"))
	assert.Equal(t, "", TitleOf("  \n"))
}
