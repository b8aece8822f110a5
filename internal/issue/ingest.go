package issue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/github"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

// MaxIssueNumber bounds what is treated as an issue number. Larger
// integers fall through to the file and literal-text checks.
const MaxIssueNumber = 10_000_000

// Host fetches issues from the source-control host.
type Host interface {
	Issue(ctx context.Context, repo string, number int) (*github.Issue, error)
}

// GitHubHost adapts a github.Client to Host.
type GitHubHost struct {
	Client *github.Client
}

func (h GitHubHost) Issue(ctx context.Context, repo string, number int) (*github.Issue, error) {
	c := h.Client
	if repo != "" {
		c = c.ForRepo(repo)
	}
	return c.GetIssue(ctx, number)
}

// Ingestor resolves an issue reference into an IssueRecord.
type Ingestor struct {
	host   Host
	logger *slog.Logger
}

// NewIngestor creates an Ingestor. host may be nil when only file and
// text references are expected.
func NewIngestor(host Host, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{host: host, logger: logger}
}

var numberRe = regexp.MustCompile(`^(-?)#?(\d{1,12})$`)

// Ingest resolves ref: a small integer is fetched from the host, an
// existing file is read, anything else is the issue text itself.
// Failures are *pipeline.IngestionError and are never retried.
func (in *Ingestor) Ingest(ctx context.Context, ref, repoLink string) (*pipeline.IssueRecord, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &pipeline.IngestionError{Kind: pipeline.IngestInvalid, Ref: ref, Err: fmt.Errorf("issue reference is empty")}
	}

	if m := numberRe.FindStringSubmatch(ref); m != nil {
		n, err := strconv.Atoi(m[1] + m[2])
		if err == nil && n <= 0 {
			return nil, &pipeline.IngestionError{Kind: pipeline.IngestInvalid, Ref: ref, Err: fmt.Errorf("issue number must be positive")}
		}
		if err == nil && n <= MaxIssueNumber {
			return in.fromHost(ctx, ref, n, repoLink)
		}
	}

	if info, err := os.Stat(ref); err == nil {
		return in.fromFile(ref, info, repoLink)
	}

	in.logger.Info("issue loaded from literal text", "chars", len(ref), "preview", preview(ref))
	return &pipeline.IssueRecord{
		Text:     ref,
		Source:   pipeline.SourceText,
		RepoLink: repoLink,
		Title:    TitleOf(ref),
	}, nil
}

func (in *Ingestor) fromHost(ctx context.Context, ref string, n int, repoLink string) (*pipeline.IssueRecord, error) {
	if in.host == nil {
		return nil, &pipeline.IngestionError{Kind: pipeline.IngestHost, Ref: ref, Err: fmt.Errorf("no source-control host configured")}
	}
	in.logger.Info("fetching issue", "number", n, "repo", repoLink)

	is, err := in.host.Issue(ctx, repoLink, n)
	if err != nil {
		kind := pipeline.IngestHost
		if github.KindOf(err) == github.KindNotFound {
			kind = pipeline.IngestNotFound
		}
		return nil, &pipeline.IngestionError{Kind: kind, Ref: ref, Err: err}
	}
	if is.State != "" && !strings.EqualFold(is.State, "open") {
		return nil, &pipeline.IngestionError{Kind: pipeline.IngestClosed, Ref: ref, Err: fmt.Errorf("issue #%d is %s", n, strings.ToLower(is.State))}
	}
	body := StripMarkdown(is.Body)
	if strings.TrimSpace(body) == "" && strings.TrimSpace(is.Title) == "" {
		return nil, &pipeline.IngestionError{Kind: pipeline.IngestInvalid, Ref: ref, Err: fmt.Errorf("issue #%d has no body", n)}
	}

	text := body
	if is.Title != "" {
		text = strings.TrimSpace(is.Title + "\n\n" + body)
	}
	in.logger.Info("issue fetched", "number", n, "title", is.Title, "preview", preview(body))
	return &pipeline.IssueRecord{
		Text:     text,
		Source:   pipeline.SourceNumber,
		RepoLink: repoLink,
		Number:   n,
		Title:    is.Title,
		Labels:   is.LabelNames(),
	}, nil
}

func (in *Ingestor) fromFile(path string, info os.FileInfo, repoLink string) (*pipeline.IssueRecord, error) {
	if info.IsDir() {
		return nil, &pipeline.IngestionError{Kind: pipeline.IngestRead, Ref: path, Err: fmt.Errorf("is a directory")}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &pipeline.IngestionError{Kind: pipeline.IngestRead, Ref: path, Err: err}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, &pipeline.IngestionError{Kind: pipeline.IngestInvalid, Ref: path, Err: fmt.Errorf("issue file is empty")}
	}
	in.logger.Info("issue loaded from file", "path", path, "chars", len(text), "preview", preview(text))
	return &pipeline.IssueRecord{
		Text:     text,
		Source:   pipeline.SourceFile,
		RepoLink: repoLink,
		Title:    TitleOf(text),
		Path:     path,
	}, nil
}

// TitleOf returns the first heading or non-empty line of text, trimmed of
// markdown markers and capped at 80 characters.
func TitleOf(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 80 {
			line = strings.TrimSpace(string(r[:80]))
		}
		return line
	}
	return ""
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 120 {
		return string(r[:120]) + "..."
	}
	return s
}
