package repl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	httpclient "codeverse/internal/cli/http"
	"codeverse/internal/submission"
	pkgerrors "codeverse/pkg/errors"

	"go.uber.org/zap"
)

const resultFetchTimeout = 10 * time.Second

// SubmissionResult is the judged submission as served by GET /api/submission/:id.
type SubmissionResult struct {
	ID           json.RawMessage `json:"id"`
	Status       string          `json:"status"`
	Runtime      json.Number     `json:"runtime"`
	Memory       json.Number     `json:"memory"`
	Language     string          `json:"language"`
	Code         string          `json:"code"`
	ErrorMessage string          `json:"error_message"`
	ProblemID    json.Number     `json:"problem_id"`
	ProblemTitle string          `json:"problem_title"`
	Problem      *struct {
		Title  string `json:"title"`
		Rating int    `json:"rating"`
	} `json:"problem"`
}

func (r SubmissionResult) Title() string {
	if r.Problem != nil && r.Problem.Title != "" {
		return r.Problem.Title
	}
	return r.ProblemTitle
}

// Difficulty maps the backend rating (1..3) to a label.
func (r SubmissionResult) Difficulty() string {
	if r.Problem == nil {
		return ""
	}
	switch r.Problem.Rating {
	case 1:
		return "Easy"
	case 2:
		return "Medium"
	case 3:
		return "Hard"
	default:
		return ""
	}
}

// fetchResult loads the stored result of a finished submission.
func fetchResult(ctx context.Context, client *httpclient.Client, id string) (SubmissionResult, error) {
	var result SubmissionResult
	resp, err := client.Do(ctx, http.MethodGet, "/api/submission/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return result, pkgerrors.Wrapf(err, pkgerrors.RequestFailed, "fetch submission %s: %v", id, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return result, pkgerrors.Newf(pkgerrors.SubmissionNotFound, "submission %s not found", id)
	}
	if err := resp.Err(); err != nil {
		return result, err
	}
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return result, pkgerrors.Wrapf(err, pkgerrors.SubmissionResponseInvalid, "decode submission %s: %v", id, err)
	}
	return result, nil
}

// renderResult writes the result card shown once a submission is judged.
func renderResult(p func(format string, args ...interface{}), id string, r SubmissionResult, showCode bool) {
	status := r.Status
	if status == "" {
		status = "UNKNOWN"
	}
	p("Submission %s: %s", id, strings.ToUpper(status))
	if title := r.Title(); title != "" {
		if d := r.Difficulty(); d != "" {
			p("  problem : %s (%s)", title, d)
		} else {
			p("  problem : %s", title)
		}
	}
	if r.Runtime != "" {
		p("  runtime : %s ms", r.Runtime)
	}
	if r.Memory != "" {
		p("  memory  : %s MB", r.Memory)
	}
	if r.Language != "" {
		p("  language: %s", r.Language)
	}
	if r.ErrorMessage != "" {
		p("  error   : %s", r.ErrorMessage)
	}
	if showCode && r.Code != "" {
		p("  code:")
		for _, line := range strings.Split(strings.TrimRight(r.Code, "\n"), "\n") {
			p("    %s", line)
		}
	}
}

// presentTerminal renders the stored result of a judged submission. The fetch
// is bounded by ctx and the client timeout.
func (s *Session) presentTerminal(ctx context.Context, u submission.Update) {
	if u.Status == submission.StatusError || u.SubmissionID == "" {
		return
	}
	timeout := s.client.Timeout()
	if timeout <= 0 {
		timeout = resultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := fetchResult(ctx, s.client, u.SubmissionID)
	if err != nil {
		s.log.Warn("fetch submission result failed", zap.String("submission_id", u.SubmissionID), zap.Error(err))
		s.printLine("could not load result for submission %s: %v", u.SubmissionID, err)
		return
	}
	renderResult(s.printLine, u.SubmissionID, result, false)
}
