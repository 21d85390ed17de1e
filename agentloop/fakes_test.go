package agentloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/martinemde/coder/scm"
	"github.com/martinemde/coder/unifiedllm"
	"github.com/martinemde/coder/vcs"
	"github.com/martinemde/coder/workspace"
	"github.com/sourcegraph/go-diff/diff"
)

type fakeTracker struct {
	issues    map[int]*scm.Issue
	getCalls  []int
	prs       []scm.PullRequestRequest
	prErr     error
	getErr    error
	nextPRNum int
}

func (f *fakeTracker) GetIssue(_ context.Context, number int) (*scm.Issue, error) {
	f.getCalls = append(f.getCalls, number)
	if f.getErr != nil {
		return nil, f.getErr
	}
	issue, ok := f.issues[number]
	if !ok {
		return nil, &scm.APIError{Provider: "github", StatusCode: 404, Message: "Not Found"}
	}
	return issue, nil
}

func (f *fakeTracker) CreatePullRequest(_ context.Context, req scm.PullRequestRequest) (*scm.PullRequest, error) {
	f.prs = append(f.prs, req)
	if f.prErr != nil {
		return nil, f.prErr
	}
	f.nextPRNum++
	return &scm.PullRequest{Number: f.nextPRNum, Title: req.Title, Body: req.Body, HTMLURL: "https://example.com/pr"}, nil
}

// fakeVCS diffs files in dir against a committed content map.
type fakeVCS struct {
	dir       string
	committed map[string]string
	calls     []string
	failOn    map[string]error
}

func (f *fakeVCS) record(op string) error {
	f.calls = append(f.calls, op)
	return f.failOn[op]
}

func (f *fakeVCS) CreateBranch(_ context.Context, name string) error { return f.record("branch " + name) }
func (f *fakeVCS) Checkout(_ context.Context, name string) error     { return f.record("checkout " + name) }
func (f *fakeVCS) AddAll(context.Context) error                      { return f.record("add") }
func (f *fakeVCS) Commit(_ context.Context, message string) error    { return f.record("commit") }
func (f *fakeVCS) Push(_ context.Context, remote, branch string) error {
	return f.record("push " + remote + " " + branch)
}
func (f *fakeVCS) DeleteBranch(_ context.Context, name string) error { return f.record("delete " + name) }

func (f *fakeVCS) Diff(_ context.Context, path string) (*vcs.Diff, error) {
	if err := f.record("diff " + path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(f.dir, path))
	if err != nil {
		return nil, err
	}
	if old, ok := f.committed[path]; ok && old == string(data) {
		return &vcs.Diff{}, nil
	}
	return &vcs.Diff{Files: []*diff.FileDiff{{OrigName: "a/" + path, NewName: "b/" + path}}}, nil
}

type fakeSnapshot struct {
	content map[string]string
	saves   int
	broken  bool
}

func (f *fakeSnapshot) Get(path string) (string, error) {
	if f.broken {
		return "", workspace.ErrSnapshotMalformed
	}
	c, ok := f.content[path]
	if !ok {
		return "", workspace.ErrFileNotFound
	}
	return c, nil
}

func (f *fakeSnapshot) Put(path, content string) error {
	if f.content == nil {
		f.content = map[string]string{}
	}
	f.content[path] = content
	return nil
}

func (f *fakeSnapshot) Save() error {
	f.saves++
	return nil
}

type fakeRunner struct {
	results map[string]*ExecResult
	err     error
	ran     []string
}

func (f *fakeRunner) Run(_ context.Context, _, program string, args []string) (*ExecResult, error) {
	line := program
	for _, a := range args {
		line += " " + a
	}
	f.ran = append(f.ran, line)
	if f.err != nil {
		return nil, f.err
	}
	if res, ok := f.results[line]; ok {
		return res, nil
	}
	return &ExecResult{}, nil
}

// scriptedCompleter replays responses and records requests.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []*unifiedllm.Response
	err       error
	requests  []unifiedllm.Request
}

func (s *scriptedCompleter) Complete(_ context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func textResponse(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		Message:      unifiedllm.AssistantMessage(text),
		FinishReason: unifiedllm.FinishReason{Reason: "stop"},
	}
}

func toolResponse(text string, calls ...unifiedllm.ToolCall) *unifiedllm.Response {
	msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
	if text != "" {
		msg.Content = append(msg.Content, unifiedllm.TextPart(text))
	}
	for _, c := range calls {
		msg.Content = append(msg.Content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &unifiedllm.Response{Message: msg, FinishReason: unifiedllm.FinishReason{Reason: "tool_calls"}}
}

type recordingMetrics struct {
	iterations int
	requests   map[string]int
	tools      map[string]int
	ended      []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{requests: map[string]int{}, tools: map[string]int{}}
}

func (m *recordingMetrics) Iteration()                   { m.iterations++ }
func (m *recordingMetrics) ModelRequest(outcome string)  { m.requests[outcome]++ }
func (m *recordingMetrics) ToolCall(tool, status string) { m.tools[tool+"/"+status]++ }
func (m *recordingMetrics) SessionEnded(state string)    { m.ended = append(m.ended, state) }
