package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/marketing-insights-api/internal/config"
	"github.com/user/marketing-insights-api/internal/models"
)

type stubCompleter struct {
	reply string
	err   error
	reqs  []CompletionRequest
}

func (s *stubCompleter) Complete(_ context.Context, req CompletionRequest) (*GenerateResult, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &GenerateResult{Response: s.reply, InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, nil
}

func (s *stubCompleter) Name() string { return "stub" }

type memUsage struct {
	logs []models.AIUsageLog
}

func (m *memUsage) CreateAIUsageLog(entry *models.AIUsageLog) error {
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *memUsage) GetAIUsageLogs(int) ([]models.AIUsageLog, error) {
	return m.logs, nil
}

func TestService_CompleteUsesOpLimits(t *testing.T) {
	completer := &stubCompleter{reply: "STUB_OUTPUT"}
	usage := &memUsage{}
	svc := NewService(Options{Temperature: 0.3}, completer, nil, usage)

	msgs := []Message{{Role: "user", Content: "hi"}}
	text, err := svc.Complete(context.Background(), CallMeta{Op: OpInitial, MonthKey: "2025-03", SessionID: "s1"}, msgs)
	require.NoError(t, err)
	assert.Equal(t, "STUB_OUTPUT", text)

	_, err = svc.Complete(context.Background(), CallMeta{Op: OpFollowup, MonthKey: "2025-03"}, msgs)
	require.NoError(t, err)

	require.Len(t, completer.reqs, 2)
	assert.Equal(t, 1500, completer.reqs[0].MaxTokens)
	assert.Equal(t, 600, completer.reqs[1].MaxTokens)
	assert.InDelta(t, 0.3, completer.reqs[1].Temperature, 1e-9)

	require.Len(t, usage.logs, 2)
	assert.Equal(t, "initial", usage.logs[0].RequestType)
	assert.Equal(t, "sync", usage.logs[0].Mode)
	assert.Equal(t, "stub", usage.logs[0].Provider)
	assert.Equal(t, "s1", usage.logs[0].SessionID)
	assert.Equal(t, 15, usage.logs[0].TotalTokens)
	assert.True(t, usage.logs[0].Success)
}

func TestService_CompleteWrapsErrors(t *testing.T) {
	usage := &memUsage{}
	svc := NewService(Options{}, &stubCompleter{err: errors.New("401 unauthorized")}, nil, usage)

	_, err := svc.Complete(context.Background(), CallMeta{Op: OpInitial}, nil)

	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, OpInitial, infErr.Op)
	require.Len(t, usage.logs, 1)
	assert.False(t, usage.logs[0].Success)
	assert.Contains(t, usage.logs[0].ErrorMessage, "401")
}

func TestService_RateLimit(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	svc := NewService(Options{RateLimitPerHour: 1}, completer, nil, nil)

	_, err := svc.Complete(context.Background(), CallMeta{Op: OpInitial}, nil)
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), CallMeta{Op: OpFollowup}, nil)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, completer.reqs, 1, "limited call never reaches the model")
}

func TestService_SubmitRunNewThread(t *testing.T) {
	api := &stubRunAPI{statuses: []RunStatus{RunInProgress, RunCompleted}, messages: []string{"reply-text"}}
	svc := NewService(Options{Mode: config.ModeAsync}, nil, api, nil)
	svc.poller.wait = func(context.Context, time.Duration) error { return nil }

	handle, text, err := svc.SubmitRun(context.Background(), CallMeta{Op: OpInitial}, "", "prompt")

	require.NoError(t, err)
	assert.Equal(t, "reply-text", text)
	assert.Equal(t, RunHandle{ThreadID: "thread-1", RunID: "run-1"}, handle)
	assert.Equal(t, 1, api.threads)
	assert.Equal(t, []string{"prompt"}, api.posted)
}

func TestService_SubmitRunExistingThread(t *testing.T) {
	api := &stubRunAPI{statuses: []RunStatus{RunCompleted}, messages: []string{"answer"}}
	svc := NewService(Options{Mode: config.ModeAsync}, nil, api, nil)

	handle, text, err := svc.SubmitRun(context.Background(), CallMeta{Op: OpFollowup}, "thread-1", "question")

	require.NoError(t, err)
	assert.Equal(t, "answer", text)
	assert.Equal(t, "thread-1", handle.ThreadID)
	assert.Zero(t, api.threads)
}

func TestService_SubmitRunJobError(t *testing.T) {
	api := &stubRunAPI{statuses: []RunStatus{RunFailed}}
	usage := &memUsage{}
	svc := NewService(Options{Mode: config.ModeAsync}, nil, api, usage)

	handle, _, err := svc.SubmitRun(context.Background(), CallMeta{Op: OpInitial}, "", "prompt")

	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, RunFailed, jobErr.Status)
	assert.Equal(t, "run-1", handle.RunID)
	require.Len(t, usage.logs, 1)
	assert.Equal(t, "assistant", usage.logs[0].Provider)
	assert.False(t, usage.logs[0].Success)
}

func TestService_SubmitRunFailuresAfterPostAreThreadErrors(t *testing.T) {
	api := &stubRunAPI{runErr: errors.New("upstream 500")}
	svc := NewService(Options{Mode: config.ModeAsync}, nil, api, nil)

	_, _, err := svc.SubmitRun(context.Background(), CallMeta{Op: OpFollowup}, "thread-1", "question")

	var threadErr *ThreadError
	require.ErrorAs(t, err, &threadErr)
	assert.Equal(t, "thread-1", threadErr.ThreadID)
	var infErr *InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.Equal(t, "create_run", infErr.Op)

	api = &stubRunAPI{statuses: []RunStatus{RunExpired}}
	svc = NewService(Options{Mode: config.ModeAsync}, nil, api, nil)
	_, _, err = svc.SubmitRun(context.Background(), CallMeta{Op: OpFollowup}, "thread-1", "question")
	require.ErrorAs(t, err, &threadErr)
	var jobErr *JobError
	assert.ErrorAs(t, err, &jobErr)
}

type closingCompleter struct {
	stubCompleter
	closed int
	err    error
}

func (c *closingCompleter) Close() error {
	c.closed++
	return c.err
}

func TestService_CloseReleasesCompleter(t *testing.T) {
	completer := &closingCompleter{}
	svc := NewService(Options{}, completer, nil, nil)

	require.NoError(t, svc.Close())
	assert.Equal(t, 1, completer.closed)

	completer.err = errors.New("transport closed")
	assert.ErrorIs(t, svc.Close(), completer.err)

	// HTTP-клиенту закрывать нечего
	assert.NoError(t, NewService(Options{}, &stubCompleter{}, nil, nil).Close())
	assert.NoError(t, NewService(Options{Mode: config.ModeAsync}, nil, &stubRunAPI{}, nil).Close())
}

func TestService_UsageStats(t *testing.T) {
	usage := &memUsage{logs: []models.AIUsageLog{
		{RequestType: "initial", TotalTokens: 100, InputTokens: 80, OutputTokens: 20, Success: true},
		{RequestType: "followup", TotalTokens: 50, InputTokens: 40, OutputTokens: 10, Success: true},
		{RequestType: "followup", Success: false},
	}}
	svc := NewService(Options{}, &stubCompleter{}, nil, usage)

	stats, err := svc.GetUsageStats(7)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalRequests)
	assert.Equal(t, 2, stats.SuccessfulRequests)
	assert.Equal(t, 1, stats.FailedRequests)
	assert.Equal(t, 150, stats.TotalTokens)
	assert.Equal(t, 2, stats.ByRequestType["followup"])
}

func TestBuildSystemPrompt(t *testing.T) {
	prompt := BuildSystemPrompt(PromptOptions{
		DisplayName:     "Kimbell Analysis",
		ComparisonFocus: map[string]string{"Membership": "yoy", "Admissions": "mom"},
		DefaultFocus:    "mom",
		ChangeThreshold: 5,
	})

	assert.Contains(t, prompt, "Kimbell Analysis strictly follows")
	assert.Contains(t, prompt, "never be reported as absolute values")
	assert.Contains(t, prompt, "spend percentage changes are included")
	assert.Contains(t, prompt, "larger than 5% in either direction")
	assert.Contains(t, prompt, "two pros")
	assert.Contains(t, prompt, "two cons")
	assert.Contains(t, prompt, "Never invent numbers")
	assert.Contains(t, prompt, "If the campaign group is 'Membership', focuses on YoY performance.")
	assert.Contains(t, prompt, "For all other campaign groups, focuses on MoM performance.")
	assert.Less(t, strings.Index(prompt, "'Admissions'"), strings.Index(prompt, "'Membership'"))
	assert.NotContains(t, prompt, "%!")

	assert.Equal(t, prompt, BuildSystemPrompt(PromptOptions{
		DisplayName:     "Kimbell Analysis",
		ComparisonFocus: map[string]string{"Admissions": "mom", "Membership": "yoy"},
		DefaultFocus:    "mom",
		ChangeThreshold: 5,
	}))
}

func TestPromptsEmbedMonthAndData(t *testing.T) {
	initial := InitialPrompt("2025-03", "a,b\n1,2\n")
	assert.True(t, strings.HasPrefix(initial, "Here is the CSV data for 2025-03:"))
	assert.Contains(t, initial, "a,b\n1,2\n")

	followup := FollowupPrompt("2025-03", "a,b\n1,2\n", 10, "  Why did clicks drop? ")
	assert.Contains(t, followup, "first 10 rows")
	assert.Contains(t, followup, "2025-03")
	assert.True(t, strings.HasSuffix(followup, "Why did clicks drop?"))

	assert.Contains(t, AsyncMarker("2025-03"), "2025-03")
}
