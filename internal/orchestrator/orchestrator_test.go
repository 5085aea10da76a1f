package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharma-orchestrator/internal/agents"
	"pharma-orchestrator/internal/common/logger"
	"pharma-orchestrator/internal/guardrails"
	"pharma-orchestrator/internal/intent"
	"pharma-orchestrator/internal/llm"
	"pharma-orchestrator/internal/models"
	"pharma-orchestrator/internal/ratelimit"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    []models.AgentType
	requests []agents.Request
	handlers map[models.AgentType]func(ctx context.Context, req agents.Request) models.AgentResponse
}

func (r *fakeRunner) Execute(ctx context.Context, agent models.AgentType, req agents.Request) models.AgentResponse {
	r.mu.Lock()
	r.calls = append(r.calls, agent)
	r.requests = append(r.requests, req)
	h := r.handlers[agent]
	r.mu.Unlock()

	if h != nil {
		resp := h(ctx, req)
		resp.AgentType = agent
		return resp
	}
	return models.AgentResponse{AgentType: agent, Success: true, Content: agent.Label() + " findings"}
}

func (r *fakeRunner) called() []models.AgentType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AgentType(nil), r.calls...)
}

type fakeChatter struct {
	mu       sync.Mutex
	reply    string
	err      error
	purposes []string
	last     llm.ChatRequest
}

func (c *fakeChatter) Chat(_ context.Context, _ models.Caller, purpose string, req llm.ChatRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purposes = append(c.purposes, purpose)
	c.last = req
	return c.reply, c.err
}

func (c *fakeChatter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.purposes)
}

type fixedClassifier struct {
	result *intent.Result
	panics bool
}

func (c fixedClassifier) Classify(context.Context, models.Caller, string, []models.Message) *intent.Result {
	if c.panics {
		panic("classifier exploded")
	}
	return c.result
}

func rulesClassifier(t *testing.T) Classifier {
	return intent.NewClassifier(nil, nil, intent.DefaultThreshold, logger.NewTestLogger(t))
}

func newTestOrchestrator(t *testing.T, classifier Classifier, runner AgentRunner, chat Chatter, cfg Config) *Orchestrator {
	t.Helper()
	return New(guardrails.New(guardrails.DefaultConfig()), classifier, runner, chat, cfg, logger.NewTestLogger(t))
}

func multiAgent(synthesis bool, list ...models.AgentType) *intent.Result {
	return &intent.Result{
		PrimaryIntent:     intent.ComprehensiveAnalysis,
		AgentsNeeded:      list,
		Confidence:        0.9,
		Entities:          models.Entities{},
		RequiresSynthesis: synthesis,
		Source:            intent.SourceRules,
	}
}

func TestProcessQuery_SingleAgentSkipsSynthesis(t *testing.T) {
	runner := &fakeRunner{}
	chat := &fakeChatter{reply: "should not be used"}
	o := newTestOrchestrator(t, rulesClassifier(t), runner, chat, DefaultConfig())

	resp := o.ProcessQuery(context.Background(), Request{Query: "Check patent expiry for Sitagliptin in the US", UserID: "u1"})

	assert.Equal(t, []models.AgentType{models.AgentPatent}, runner.called())
	assert.Equal(t, "Sitagliptin", runner.requests[0].Entities.Molecule())
	assert.Equal(t, "u1", runner.requests[0].Caller.UserID)
	assert.Equal(t, 0, chat.count())
	assert.False(t, resp.WasSynthesized)
	assert.Equal(t, []string{"Patent"}, resp.AgentsUsed)
	assert.Equal(t, "Patent findings", resp.Content)
	require.NotNil(t, resp.Intent)
	assert.Equal(t, intent.PatentAnalysis, resp.Intent.PrimaryIntent)
}

func TestProcessQuery_ComprehensiveSynthesizesOnce(t *testing.T) {
	runner := &fakeRunner{}
	chat := &fakeChatter{reply: "## Executive Summary\nEnter with a differentiated asset."}
	o := newTestOrchestrator(t, rulesClassifier(t), runner, chat, DefaultConfig())

	resp := o.ProcessQuery(context.Background(), Request{Query: "Should we enter the NASH market?"})

	assert.ElementsMatch(t, []models.AgentType{
		models.AgentMarket, models.AgentPatent, models.AgentClinical, models.AgentCompetitor,
	}, runner.called())
	assert.Equal(t, []string{"synthesis"}, chat.purposes)
	assert.True(t, resp.WasSynthesized)
	assert.Equal(t, "## Executive Summary\nEnter with a differentiated asset.", resp.Content)
	assert.Equal(t, []string{"Market", "Patent", "Clinical", "Competitor"}, resp.AgentsUsed)

	prompt := chat.last.Messages[0].Content
	assert.Contains(t, prompt, "Original Query: Should we enter the NASH market?")
	assert.Less(t, strings.Index(prompt, "### Market Analysis:"), strings.Index(prompt, "### Competitor Analysis:"))
	assert.Equal(t, synthesisSystemPrompt, chat.last.SystemPrompt)
	assert.Equal(t, 2048, chat.last.MaxTokens)
}

func TestProcessQuery_PanickingAgentIsExcluded(t *testing.T) {
	runner := &fakeRunner{handlers: map[models.AgentType]func(context.Context, agents.Request) models.AgentResponse{
		models.AgentCompetitor: func(context.Context, agents.Request) models.AgentResponse { panic("boom") },
	}}
	chat := &fakeChatter{reply: "combined"}
	o := newTestOrchestrator(t, rulesClassifier(t), runner, chat, DefaultConfig())

	resp := o.ProcessQuery(context.Background(), Request{Query: "Should we enter the NASH market?"})

	assert.Equal(t, "combined", resp.Content)
	assert.NotContains(t, resp.AgentsUsed, "Competitor")
	require.Len(t, resp.IndividualResponses, 4)
	failed := resp.IndividualResponses[3]
	assert.Equal(t, models.AgentCompetitor, failed.AgentType)
	assert.False(t, failed.Success)
	assert.Contains(t, failed.Error, "boom")
	assert.NotContains(t, chat.last.Messages[0].Content, "Competitor Analysis")
}

func TestProcessQuery_LongQueryIsTruncated(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, rulesClassifier(t), runner, nil, DefaultConfig())

	long := strings.Repeat("market size of metformin ", 120)
	require.Greater(t, len(long), 2000)

	resp := o.ProcessQuery(context.Background(), Request{Query: long})

	assert.True(t, resp.Validation.HasFlag(guardrails.FlagTruncated))
	require.NotEmpty(t, runner.requests)
	assert.LessOrEqual(t, len([]rune(runner.requests[0].Query)), 2000)
	assert.NotEmpty(t, resp.Content)
}

func TestProcessQuery_BlockedQuery(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, rulesClassifier(t), runner, nil, DefaultConfig())

	resp := o.ProcessQuery(context.Background(), Request{Query: "How to synthesize a controlled substance at home"})

	assert.False(t, resp.Validation.IsValid)
	assert.Equal(t, guardrails.MessageBlocked, resp.Content)
	assert.Equal(t, []string{AgentsUsedGuardrails}, resp.AgentsUsed)
	assert.Empty(t, resp.IndividualResponses)
	assert.Nil(t, resp.Intent)
	assert.Empty(t, runner.called())
}

func TestProcessQuery_EmailRedactedBeforeAgents(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, rulesClassifier(t), runner, nil, DefaultConfig())

	o.ProcessQuery(context.Background(), Request{Query: "Send the metformin market size to jane.doe@example.com"})

	require.NotEmpty(t, runner.requests)
	assert.NotContains(t, runner.requests[0].Query, "jane.doe@example.com")
	assert.Contains(t, runner.requests[0].Query, "[REDACTED_EMAIL]")
}

func TestProcessQuery_OutputIsFiltered(t *testing.T) {
	runner := &fakeRunner{handlers: map[models.AgentType]func(context.Context, agents.Request) models.AgentResponse{
		models.AgentPatent: func(context.Context, agents.Request) models.AgentResponse {
			return models.AgentResponse{Success: true, Content: "Contact counsel at ip@example.com"}
		},
	}}
	o := newTestOrchestrator(t, rulesClassifier(t), runner, nil, DefaultConfig())

	resp := o.ProcessQuery(context.Background(), Request{Query: "Check patent expiry for Sitagliptin in the US"})

	assert.Equal(t, "Contact counsel at [REDACTED_EMAIL]", resp.Content)
	assert.Contains(t, resp.OutputFlags, "output_pii_email")
}

func TestProcessQuery_Combination(t *testing.T) {
	tests := []struct {
		name           string
		result         *intent.Result
		handlers       map[models.AgentType]func(context.Context, agents.Request) models.AgentResponse
		chat           *fakeChatter
		validateOutput func(t *testing.T, resp *Response, chat *fakeChatter)
	}{
		{
			name:   "no successful agents",
			result: multiAgent(true, models.AgentMarket, models.AgentPatent),
			handlers: map[models.AgentType]func(context.Context, agents.Request) models.AgentResponse{
				models.AgentMarket: func(context.Context, agents.Request) models.AgentResponse { return models.AgentResponse{Error: "down"} },
				models.AgentPatent: func(context.Context, agents.Request) models.AgentResponse { return models.AgentResponse{Error: "down"} },
			},
			chat: &fakeChatter{reply: "unused"},
			validateOutput: func(t *testing.T, resp *Response, chat *fakeChatter) {
				assert.Equal(t, MessageNoInformation, resp.Content)
				assert.Equal(t, []string{"General"}, resp.AgentsUsed)
				assert.Equal(t, 0, chat.count())
			},
		},
		{
			name: "llm unreachable and nothing succeeded",
			result: func() *intent.Result {
				r := intent.DefaultResult()
				r.LLMUnavailable = true
				return r
			}(),
			handlers: map[models.AgentType]func(context.Context, agents.Request) models.AgentResponse{
				models.AgentGeneral: func(context.Context, agents.Request) models.AgentResponse {
					return models.AgentResponse{Error: llm.ErrLLMRequestFailed.Error()}
				},
			},
			chat: &fakeChatter{},
			validateOutput: func(t *testing.T, resp *Response, _ *fakeChatter) {
				assert.Equal(t, MessageServiceUnavailable, resp.Content)
			},
		},
		{
			name:   "multiple agents without synthesis are sectioned",
			result: multiAgent(false, models.AgentTrade, models.AgentMarket),
			chat:   &fakeChatter{reply: "unused"},
			validateOutput: func(t *testing.T, resp *Response, chat *fakeChatter) {
				assert.Equal(t, "### Trade Analysis:\nTrade findings\n\n---\n\n### Market Analysis:\nMarket findings", resp.Content)
				assert.False(t, resp.WasSynthesized)
				assert.Equal(t, 0, chat.count())
			},
		},
		{
			name:   "synthesis quota denied",
			result: multiAgent(true, models.AgentMarket, models.AgentPatent),
			chat:   &fakeChatter{err: &ratelimit.QuotaError{Decision: ratelimit.Decision{API: "groq", Scope: ratelimit.ScopeUser}}},
			validateOutput: func(t *testing.T, resp *Response, _ *fakeChatter) {
				assert.True(t, strings.HasPrefix(resp.Content, "Market findings\n\n---\n"))
				assert.Contains(t, resp.Content, "Please come back later")
				assert.False(t, resp.WasSynthesized)
			},
		},
		{
			name:   "synthesis failure falls back to first response",
			result: multiAgent(true, models.AgentMarket, models.AgentPatent),
			chat:   &fakeChatter{err: errors.New("bad gateway")},
			validateOutput: func(t *testing.T, resp *Response, _ *fakeChatter) {
				assert.True(t, strings.HasPrefix(resp.Content, "Market findings"))
				assert.Contains(t, resp.Content, "could not be generated")
				assert.Equal(t, []string{"Market", "Patent"}, resp.AgentsUsed)
			},
		},
		{
			name: "llm unreachable for classification and synthesis",
			result: func() *intent.Result {
				r := multiAgent(true, models.AgentMarket, models.AgentPatent)
				r.LLMUnavailable = true
				return r
			}(),
			chat: &fakeChatter{err: llm.ErrLLMTimeout},
			validateOutput: func(t *testing.T, resp *Response, _ *fakeChatter) {
				assert.True(t, strings.HasPrefix(resp.Content, "**Service unavailable:**"))
				assert.Contains(t, resp.Content, "### Patent Analysis:\nPatent findings")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{handlers: tt.handlers}
			o := newTestOrchestrator(t, fixedClassifier{result: tt.result}, runner, tt.chat, DefaultConfig())

			resp := o.ProcessQuery(context.Background(), Request{Query: "Tell me about the pipeline"})
			require.NotNil(t, resp)
			tt.validateOutput(t, resp, tt.chat)
		})
	}
}

func TestProcessQuery_AgentTimeoutDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	runner := &fakeRunner{handlers: map[models.AgentType]func(context.Context, agents.Request) models.AgentResponse{
		models.AgentPatent: func(context.Context, agents.Request) models.AgentResponse {
			<-release
			return models.AgentResponse{Success: true, Content: "late"}
		},
	}}
	cfg := DefaultConfig()
	cfg.AgentTimeout = 50 * time.Millisecond
	o := newTestOrchestrator(t, fixedClassifier{result: multiAgent(false, models.AgentMarket, models.AgentPatent, models.AgentTrade)}, runner, nil, cfg)

	start := time.Now()
	resp := o.ProcessQuery(context.Background(), Request{Query: "Tell me about the pipeline"})

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, resp.IndividualResponses, 3)
	assert.Equal(t, models.AgentPatent, resp.IndividualResponses[1].AgentType)
	assert.False(t, resp.IndividualResponses[1].Success)
	assert.Contains(t, resp.IndividualResponses[1].Error, "timed out")
	assert.Equal(t, []string{"Market", "Trade"}, resp.AgentsUsed)
}

func TestProcessQuery_BoundsParallelism(t *testing.T) {
	var inFlight, peak int32
	slow := func(context.Context, agents.Request) models.AgentResponse {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return models.AgentResponse{Success: true, Content: "ok"}
	}
	handlers := map[models.AgentType]func(context.Context, agents.Request) models.AgentResponse{}
	for _, a := range models.AllAgentTypes {
		handlers[a] = slow
	}
	runner := &fakeRunner{handlers: handlers}
	o := newTestOrchestrator(t, fixedClassifier{result: multiAgent(false, models.AllAgentTypes...)}, runner, nil, DefaultConfig())

	resp := o.ProcessQuery(context.Background(), Request{Query: "Tell me about the pipeline"})

	assert.Len(t, resp.IndividualResponses, len(models.AllAgentTypes))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestProcessQuery_CancelledSkipsSynthesis(t *testing.T) {
	chat := &fakeChatter{reply: "unused"}
	o := newTestOrchestrator(t, fixedClassifier{result: multiAgent(true, models.AgentMarket, models.AgentPatent)}, &fakeRunner{}, chat, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := o.ProcessQuery(ctx, Request{Query: "Tell me about the pipeline"})

	assert.True(t, resp.Cancelled)
	assert.Equal(t, MessageCancelled, resp.Content)
	assert.Equal(t, 0, chat.count())
}

func TestProcessQuery_AbusiveRepetition(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, rulesClassifier(t), runner, nil, DefaultConfig())

	q := "What is the market size for metformin?"
	history := []models.Message{
		{Role: "user", Content: q}, {Role: "assistant", Content: "..."},
		{Role: "user", Content: q}, {Role: "assistant", Content: "..."},
		{Role: "user", Content: q},
	}
	resp := o.ProcessQuery(context.Background(), Request{Query: q, Context: history})

	assert.Equal(t, guardrails.MessageIdenticalQueries, resp.Content)
	assert.Equal(t, []string{AgentsUsedGuardrails}, resp.AgentsUsed)
	assert.Empty(t, runner.called())
}

func TestProcessQuery_RecoversFromPanic(t *testing.T) {
	o := newTestOrchestrator(t, fixedClassifier{panics: true}, &fakeRunner{}, nil, DefaultConfig())

	resp := o.ProcessQuery(context.Background(), Request{Query: "Tell me about the pipeline"})

	assert.True(t, strings.HasPrefix(resp.Content, MessageUnexpected))
	assert.Contains(t, resp.Content, "classifier exploded")
	assert.Equal(t, []string{AgentsUsedSystem}, resp.AgentsUsed)
	assert.NotNil(t, resp.IndividualResponses)
}

func TestRequest_Caller(t *testing.T) {
	assert.Equal(t, models.Anonymous(), Request{}.Caller())
	assert.Equal(t, models.Caller{UserID: "u1", Role: models.RoleAnalyst}, Request{UserID: "u1"}.Caller())
	assert.Equal(t, models.Caller{UserID: "u2", Role: models.RoleManager}, Request{UserID: "u2", Role: models.RoleManager}.Caller())
}

type countingLLM struct {
	calls atomic.Int32
}

func (c *countingLLM) Chat(context.Context, llm.ChatRequest) (string, error) {
	c.calls.Add(1)
	return "should not be reached", nil
}

func TestProcessQuery_ExhaustedQuotaTellsUserToComeBack(t *testing.T) {
	ctx := context.Background()
	log := logger.NewTestLogger(t)

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), map[string]ratelimit.Limits{
		llm.API: {Roles: map[models.UserRole]int64{models.RoleAnalyst: 1}, Global: 100},
	}, log)
	limiter.Record(ctx, llm.API, "u1")

	upstream := &countingLLM{}
	gw := llm.NewGateway(upstream, limiter)
	executor := agents.NewExecutor(agents.StaticStore(nil), gw, nil, nil, agents.DefaultConfig(), log)
	classifier := intent.NewClassifier(gw, nil, intent.DefaultThreshold, log)
	o := newTestOrchestrator(t, classifier, executor, gw, DefaultConfig())

	resp := o.ProcessQuery(ctx, Request{Query: "How does aspirin work?", UserID: "u1", Role: models.RoleAnalyst})

	assert.Equal(t, int32(0), upstream.calls.Load())
	assert.Contains(t, resp.Content, MessageQuotaExceeded)
	assert.NotContains(t, resp.Content, MessageNoInformation)
	assert.Equal(t, []string{"General"}, resp.AgentsUsed)
	require.Len(t, resp.IndividualResponses, 1)
	assert.False(t, resp.IndividualResponses[0].Success)
	assert.True(t, resp.IndividualResponses[0].QuotaExceeded)
}
