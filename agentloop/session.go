package agentloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/martinemde/coder/unifiedllm"
	"golang.org/x/time/rate"
)

// State is a step of the agent loop state machine.
type State string

const (
	StateAwaitingModelResponse State = "awaiting_model_response"
	StateParsing               State = "parsing"
	StateNoToolCalls           State = "no_tool_calls"
	StateToolCallsPending      State = "tool_calls_pending"
	StateExecutingTools        State = "executing_tools"
	StateRecording             State = "recording"

	StateCompleted      State = "completed"
	StateEmptyResponse  State = "empty_response"
	StateTimedOut       State = "timed_out"
	StateIterationLimit State = "iteration_limit"
	StateFailed         State = "failed"
)

// Terminal reports whether s ends a session.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateEmptyResponse, StateTimedOut, StateIterationLimit, StateFailed:
		return true
	}
	return false
}

// Completer sends one chat-completion request.
type Completer interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// ToolExecutor runs one parsed invocation.
type ToolExecutor interface {
	Execute(ctx context.Context, inv Invocation) (Envelope, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, inv Invocation) (Envelope, error)

func (f ToolExecutorFunc) Execute(ctx context.Context, inv Invocation) (Envelope, error) {
	return f(ctx, inv)
}

// MetricsRecorder receives loop counters.
type MetricsRecorder interface {
	Iteration()
	ModelRequest(outcome string)
	ToolCall(tool, status string)
	SessionEnded(state string)
}

type nopMetrics struct{}

func (nopMetrics) Iteration()           {}
func (nopMetrics) ModelRequest(string)  {}
func (nopMetrics) ToolCall(_, _ string) {}
func (nopMetrics) SessionEnded(string)  {}

// FailureHandler is called once with a copy of the conversation when a
// session ends with an error.
type FailureHandler interface {
	OnFailure(conv *Conversation, err error)
}

// FailureHandlerFunc adapts a function to FailureHandler.
type FailureHandlerFunc func(conv *Conversation, err error)

func (f FailureHandlerFunc) OnFailure(conv *Conversation, err error) { f(conv, err) }

// SessionConfig holds everything a session needs besides its collaborators.
type SessionConfig struct {
	SystemPrompt  string
	InitialPrompt string
	Metadata      Metadata

	// Timeout bounds the wall-clock duration of Run; zero disables it.
	Timeout time.Duration
	// IterationDelay is the full pause after each iteration, before the
	// next model request.
	IterationDelay time.Duration
	// MaxIterations caps model requests; zero means unlimited.
	MaxIterations int

	LoopDetection       bool
	LoopDetectionWindow int
}

// Outcome describes how a session ended.
type Outcome struct {
	State      State
	Iterations int
	Summary    string
	Elapsed    time.Duration
	// Usage sums the token usage reported by every model response.
	Usage unifiedllm.Usage
}

// Session drives one conversation to a terminal state.
type Session struct {
	cfg      SessionConfig
	client   Completer
	registry *ToolRegistry
	executor ToolExecutor
	conv     *Conversation

	logger  *slog.Logger
	metrics MetricsRecorder
	failure FailureHandler
	emitter *EventEmitter
	counter unifiedllm.TokenCounter
	now     func() time.Time
	state   State
	usage   unifiedllm.Usage
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

func WithMetrics(m MetricsRecorder) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func WithFailureHandler(h FailureHandler) SessionOption {
	return func(s *Session) { s.failure = h }
}

func WithEmitter(e *EventEmitter) SessionOption {
	return func(s *Session) { s.emitter = e }
}

// WithTokenCounter sets the counter used for the bounded view. The default
// is a tiktoken counter.
func WithTokenCounter(c unifiedllm.TokenCounter) SessionOption {
	return func(s *Session) { s.counter = c }
}

// WithClock replaces time.Now for timeout accounting.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// NewSession creates a session and seeds its conversation with the system
// and initial prompts.
func NewSession(cfg SessionConfig, client Completer, registry *ToolRegistry, executor ToolExecutor, opts ...SessionOption) (*Session, error) {
	if client == nil {
		return nil, newError(KindConfiguration, "new_session", "no inference client", nil)
	}
	if registry == nil || executor == nil {
		return nil, newError(KindConfiguration, "new_session", "no tools configured", nil)
	}
	if cfg.Metadata.Model == "" {
		return nil, newError(KindConfiguration, "new_session", "no model configured", nil)
	}
	if cfg.LoopDetectionWindow == 0 {
		cfg.LoopDetectionWindow = 6
	}

	s := &Session{
		cfg:      cfg,
		client:   client,
		registry: registry,
		executor: executor,
		conv:     NewConversation(cfg.Metadata),
		logger:   slog.New(slog.DiscardHandler),
		metrics:  nopMetrics{},
		now:      time.Now,
		state:    StateAwaitingModelResponse,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = unifiedllm.NewTiktokenCounter()
	}
	s.logger = s.logger.With("conversation", s.conv.ID)

	if cfg.SystemPrompt != "" {
		s.conv.AddMessage(SystemMessage(cfg.SystemPrompt))
	}
	if cfg.InitialPrompt != "" {
		s.conv.AddMessage(UserMessage(cfg.InitialPrompt))
	}
	return s, nil
}

// Conversation returns the live conversation.
func (s *Session) Conversation() *Conversation {
	return s.conv
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Run iterates until the session reaches a terminal state. Completed,
// EmptyResponse, TimedOut and IterationLimit return a nil error; anything
// else is fatal, reported to the failure handler and returned.
func (s *Session) Run(ctx context.Context) (outcome Outcome, err error) {
	start := s.now()
	iteration := 0

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent loop panicked: %v", r)
		}
		outcome.Iterations = iteration
		outcome.Elapsed = s.now().Sub(start)
		outcome.Usage = s.usage
		if err != nil {
			outcome.State = StateFailed
			s.fail(iteration, err)
		}
		s.state = outcome.State
		s.metrics.SessionEnded(string(outcome.State))
		s.emit(EventSessionEnd, iteration, map[string]interface{}{
			"state":      string(outcome.State),
			"iterations": iteration,
		})
		s.logger.Info("session ended", "state", outcome.State, "iterations", iteration, "elapsed", outcome.Elapsed)
	}()

	names := s.registry.Names()
	tools := make([]string, 0, len(names))
	for _, name := range names {
		tools = append(tools, name.String())
	}
	s.emit(EventSessionStart, 0, map[string]interface{}{
		"model":    s.conv.Metadata.Model,
		"provider": s.conv.Metadata.Provider,
		"tools":    tools,
	})
	s.logger.Info("session started", "model", s.conv.Metadata.Model, "provider", s.conv.Metadata.Provider, "tools", tools)

	for {
		if s.timedOut(start) {
			return Outcome{State: StateTimedOut}, nil
		}
		if s.cfg.MaxIterations > 0 && iteration >= s.cfg.MaxIterations {
			return Outcome{State: StateIterationLimit}, nil
		}
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		iteration++
		s.metrics.Iteration()
		result, err := s.iterate(ctx, iteration)
		if err != nil {
			return Outcome{}, err
		}
		if result.state.Terminal() {
			return Outcome{State: result.state, Summary: result.summary}, nil
		}

		if s.timedOut(start) {
			return Outcome{State: StateTimedOut}, nil
		}
		if err := pause(ctx, s.cfg.IterationDelay); err != nil {
			return Outcome{}, err
		}
	}
}

// pause blocks for the full delay counted from now, however long the
// iteration before it took.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)
	limiter.Allow()
	return limiter.Wait(ctx)
}

func (s *Session) timedOut(start time.Time) bool {
	return s.cfg.Timeout > 0 && s.now().Sub(start) >= s.cfg.Timeout
}

func (s *Session) fail(iteration int, err error) {
	s.logger.Error("session failed", "error", err, "kind", KindOf(err))
	s.emit(EventError, iteration, map[string]interface{}{"error": err.Error()})
	if s.failure != nil {
		s.failure.OnFailure(s.conv.Clone(), err)
	}
}

type iterationResult struct {
	state   State
	summary string
}

// iterate performs one request and records its effects.
func (s *Session) iterate(ctx context.Context, iteration int) (iterationResult, error) {
	s.state = StateAwaitingModelResponse
	req, err := s.buildRequest()
	if err != nil {
		return iterationResult{}, err
	}

	s.emit(EventModelRequest, iteration, map[string]interface{}{"messages": len(req.Messages)})
	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		s.metrics.ModelRequest("error")
		return iterationResult{}, fmt.Errorf("model request: %w", err)
	}
	s.metrics.ModelRequest("ok")
	s.usage = s.usage.Add(resp.Usage)
	if reasoning := resp.Reasoning(); reasoning != "" {
		s.logger.Debug("model reasoning", "iteration", iteration, "reasoning", Preview(reasoning))
	}

	s.state = StateParsing
	text, err := StripThinking(resp.Text())
	if err != nil {
		return iterationResult{}, err
	}
	calls := resp.ToolCallsFromResponse()
	if text == "" && len(calls) == 0 {
		s.logger.Warn("model returned an empty response", "iteration", iteration)
		s.emit(EventWarning, iteration, map[string]interface{}{"message": "model returned an empty response"})
		return iterationResult{state: StateEmptyResponse}, nil
	}

	s.conv.AddMessage(AssistantMessage(text, calls))
	if text != "" {
		s.emit(EventAssistantText, iteration, map[string]interface{}{"text": text})
	}
	s.logger.Info("model responded", "iteration", iteration, "tool_calls", len(calls), "finish_reason", resp.FinishReason.Reason)

	if len(calls) == 0 {
		s.state = StateNoToolCalls
		s.steer(iteration, steerNoToolCalls)
		return iterationResult{state: StateNoToolCalls}, nil
	}

	s.state = StateToolCallsPending
	names := make([]ToolName, len(calls))
	for i, call := range calls {
		name, err := s.registry.ResolveName(call)
		if err != nil {
			return iterationResult{}, err
		}
		names[i] = name
	}

	s.state = StateExecutingTools
	return s.executeCalls(ctx, iteration, calls, names), nil
}

// buildRequest converts the bounded view into a request.
func (s *Session) buildRequest() (unifiedllm.Request, error) {
	view, err := s.conv.BoundedView(s.counter)
	if err != nil {
		return unifiedllm.Request{}, err
	}
	view = dropOrphanToolResults(view)
	if len(view) == 0 {
		return unifiedllm.Request{}, newError(KindTokenization, "bounded_view",
			fmt.Sprintf("no message fits within max_tokens %d", *s.conv.Metadata.MaxTokens), nil)
	}

	messages := make([]unifiedllm.Message, 0, len(view))
	for _, m := range view {
		messages = append(messages, toLLMMessage(m))
	}
	return unifiedllm.Request{
		Model:      s.conv.Metadata.Model,
		Provider:   s.conv.Metadata.Provider,
		Messages:   messages,
		ToolDefs:   s.registry.Definitions(),
		ToolChoice: &unifiedllm.ToolChoice{Mode: "auto"},
		Metadata:   map[string]string{"conversation_id": s.conv.ID},
	}, nil
}

// dropOrphanToolResults removes tool results at the head of view whose
// assistant call was evicted, after an optional pinned system message.
func dropOrphanToolResults(view []Message) []Message {
	head := 0
	if len(view) > 0 && view[0].Role == RoleSystem {
		head = 1
	}
	i := head
	for i < len(view) && view[i].Role == RoleTool {
		i++
	}
	if i == head {
		return view
	}
	out := make([]Message, 0, len(view)-(i-head))
	out = append(out, view[:head]...)
	return append(out, view[i:]...)
}

func toLLMMessage(m Message) unifiedllm.Message {
	switch m.Role {
	case RoleSystem:
		return unifiedllm.SystemMessage(m.Content)
	case RoleTool:
		return unifiedllm.ToolResultMessage(m.ToolCallID, m.Content, false)
	case RoleAssistant:
		msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
		if m.Content != "" {
			msg.Content = append(msg.Content, unifiedllm.TextPart(m.Content))
		}
		for _, tc := range m.ToolCalls {
			msg.Content = append(msg.Content, unifiedllm.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
		}
		return msg
	default:
		return unifiedllm.UserMessage(m.Content)
	}
}

// executeCalls runs calls in order, records every result, and appends one
// steering message after the results. Execution stops at done.
func (s *Session) executeCalls(ctx context.Context, iteration int, calls []unifiedllm.ToolCall, names []ToolName) iterationResult {
	var failed, retry bool
	for i, call := range calls {
		name := names[i]
		s.emit(EventToolCallStart, iteration, map[string]interface{}{
			"tool":    name.String(),
			"call_id": call.ID,
		})

		var env Envelope
		var err error
		args, argErr := s.registry.DecodeArgs(name, call.Arguments)
		if argErr != nil {
			err = argErr
			env = Failure(argErr)
		} else {
			env, err = s.executor.Execute(ctx, Invocation{ID: call.ID, Name: name, Args: args})
		}

		s.state = StateRecording
		s.conv.AddMessage(ToolMessage(call.ID, env.JSON()))

		status := "ok"
		switch {
		case err != nil:
			failed = true
			status = "error"
			s.logger.Warn("tool failed", "tool", name, "kind", KindOf(err), "error", err)
		case env.Retry:
			retry = true
			status = "retry"
			s.logger.Info("tool asked for retry", "tool", name, "message", env.MessageText())
		default:
			s.logger.Info("tool succeeded", "tool", name)
		}
		s.metrics.ToolCall(name.String(), status)
		s.emit(EventToolCallEnd, iteration, map[string]interface{}{
			"tool":    name.String(),
			"call_id": call.ID,
			"status":  status,
			"output":  Preview(env.JSON()),
		})

		if err == nil {
			if read, ok := args.(CodeReadArgs); ok {
				s.conv.AddReviewedFile(read.Path)
			}
			if env.IsCompletion() {
				return iterationResult{state: StateCompleted, summary: completionSummary(env)}
			}
		}
	}

	switch {
	case failed:
		s.steer(iteration, steerFailed)
	case retry:
		s.steer(iteration, steerRetry)
	default:
		s.steer(iteration, steerProceed)
	}

	if s.cfg.LoopDetection && DetectLoop(s.conv.Messages, s.cfg.LoopDetectionWindow) {
		s.logger.Warn("tool call loop detected", "window", s.cfg.LoopDetectionWindow)
		s.emit(EventLoopDetection, iteration, map[string]interface{}{"window": s.cfg.LoopDetectionWindow})
		s.steer(iteration, steerLoop)
	}
	return iterationResult{state: StateAwaitingModelResponse}
}

func completionSummary(env Envelope) string {
	if m, ok := env.Result.(map[string]string); ok {
		return m["summary"]
	}
	return ""
}

func (s *Session) steer(iteration int, text string) {
	s.conv.AddMessage(UserMessage(text))
	s.emit(EventSteeringInjected, iteration, map[string]interface{}{"content": text})
}

func (s *Session) emit(kind EventKind, iteration int, data map[string]interface{}) {
	s.emitter.Emit(SessionEvent{
		Kind:           kind,
		Timestamp:      s.now(),
		ConversationID: s.conv.ID,
		Iteration:      iteration,
		Data:           data,
	})
}
