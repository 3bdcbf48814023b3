// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/studio/internal/config"
	"github.com/jeranaias/studio/internal/filecmd"
	"github.com/jeranaias/studio/internal/model"
	"github.com/jeranaias/studio/internal/ollama"
	"github.com/jeranaias/studio/internal/reasoning"
	"github.com/jeranaias/studio/internal/search"
)

// =============================================================================
// STATE
// =============================================================================

// State is the lifecycle position of a generation.
type State int

const (
	Idle State = iota
	Requesting
	Streaming
	Completing
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Streaming:
		return "streaming"
	case Completing:
		return "completing"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CancelNotice is appended to the reply of a cancelled generation.
const CancelNotice = "\n\n⚠️ Generation cancelled by user"

var (
	// ErrBusy is returned by Send while a generation is in progress.
	ErrBusy = errors.New("a generation is already in progress")
	// ErrEmptyInput is returned by Send for blank input.
	ErrEmptyInput = errors.New("input is empty")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// EventStream yields decoded events of one response.
type EventStream interface {
	Next() (ollama.StreamEvent, error)
	Close() error
}

// Opener starts a streamed chat request.
type Opener interface {
	OpenChatStream(ctx context.Context, req ollama.ChatRequest) (EventStream, error)
}

// CommandProcessor executes file directives in a finished reply.
type CommandProcessor interface {
	Process(text string) filecmd.Result
}

// ClientOpener adapts an ollama.Client to Opener.
type ClientOpener struct {
	Client *ollama.Client
}

// OpenChatStream implements Opener.
func (o ClientOpener) OpenChatStream(ctx context.Context, req ollama.ChatRequest) (EventStream, error) {
	stream, err := o.Client.OpenChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Hooks receive generation progress. All fields are optional and are
// called on the goroutine running Send.
type Hooks struct {
	OnDelta func(delta string)
	OnLog   func(line reasoning.LogLine)
	OnStats func(stats Stats)
	OnState func(state State)
}

// Options configures a Session.
type Options struct {
	Model        string
	Effort       config.ReasoningEffort
	ContextSize  int
	GlobalPrompt string
	Critical     bool
	Keywords     []string
	SandboxName  string

	// Reader expands "@read <path>" in user input; nil disables expansion
	Reader filecmd.Reader
	// Searcher adds web search context; nil disables search
	Searcher search.Engine

	Hooks Hooks

	// Conversation continues an existing transcript; nil starts a new one
	Conversation *model.Conversation
}

// =============================================================================
// RESULTS
// =============================================================================

// Status is the outcome of one Send.
type Status int

const (
	StatusCompleted Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Stats describes a completed generation.
type Stats struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	Chunks           int
	Elapsed          time.Duration
	ServerDuration   time.Duration
}

// TokensPerSecond is the output rate over the client-side elapsed time.
func (s Stats) TokensPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.CompletionTokens) / s.Elapsed.Seconds()
}

// Reply is the outcome of one Send.
type Reply struct {
	Status Status
	// Text is the final content of the assistant message
	Text    string
	Results []filecmd.CommandResult
	Stats   Stats
	// Expansion records the "@read" handling of the input
	Expansion filecmd.UserExpansion
}

// Totals accumulates usage across generations.
type Totals struct {
	Generations      int
	PromptTokens     int
	CompletionTokens int
}

// =============================================================================
// SESSION
// =============================================================================

// debugEvery is the chunk interval between progress log lines.
const debugEvery = 50

// Session runs one generation at a time against a transcript.
//
// Send blocks until the generation ends. Cancel may be called from any
// goroutine; State, Transcript and Totals are safe for concurrent use.
type Session struct {
	opener    Opener
	processor CommandProcessor

	mu     sync.Mutex
	opts   Options
	conv   *model.Conversation
	state  State
	cancel context.CancelFunc
	totals Totals
}

// New creates a session. processor may be nil, in which case replies are
// kept verbatim.
func New(opener Opener, processor CommandProcessor, opts Options) *Session {
	if opts.Model == "" {
		opts.Model = ollama.DefaultModel
	}
	if opts.Effort == "" {
		opts.Effort = config.EffortStandard
	}
	conv := opts.Conversation
	if conv == nil {
		conv = model.NewConversation(opts.Model)
	}
	opts.Conversation = nil
	return &Session{
		opener:    opener,
		processor: processor,
		opts:      opts,
		conv:      conv,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a snapshot of the conversation.
func (s *Session) Transcript() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv.Snapshot()
}

// Totals returns the accumulated token usage.
func (s *Session) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// Model returns the model used for new requests.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Model
}

// Options returns a copy of the current options.
func (s *Session) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts := s.opts
	opts.Keywords = append([]string(nil), s.opts.Keywords...)
	return opts
}

// Configure changes options between generations. The conversation cannot
// be replaced this way; use Reset.
func (s *Session) Configure(fn func(*Options)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrBusy
	}
	fn(&s.opts)
	s.opts.Conversation = nil
	return nil
}

// Reset replaces the conversation and clears the totals. A nil conversation
// starts a new one.
func (s *Session) Reset(conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return ErrBusy
	}
	if conv == nil {
		conv = model.NewConversation(s.opts.Model)
	}
	s.conv = conv
	s.totals = Totals{}
	return nil
}

// Cancel aborts the generation in progress. It reports whether there was
// one to cancel.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil || (s.state != Requesting && s.state != Streaming) {
		return false
	}
	s.cancel()
	return true
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	hook := s.opts.Hooks.OnState
	s.mu.Unlock()
	if hook != nil {
		hook(st)
	}
}

func (s *Session) log(line reasoning.LogLine) {
	if s.opts.Hooks.OnLog != nil {
		s.opts.Hooks.OnLog(line)
	}
}

// Send runs one generation for input and returns when it completes, fails
// or is cancelled. A cancelled generation returns a Reply with
// StatusCancelled and a nil error. A failed one returns a Reply with
// StatusFailed together with the error.
func (s *Session) Send(ctx context.Context, input string) (*Reply, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	genCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = Requesting
	opts := s.opts
	s.mu.Unlock()

	if opts.Hooks.OnState != nil {
		opts.Hooks.OnState(Requesting)
	}
	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		s.setState(Idle)
	}()

	g := &generation{session: s, opts: opts, ctx: genCtx, started: time.Now()}
	return g.run(strings.TrimSpace(input))
}

// =============================================================================
// GENERATION
// =============================================================================

// generation holds the per-request state of one Send.
type generation struct {
	session *Session
	opts    Options
	ctx     context.Context
	started time.Time

	expansion filecmd.UserExpansion
	full      strings.Builder
	chunks    int
}

func (g *generation) run(input string) (*Reply, error) {
	s := g.session

	if g.opts.Reader != nil {
		g.expansion = filecmd.ExpandUserInput(g.opts.Reader, input)
	} else {
		g.expansion = filecmd.UserExpansion{Input: input}
	}
	if g.expansion.HasCommand {
		if g.expansion.Err != nil {
			s.log(reasoning.Warn(fmt.Sprintf("Could not read %s: %v", g.expansion.Path, g.expansion.Err)))
		} else {
			s.log(reasoning.Info("Read file: " + g.expansion.Path))
		}
	}

	searchContext := g.search(g.expansion.Input)

	s.mu.Lock()
	s.conv.Append(model.NewUserMessage(g.expansion.Message()))
	history := append([]model.Message(nil), s.conv.Messages...)
	s.conv.Append(model.NewAssistantMessage(""))
	s.mu.Unlock()

	builder := PromptBuilder{
		ContextSize:  g.opts.ContextSize,
		GlobalPrompt: g.opts.GlobalPrompt,
		Critical:     g.opts.Critical,
		Keywords:     g.opts.Keywords,
		SandboxName:  g.opts.SandboxName,
	}
	messages := builder.Build(history, input, searchContext)

	req := ollama.ChatRequest{
		Model:    g.opts.Model,
		Messages: messages,
		Stream:   true,
		Options:  &ollama.Options{NumCtx: g.opts.Effort.NumCtx()},
	}

	s.log(reasoning.Info("Starting generation with model: " + req.Model))
	s.log(reasoning.Info(fmt.Sprintf("Reasoning level: %s (context: %d tokens)", g.opts.Effort, req.Options.NumCtx)))
	if g.opts.Critical {
		s.log(reasoning.Warn("Critical mode enabled - exhaustive verification active"))
	}
	s.log(reasoning.Info(fmt.Sprintf("Messages in context: %d", len(messages))))
	s.log(reasoning.Info(fmt.Sprintf("Estimated prompt tokens: %d", ollama.EstimateTokens(messages))))

	stream, err := s.opener.OpenChatStream(g.ctx, req)
	if err != nil {
		if g.ctx.Err() != nil {
			return g.cancelled(), nil
		}
		return g.failed(err)
	}
	defer stream.Close()

	s.setState(Streaming)
	final, err := g.stream(stream)
	if err != nil {
		if g.ctx.Err() != nil {
			return g.cancelled(), nil
		}
		return g.failed(err)
	}

	return g.complete(final), nil
}

// search returns the system context for web results, or "" when search is
// disabled, fails or finds nothing.
func (g *generation) search(query string) string {
	engine := g.opts.Searcher
	if engine == nil || strings.TrimSpace(query) == "" {
		return ""
	}
	s := g.session

	results, err := engine.Search(g.ctx, query)
	if err != nil {
		s.log(reasoning.Warn(fmt.Sprintf("Web search failed (%s): %v", engine.Name(), err)))
		return ""
	}
	if len(results) == 0 {
		return ""
	}
	s.log(reasoning.Info(fmt.Sprintf("Web search found %d results (%s)", len(results), engine.Name())))
	return SearchContext(query, engine.Name(), search.FormatResults(results))
}

// stream consumes events until the body ends. It returns the final event,
// or a zero event when the server closed without one.
func (g *generation) stream(stream EventStream) (ollama.StreamEvent, error) {
	s := g.session
	tracker := reasoning.NewTracker()
	var final ollama.StreamEvent

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return final, nil
		}
		if err != nil {
			return final, err
		}

		if ev.Err != "" {
			return final, &ollama.ClientError{Type: ollama.ErrTypeUpstream, Message: ev.Err}
		}

		if ev.Content != "" {
			g.chunks++
			if g.chunks%debugEvery == 0 {
				s.log(reasoning.Debug(fmt.Sprintf("Processed %d chunks in %.1fs", g.chunks, time.Since(g.started).Seconds())))
			}
			for _, line := range tracker.Observe(ev.Content) {
				s.log(line)
			}

			g.full.WriteString(ev.Content)
			s.mu.Lock()
			s.conv.AppendToLast(ev.Content)
			s.mu.Unlock()
			if g.opts.Hooks.OnDelta != nil {
				g.opts.Hooks.OnDelta(ev.Content)
			}
		}

		if ev.Final {
			final = ev
		}
	}
}

func (g *generation) complete(final ollama.StreamEvent) *Reply {
	s := g.session
	s.setState(Completing)

	stats := Stats{
		Model:            g.opts.Model,
		PromptTokens:     final.PromptTokens,
		CompletionTokens: final.CompletionTokens,
		Chunks:           g.chunks,
		Elapsed:          time.Since(g.started),
		ServerDuration:   final.TotalDuration,
	}
	if final.Model != "" {
		stats.Model = final.Model
	}

	s.log(reasoning.Done(fmt.Sprintf("Generation completed in %.2fs", stats.Elapsed.Seconds())))
	s.log(reasoning.Info(fmt.Sprintf("Total chunks received: %d", stats.Chunks)))
	if stats.PromptTokens > 0 {
		s.log(reasoning.Info(fmt.Sprintf("Input tokens: %d", stats.PromptTokens)))
	}
	if stats.CompletionTokens > 0 {
		s.log(reasoning.Info(fmt.Sprintf("Output tokens: %d", stats.CompletionTokens)))
		s.log(reasoning.Info(fmt.Sprintf("Speed: %.1f tokens/s", stats.TokensPerSecond())))
	}
	if stats.ServerDuration > 0 {
		s.log(reasoning.Info(fmt.Sprintf("Total duration (server): %.2fs", stats.ServerDuration.Seconds())))
	}
	if g.opts.Hooks.OnStats != nil {
		g.opts.Hooks.OnStats(stats)
	}

	text := g.full.String()
	var results []filecmd.CommandResult
	if s.processor != nil {
		res := s.processor.Process(text)
		text, results = res.Text, res.Results
		for _, r := range results {
			line := reasoning.Info(fmt.Sprintf("%s: %s", r.Label, r.Detail))
			if r.Status == filecmd.StatusError {
				line = reasoning.Warn(fmt.Sprintf("%s: %s", r.Label, r.Detail))
			}
			s.log(line)
		}
	}

	s.mu.Lock()
	s.conv.ReplaceLast(text)
	s.conv.AddUsage(stats.PromptTokens, stats.CompletionTokens)
	s.totals.Generations++
	s.totals.PromptTokens += stats.PromptTokens
	s.totals.CompletionTokens += stats.CompletionTokens
	s.mu.Unlock()

	return &Reply{
		Status:    StatusCompleted,
		Text:      text,
		Results:   results,
		Stats:     stats,
		Expansion: g.expansion,
	}
}

func (g *generation) cancelled() *Reply {
	s := g.session
	s.setState(Cancelled)

	s.mu.Lock()
	s.conv.AppendToLast(CancelNotice)
	last, _ := s.conv.Last()
	s.mu.Unlock()

	s.log(reasoning.Warn("Generation cancelled by user"))
	return &Reply{
		Status:    StatusCancelled,
		Text:      last.Content,
		Stats:     Stats{Model: g.opts.Model, Chunks: g.chunks, Elapsed: time.Since(g.started)},
		Expansion: g.expansion,
	}
}

func (g *generation) failed(err error) (*Reply, error) {
	s := g.session
	msg := errorText(err)
	text := "❌ Error: " + msg

	s.mu.Lock()
	s.conv.ReplaceLast(text)
	s.mu.Unlock()

	s.log(reasoning.LogLine{Level: reasoning.LevelError, Text: msg})
	return &Reply{Status: StatusFailed, Text: text, Expansion: g.expansion}, fmt.Errorf("generation failed: %w", err)
}

func errorText(err error) string {
	var clientErr *ollama.ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Message
	}
	return err.Error()
}
