// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/studio/internal/config"
	"github.com/jeranaias/studio/internal/filecmd"
	"github.com/jeranaias/studio/internal/model"
	"github.com/jeranaias/studio/internal/ollama"
	"github.com/jeranaias/studio/internal/reasoning"
	"github.com/jeranaias/studio/internal/sandbox"
	"github.com/jeranaias/studio/internal/search"
)

// =============================================================================
// FAKES
// =============================================================================

// fakeStream replays events, then blocks until the context ends when hold
// is set, or returns io.EOF.
type fakeStream struct {
	ctx    context.Context
	events []ollama.StreamEvent
	err    error
	hold   bool
	closed bool
}

func (f *fakeStream) Next() (ollama.StreamEvent, error) {
	if err := f.ctx.Err(); err != nil {
		return ollama.StreamEvent{}, err
	}
	if len(f.events) > 0 {
		ev := f.events[0]
		f.events = f.events[1:]
		return ev, nil
	}
	if f.err != nil {
		return ollama.StreamEvent{}, f.err
	}
	if f.hold {
		<-f.ctx.Done()
		return ollama.StreamEvent{}, f.ctx.Err()
	}
	return ollama.StreamEvent{}, io.EOF
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	events  []ollama.StreamEvent
	err     error
	hold    bool
	openErr error

	requests []ollama.ChatRequest
	stream   *fakeStream
}

func (o *fakeOpener) OpenChatStream(ctx context.Context, req ollama.ChatRequest) (EventStream, error) {
	o.requests = append(o.requests, req)
	if o.openErr != nil {
		return nil, o.openErr
	}
	o.stream = &fakeStream{ctx: ctx, events: append([]ollama.StreamEvent(nil), o.events...), err: o.err, hold: o.hold}
	return o.stream, nil
}

type countingProcessor struct {
	inner CommandProcessor
	calls int
}

func (c *countingProcessor) Process(text string) filecmd.Result {
	c.calls++
	return c.inner.Process(text)
}

type fakeEngine struct {
	results []search.Result
	err     error
	queries []string
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Search(_ context.Context, query string) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func content(parts ...string) []ollama.StreamEvent {
	events := make([]ollama.StreamEvent, 0, len(parts))
	for _, p := range parts {
		events = append(events, ollama.StreamEvent{Content: p})
	}
	return events
}

type fixture struct {
	opener    *fakeOpener
	processor *countingProcessor
	store     *sandbox.Store
	logs      []string
	deltas    []string
	states    []State
}

func newFixture(t *testing.T, opener *fakeOpener) *fixture {
	t.Helper()
	store, err := sandbox.New(filepath.Join(t.TempDir(), "WorkFolder"))
	require.NoError(t, err)
	return &fixture{
		opener:    opener,
		processor: &countingProcessor{inner: filecmd.NewProcessor(store, store.Name())},
		store:     store,
	}
}

func (f *fixture) session(opts Options) *Session {
	opts.Hooks.OnLog = func(l reasoning.LogLine) { f.logs = append(f.logs, l.String()) }
	if opts.Hooks.OnDelta == nil {
		opts.Hooks.OnDelta = func(d string) { f.deltas = append(f.deltas, d) }
	}
	opts.Hooks.OnState = func(s State) { f.states = append(f.states, s) }
	return New(f.opener, f.processor, opts)
}

// =============================================================================
// COMPLETION
// =============================================================================

func TestSend_CompletesAndProcessesDirectives(t *testing.T) {
	events := content("Saving it.\n", "[FILE_WRITE: a.txt]\nhel", "lo\n[END_FILE_WRITE]")
	events = append(events, ollama.StreamEvent{Final: true, Model: "m", PromptTokens: 12, CompletionTokens: 30, TotalDuration: 2 * time.Second})
	f := newFixture(t, &fakeOpener{events: events})
	s := f.session(Options{Model: "m", SandboxName: "WorkFolder"})

	reply, err := s.Send(context.Background(), "write hello to a file")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, reply.Status)
	assert.Equal(t, "Saving it.\n\n✅ File created: a.txt\n", reply.Text)
	require.Len(t, reply.Results, 1)
	assert.Equal(t, filecmd.StatusSuccess, reply.Results[0].Status)
	assert.Equal(t, 1, f.processor.calls)

	got, err := f.store.Read("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	conv := s.Transcript()
	require.Equal(t, 2, conv.Len())
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	last, _ := conv.Last()
	assert.Equal(t, reply.Text, last.Content)

	assert.Equal(t, Totals{Generations: 1, PromptTokens: 12, CompletionTokens: 30}, s.Totals())
	assert.Equal(t, 12, reply.Stats.PromptTokens)
	assert.Equal(t, 3, reply.Stats.Chunks)
	assert.Equal(t, []string{"Saving it.\n", "[FILE_WRITE: a.txt]\nhel", "lo\n[END_FILE_WRITE]"}, f.deltas)
	assert.Equal(t, []State{Requesting, Streaming, Completing, Idle}, f.states)
	assert.Equal(t, Idle, s.State())
	assert.True(t, f.opener.stream.closed)

	assert.Contains(t, f.logs, "[INFO] Starting generation with model: m")
	assert.Contains(t, f.logs, "[INFO] Input tokens: 12")
	assert.Contains(t, f.logs, "[INFO] Output tokens: 30")
	assert.Contains(t, f.logs, "[INFO] Total duration (server): 2.00s")
}

func TestSend_RequestShape(t *testing.T) {
	f := newFixture(t, &fakeOpener{events: content("ok")})
	s := f.session(Options{Model: "llama3", Effort: config.EffortDeep, Critical: true})

	_, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)

	require.Len(t, f.opener.requests, 1)
	req := f.opener.requests[0]
	assert.Equal(t, "llama3", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, 8192, req.Options.NumCtx)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "EXHAUSTIVE REVIEW MODE")
	assert.Equal(t, ollama.Message{Role: "user", Content: "hello"}, req.Messages[1])
	assert.Contains(t, f.logs, "[WARN] Critical mode enabled - exhaustive verification active")
	assert.Contains(t, f.logs, "[INFO] Reasoning level: deep (context: 8192 tokens)")
}

func TestSend_DefaultsModelAndEffort(t *testing.T) {
	f := newFixture(t, &fakeOpener{events: content("ok")})
	s := f.session(Options{})

	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "deepseek-r1:14b", f.opener.requests[0].Model)
	assert.Equal(t, 4096, f.opener.requests[0].Options.NumCtx)
}

func TestSend_CleanEOFWithoutFinal(t *testing.T) {
	f := newFixture(t, &fakeOpener{events: content("partial answer")})
	s := f.session(Options{})

	reply, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, reply.Status)
	assert.Equal(t, "partial answer", reply.Text)
	assert.Equal(t, 0, reply.Stats.CompletionTokens)
}

func TestSend_ReasoningLogs(t *testing.T) {
	f := newFixture(t, &fakeOpener{events: content("<think>", "checking\n", "</think>", "Answer")})
	s := f.session(Options{})

	reply, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "<think>checking\n</think>Answer", reply.Text)
	assert.Contains(t, f.logs, "[THINK] reasoning started")
	assert.Contains(t, f.logs, "[THINK] checking")
	assert.Contains(t, f.logs, "[THINK] reasoning complete")
}

func TestSend_DebugLineEvery50Chunks(t *testing.T) {
	parts := make([]string, 120)
	for i := range parts {
		parts[i] = "x"
	}
	f := newFixture(t, &fakeOpener{events: content(parts...)})
	s := f.session(Options{})

	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	var debug int
	for _, l := range f.logs {
		if strings.HasPrefix(l, "[DEBUG] Processed ") {
			debug++
		}
	}
	assert.Equal(t, 2, debug)
}

func TestSend_EmptyInput(t *testing.T) {
	f := newFixture(t, &fakeOpener{})
	_, err := f.session(Options{}).Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, f.opener.requests)
}

// =============================================================================
// CANCELLATION & BUSY
// =============================================================================

func TestSend_CancelMidStream(t *testing.T) {
	f := newFixture(t, &fakeOpener{
		events: content("partial [FILE_WRITE: x.txt]\ny\n[END_FILE_WRITE]"),
		hold:   true,
	})
	var s *Session
	var cancelled bool
	f.deltas = nil
	s = f.session(Options{Hooks: Hooks{OnDelta: func(string) { cancelled = s.Cancel() }}})

	reply, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.True(t, cancelled)

	assert.Equal(t, StatusCancelled, reply.Status)
	last, _ := s.Transcript().Last()
	assert.True(t, strings.HasSuffix(last.Content, CancelNotice), "content %q", last.Content)
	assert.Equal(t, "partial [FILE_WRITE: x.txt]\ny\n[END_FILE_WRITE]"+CancelNotice, last.Content)
	assert.Equal(t, 0, f.processor.calls, "the processor must not run after a cancel")

	_, statErr := f.store.Stat("x.txt")
	assert.ErrorIs(t, statErr, sandbox.ErrNotFound)
	assert.Contains(t, f.states, Cancelled)
	assert.Equal(t, Idle, s.State())
	assert.Contains(t, f.logs, "[WARN] Generation cancelled by user")
}

func TestSend_CancelledByCallerContext(t *testing.T) {
	f := newFixture(t, &fakeOpener{events: content("a"), hold: true})
	ctx, cancel := context.WithCancel(context.Background())
	s := f.session(Options{Hooks: Hooks{OnDelta: func(string) { cancel() }}})

	reply, err := s.Send(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, reply.Status)
}

func TestSend_BusyWhileGenerating(t *testing.T) {
	f := newFixture(t, &fakeOpener{events: content("a"), hold: true})
	var s *Session
	var busyErr error
	s = f.session(Options{Hooks: Hooks{OnDelta: func(string) {
		_, busyErr = s.Send(context.Background(), "second")
		assert.Equal(t, ErrBusy, s.Configure(func(o *Options) { o.Model = "x" }))
		assert.Equal(t, ErrBusy, s.Reset(nil))
		s.Cancel()
	}}})

	_, err := s.Send(context.Background(), "first")
	require.NoError(t, err)
	assert.ErrorIs(t, busyErr, ErrBusy)
	assert.Len(t, f.opener.requests, 1)
}

func TestCancel_WhenIdle(t *testing.T) {
	f := newFixture(t, &fakeOpener{})
	assert.False(t, f.session(Options{}).Cancel())
}

func TestCancel_FromAnotherGoroutine(t *testing.T) {
	f := newFixture(t, &fakeOpener{hold: true})
	started := make(chan struct{})
	var once sync.Once
	s := New(f.opener, f.processor, Options{Hooks: Hooks{OnState: func(st State) {
		if st == Streaming {
			once.Do(func() { close(started) })
		}
	}}})

	done := make(chan *Reply, 1)
	go func() {
		reply, _ := s.Send(context.Background(), "hi")
		done <- reply
	}()

	<-started
	assert.True(t, s.Cancel())
	select {
	case reply := <-done:
		assert.Equal(t, StatusCancelled, reply.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("Send did not return after Cancel")
	}
}

// =============================================================================
// FAILURES
// =============================================================================

func TestSend_InBandErrorReplacesReply(t *testing.T) {
	events := append(content("half"), ollama.StreamEvent{Err: "model crashed"})
	f := newFixture(t, &fakeOpener{events: events})
	s := f.session(Options{})

	reply, err := s.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, ollama.IsUpstream(err))
	assert.Equal(t, StatusFailed, reply.Status)

	last, _ := s.Transcript().Last()
	assert.Equal(t, "❌ Error: model crashed", last.Content)
	assert.Equal(t, 0, f.processor.calls)
	assert.Contains(t, f.logs, "[ERROR] model crashed")
	assert.Equal(t, Idle, s.State())
}

func TestSend_OpenFailure(t *testing.T) {
	f := newFixture(t, &fakeOpener{openErr: ollama.ErrModelNotFound})
	s := f.session(Options{})

	reply, err := s.Send(context.Background(), "hi")
	assert.True(t, ollama.IsModelNotFound(err))
	assert.Equal(t, "❌ Error: model not found", reply.Text)
	assert.Equal(t, 2, s.Transcript().Len())
}

func TestSend_StreamInterrupted(t *testing.T) {
	f := newFixture(t, &fakeOpener{events: content("a"), err: errors.New("connection reset")})
	s := f.session(Options{})

	reply, err := s.Send(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, "❌ Error: connection reset", reply.Text)

	// A failed generation leaves the session usable.
	f.opener.err = nil
	reply, err = s.Send(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, reply.Status)
	assert.Equal(t, 4, s.Transcript().Len())
}

// =============================================================================
// INPUT EXPANSION & SEARCH
// =============================================================================

func TestSend_ExpandsReadCommand(t *testing.T) {
	f := newFixture(t, &fakeOpener{events: content("summary")})
	require.NoError(t, f.store.Write("notes.txt", "buy milk", sandbox.Overwrite))
	s := f.session(Options{Reader: f.store})

	reply, err := s.Send(context.Background(), "@read notes.txt summarize")
	require.NoError(t, err)
	assert.True(t, reply.Expansion.HasCommand)

	user := f.opener.requests[0].Messages[1]
	assert.Contains(t, user.Content, "buy milk")
	assert.True(t, strings.HasSuffix(user.Content, "\nsummarize"))
	assert.Contains(t, f.logs, "[INFO] Read file: notes.txt")
}

func TestSend_SearchContext(t *testing.T) {
	engine := &fakeEngine{results: []search.Result{{Title: "Go 1.23", Snippet: "released", URL: "https://go.dev"}}}
	f := newFixture(t, &fakeOpener{events: content("ok")})
	s := f.session(Options{Searcher: engine})

	_, err := s.Send(context.Background(), "latest go release")
	require.NoError(t, err)

	assert.Equal(t, []string{"latest go release"}, engine.queries)
	msgs := f.opener.requests[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "system", msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Web search results (fake)")
	assert.Contains(t, msgs[1].Content, "[1] Go 1.23")
}

func TestSend_SearchFailureIsNotFatal(t *testing.T) {
	engine := &fakeEngine{err: search.ErrMissingKey}
	f := newFixture(t, &fakeOpener{events: content("ok")})
	s := f.session(Options{Searcher: engine})

	reply, err := s.Send(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, reply.Status)
	assert.Len(t, f.opener.requests[0].Messages, 2)
	assert.Contains(t, strings.Join(f.logs, "\n"), "[WARN] Web search failed (fake)")
}

func TestReset(t *testing.T) {
	f := newFixture(t, &fakeOpener{events: content("ok")})
	s := f.session(Options{})
	_, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)

	prior := model.NewConversation("m")
	prior.Append(model.NewUserMessage("earlier"))
	require.NoError(t, s.Reset(prior))
	assert.Equal(t, 1, s.Transcript().Len())
	assert.Equal(t, Totals{}, s.Totals())

	_, err = s.Send(context.Background(), "next")
	require.NoError(t, err)
	msgs := f.opener.requests[1].Messages
	assert.Equal(t, "earlier", msgs[1].Content)
}

// =============================================================================
// PROMPT BUILDER
// =============================================================================

func history(n int) []model.Message {
	var out []model.Message
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out = append(out, model.NewMessage(role, fmt.Sprintf("m%d", i)))
	}
	return out
}

func TestPromptBuilder_ContextWindow(t *testing.T) {
	msgs := PromptBuilder{ContextSize: 4}.Build(history(9), "hello", "")
	require.Len(t, msgs, 5)
	assert.Equal(t, standardPersona, msgs[0].Content)
	assert.Equal(t, "m5", msgs[1].Content)
	assert.Equal(t, "m8", msgs[4].Content)

	msgs = PromptBuilder{}.Build(history(9), "hello", "")
	assert.Len(t, msgs, 7, "default window is 6 messages")
}

func TestPromptBuilder_FileBlockAndGlobalPrompt(t *testing.T) {
	b := PromptBuilder{GlobalPrompt: "  Be brief.  ", SandboxName: "Docs"}

	msgs := b.Build(history(1), "please save a file", "")
	assert.True(t, strings.HasPrefix(msgs[0].Content, standardPersona+"\n\n"))
	assert.Contains(t, msgs[0].Content, "[FILE_WRITE:")
	assert.True(t, strings.HasSuffix(msgs[0].Content, "\n\nBe brief."))

	msgs = b.Build(history(1), "what is 2+2", "")
	assert.Equal(t, standardPersona+"\n\nBe brief.", msgs[0].Content)
}

func TestPromptBuilder_CallerSystemMessages(t *testing.T) {
	h := append([]model.Message{model.NewSystemMessage("You are a pirate.")}, history(3)...)
	msgs := PromptBuilder{GlobalPrompt: "Be brief."}.Build(h, "hi", "search ctx")

	require.Len(t, msgs, 6)
	assert.Equal(t, "You are a pirate.", msgs[0].Content)
	assert.Equal(t, "Be brief.", msgs[1].Content)
	assert.Equal(t, "search ctx", msgs[2].Content)
	assert.Equal(t, "m0", msgs[3].Content)

	msgs = PromptBuilder{}.Build(h, "hi", "")
	assert.Len(t, msgs, 4, "no extra system message without extra text")
}

func TestStats_TokensPerSecond(t *testing.T) {
	assert.Equal(t, 0.0, Stats{}.TokensPerSecond())
	assert.InDelta(t, 25.0, Stats{CompletionTokens: 50, Elapsed: 2 * time.Second}.TokensPerSecond(), 0.001)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "cancelled", StatusCancelled.String())
}
