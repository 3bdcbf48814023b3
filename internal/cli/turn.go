// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// turn.go - One generation as seen from the terminal, shared by chat and ask.

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/jeranaias/studio/internal/filecmd"
	"github.com/jeranaias/studio/internal/model"
	"github.com/jeranaias/studio/internal/ollama"
	"github.com/jeranaias/studio/internal/sandbox"
	"github.com/jeranaias/studio/internal/session"
	"github.com/jeranaias/studio/internal/storage"
)

// turnPrinter renders a generation: streamed deltas on out, log lines on
// errOut, and a summary once the reply is final.
type turnPrinter struct {
	out      io.Writer
	errOut   io.Writer
	markdown bool // buffer the reply and render it once complete
	quiet    bool

	streamed bool
}

func (p *turnPrinter) hooks(a *app) session.Hooks {
	return session.Hooks{
		OnDelta: func(delta string) {
			if p.markdown || p.quiet {
				return
			}
			p.streamed = true
			io.WriteString(p.out, delta)
		},
		OnLog: a.logHook(p.errOut),
	}
}

// begin resets per-turn state.
func (p *turnPrinter) begin() {
	p.streamed = false
}

// finish prints the tail of a reply: the rendered markdown when buffered,
// then the directive results and the stats line.
func (p *turnPrinter) finish(reply *session.Reply) {
	if reply == nil {
		return
	}

	switch {
	case p.quiet:
	case p.markdown:
		fmt.Fprint(p.out, renderMarkdown(reply.Text))
	case p.streamed:
		fmt.Fprintln(p.out)
	}

	if reply.Expansion.HasCommand {
		if reply.Expansion.Err != nil {
			fmt.Fprintln(p.errOut, RenderStatus("error")+" @read "+reply.Expansion.Path+DimStyle.Render(" - "+reply.Expansion.Err.Error()))
		} else {
			fmt.Fprintln(p.errOut, RenderStatus("ok")+" @read "+reply.Expansion.Path)
		}
	}

	for _, res := range reply.Results {
		fmt.Fprintln(p.errOut, RenderCommandResult(res))
	}

	switch reply.Status {
	case session.StatusCancelled:
		fmt.Fprintln(p.errOut, WarningStyle.Render("Generation cancelled"))
	case session.StatusCompleted:
		if !p.quiet {
			fmt.Fprintln(p.errOut, DimStyle.Render(formatStats(reply.Stats)))
		}
	}
}

// formatStats renders "model · 42 tokens · 12.3 tok/s · 3.4s".
func formatStats(s session.Stats) string {
	parts := []string{s.Model}
	if s.CompletionTokens > 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", s.CompletionTokens))
		if tps := s.TokensPerSecond(); tps > 0 {
			parts = append(parts, fmt.Sprintf("%.1f tok/s", tps))
		}
	}
	parts = append(parts, formatDurationShort(s.Elapsed))
	return strings.Join(parts, " · ")
}

// sendInterruptible runs one Send, cancelling the generation on Ctrl+C.
// The signal handler is only installed while the generation runs, so an
// interrupt at the prompt keeps its usual meaning.
func sendInterruptible(ctx context.Context, sess *session.Session, input string) (*session.Reply, error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			sess.Cancel()
		case <-done:
		}
	}()

	return sess.Send(ctx, input)
}

// persistTurn saves the transcript and the directive results of the last
// reply. Failures are reported on errOut and do not abort the chat.
func persistTurn(hist *storage.ConversationStore, sess *session.Session, reply *session.Reply, errOut io.Writer) {
	if hist == nil {
		return
	}
	ctx, cancel := detached()
	defer cancel()

	conv := sess.Transcript()
	if err := hist.Save(ctx, conv); err != nil {
		fmt.Fprintln(errOut, WarningStyle.Render("history not saved: "+err.Error()))
		return
	}
	if reply == nil || len(reply.Results) == 0 {
		return
	}
	last, ok := conv.Last()
	if !ok {
		return
	}
	if err := hist.RecordCommandResults(ctx, conv.ID, last.ID, reply.Results); err != nil {
		fmt.Fprintln(errOut, WarningStyle.Render("command results not saved: "+err.Error()))
	}
}

// newSession builds a session over the sandbox with the app's options.
// The session follows the client's default model when the options name
// none.
func (a *app) newSession(client *ollama.Client, store *sandbox.Store, conv *model.Conversation, hooks session.Hooks) *session.Session {
	opts := a.sessionOptions(store)
	opts.Model = client.GetDefaultModel()
	opts.Hooks = hooks
	opts.Conversation = conv
	return session.New(session.ClientOpener{Client: client}, filecmd.NewProcessor(store, store.Name()), opts)
}
