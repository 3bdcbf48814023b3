// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Examples:
//   studio chat                       Start a new conversation
//   studio chat --resume 3f2a         Continue a saved conversation
//   studio chat --markdown            Render replies as markdown
//
// Interactive Commands (during chat):
//   /help                 Show available commands
//   /clear                Start a new conversation
//   /model [name]         Show or switch model
//   /effort [level]       Show or set reasoning effort
//   /critical [on|off]    Toggle the critical reviewer persona
//   /search [on|off]      Toggle web search context
//   /status               Show session statistics
//   /history              Show the conversation so far
//   /files [path]         List the sandbox
//   /quit                 Exit chat
//   @read <path>          Inline a sandbox file into the message
//   Ctrl+C                Cancel the current generation
//   Ctrl+D                Exit chat

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/studio/internal/config"
	"github.com/jeranaias/studio/internal/model"
	"github.com/jeranaias/studio/internal/ollama"
	"github.com/jeranaias/studio/internal/sandbox"
	"github.com/jeranaias/studio/internal/session"
	"github.com/jeranaias/studio/internal/storage"
)

func chatCmd(a *app) *cobra.Command {
	var (
		resume   string
		markdown bool
		noSave   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session with the configured model.

Replies stream as they are generated. File directives in a finished reply
are executed against the sandbox and their results listed below it.
Type /help inside the session for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}

			var hist *storage.ConversationStore
			if !noSave {
				hist, err = a.history()
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), WarningStyle.Render("history disabled: "+err.Error()))
					hist = nil
				} else {
					defer hist.Close()
				}
			}

			var conv *model.Conversation
			if resume != "" {
				if hist == nil {
					return errors.New("--resume needs the history database")
				}
				conv, err = hist.Load(cmd.Context(), resume)
				if err != nil {
					return err
				}
			}

			reader := newLineReader(cmd.InOrStdin(), stdinIsTerminal(cmd))
			defer reader.Close()

			r := &chatREPL{
				app:     a,
				client:  a.client(),
				store:   store,
				history: hist,
				reader:  reader,
				out:     cmd.OutOrStdout(),
				errOut:  cmd.ErrOrStderr(),
				printer: &turnPrinter{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr(), markdown: markdown},
			}
			r.sess = a.newSession(r.client, store, conv, r.printer.hooks(a))
			return r.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&resume, "resume", "r", "", "continue a saved conversation (ID or unique prefix)")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render replies as markdown once complete")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the conversation")
	return cmd
}

// =============================================================================
// LINE INPUT
// =============================================================================

// lineReader is the prompt source of the REPL.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// newLineReader returns a liner-backed editor on a terminal and a plain
// line scanner otherwise.
func newLineReader(in io.Reader, interactive bool) lineReader {
	if !interactive {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		return &scanReader{sc: sc}
	}
	return newHistoryLiner()
}

// scanReader reads one line per prompt without echoing the prompt.
type scanReader struct {
	sc *bufio.Scanner
}

func (s *scanReader) Prompt(string) (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

func (s *scanReader) AppendHistory(string) {}
func (s *scanReader) Close() error         { return nil }

// historyLiner adds a persistent history file to liner.
type historyLiner struct {
	*liner.State
	historyFile string
}

func newHistoryLiner() *historyLiner {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlash)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	h := &historyLiner{State: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(h.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return h
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (h *historyLiner) Close() error {
	if err := os.MkdirAll(filepath.Dir(h.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(h.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			h.State.WriteHistory(f)
			f.Close()
		}
	}
	return h.State.Close()
}

var slashCommands = []string{
	"/help", "/clear", "/model", "/effort", "/critical", "/search",
	"/status", "/history", "/files", "/quit",
}

func completeSlash(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// REPL
// =============================================================================

type chatREPL struct {
	app     *app
	client  *ollama.Client
	sess    *session.Session
	store   *sandbox.Store
	history *storage.ConversationStore
	reader  lineReader
	printer *turnPrinter
	out     io.Writer
	errOut  io.Writer
}

func (r *chatREPL) run(ctx context.Context) error {
	r.banner()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := r.reader.Prompt(PromptStyle.Render("you> "))
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(r.errOut, DimStyle.Render("(Ctrl+D or /quit to exit)"))
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.reader.AppendHistory(line)

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintf(r.errOut, "%s %v\n", ErrorStyle.Render("[ERROR]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		r.send(ctx, line)
	}
}

func (r *chatREPL) banner() {
	fmt.Fprintln(r.out, TitleStyle.Render("studio chat"))
	fmt.Fprintln(r.out, RenderKV("Model", r.sess.Model()))
	fmt.Fprintln(r.out, RenderKV("Sandbox", r.store.Root()))
	if conv := r.sess.Transcript(); conv.Len() > 0 {
		fmt.Fprintln(r.out, RenderKV("Resumed", fmt.Sprintf("%s (%d messages)", conv.GetTitle(), conv.Len())))
	}
	fmt.Fprintln(r.out, DimStyle.Render("Type /help for commands, Ctrl+C cancels a reply, Ctrl+D exits."))
	fmt.Fprintln(r.out)
}

func (r *chatREPL) send(ctx context.Context, input string) {
	r.printer.begin()
	reply, err := sendInterruptible(ctx, r.sess, input)
	r.printer.finish(reply)
	if err != nil {
		DisplayError(r.errOut, err, false)
	}
	if reply != nil {
		persistTurn(r.history, r.sess, reply, r.errOut)
	}
	fmt.Fprintln(r.out)
}

// command runs a slash command and reports whether the REPL should exit.
func (r *chatREPL) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, arg := fields[0], strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/h":
		r.help()

	case "/clear", "/new":
		if err := r.sess.Reset(nil); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Started a new conversation"))

	case "/model":
		if arg == "" {
			fmt.Fprintln(r.out, RenderKV("Model", r.sess.Model()))
			return false, nil
		}
		if err := r.sess.Configure(func(o *session.Options) { o.Model = arg }); err != nil {
			return false, err
		}
		r.client.SetModel(arg)
		fmt.Fprintln(r.out, SuccessStyle.Render("Model set to "+r.client.GetDefaultModel()))

	case "/effort":
		return false, r.effort(arg)

	case "/critical":
		return false, r.toggle(arg, "Critical mode", func(o *session.Options) *bool { return &o.Critical })

	case "/search":
		return false, r.search(arg)

	case "/status":
		r.status(ctx)

	case "/history":
		r.transcript()

	case "/files", "/ls":
		return false, r.files(arg)

	default:
		return false, usageError("command", name, "unknown command, see /help")
	}
	return false, nil
}

func (r *chatREPL) help() {
	rows := [][2]string{
		{"/clear", "start a new conversation"},
		{"/model [name]", "show or switch the model"},
		{"/effort [fast|standard|deep]", "show or set reasoning effort"},
		{"/critical [on|off]", "toggle the critical reviewer persona"},
		{"/search [on|off]", "toggle web search context"},
		{"/status", "show session statistics"},
		{"/history", "show the conversation so far"},
		{"/files [path]", "list the sandbox"},
		{"/quit", "exit"},
		{"@read <path>", "inline a sandbox file into your message"},
	}
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	for _, row := range rows {
		fmt.Fprintf(r.out, "  %-30s %s\n", row[0], DimStyle.Render(row[1]))
	}
}

func (r *chatREPL) effort(arg string) error {
	if arg == "" {
		current := r.sess.Options().Effort
		fmt.Fprintln(r.out, RenderKV("Effort", fmt.Sprintf("%s (num_ctx %d)", current, current.NumCtx())))
		return nil
	}
	effort := config.ReasoningEffort(strings.ToLower(arg))
	if !effort.Valid() {
		return usageError("effort", arg, "must be fast, standard or deep")
	}
	if err := r.sess.Configure(func(o *session.Options) { o.Effort = effort }); err != nil {
		return err
	}
	fmt.Fprintln(r.out, SuccessStyle.Render(fmt.Sprintf("Effort set to %s (num_ctx %d)", effort, effort.NumCtx())))
	return nil
}

func (r *chatREPL) toggle(arg, label string, field func(*session.Options) *bool) error {
	var parseErr error
	var now bool
	err := r.sess.Configure(func(o *session.Options) {
		v := field(o)
		next, err := parseOnOff(arg, *v)
		if err != nil {
			parseErr = err
			return
		}
		*v = next
		now = next
	})
	if err != nil {
		return err
	}
	if parseErr != nil {
		return parseErr
	}
	fmt.Fprintln(r.out, SuccessStyle.Render(fmt.Sprintf("%s %s", label, onOff(now))))
	return nil
}

func (r *chatREPL) search(arg string) error {
	var parseErr error
	var engine string
	err := r.sess.Configure(func(o *session.Options) {
		next, err := parseOnOff(arg, o.Searcher != nil)
		if err != nil {
			parseErr = err
			return
		}
		if !next {
			o.Searcher = nil
			return
		}
		if o.Searcher == nil {
			o.Searcher = r.app.newSearcher()
		}
		engine = o.Searcher.Name()
	})
	if err != nil {
		return err
	}
	if parseErr != nil {
		return parseErr
	}
	if engine == "" {
		fmt.Fprintln(r.out, SuccessStyle.Render("Web search off"))
	} else {
		fmt.Fprintln(r.out, SuccessStyle.Render("Web search on ("+engine+")"))
	}
	return nil
}

// statusCheckTimeout bounds the reachability check in /status.
const statusCheckTimeout = 2 * time.Second

func (r *chatREPL) status(ctx context.Context) {
	totals := r.sess.Totals()
	conv := r.sess.Transcript()
	opts := r.sess.Options()

	checkCtx, cancel := context.WithTimeout(ctx, statusCheckTimeout)
	defer cancel()
	server := r.client.GetConfig().BaseURL
	if err := r.client.CheckRunning(checkCtx); err != nil {
		server += " " + ErrorStyle.Render("(unreachable)")
	} else {
		server += " " + SuccessStyle.Render("(running)")
	}

	fmt.Fprintln(r.out, TitleStyle.Render("Session"))
	fmt.Fprintln(r.out, RenderKV("Ollama", server))
	fmt.Fprintln(r.out, RenderKV("Conversation", fmt.Sprintf("%s (%s)", conv.GetTitle(), shortID(conv.ID))))
	fmt.Fprintln(r.out, RenderKV("Model", opts.Model))
	fmt.Fprintln(r.out, RenderKV("Effort", fmt.Sprintf("%s (num_ctx %d)", opts.Effort, opts.Effort.NumCtx())))
	fmt.Fprintln(r.out, RenderKV("Critical mode", onOff(opts.Critical)))
	fmt.Fprintln(r.out, RenderKV("Web search", onOff(opts.Searcher != nil)))
	fmt.Fprintln(r.out, RenderKV("Messages", fmt.Sprintf("%d", conv.Len())))
	fmt.Fprintln(r.out, RenderKV("Generations", fmt.Sprintf("%d", totals.Generations)))
	fmt.Fprintln(r.out, RenderKV("Tokens", fmt.Sprintf("%d prompt / %d completion", totals.PromptTokens, totals.CompletionTokens)))
	fmt.Fprintln(r.out, RenderKV("State", r.sess.State().String()))
}

func (r *chatREPL) transcript() {
	conv := r.sess.Transcript()
	if conv.Len() == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet."))
		return
	}
	for _, msg := range conv.Messages {
		fmt.Fprintf(r.out, "%s %s\n", LabelStyle.Render(msg.Role.DisplayName()+":"), msg.Preview(70))
	}
}

func (r *chatREPL) files(path string) error {
	entries, err := r.store.List(path)
	if err != nil {
		return err
	}
	printEntries(r.out, entries)
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
