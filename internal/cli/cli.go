// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and shared wiring for studio.

package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/studio/internal/config"
	"github.com/jeranaias/studio/internal/ollama"
	"github.com/jeranaias/studio/internal/reasoning"
	"github.com/jeranaias/studio/internal/sandbox"
	"github.com/jeranaias/studio/internal/search"
	"github.com/jeranaias/studio/internal/session"
	"github.com/jeranaias/studio/internal/storage"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// app holds the global flags and the configuration loaded for a command.
type app struct {
	configPath string
	model      string
	effort     string
	verbose    bool
	jsonMode   bool

	cfg *config.Config
}

// Execute runs the root command against os.Args and returns the process
// exit code.
func Execute() int {
	root := NewRootCmd()
	cmd, err := root.ExecuteC()
	if err != nil {
		jsonMode, _ := cmd.Flags().GetBool("json")
		DisplayError(cmd.ErrOrStderr(), err, jsonMode)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// NewRootCmd builds the studio command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "studio",
		Short: "Chat with a local Ollama model that can read and write a sandboxed folder",
		Long: `studio pairs an Ollama chat client with a sandboxed work folder.

The model may read, list and write files inside the folder through
[FILE_READ: ...] style directives; nothing outside it is reachable.

Usage modes:
  studio chat            Interactive chat session
  studio ask "..."       One-shot question
  studio serve           HTTP file proxy for browser front ends
  studio files ...       Inspect and edit the sandbox directly`,
		Version:       fmt.Sprintf("%s (commit %s, built %s, %s)", Version, GitCommit, BuildDate, runtime.Version()),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.studio/config.toml)")
	flags.StringVarP(&a.model, "model", "m", "", "model to use (overrides config)")
	flags.StringVar(&a.effort, "effort", "", "reasoning effort: fast, standard or deep")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "show generation log lines on stderr")
	flags.BoolVar(&a.jsonMode, "json", false, "output as JSON")

	root.AddGroup(
		&cobra.Group{ID: "chat", Title: "Chat:"},
		&cobra.Group{ID: "data", Title: "Sandbox and history:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	for _, c := range []*cobra.Command{chatCmd(a), askCmd(a), modelsCmd(a)} {
		c.GroupID = "chat"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{filesCmd(a), historyCmd(a)} {
		c.GroupID = "data"
		root.AddCommand(c)
	}
	for _, c := range []*cobra.Command{serveCmd(a), configCmd(a), signinCmd(a)} {
		c.GroupID = "setup"
		root.AddCommand(c)
	}

	return root
}

// loadConfig loads the config file and applies the flag overrides.
func (a *app) loadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if a.model != "" {
		cfg.Ollama.Model = a.model
	}
	if a.effort != "" {
		effort := config.ReasoningEffort(a.effort)
		if !effort.Valid() {
			return &UsageError{Field: "effort", Value: a.effort, Reason: "must be fast, standard or deep", Example: "--effort deep"}
		}
		cfg.Chat.ReasoningEffort = string(effort)
	}

	a.cfg = cfg
	config.SetGlobal(cfg)
	return nil
}

// =============================================================================
// SHARED CONSTRUCTORS
// =============================================================================

func (a *app) sandbox() (*sandbox.Store, error) {
	store, err := sandbox.New(a.cfg.Sandbox.Root)
	if err != nil {
		return nil, fmt.Errorf("open sandbox: %w", err)
	}
	return store, nil
}

func (a *app) client() *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:      a.cfg.Ollama.URL,
		APIKey:       a.cfg.Ollama.APIKey,
		Timeout:      time.Duration(a.cfg.Ollama.TimeoutSecs) * time.Second,
		DefaultModel: a.cfg.Ollama.Model,
	})
}

func (a *app) history() (*storage.ConversationStore, error) {
	path, err := a.cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	return storage.Open(path)
}

// searcher returns the configured web search engine, or nil when search
// is disabled.
func (a *app) searcher() search.Engine {
	if !a.cfg.Search.Enabled {
		return nil
	}
	return a.newSearcher()
}

func (a *app) newSearcher() search.Engine {
	return search.New(search.Options{
		Engine:    a.cfg.Search.Engine,
		TavilyKey: a.cfg.Search.TavilyKey,
		BingKey:   a.cfg.Search.BingKey,
	})
}

// sessionOptions maps the [chat] section onto session options.
func (a *app) sessionOptions(store *sandbox.Store) session.Options {
	return session.Options{
		Model:        a.cfg.Ollama.Model,
		Effort:       a.cfg.Effort(),
		ContextSize:  a.cfg.Chat.ContextSize,
		GlobalPrompt: a.cfg.Chat.GlobalPrompt,
		Critical:     a.cfg.Chat.CriticalMode,
		Keywords:     a.cfg.Chat.FileKeywords,
		SandboxName:  store.Name(),
		Reader:       store,
		Searcher:     a.searcher(),
	}
}

// logHook returns an OnLog hook printing styled lines to w when verbose.
func (a *app) logHook(w io.Writer) func(line reasoning.LogLine) {
	if !a.verbose {
		return nil
	}
	return func(line reasoning.LogLine) {
		fmt.Fprintln(w, RenderLogLine(line))
	}
}

// stopTimeout bounds graceful shutdown and final saves.
const stopTimeout = 10 * time.Second

// detached returns a short-lived context for cleanup that must run even
// after the command context was cancelled.
func detached() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), stopTimeout)
}

// stdinIsTerminal reports whether the command reads from an interactive
// terminal.
func stdinIsTerminal(cmd *cobra.Command) bool {
	return isTerminalReader(cmd.InOrStdin()) && isTerminalWriter(cmd.OutOrStdout())
}
