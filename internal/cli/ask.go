// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Examples:
//   studio ask "Summarise notes.md"
//   echo "List the WorkFolder" | studio ask -
//   studio ask --critical --markdown "Review @read draft.md"

package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/studio/internal/filecmd"
	"github.com/jeranaias/studio/internal/model"
	"github.com/jeranaias/studio/internal/session"
	"github.com/jeranaias/studio/internal/storage"
)

// askResult is the --json shape of a reply.
type askResult struct {
	ConversationID   string                  `json:"conversation_id"`
	Status           string                  `json:"status"`
	Model            string                  `json:"model"`
	Text             string                  `json:"text"`
	Results          []filecmd.CommandResult `json:"results"`
	PromptTokens     int                     `json:"prompt_tokens"`
	CompletionTokens int                     `json:"completion_tokens"`
	ElapsedMs        int64                   `json:"elapsed_ms"`
}

func askCmd(a *app) *cobra.Command {
	var (
		markdown bool
		critical bool
		web      bool
		noSave   bool
		cont     string
	)

	cmd := &cobra.Command{
		Use:   "ask [question|-]",
		Short: "Ask a single question and print the reply",
		Long: `Ask a single question. With no argument or "-", the question is read
from stdin. Ctrl+C cancels the generation and keeps the partial reply.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := argOrStdin(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if strings.TrimSpace(input) == "" {
				return usageError("question", "", "nothing to ask")
			}

			store, err := a.sandbox()
			if err != nil {
				return err
			}

			var hist *storage.ConversationStore
			if !noSave || cont != "" {
				if hist, err = a.history(); err != nil {
					return err
				}
				defer hist.Close()
			}

			var conv *model.Conversation
			if cont != "" {
				if conv, err = hist.Load(cmd.Context(), cont); err != nil {
					return err
				}
			}

			printer := &turnPrinter{
				out:      cmd.OutOrStdout(),
				errOut:   cmd.ErrOrStderr(),
				markdown: markdown,
				quiet:    a.jsonMode,
			}
			sess := a.newSession(a.client(), store, conv, printer.hooks(a))
			err = sess.Configure(func(o *session.Options) {
				if critical {
					o.Critical = true
				}
				if web && o.Searcher == nil {
					o.Searcher = a.newSearcher()
				}
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			reply, sendErr := sess.Send(ctx, input)
			if reply != nil && reply.Status == session.StatusCancelled {
				// A cancelled caller context still leaves a partial reply worth saving.
				sendErr = nil
			}

			if hist != nil && !noSave {
				persistTurn(hist, sess, reply, cmd.ErrOrStderr())
			}

			if a.jsonMode {
				if reply == nil {
					return sendErr
				}
				res := askResult{
					ConversationID:   sess.Transcript().ID,
					Status:           reply.Status.String(),
					Model:            sess.Model(),
					Text:             reply.Text,
					Results:          reply.Results,
					PromptTokens:     reply.Stats.PromptTokens,
					CompletionTokens: reply.Stats.CompletionTokens,
					ElapsedMs:        reply.Stats.Elapsed.Milliseconds(),
				}
				if err := NewJSONResponse("ask", res).Write(cmd.OutOrStdout()); err != nil {
					return err
				}
				return sendErr
			}

			printer.finish(reply)
			if sendErr != nil || reply == nil {
				return sendErr
			}
			if reply.Status == session.StatusCancelled {
				return errors.New("generation cancelled")
			}
			if failed := (filecmd.Result{Results: reply.Results}).Failed(); failed > 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), WarningStyle.Render(fmt.Sprintf("%d file command(s) failed", failed)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&markdown, "markdown", false, "render the reply as markdown")
	cmd.Flags().BoolVar(&critical, "critical", false, "use the critical reviewer persona")
	cmd.Flags().BoolVar(&web, "search", false, "add web search results to the prompt")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the conversation")
	cmd.Flags().StringVarP(&cont, "continue", "c", "", "continue a saved conversation (ID or unique prefix)")
	return cmd
}
