// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Saved conversation commands.
//
// Subcommands:
//   studio history ls [--search text]   List saved conversations
//   studio history show <id>            Print a conversation
//   studio history rm <id> | --all      Delete conversations
//   studio history export <id>         Export as Markdown, HTML or JSON

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/studio/internal/export"
	"github.com/jeranaias/studio/internal/storage"
	"github.com/jeranaias/studio/internal/util"
)

func historyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"sessions"},
		Short:   "Browse and manage saved conversations",
	}
	cmd.AddCommand(
		historyLsCmd(a),
		historyShowCmd(a),
		historyRmCmd(a),
		historyExportCmd(a),
	)
	return cmd
}

// withHistory opens the conversation store for the duration of fn.
func (a *app) withHistory(fn func(hist *storage.ConversationStore) error) error {
	hist, err := a.history()
	if err != nil {
		return err
	}
	defer hist.Close()
	return fn(hist)
}

func historyLsCmd(a *app) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List saved conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(func(hist *storage.ConversationStore) error {
				var (
					metas []storage.ConversationMeta
					err   error
				)
				if query != "" {
					metas, err = hist.Search(cmd.Context(), query)
				} else {
					metas, err = hist.List(cmd.Context())
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), a.jsonMode, "history ls", metas, func() error {
					fmt.Fprint(cmd.OutOrStdout(), storage.FormatSessionList(metas))
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&query, "search", "s", "", "only conversations whose title or messages contain text")
	return cmd
}

func historyShowCmd(a *app) *cobra.Command {
	var markdown bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(func(hist *storage.ConversationStore) error {
				conv, err := hist.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				records, err := hist.CommandResults(cmd.Context(), conv.ID)
				if err != nil {
					return err
				}

				if a.jsonMode {
					return NewJSONResponse("history show", map[string]interface{}{
						"conversation":    conv,
						"command_results": records,
					}).Write(cmd.OutOrStdout())
				}

				out := cmd.OutOrStdout()
				if markdown {
					doc, err := export.NewMarkdownExporter(&export.Options{}).Export(export.Document{Conversation: conv, Results: records})
					if err != nil {
						return err
					}
					fmt.Fprint(out, renderMarkdown(string(doc)))
					return nil
				}

				byMessage := make(map[string][]storage.CommandRecord)
				for _, r := range records {
					byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
				}

				fmt.Fprintln(out, TitleStyle.Render(util.TruncateWidth(conv.GetTitle(), GetTerminalWidth()-2)))
				fmt.Fprintln(out, RenderKV("ID", conv.ID))
				fmt.Fprintln(out, RenderKV("Model", conv.Model))
				fmt.Fprintln(out, RenderKV("Created", conv.CreatedAt.Local().Format("2006-01-02 15:04")))
				fmt.Fprintln(out, RenderSeparator())
				for _, msg := range conv.Messages {
					fmt.Fprintln(out, PromptStyle.Render(msg.Role.DisplayName())+DimStyle.Render(" "+msg.Timestamp.Local().Format("15:04")))
					fmt.Fprintln(out, msg.Content)
					for _, r := range byMessage[msg.ID] {
						fmt.Fprintln(out, RenderCommandResult(r.Result))
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&markdown, "markdown", false, "render as markdown")
	return cmd
}

func historyRmCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "rm [id]",
		Aliases: []string{"delete"},
		Short:   "Delete a saved conversation, or all of them with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return usageError("id", args[0], "cannot combine an ID with --all")
			}
			if !all && len(args) != 1 {
				return &UsageError{Field: "id", Reason: "a conversation ID is required", Example: "studio history rm 3f2a"}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withHistory(func(hist *storage.ConversationStore) error {
				if all {
					if err := hist.Clear(cmd.Context()); err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), a.jsonMode, "history rm",
						map[string]interface{}{"all": true},
						func() error {
							fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" deleted all conversations")
							return nil
						})
				}
				if err := hist.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), a.jsonMode, "history rm",
					map[string]interface{}{"id": args[0]},
					func() error {
						fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" deleted "+args[0])
						return nil
					})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every saved conversation")
	return cmd
}

func historyExportCmd(a *app) *cobra.Command {
	var (
		output string
		format string
		theme  string
	)
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as Markdown, HTML or JSON",
		Long: `Export a conversation. Without -o the document is written to stdout.
When -o names a directory, a file name is generated from the title.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.DefaultOptions()
			if theme != "" {
				opts.Theme = theme
			}
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return &UsageError{Field: "format", Value: format, Reason: err.Error(), Example: "--format html"}
			}

			return a.withHistory(func(hist *storage.ConversationStore) error {
				conv, err := hist.Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				records, err := hist.CommandResults(cmd.Context(), conv.ID)
				if err != nil {
					return err
				}
				data, err := exporter.Export(export.Document{Conversation: conv, Results: records})
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}

				if output == "" || output == "-" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				path := output
				if info, statErr := os.Stat(output); statErr == nil && info.IsDir() {
					path = filepath.Join(output, export.Filename(conv, exporter, time.Now()))
				}
				if err := util.AtomicWriteFile(path, data, 0644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				return printJSON(cmd.OutOrStdout(), a.jsonMode, "history export",
					map[string]interface{}{"id": conv.ID, "path": path, "mime_type": exporter.MimeType()},
					func() error {
						fmt.Fprintln(cmd.ErrOrStderr(), RenderStatus("ok")+" exported to "+path)
						return nil
					})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file or directory instead of stdout")
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "markdown, html or json")
	cmd.Flags().StringVar(&theme, "theme", "", "HTML theme: dark or light")
	return cmd
}
