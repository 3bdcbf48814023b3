// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - Model management commands.
//
// Subcommands:
//   studio models              List installed models
//   studio models pull <name>  Download a model with progress
//   studio models rm <name>    Delete an installed model

package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/studio/internal/ollama"
	"github.com/jeranaias/studio/internal/util"
)

func modelsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"tags"},
		Short:   "List, pull and delete models on the Ollama server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.client()
			models, err := client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			current := client.GetDefaultModel()

			return printJSON(cmd.OutOrStdout(), a.jsonMode, "models", models, func() error {
				out := cmd.OutOrStdout()
				if len(models) == 0 {
					fmt.Fprintln(out, DimStyle.Render("No models installed. Pull one with: studio models pull "+current))
					return nil
				}

				now := time.Now()
				fmt.Fprintln(out, DimStyle.Render(util.PadRight("NAME", 32)+
					util.PadRight("SIZE", 18)+util.PadRight("PARAMS", 18)+"MODIFIED"))
				for _, m := range models {
					name := util.PadRight(util.TruncateWidth(m.Name, 30), 32)
					if m.Name == current {
						name = SuccessStyle.Render(name)
					}
					fmt.Fprintln(out, name+
						ValueStyle.Render(util.PadRight(m.FormatSize(), 18))+
						ValueStyle.Render(util.PadRight(m.Details.ParameterSize, 18))+
						DimStyle.Render(formatAge(m.ModifiedAt, now)))
				}
				return nil
			})
		},
	}
	cmd.AddCommand(modelsPullCmd(a), modelsRmCmd(a))
	return cmd
}

func modelsPullCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <name>",
		Short: "Download a model from the Ollama library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return usageError("name", args[0], "model name is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var progress *pullPrinter
			if !a.jsonMode {
				progress = newPullPrinter(cmd.OutOrStdout(), isTerminalWriter(cmd.OutOrStdout()))
				fmt.Fprintln(cmd.OutOrStdout(), TitleStyle.Render("Pulling "+name))
			}

			lines := 0
			err := a.client().PullModel(ctx, name, func(p ollama.PullProgress) error {
				lines++
				if progress != nil {
					progress.update(p)
				}
				return nil
			})
			if progress != nil {
				progress.endLine()
			}
			if err != nil {
				return fmt.Errorf("pull %s: %w", name, err)
			}

			return printJSON(cmd.OutOrStdout(), a.jsonMode, "models pull",
				map[string]interface{}{"model": name, "status": "success", "updates": lines},
				func() error {
					fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" pulled "+name)
					return nil
				})
		},
	}
}

func modelsRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"delete"},
		Short:   "Delete an installed model",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if err := a.client().DeleteModel(cmd.Context(), name); err != nil {
				if ollama.IsModelNotFound(err) {
					return usageError("name", name, "no such model installed, see: studio models")
				}
				return fmt.Errorf("delete %s: %w", name, err)
			}
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "models rm",
				map[string]interface{}{"model": name, "deleted": true},
				func() error {
					fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" deleted "+name)
					return nil
				})
		},
	}
}

// =============================================================================
// PULL PROGRESS
// =============================================================================

// progressBarWidth is the number of cells in the download bar.
const progressBarWidth = 30

// pullPrinter renders pull progress. On a terminal the bar is redrawn in
// place; otherwise one line is written per status change.
type pullPrinter struct {
	out     io.Writer
	inPlace bool
	status  string
	drawing bool
}

func newPullPrinter(out io.Writer, inPlace bool) *pullPrinter {
	return &pullPrinter{out: out, inPlace: inPlace}
}

func (p *pullPrinter) update(prog ollama.PullProgress) {
	pct := prog.Percent()
	if p.inPlace && pct >= 0 {
		fmt.Fprintf(p.out, "\r%s %s", renderProgressBar(pct, progressBarWidth), DimStyle.Render(util.TruncateWidth(prog.Status, 40)))
		p.drawing = true
		p.status = prog.Status
		return
	}
	if prog.Status == p.status {
		return
	}
	p.endLine()
	p.status = prog.Status
	line := "  " + prog.Status
	if pct >= 0 {
		line += DimStyle.Render(fmt.Sprintf(" (%s of %s)", formatBytes(prog.Completed), formatBytes(prog.Total)))
	}
	fmt.Fprintln(p.out, line)
}

func (p *pullPrinter) endLine() {
	if p.drawing {
		fmt.Fprintln(p.out)
		p.drawing = false
	}
}

// renderProgressBar renders "[████░░░░]  42%".
func renderProgressBar(pct, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * width / 100
	return "[" + SuccessStyle.Render(strings.Repeat("█", filled)) +
		DimStyle.Render(strings.Repeat("░", width-filled)) + "]" +
		fmt.Sprintf(" %3d%%", pct)
}
