// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// files.go - Direct access to the sandbox folder.
//
// Subcommands:
//   studio files ls [path]              List a directory
//   studio files cat <path>             Print a file (highlighted on a terminal)
//   studio files write <path> [text|-]  Write or append a file
//   studio files rm <path>              Delete a file or directory
//   studio files mkdir <path>           Create a directory
//   studio files import <src> [--as n]  Copy a host file or folder in
//   studio files find <pattern>         Glob search ("**/*.md")
//   studio files watch                  Print changes as they happen

package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/studio/internal/sandbox"
	"github.com/jeranaias/studio/internal/util"
)

func filesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "files",
		Aliases: []string{"fs"},
		Short:   "Inspect and edit the sandbox folder",
	}
	cmd.AddCommand(
		filesLsCmd(a),
		filesCatCmd(a),
		filesWriteCmd(a),
		filesRmCmd(a),
		filesMkdirCmd(a),
		filesImportCmd(a),
		filesFindCmd(a),
		filesWatchCmd(a),
	)
	return cmd
}

func filesLsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "ls [path]",
		Aliases: []string{"list"},
		Short:   "List a sandbox directory",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			entries, err := store.List(path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "files ls", entries, func() error {
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
}

// printEntries prints a directory listing, directories first as returned
// by the store.
func printEntries(w io.Writer, entries []sandbox.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, DimStyle.Render("(empty)"))
		return
	}
	now := time.Now()
	for _, e := range entries {
		name := util.TruncateWidth(e.Name, 40)
		if e.IsDir() {
			fmt.Fprintln(w, InfoStyle.Render(util.PadRight(name+"/", 42))+DimStyle.Render(formatAge(e.Modified, now)))
			continue
		}
		fmt.Fprintln(w, util.PadRight(name, 42)+
			ValueStyle.Render(util.PadRight(formatBytes(e.Size), 12))+
			DimStyle.Render(formatAge(e.Modified, now)))
	}
}

func filesCatCmd(a *app) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a sandbox file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}
			content, err := store.Read(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "files cat",
				map[string]interface{}{"path": args[0], "content": content},
				func() error {
					out := cmd.OutOrStdout()
					if !plain && isTerminalWriter(out) && ColorsEnabled() {
						content = highlightFile(args[0], content)
					}
					io.WriteString(out, content)
					if !strings.HasSuffix(content, "\n") {
						fmt.Fprintln(out)
					}
					return nil
				})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "disable syntax highlighting")
	return cmd
}

func filesWriteCmd(a *app) *cobra.Command {
	var appendMode bool
	cmd := &cobra.Command{
		Use:   "write <path> [content|-]",
		Short: "Write a sandbox file (content from args or stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}
			content, err := argOrStdin(args[1:], cmd.InOrStdin())
			if err != nil {
				return err
			}
			mode := sandbox.Overwrite
			verb := "wrote"
			if appendMode {
				mode = sandbox.Append
				verb = "appended to"
			}
			if err := store.Write(args[0], content, mode); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "files write",
				map[string]interface{}{"path": args[0], "bytes": len(content), "append": appendMode},
				func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s (%s)\n", RenderStatus("ok"), verb, args[0], formatBytes(int64(len(content))))
					return nil
				})
		},
	}
	cmd.Flags().BoolVarP(&appendMode, "append", "a", false, "append instead of overwriting")
	return cmd
}

func filesRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <path>",
		Aliases: []string{"delete"},
		Short:   "Delete a sandbox file or directory",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "files rm",
				map[string]interface{}{"path": args[0]},
				func() error {
					fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" deleted "+args[0])
					return nil
				})
		},
	}
}

func filesMkdirCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a sandbox directory (and parents)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}
			if err := store.CreateDir(args[0]); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "files mkdir",
				map[string]interface{}{"path": args[0]},
				func() error {
					fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" created "+args[0])
					return nil
				})
		},
	}
}

func filesImportCmd(a *app) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "import <source>",
		Short: "Copy a host file or folder into the sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}
			src, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			info, err := os.Stat(src)
			if err != nil {
				return usageError("source", args[0], "not found")
			}
			dest := as
			if dest == "" {
				dest = filepath.Base(src)
			}

			var (
				rel   string
				count = 1
			)
			if info.IsDir() {
				rel, count, err = store.ImportDirectory(src, dest)
			} else {
				rel, err = a.importFile(store, src, dest)
			}
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), a.jsonMode, "files import",
				map[string]interface{}{"path": rel, "files": count},
				func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "%s imported %d file(s) to %s\n", RenderStatus("ok"), count, rel)
					return nil
				})
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "destination name inside the sandbox")
	return cmd
}

// importFile stages a copy of src in the temp dir and moves it in, the
// same path an upload through the server takes.
func (a *app) importFile(store *sandbox.Store, src, dest string) (string, error) {
	tmpDir := a.cfg.Sandbox.TempDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	tmp, err := os.CreateTemp(tmpDir, "studio-import-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := util.CopyFile(src, tmpPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("stage %s: %w", src, err)
	}
	return store.ImportFile(tmpPath, dest)
}

func filesFindCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "find <pattern>",
		Short: `Find sandbox files by glob pattern, e.g. "**/*.md"`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}
			matches, err := store.Find(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "files find", matches, func() error {
				if len(matches) == 0 {
					fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render("no matches"))
					return nil
				}
				for _, m := range matches {
					fmt.Fprintln(cmd.OutOrStdout(), m)
				}
				return nil
			})
		},
	}
}

func filesWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print sandbox changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			w, err := store.Watch(ctx, debounce)
			if err != nil {
				return fmt.Errorf("watch sandbox: %w", err)
			}
			out := cmd.OutOrStdout()
			if !a.jsonMode {
				fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render("Watching "+store.Root()+" (Ctrl+C to stop)"))
			}

			changes, errs := w.Changes(), w.Errors()
			for changes != nil || errs != nil {
				select {
				case ch, ok := <-changes:
					if !ok {
						changes = nil
						continue
					}
					if a.jsonMode {
						NewJSONResponse("files watch", ch).Write(out)
						continue
					}
					fmt.Fprintf(out, "%s %s %s\n", DimStyle.Render(time.Now().Format("15:04:05")), util.PadRight(ch.Op, 7), ch.Path)
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					fmt.Fprintln(cmd.ErrOrStderr(), WarningStyle.Render("watch: "+err.Error()))
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "coalesce changes to the same path within this window")
	return cmd
}
