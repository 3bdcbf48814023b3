// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/studio/internal/sandbox"
	"github.com/jeranaias/studio/internal/server"
)

// ollamaCheckTimeout bounds the startup reachability check.
const ollamaCheckTimeout = 3 * time.Second

func serveCmd(a *app) *cobra.Command {
	var (
		port    int
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP file proxy for browser front ends",
		Long: `Run the HTTP file proxy on 127.0.0.1. It serves the sandbox under
/api/files/*, relays /api/chat and /api/tags to Ollama, and answers
/health. Stop it with Ctrl+C; in-flight requests get ` + stopTimeout.String() + ` to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.sandbox()
			if err != nil {
				return err
			}

			opts := server.OptionsFromConfig(a.cfg)
			if port != 0 {
				opts.Port = port
			}
			opts.Version = Version
			opts.Logger = log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
			client := a.client()
			srv := server.New(store, client, opts)

			ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
			if err != nil {
				return fmt.Errorf("listen on port %d: %w", srv.Port(), err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !noWatch {
				if err := watchSandbox(ctx, store, opts.Logger); err != nil {
					opts.Logger.Printf("SANDBOX_WATCH_FAILED | error=%v", err)
				}
			}

			// The proxy still starts without Ollama; chat relays answer 502 until it is up.
			ollamaStatus := SuccessStyle.Render("(running)")
			checkCtx, cancelCheck := context.WithTimeout(ctx, ollamaCheckTimeout)
			if err := client.CheckRunning(checkCtx); err != nil {
				opts.Logger.Printf("OLLAMA_UNREACHABLE | url=%s error=%v", client.GetConfig().BaseURL, err)
				ollamaStatus = WarningStyle.Render("(unreachable)")
			}
			cancelCheck()

			if !a.jsonMode {
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("studio file proxy"))
				fmt.Fprintln(cmd.OutOrStdout(), RenderKV("Listening", "http://"+ln.Addr().String()))
				fmt.Fprintln(cmd.OutOrStdout(), RenderKV("Sandbox", store.Root()))
				fmt.Fprintln(cmd.OutOrStdout(), RenderKV("Ollama", client.GetConfig().BaseURL+" "+ollamaStatus))
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve(ln) }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := detached()
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config, 3001)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not log sandbox changes")
	return cmd
}

// watchSandbox logs sandbox changes until ctx is done.
func watchSandbox(ctx context.Context, store *sandbox.Store, logger *log.Logger) error {
	w, err := store.Watch(ctx, 250*time.Millisecond)
	if err != nil {
		return err
	}
	go func() {
		changes, errs := w.Changes(), w.Errors()
		for changes != nil || errs != nil {
			select {
			case ch, ok := <-changes:
				if !ok {
					changes = nil
					continue
				}
				logger.Printf("SANDBOX_CHANGE | op=%s path=%s", ch.Op, ch.Path)
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				logger.Printf("SANDBOX_WATCH_ERROR | error=%v", err)
			}
		}
	}()
	return nil
}
