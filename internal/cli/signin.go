// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/studio/internal/server"
)

// signinRunner is replaced in tests.
var signinRunner = server.RunOllamaSignin

func signinCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signin",
		Short: "Sign the local Ollama install in to ollama.com",
		Long: `Run "ollama signin" and print the authorisation link it produces.
Open the link in a browser to finish signing in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), server.SigninTimeout)
			defer cancel()

			output, runErr := signinRunner(ctx)
			resp := server.SigninResponse{Output: output}
			if url := server.SigninURL(output); url != "" {
				resp.Success = true
				resp.AuthURL = url
			} else if runErr != nil {
				resp.Error = runErr.Error()
			} else {
				resp.Error = "no authentication URL found"
			}

			if a.jsonMode {
				if err := NewJSONResponse("signin", resp).Write(cmd.OutOrStdout()); err != nil {
					return err
				}
			} else if resp.Success {
				fmt.Fprintln(cmd.OutOrStdout(), "Open this link to sign in:")
				fmt.Fprintln(cmd.OutOrStdout(), InfoStyle.Render(resp.AuthURL))
			} else if output != "" {
				fmt.Fprint(cmd.ErrOrStderr(), DimStyle.Render(output))
				fmt.Fprintln(cmd.ErrOrStderr())
			}

			if !resp.Success {
				return errors.New("signin: " + resp.Error)
			}
			return nil
		},
	}
}
