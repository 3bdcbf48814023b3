// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Configuration management commands.
//
// Subcommands:
//   studio config show               Show the effective configuration
//   studio config path               Show the config file location
//   studio config init [--force]     Write a config file with defaults
//   studio config get <key>          Print one value
//   studio config set <key> <value>  Update one value in the config file

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/studio/internal/config"
	"github.com/jeranaias/studio/internal/util"
)

// secretKeys are masked by config get and config set output.
var secretKeys = []string{"key", "secret", "token", "password"}

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit the configuration",
	}
	cmd.AddCommand(
		configShowCmd(a),
		configPathCmd(a),
		configInitCmd(a),
		configGetCmd(a),
		configSetCmd(a),
	)
	return cmd
}

// configFile returns the file config set and init write to.
func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPath()
}

func configShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonMode {
				safe := a.cfg.Clone()
				safe.Ollama.APIKey = maskSecret(safe.Ollama.APIKey)
				safe.Search.TavilyKey = maskSecret(safe.Search.TavilyKey)
				safe.Search.BingKey = maskSecret(safe.Search.BingKey)
				return NewJSONResponse("config show", map[string]interface{}{
					"path":   path,
					"config": safe,
				}).Write(out)
			}

			fmt.Fprintln(out, TitleStyle.Render("studio configuration"))
			fmt.Fprintln(out, RenderSeparator())
			section := ""
			for _, key := range config.GetAllKeys() {
				prefix, _, _ := strings.Cut(key, ".")
				if prefix != section {
					if section != "" {
						fmt.Fprintln(out)
					}
					section = prefix
					fmt.Fprintln(out, InfoStyle.Render("["+section+"]"))
				}
				value, err := a.cfg.Get(key)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "  "+DimStyle.Render(util.PadRight(key, 26))+ValueStyle.Render(maskIfSecret(key, formatConfigValue(value))))
			}
			fmt.Fprintln(out, RenderSeparator())
			fmt.Fprintln(out, DimStyle.Render("Config file: "+path))
			return nil
		},
	}
}

func configPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			_, statErr := os.Stat(path)
			exists := statErr == nil
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "config path",
				map[string]interface{}{"path": path, "exists": exists},
				func() error {
					fmt.Fprintln(cmd.OutOrStdout(), path)
					if !exists {
						fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render("(not created yet, run: studio config init)"))
					}
					return nil
				})
		},
	}
}

func configInitCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "config init",
				map[string]interface{}{"path": path},
				func() error {
					fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" wrote "+path)
					return nil
				})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func configGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "get <key>",
		Short:     "Print one configuration value",
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.GetAllKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := normalizeKey(args[0])
			value, err := a.cfg.Get(key)
			if err != nil {
				return &UsageError{Field: "key", Value: args[0], Reason: err.Error(), Example: "studio config get ollama.model"}
			}
			shown := maskIfSecret(key, formatConfigValue(value))
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "config get",
				map[string]interface{}{"key": key, "value": shown},
				func() error {
					fmt.Fprintln(cmd.OutOrStdout(), shown)
					return nil
				})
		},
	}
}

func configSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Update one value in the config file",
		Long: `Update one value in the config file. List values such as
chat.file_keywords take a comma separated list.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: config.GetAllKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := normalizeKey(args[0]), args[1]
			path, err := a.configFile()
			if err != nil {
				return err
			}

			cfg := config.Default()
			if _, statErr := os.Stat(path); statErr == nil {
				if cfg, err = config.LoadFromPath(path); err != nil {
					return err
				}
			}

			if err := cfg.Set(key, value); err != nil {
				return &UsageError{Field: "key", Value: args[0], Reason: err.Error(), Example: "studio config set ollama.model llama3.2"}
			}
			if err := cfg.Validate(); err != nil {
				var verrs config.ValidateErrors
				if errors.As(err, &verrs) && len(verrs) > 0 {
					return &UsageError{Field: verrs[0].Field, Value: value, Reason: verrs[0].Message}
				}
				return err
			}
			if err := config.SaveTOML(cfg, path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			shown := maskIfSecret(key, value)
			return printJSON(cmd.OutOrStdout(), a.jsonMode, "config set",
				map[string]interface{}{"key": key, "value": shown, "path": path},
				func() error {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", RenderStatus("ok"), key, shown)
					return nil
				})
		},
	}
}

// normalizeKey accepts "Ollama.Model" and "ollama.model" alike.
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func formatConfigValue(v interface{}) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	case string:
		if val == "" {
			return "(not set)"
		}
		return val
	default:
		return fmt.Sprint(val)
	}
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// maskIfSecret masks the value if the key names a credential.
func maskIfSecret(key, value string) string {
	if value == "(not set)" {
		return value
	}
	lower := strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(lower, s) {
			return maskSecret(value)
		}
	}
	return value
}
