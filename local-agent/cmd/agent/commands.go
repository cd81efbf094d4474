package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fernandofuc/tistis-platform-sub007/local-agent/app"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigPath string
}

// NewRootCommand creates the tis-agent command tree. Running it without a
// subcommand starts the agent.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "tis-agent",
		Short:        "TIS local POS sync agent",
		Version:      app.Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Bootstrap(cmd.Context(), opts.ConfigPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", app.DefaultConfigPath(), "path to agent.yaml")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDetectCommand(opts))
	cmd.AddCommand(NewSetSecretCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// NewRunCommand starts the sync loop in the foreground.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "run",
		Short:        "Run the sync agent until interrupted",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Bootstrap(cmd.Context(), opts.ConfigPath)
		},
	}
}

// NewDetectCommand locates the POS database and prints the result.
func NewDetectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "detect",
		Short:        "Detect the Soft Restaurant database and print what was found",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := app.Detect(cmd.Context(), opts.ConfigPath)
			if err != nil {
				return err
			}
			out := struct {
				Result     any    `json:"result"`
				ConnString string `json:"conn_string"`
			}{Result: res, ConnString: res.RedactedConnString()}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

// NewSetSecretCommand stores the agent secret encrypted on disk.
func NewSetSecretCommand(opts *RootOptions) *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "set-secret",
		Short: "Store the agent secret issued by the TIS dashboard",
		Long: `Store the agent secret issued by the TIS dashboard.

The secret is read from --secret or, when omitted, from the first line of stdin.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				secret = line
			}
			if err := app.SetSecret(opts.ConfigPath, secret); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "secret stored")
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "agent secret")
	return cmd
}

// NewStatusCommand prints the local sync state as YAML.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "status",
		Short:        "Show local identity, cursors and recent batches",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := app.Status(cmd.Context(), opts.ConfigPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(report)
		},
	}
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no secret provided")
	}
	return line, nil
}
