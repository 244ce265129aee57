// Package main is the entry point for the field-service admin BFF. The serve
// command wires all dependencies together and starts the HTTP server; the
// remaining commands run single admin operations against the remote API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	observability.Version = version
	observability.Commit = commit

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	remoteURL  string
}

func newRootCommand() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "fieldadmin",
		Short:         "Admin backend for the field-service platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to configuration file")
	root.PersistentFlags().StringVar(&g.remoteURL, "remote", "", "remote platform API base URL (overrides config)")

	root.AddCommand(
		newServeCommand(g),
		newModelsCommand(g),
		newRecordsCommand(g),
		newWorkflowsCommand(g),
		newVersionCommand(),
	)
	return root
}

// load reads the configuration and applies flag overrides, then extra
// overrides, before validation.
func (g *globals) load(extra ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(g.configPath, func(c *config.Config) {
		if g.remoteURL != "" {
			c.Remote.BaseURL = g.remoteURL
		}
		for _, fn := range extra {
			fn(c)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "fieldadmin %s (%s)\n", version, commit)
			return err
		},
	}
}
