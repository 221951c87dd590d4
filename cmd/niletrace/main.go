// Package main is the entry point for the niletrace CLI.
//
// The CLI talks to the NileTrace REST API directly: authentication,
// incident management, analysis jobs and a local dashboard view.
//
// Usage:
//
//	niletrace login --email me@example.com --password ...
//	niletrace incidents list
//	niletrace incidents analyze <incidentID> --wait
//	niletrace poll <jobID>
//	niletrace dashboard --status open
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/niletrace/internal/config"
	"github.com/kiranshivaraju/niletrace/internal/niletrace"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	apiURL  string
	token   string
	output  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "niletrace",
		Short: "Command line client for the NileTrace incident analysis API",
		Long: `niletrace manages incidents and AI analysis jobs on a NileTrace server.

Configuration is read from the environment and can be overridden by flags:
  NILETRACE_API_URL            API base URL (default http://localhost:8080/api)
  NILETRACE_TOKEN              bearer token printed by "niletrace login"
  NILETRACE_POLL_INTERVAL_MS   delay between job status requests
  NILETRACE_POLL_MAX_ATTEMPTS  status requests before polling gives up`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			}
			return fmt.Errorf("unknown output format %q (want table, json or yaml)", opts.output)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api-url", "", "NileTrace API base URL (overrides NILETRACE_API_URL)")
	flags.StringVar(&opts.token, "token", "", "bearer token (overrides NILETRACE_TOKEN)")
	flags.StringVarP(&opts.output, "output", "o", outputTable, "output format: table, json or yaml")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log API requests to stderr")

	root.AddCommand(
		newLoginCmd(opts),
		newSignupCmd(opts),
		newWhoamiCmd(opts),
		newIncidentsCmd(opts),
		newAnalysisCmd(opts),
		newPollCmd(opts),
		newDashboardCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// newLogger creates a JSON logger on w for CLI diagnostics.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads client configuration and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.ClientConfig, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.apiURL != "" {
		if !strings.HasPrefix(o.apiURL, "http://") && !strings.HasPrefix(o.apiURL, "https://") {
			return nil, fmt.Errorf("--api-url must start with http:// or https://, got %q", o.apiURL)
		}
		cfg.API.BaseURL = strings.TrimRight(o.apiURL, "/")
	}
	if o.token != "" {
		cfg.API.Token = o.token
	}
	return cfg, nil
}

func (o *globalOptions) newClient(cmd *cobra.Command) (*niletrace.Client, *config.ClientConfig, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client := niletrace.NewClient(cfg.API,
		niletrace.WithLogger(newLogger(cmd.ErrOrStderr(), o.verbose)),
		niletrace.WithClearTokenOnUnauthorized(),
	)
	return client, cfg, nil
}

// requireToken fails early for commands that need an authenticated session.
func requireToken(c *niletrace.Client) error {
	if !c.IsAuthenticated() {
		return fmt.Errorf("%w: run \"niletrace login\" and export NILETRACE_TOKEN", niletrace.ErrNoToken)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "niletrace %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
