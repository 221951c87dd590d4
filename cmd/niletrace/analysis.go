package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/niletrace/internal/config"
	"github.com/kiranshivaraju/niletrace/internal/niletrace"
	"github.com/kiranshivaraju/niletrace/internal/poller"
	"github.com/kiranshivaraju/niletrace/pkg/models"
)

const maxLogContentSize = 10 << 20 // 10MB

func newAnalysisCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Start and inspect analysis jobs",
	}
	cmd.AddCommand(newAnalysisStartCmd(opts), newAnalysisStatusCmd(opts))
	return cmd
}

func newAnalysisStartCmd(opts *globalOptions) *cobra.Command {
	var req models.StartAnalysisRequest
	var logFile string
	var wait bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Submit logs for analysis",
		Long: `Submit an incident description and its logs for AI analysis.

Example:
  niletrace analysis start --incident 42 --title "Checkout 500s" --logs app.log --wait
  kubectl logs deploy/api | niletrace analysis start --title "API crash" --logs -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Title) == "" {
				return errors.New("--title is required")
			}
			sev, err := parseSeverity(req.Severity)
			if err != nil {
				return err
			}
			req.Severity = string(sev)

			if logFile == "" {
				return errors.New("--logs is required")
			}
			req.LogContent, err = readLogContent(cmd, logFile)
			if err != nil {
				return err
			}
			req.CreatedAt = time.Now().UTC().Format(time.RFC3339)

			client, cfg, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			job, err := client.StartAnalysis(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("start analysis: %w", err)
			}
			if !wait {
				return printJob(cmd, opts, job)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Analysis job %s started\n", job.JobID)
			return waitForJob(cmd, opts, client, cfg.Poll, job.JobID)
		},
	}

	cmd.Flags().StringVar(&req.IncidentID, "incident", "", "incident the analysis belongs to")
	cmd.Flags().StringVar(&req.Title, "title", "", "incident title (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "incident description")
	cmd.Flags().StringVar(&req.Severity, "severity", string(models.SeveritySEV3), "severity, SEV1 (highest) to SEV5")
	cmd.Flags().StringVar(&req.IncidentStartTime, "started-at", "", "when the incident started, RFC 3339")
	cmd.Flags().StringVar(&logFile, "logs", "", "file with log content, - for stdin (required)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the analysis finishes")
	return cmd
}

func newAnalysisStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <jobID>",
		Short: "Fetch the current status of an analysis job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			job, err := client.GetJobStatus(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("job status: %w", err)
			}
			return printJob(cmd, opts, job)
		},
	}
}

func newPollCmd(opts *globalOptions) *cobra.Command {
	var interval time.Duration
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "poll <jobID>",
		Short: "Poll an analysis job until it finishes",
		Long: `Poll an analysis job until it reaches COMPLETED or FAILED.

Progress is written to stderr. The report (or the job record with -o json|yaml)
is written to stdout. Exit codes:
  0 - job completed
  1 - job failed, polling timed out, or the status request failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			if cmd.Flags().Changed("interval") {
				cfg.Poll.Interval = interval
			}
			if cmd.Flags().Changed("max-attempts") {
				cfg.Poll.MaxAttempts = maxAttempts
			}
			return waitForJob(cmd, opts, client, cfg.Poll, args[0])
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", poller.DefaultInterval, "delay between status requests")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", poller.DefaultMaxAttempts, "status requests before giving up")
	return cmd
}

// waitForJob polls jobID to completion, printing each status change to stderr.
func waitForJob(cmd *cobra.Command, opts *globalOptions, client *niletrace.Client, cfg config.PollConfig, jobID string) error {
	errOut := cmd.ErrOrStderr()
	var last models.JobStatus
	attempts := 0

	job, err := poller.PollJob(cmd.Context(), client, jobID,
		poller.WithInterval(cfg.Interval),
		poller.WithMaxAttempts(cfg.MaxAttempts),
		poller.WithEnabled(cfg.Enabled),
		poller.WithLogger(newLogger(errOut, opts.verbose)),
		poller.WithOnProgress(func(j *models.AnalysisJob) {
			attempts++
			if j.Status != last {
				fmt.Fprintf(errOut, "[%d] %s\n", attempts, j.Status)
				last = j.Status
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	return printReport(cmd, opts, job)
}

func printJob(cmd *cobra.Command, opts *globalOptions, job *models.AnalysisJob) error {
	return render(cmd.OutOrStdout(), opts.output, job, func(tw *tabwriter.Writer) {
		row(tw, "Job", job.JobID)
		row(tw, "Incident", orDash(job.IncidentID))
		row(tw, "Status", job.Status)
		if reason := job.FailureReason(); reason != "" {
			row(tw, "Error", reason)
		}
		if job.CompletedAt != nil {
			row(tw, "Completed", formatTime(*job.CompletedAt))
		}
		if job.PIIEntitiesMasked > 0 {
			row(tw, "PII masked", job.PIIEntitiesMasked)
		}
	})
}

// printReport writes the markdown report of a completed job in table mode
// and the full record otherwise.
func printReport(cmd *cobra.Command, opts *globalOptions, job *models.AnalysisJob) error {
	if opts.output != outputTable {
		return printJob(cmd, opts, job)
	}
	if job.MarkdownReport == "" {
		return printJob(cmd, opts, job)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), job.MarkdownReport)
	return err
}

// readLogContent reads path, or stdin when path is "-".
func readLogContent(cmd *cobra.Command, path string) (string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open logs: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxLogContentSize+1))
	if err != nil {
		return "", fmt.Errorf("read logs: %w", err)
	}
	if len(data) > maxLogContentSize {
		return "", fmt.Errorf("log content exceeds %d bytes", maxLogContentSize)
	}
	return string(data), nil
}
