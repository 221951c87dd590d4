package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/niletrace/pkg/models"
)

func newIncidentsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "incidents",
		Aliases: []string{"incident", "inc"},
		Short:   "Create, inspect and analyze incidents",
	}
	cmd.AddCommand(
		newIncidentsListCmd(opts),
		newIncidentsGetCmd(opts),
		newIncidentsCreateCmd(opts),
		newIncidentsUpdateCmd(opts),
		newIncidentsDeleteCmd(opts),
		newIncidentsAnalyzeCmd(opts),
	)
	return cmd
}

func newIncidentsListCmd(opts *globalOptions) *cobra.Command {
	var page, size int
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			var incidents []models.Incident
			if all {
				incidents, err = client.ListAllIncidents(cmd.Context(), size)
			} else {
				var p *models.Page[models.Incident]
				p, err = client.ListIncidents(cmd.Context(), page, size)
				if p != nil {
					incidents = p.Content
				}
			}
			if err != nil {
				return fmt.Errorf("list incidents: %w", err)
			}
			return printIncidents(cmd, opts, incidents)
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "0-based page number")
	cmd.Flags().IntVar(&size, "size", 20, "page size")
	cmd.Flags().BoolVar(&all, "all", false, "follow pages until every incident is listed")
	return cmd
}

func printIncidents(cmd *cobra.Command, opts *globalOptions, incidents []models.Incident) error {
	return render(cmd.OutOrStdout(), opts.output, incidents, func(tw *tabwriter.Writer) {
		row(tw, "ID", "SEVERITY", "STATUS", "TITLE", "CREATED")
		for _, inc := range incidents {
			row(tw, inc.ID, inc.Severity, inc.Status, truncate(inc.Title, 48), formatTime(inc.CreatedAt))
		}
	})
}

func newIncidentsGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <incidentID>",
		Short: "Show one incident and its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			inc, err := client.GetIncident(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get incident: %w", err)
			}
			return printIncident(cmd, opts, inc)
		},
	}
}

func printIncident(cmd *cobra.Command, opts *globalOptions, inc *models.Incident) error {
	out := cmd.OutOrStdout()
	err := render(out, opts.output, inc, func(tw *tabwriter.Writer) {
		row(tw, "ID", inc.ID)
		row(tw, "Title", inc.Title)
		row(tw, "Severity", inc.Severity)
		row(tw, "Status", inc.Status)
		row(tw, "Created", formatTime(inc.CreatedAt))
		row(tw, "Updated", formatTime(inc.UpdatedAt))
		row(tw, "Description", orDash(inc.Description))
	})
	if err != nil || opts.output != outputTable {
		return err
	}
	if inc.Report != nil && inc.Report.FullMarkdownReport != "" {
		fmt.Fprintf(out, "\n%s\n", inc.Report.FullMarkdownReport)
	}
	return nil
}

func parseSeverity(s string) (models.Severity, error) {
	sev := models.Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("invalid severity %q (want SEV1..SEV5)", s)
	}
	return sev, nil
}

func parseStatus(s string) (models.IncidentStatus, error) {
	st := models.IncidentStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case models.IncidentStatusOpen, models.IncidentStatusAnalyzing,
		models.IncidentStatusResolved, models.IncidentStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("invalid status %q (want OPEN, ANALYZING, RESOLVED or FAILED)", s)
}

func newIncidentsCreateCmd(opts *globalOptions) *cobra.Command {
	var req models.CreateIncidentRequest
	var severity, logFile string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an incident",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Title) == "" {
				return errors.New("--title is required")
			}
			sev, err := parseSeverity(severity)
			if err != nil {
				return err
			}
			req.Severity = sev

			if logFile != "" {
				content, err := readLogContent(cmd, logFile)
				if err != nil {
					return err
				}
				req.LogContent = content
			}

			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			inc, err := client.CreateIncident(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("create incident: %w", err)
			}
			return printIncident(cmd, opts, inc)
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "incident title (required)")
	cmd.Flags().StringVar(&req.Description, "description", "", "incident description")
	cmd.Flags().StringVar(&severity, "severity", string(models.SeveritySEV3), "severity, SEV1 (highest) to SEV5")
	cmd.Flags().StringVar(&logFile, "logs", "", "file with log content to attach, - for stdin")
	return cmd
}

func newIncidentsUpdateCmd(opts *globalOptions) *cobra.Command {
	var title, description, severity, status string

	cmd := &cobra.Command{
		Use:   "update <incidentID>",
		Short: "Update fields of an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req models.UpdateIncidentRequest
			flags := cmd.Flags()
			if flags.Changed("title") {
				req.Title = &title
			}
			if flags.Changed("description") {
				req.Description = &description
			}
			if flags.Changed("severity") {
				sev, err := parseSeverity(severity)
				if err != nil {
					return err
				}
				req.Severity = &sev
			}
			if flags.Changed("status") {
				st, err := parseStatus(status)
				if err != nil {
					return err
				}
				req.Status = &st
			}
			if req == (models.UpdateIncidentRequest{}) {
				return errors.New("nothing to update: set at least one of --title, --description, --severity, --status")
			}

			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			inc, err := client.UpdateIncident(cmd.Context(), args[0], req)
			if err != nil {
				return fmt.Errorf("update incident: %w", err)
			}
			return printIncident(cmd, opts, inc)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&severity, "severity", "", "new severity")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	return cmd
}

func newIncidentsDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <incidentID>",
		Short: "Delete an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			if err := client.DeleteIncident(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete incident: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted incident %s\n", args[0])
			return nil
		},
	}
}

func newIncidentsAnalyzeCmd(opts *globalOptions) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "analyze <incidentID>",
		Short: "Start AI analysis of an incident",
		Long: `Start AI analysis of an incident.

With --wait the command polls the job until it completes and prints the
report, exiting non-zero if the job fails or polling times out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			job, err := client.AnalyzeIncident(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("analyze incident: %w", err)
			}
			if !wait {
				return printJob(cmd, opts, job)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Analysis job %s started\n", job.JobID)
			return waitForJob(cmd, opts, client, cfg.Poll, job.JobID)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the analysis finishes")
	return cmd
}
