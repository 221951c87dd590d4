package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/niletrace/internal/stats"
	"github.com/kiranshivaraju/niletrace/pkg/models"
)

type dashboardView struct {
	Summary   stats.Summary `json:"summary"   yaml:"summary"`
	Incidents stats.Result  `json:"incidents" yaml:"incidents"`
}

func newDashboardCmd(opts *globalOptions) *cobra.Command {
	var q stats.Query
	var status, sortBy string

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize incidents and show a filtered page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				st, err := parseStatus(status)
				if err != nil {
					return err
				}
				q.Status = st
			}
			switch stats.SortField(sortBy) {
			case stats.SortByCreatedAt, stats.SortBySeverity:
				q.SortBy = stats.SortField(sortBy)
			default:
				return fmt.Errorf("invalid --sort %q (want createdAt or severity)", sortBy)
			}

			client, _, err := opts.newClient(cmd)
			if err != nil {
				return err
			}
			if err := requireToken(client); err != nil {
				return err
			}

			incidents, err := client.ListAllIncidents(cmd.Context(), 100)
			if err != nil {
				return fmt.Errorf("list incidents: %w", err)
			}

			view := dashboardView{
				Summary:   stats.Summarize(incidents),
				Incidents: stats.Filter(incidents, q),
			}
			return render(cmd.OutOrStdout(), opts.output, view, func(tw *tabwriter.Writer) {
				printSummary(tw, view.Summary)
				row(tw, "")
				row(tw, "ID", "SEVERITY", "STATUS", "TITLE", "CREATED")
				for _, inc := range view.Incidents.Items {
					row(tw, inc.ID, inc.Severity, inc.Status, truncate(inc.Title, 48), formatTime(inc.CreatedAt))
				}
				row(tw, fmt.Sprintf("page %d/%d, %d matching", view.Incidents.Page,
					max(view.Incidents.TotalPages, 1), view.Incidents.Total))
			})
		},
	}

	cmd.Flags().StringVarP(&q.Search, "search", "s", "", "match title or description, case-insensitive")
	cmd.Flags().StringVar(&status, "status", "", "only show incidents with this status")
	cmd.Flags().StringVar(&sortBy, "sort", string(stats.SortByCreatedAt), "sort by createdAt or severity")
	cmd.Flags().BoolVar(&q.Asc, "asc", false, "sort ascending")
	cmd.Flags().IntVar(&q.Page, "page", 1, "1-based page number")
	cmd.Flags().IntVar(&q.PerPage, "per-page", stats.DefaultPerPage, "incidents per page")
	return cmd
}

func printSummary(tw *tabwriter.Writer, s stats.Summary) {
	row(tw, "Total", s.Total)
	row(tw, "Open", s.Open)
	row(tw, "Analyzing", s.Analyzing)
	row(tw, "Resolved", fmt.Sprintf("%d (%d%%)", s.Resolved, s.ResolutionRate))
	row(tw, "Failed", fmt.Sprintf("%d (%d%%)", s.Failed, s.FailureRate))
	row(tw, "Critical", s.Critical)

	sev := make([]string, 0, len(models.Severities))
	for _, v := range models.Severities {
		sev = append(sev, fmt.Sprintf("%s=%d", v, s.BySeverity[v]))
	}
	row(tw, "By severity", strings.Join(sev, " "))

	if len(s.Recent) > 0 {
		row(tw, "")
		row(tw, "RECENT ACTIVITY")
		for _, a := range s.Recent {
			row(tw, formatTime(a.At), fmt.Sprintf("%s %q", a.Action, truncate(a.Title, 40)))
		}
	}
}
