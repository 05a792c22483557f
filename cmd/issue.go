package cmd

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jsperry/triage/internal/output"
)

var issueRepo string

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Inspect tracked issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked issues with scoping results",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

func init() {
	issueListCmd.Flags().StringVar(&issueRepo, "repo", "", "Filter by repository (owner/name)")

	issueCmd.AddCommand(issueListCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	issues, err := s.ListIssues(context.Background(), issueRepo)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		ui.Info("No tracked issues. Track one with: triage scope <owner/name> <number>")
		return nil
	}

	table := ui.Table([]string{"Repo", "Issue", "Title", "State", "Labels", "Confidence", "Scoped", "Executed"})
	for _, issue := range issues {
		confidence := ""
		if issue.ConfidenceScore != nil {
			confidence = output.ConfidenceColor(*issue.ConfidenceScore)
		}
		scoped := ""
		if issue.LastScopedAt != nil {
			scoped = issue.LastScopedAt.Local().Format("2006-01-02")
		}
		executed := ""
		if issue.LastExecutedAt != nil {
			executed = issue.LastExecutedAt.Local().Format("2006-01-02")
		}

		title := issue.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}

		table.Append([]string{
			issue.Repo,
			"#" + strconv.Itoa(issue.Number),
			title,
			issue.State,
			strings.Join(issue.Labels, ","),
			confidence,
			scoped,
			executed,
		})
	}
	return table.Render()
}
