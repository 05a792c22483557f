package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jsperry/triage/internal/models"
	"github.com/jsperry/triage/internal/output"
)

var scopeWait bool

var scopeCmd = &cobra.Command{
	Use:   "scope <owner/name> <issue-number>",
	Short: "Start a scoping session for a GitHub issue",
	Long: `Start a remote scoping session that analyzes a GitHub issue and
produces an implementation plan, risk assessment, effort estimate,
and confidence score. Analysis only, no code is written.

Starting the same scope twice reuses the running session.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("issue number %q is not a number", args[1])
		}
		return startPhaseRun(args[0], number, models.PhaseScope, scopeWait)
	},
}

func init() {
	scopeCmd.Flags().BoolVar(&scopeWait, "wait", false, "Poll until the session reaches a terminal state")
	rootCmd.AddCommand(scopeCmd)
}

func startPhaseRun(repo string, number int, phase models.SessionPhase, wait bool) error {
	m, err := getManager()
	if err != nil {
		return err
	}
	ctx := context.Background()

	result, err := m.StartPhase(ctx, repo, number, phase)
	if err != nil {
		return err
	}

	if result.Reused {
		ui.Info("Reusing session %s for %s#%d", output.Cyan(result.Session.SessionID), repo, number)
	} else {
		ui.Success("Started %s session %s for %s#%d", phase, output.Cyan(result.Session.SessionID), repo, number)
	}
	if result.SessionURL != "" {
		ui.Info("Session URL: %s", result.SessionURL)
	}

	if !wait {
		ui.Info("Check progress with: triage session status %s", result.Session.SessionID)
		return nil
	}

	session, err := m.PollSession(ctx, result.Session.SessionID, 0)
	if err != nil {
		return err
	}
	printSession(session)
	return nil
}
