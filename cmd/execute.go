package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jsperry/triage/internal/models"
)

var executeWait bool

var executeCmd = &cobra.Command{
	Use:   "execute <owner/name> <issue-number>",
	Short: "Start an execution session for a GitHub issue",
	Long: `Start a remote execution session that implements a GitHub issue:
create a feature branch, make the changes, run tests, and open a
pull request. The latest scoping plan for the issue is carried into
the prompt when one exists.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("issue number %q is not a number", args[1])
		}
		return startPhaseRun(args[0], number, models.PhaseExec, executeWait)
	},
}

func init() {
	executeCmd.Flags().BoolVar(&executeWait, "wait", false, "Poll until the session reaches a terminal state")
	rootCmd.AddCommand(executeCmd)
}
