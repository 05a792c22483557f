package sessions

import (
	"fmt"
	"strings"

	"github.com/jsperry/triage/internal/devin"
)

// maxPromptComments bounds how much issue discussion gets inlined into a
// scoping prompt.
const maxPromptComments = 20

const analysisSchema = `{"summary": "Brief summary of what needs to be done", "plan": ["Step 1", "Step 2", "Step 3"], "risk_level": "medium", "est_effort_hours": 8.0, "confidence": 0.75}`

const implementationSchema = `{"status": "planning", "branch": "feature-branch-name", "pr_url": null, "tests_passed": 0, "tests_failed": 0}`

// ScopingPrompt builds the analysis-only prompt for a scoping session.
// Pure function of its inputs so identical issues produce identical prompts
// and the remote idempotency key holds.
func ScopingPrompt(repo string, issueNumber int, title, body string, comments []string) string {
	if body == "" {
		body = "No description provided."
	}

	commentsText := "No comments yet."
	if len(comments) > 0 {
		if len(comments) > maxPromptComments {
			comments = comments[:maxPromptComments]
		}
		parts := make([]string, len(comments))
		for i, c := range comments {
			parts[i] = fmt.Sprintf("Comment %d:\n%s", i+1, c)
		}
		commentsText = strings.Join(parts, "\n\n")
	}

	return fmt.Sprintf(`You are triaging GitHub issue #%d in %s.

**IMPORTANT**: This is ANALYSIS ONLY. Do NOT write any code, do NOT create branches, do NOT open PRs. Just analyze and plan.

**Issue Details**:
- **Title**: %s
- **Number**: #%d
- **Repository**: %s

**Description**:
%s

**Comments**:
%s

**Your Task - ANALYSIS ONLY**:
Analyze this issue and provide your assessment in this format. Please update the structured output immediately when you complete your analysis:
%s

Provide:
1. A brief summary of what needs to be done
2. A 3-7 step plan describing how to implement it (but DO NOT implement it yourself)
3. Risk level assessment (low/medium/high)
4. Estimated effort in hours
5. Confidence score (0.0 to 1.0) for successful implementation

This is SCOPING only - do not write code or make changes. Just analyze and plan.`,
		issueNumber, repo, title, issueNumber, repo, body, commentsText, analysisSchema)
}

// ExecutionPrompt builds the implementation prompt for an execution
// session, carrying forward the scoping plan when one exists.
func ExecutionPrompt(repo string, issueNumber int, title string, plan *devin.AnalysisResult) string {
	planText := "No plan available."
	if plan != nil && len(plan.Plan) > 0 {
		steps := make([]string, len(plan.Plan))
		for i, step := range plan.Plan {
			steps[i] = fmt.Sprintf("%d. %s", i+1, step)
		}
		planText = strings.Join(steps, "\n")
	}

	return fmt.Sprintf(`Implement GitHub issue #%d in %s.

**Issue**: %s

**Implementation Plan**:
%s

**Definition of Done**:
- Complete implementation
- Tests pass

**Your Task**:
Implement the changes and provide updates in this format. Please update the structured output immediately when you create the branch, run tests, or open a PR:
%s

Create a feature branch, implement the changes, write/update tests, and open a PR. Update status as you progress: planning -> coding -> testing -> done`,
		issueNumber, repo, title, planText, implementationSchema)
}

// SessionTitle builds the remote session title for a phase. The issue
// title is clipped so dashboards stay readable.
func SessionTitle(phase, title string, issueNumber int) string {
	if len(title) > 50 {
		title = title[:50]
	}
	return fmt.Sprintf("%s Issue #%d: %s", phase, issueNumber, title)
}

// SessionTags builds the tag set attached to a remote session. Tags are
// the query surface for finding sessions on the remote dashboard.
func SessionTags(repo string, issueNumber int, phase string) []string {
	return []string{
		fmt.Sprintf("issue-%d", issueNumber),
		"repo:" + repo,
		"phase:" + phase,
	}
}
