package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jsperry/triage/internal/devin"
)

// Client wraps the Anthropic API for transcript summarization. Used when a
// finished session produced no structured output and the transcript is too
// long to post verbatim.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// maxTranscriptChars bounds how much transcript gets sent for
// summarization. Oldest entries are dropped first.
const maxTranscriptChars = 60000

// buildSummaryPrompt constructs the system and user prompts for
// summarizing an agent session transcript.
func buildSummaryPrompt(messages []devin.Message) (system string, user string) {
	system = `You summarize transcripts of autonomous coding-agent sessions for a GitHub issue comment. Return a short markdown summary with:

- What the agent was asked to do (one sentence)
- What it actually did or found (2-5 bullet points)
- The outcome: finished with a result, blocked on something specific, or inconclusive

Rules:
- Plain markdown, no heading levels deeper than bold text
- Quote branch names, file paths, and error messages verbatim when present
- If the agent reported being blocked, state exactly what it is waiting on
- Do not speculate beyond what the transcript says`

	var sb strings.Builder
	sb.WriteString("Summarize this session transcript:\n\n")
	for _, m := range messages {
		role := "user"
		if m.FromAgent() {
			role = "agent"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(m.Message)
		sb.WriteString("\n\n")
	}
	user = sb.String()
	if len(user) > maxTranscriptChars {
		user = "Summarize this session transcript (earlier entries truncated):\n\n..." +
			user[len(user)-maxTranscriptChars:]
	}
	return
}

// SummarizeTranscript sends a session transcript to the LLM and returns a
// markdown summary suitable for an issue comment.
func (c *Client) SummarizeTranscript(ctx context.Context, messages []devin.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("transcript is empty")
	}
	systemPrompt, userPrompt := buildSummaryPrompt(messages)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}
	return strings.TrimSpace(text), nil
}
