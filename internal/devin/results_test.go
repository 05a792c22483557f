package devin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalysisResultValidate(t *testing.T) {
	valid := &AnalysisResult{
		Summary:        "add index",
		Plan:           []string{"write migration", "add index", "verify query plan"},
		RiskLevel:      "Low",
		EstEffortHours: 4,
		Confidence:     0.75,
	}
	require.NoError(t, valid.Validate())
	assert.Equal(t, RiskLow, valid.RiskLevel, "risk level is normalized to lower case")
}

func TestAnalysisResultConfidenceRange(t *testing.T) {
	// Out-of-range values are rejected, not clamped.
	for _, confidence := range []float64{-0.1, 1.01, 2.0} {
		r := &AnalysisResult{Summary: "x", Confidence: confidence}
		assert.Error(t, r.Validate(), "confidence %v should be rejected", confidence)
	}
	for _, confidence := range []float64{0.0, 0.5, 1.0} {
		r := &AnalysisResult{Summary: "x", Confidence: confidence}
		assert.NoError(t, r.Validate())
	}
}

func TestAnalysisResultNegativeEffort(t *testing.T) {
	r := &AnalysisResult{Summary: "x", EstEffortHours: -1, Confidence: 0.5}
	assert.Error(t, r.Validate())
}

func TestAnalysisResultPlanTooLong(t *testing.T) {
	r := &AnalysisResult{Summary: "x", Confidence: 0.5}
	for i := 0; i < 21; i++ {
		r.Plan = append(r.Plan, "step")
	}
	assert.Error(t, r.Validate())
}

func TestAnalysisResultBadRiskLevel(t *testing.T) {
	r := &AnalysisResult{Summary: "x", RiskLevel: "extreme", Confidence: 0.5}
	assert.Error(t, r.Validate())
}

func TestImplementationResultValidate(t *testing.T) {
	r := &ImplementationResult{Status: "coding", Branch: "fix/42", TestsPassed: 3}
	require.NoError(t, r.Validate())

	empty := &ImplementationResult{}
	require.NoError(t, empty.Validate())
	assert.Equal(t, ImplPlanning, empty.Status, "empty status defaults to planning")

	bad := &ImplementationResult{Status: "reviewing"}
	assert.Error(t, bad.Validate())

	negative := &ImplementationResult{Status: "testing", TestsFailed: -1}
	assert.Error(t, negative.Validate())
}

func TestImplementationResultComplete(t *testing.T) {
	assert.False(t, (&ImplementationResult{Status: ImplDone}).Complete())
	assert.False(t, (&ImplementationResult{Status: ImplTesting, PRURL: "https://x/pr/1"}).Complete())
	assert.True(t, (&ImplementationResult{Status: ImplDone, PRURL: "https://x/pr/1"}).Complete())
}

func TestAnalysisFromPayload(t *testing.T) {
	payload := map[string]any{
		"summary":          "done",
		"plan":             []any{"a", "b"},
		"risk_level":       "medium",
		"est_effort_hours": 8.0,
		"confidence":       0.9,
	}
	result, ok := AnalysisFromPayload(payload)
	require.True(t, ok)
	assert.Equal(t, "done", result.Summary)
	assert.Equal(t, []string{"a", "b"}, result.Plan)
	assert.Equal(t, 0.9, result.Confidence)
}

func TestAnalysisFromPayloadInvalidTreatedAsAbsent(t *testing.T) {
	_, ok := AnalysisFromPayload(map[string]any{"summary": "x", "confidence": 1.5})
	assert.False(t, ok)

	_, ok = AnalysisFromPayload(nil)
	assert.False(t, ok)

	// Wrong field type fails decoding, treated as absent.
	_, ok = AnalysisFromPayload(map[string]any{"summary": "x", "plan": "not-a-list"})
	assert.False(t, ok)
}

func TestImplementationFromPayload(t *testing.T) {
	result, ok := ImplementationFromPayload(map[string]any{
		"status": "done", "pr_url": "https://github.com/o/r/pull/7", "tests_passed": 10.0,
	})
	require.True(t, ok)
	assert.True(t, result.Complete())

	_, ok = ImplementationFromPayload(map[string]any{"status": "shipping"})
	assert.False(t, ok)
}
