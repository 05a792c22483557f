package devin

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Risk levels an analysis session may report.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// maxPlanSteps bounds the analysis plan length for maintainability.
const maxPlanSteps = 20

// AnalysisResult is the structured payload of a scoping session.
type AnalysisResult struct {
	Summary        string   `json:"summary"`
	Plan           []string `json:"plan"`
	RiskLevel      string   `json:"risk_level"`
	EstEffortHours float64  `json:"est_effort_hours"`
	Confidence     float64  `json:"confidence"`
}

// Validate checks numeric ranges and enumerations. Downstream consumers
// only trust payloads that pass.
func (r *AnalysisResult) Validate() error {
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return fmt.Errorf("confidence %v out of range [0.0, 1.0]", r.Confidence)
	}
	if r.EstEffortHours < 0 {
		return fmt.Errorf("est_effort_hours %v is negative", r.EstEffortHours)
	}
	if len(r.Plan) > maxPlanSteps {
		return fmt.Errorf("plan has %d steps, max %d", len(r.Plan), maxPlanSteps)
	}
	if r.RiskLevel != "" {
		switch strings.ToLower(r.RiskLevel) {
		case RiskLow, RiskMedium, RiskHigh:
			r.RiskLevel = strings.ToLower(r.RiskLevel)
		default:
			return fmt.Errorf("risk_level %q must be low, medium, or high", r.RiskLevel)
		}
	}
	return nil
}

// Implementation status progression: planning → coding → testing → done.
const (
	ImplPlanning = "planning"
	ImplCoding   = "coding"
	ImplTesting  = "testing"
	ImplDone     = "done"
)

// ImplementationResult is the structured payload of an execution session.
type ImplementationResult struct {
	Status      string `json:"status"`
	Branch      string `json:"branch,omitempty"`
	PRURL       string `json:"pr_url,omitempty"`
	TestsPassed int    `json:"tests_passed"`
	TestsFailed int    `json:"tests_failed"`
}

// Validate checks the status tag and test counts.
func (r *ImplementationResult) Validate() error {
	if r.Status == "" {
		r.Status = ImplPlanning
	}
	switch r.Status {
	case ImplPlanning, ImplCoding, ImplTesting, ImplDone:
	default:
		return fmt.Errorf("status %q is not one of planning, coding, testing, done", r.Status)
	}
	if r.TestsPassed < 0 || r.TestsFailed < 0 {
		return fmt.Errorf("test counts must be non-negative")
	}
	return nil
}

// Complete reports whether execution finished with an open PR.
func (r *ImplementationResult) Complete() bool {
	return r.Status == ImplDone && r.PRURL != ""
}

// AnalysisFromPayload converts a free-form extracted object into a
// validated AnalysisResult. Payloads that fail to decode or validate are
// treated as absent, not as errors.
func AnalysisFromPayload(payload map[string]any) (*AnalysisResult, bool) {
	var result AnalysisResult
	if !decodePayload(payload, &result) {
		return nil, false
	}
	if err := result.Validate(); err != nil {
		return nil, false
	}
	return &result, true
}

// ImplementationFromPayload converts a free-form extracted object into a
// validated ImplementationResult.
func ImplementationFromPayload(payload map[string]any) (*ImplementationResult, bool) {
	var result ImplementationResult
	if !decodePayload(payload, &result) {
		return nil, false
	}
	if err := result.Validate(); err != nil {
		return nil, false
	}
	return &result, true
}

func decodePayload(payload map[string]any, out any) bool {
	if payload == nil {
		return false
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}
