package validator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status of a check or a whole report.
type Status string

const (
	StatusPass      Status = "PASS"
	StatusFail      Status = "FAIL"
	StatusWarn      Status = "WARN"
	StatusCancelled Status = "CANCELLED"
)

// Category identifies one of the check families.
type Category string

const (
	CategoryRowCount    Category = "row_count"
	CategoryReferential Category = "referential_integrity"
	CategoryJSON        Category = "json_structure"
	CategoryNumeric     Category = "numeric_precision"
	CategoryRule        Category = "business_rule"
	CategorySample      Category = "sample_equality"
)

// Mode selects which check families run.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeQuick Mode = "quick"
	ModeTable Mode = "table"
)

// CheckResult is one check outcome. Origin and target values are rendered as
// strings so the report marshals the same way from every family.
type CheckResult struct {
	CheckName   string    `json:"check_name"`
	Category    Category  `json:"category"`
	Status      Status    `json:"status"`
	OriginValue any       `json:"origin_value"`
	TargetValue any       `json:"target_value"`
	Detail      string    `json:"detail"`
	Timestamp   time.Time `json:"timestamp"`
}

// Summary aggregates result counts.
type Summary struct {
	TotalChecks int `json:"total_checks"`
	Passed      int `json:"passed"`
	Failed      int `json:"failed"`
	Warnings    int `json:"warnings"`
}

// Report is the validator's output. Never mutated after creation.
type Report struct {
	RunID          string        `json:"run_id,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	Mode           Mode          `json:"mode"`
	OverallStatus  Status        `json:"overall_status"`
	Summary        Summary       `json:"summary"`
	Results        []CheckResult `json:"results"`
	Recommendation string        `json:"recommendation"`
}

// newReport aggregates results into a finished report. Overall status is FAIL
// iff any result failed; warnings alone never fail a report.
func newReport(mode Mode, results []CheckResult, cancelled bool, now time.Time) *Report {
	r := &Report{
		Timestamp: now,
		Mode:      mode,
		Results:   results,
	}

	for _, res := range results {
		r.Summary.TotalChecks++
		switch res.Status {
		case StatusPass:
			r.Summary.Passed++
		case StatusFail:
			r.Summary.Failed++
		case StatusWarn:
			r.Summary.Warnings++
		}
	}

	switch {
	case cancelled:
		r.OverallStatus = StatusCancelled
	case r.Summary.Failed > 0:
		r.OverallStatus = StatusFail
	default:
		r.OverallStatus = StatusPass
	}

	switch {
	case cancelled:
		r.Recommendation = "RERUN"
	case r.Summary.Failed > 0:
		r.Recommendation = "ROLLBACK"
	default:
		r.Recommendation = "PROCEED"
	}
	return r
}

// JSON marshals the report in the machine-readable shape.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Render returns the human-readable console summary. Every failure is listed
// in full; mismatch lists are never truncated.
func (r *Report) Render(originDriver, targetDriver string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Validation run (%s) at %s\n\n", r.Mode, r.Timestamp.Format(time.RFC3339)))

	for _, res := range r.Results {
		mark := "✓"
		if res.Status == StatusFail {
			mark = "✗"
		} else if res.Status == StatusWarn {
			mark = "!"
		}
		sb.WriteString(fmt.Sprintf("%s %-40s [%s] %s_value=%v, %s_value=%v, status=%s\n",
			mark, res.CheckName, res.Category,
			originDriver, res.OriginValue, targetDriver, res.TargetValue, res.Status))
		if res.Detail != "" && res.Status != StatusPass {
			for _, line := range strings.Split(res.Detail, "\n") {
				sb.WriteString("    " + line + "\n")
			}
		}
	}

	sb.WriteString(fmt.Sprintf("\n%d checks: %d passed, %d failed, %d warnings\n",
		r.Summary.TotalChecks, r.Summary.Passed, r.Summary.Failed, r.Summary.Warnings))
	sb.WriteString(fmt.Sprintf("Overall: %s (recommendation: %s)\n", r.OverallStatus, r.Recommendation))
	return sb.String()
}
