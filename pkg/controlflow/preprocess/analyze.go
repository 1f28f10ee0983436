package preprocess

import (
	"context"
	"fmt"
	"time"

	"github.com/tombee/scriptflow/pkg/controlflow/ast"
	"github.com/tombee/scriptflow/pkg/controlflow/handler"
	"github.com/tombee/scriptflow/pkg/controlflow/parser"
	"github.com/tombee/scriptflow/pkg/errors"
	"github.com/tombee/scriptflow/pkg/script"
)

// Report-level issue codes.
const (
	CodeParsingFailed       = "PARSING_FAILED"
	CodeASTValidationFailed = "AST_VALIDATION_FAILED"
)

// ValidationReport is the outcome of ValidateScript.
type ValidationReport struct {
	IsValid     bool            `json:"is_valid"`
	Errors      []handler.Issue `json:"errors,omitempty"`
	Warnings    []handler.Issue `json:"warnings,omitempty"`
	Suggestions []handler.Issue `json:"suggestions,omitempty"`
}

// ValidateScript parses steps and validates every control structure without
// expanding anything.
func (p *Preprocessor) ValidateScript(steps []script.Step) *ValidationReport {
	report := &ValidationReport{IsValid: true}

	root, err := parser.New(p.config.Parser).WithLogger(p.logger).Parse(steps)
	if err != nil {
		msg := err.Error()
		if s := errors.SuggestionOf(err); s != "" {
			msg = fmt.Sprintf("%s (%s)", msg, s)
		}
		report.IsValid = false
		report.Errors = append(report.Errors, handler.Issue{
			Code:     CodeParsingFailed,
			Message:  msg,
			Severity: handler.SeverityError,
		})
		p.logger.Info("script validation finished", "valid", false, "errors", 1)
		return report
	}

	root.Walk(func(n *ast.Node, _ int) bool {
		if n.IsSequential() {
			return true
		}
		h, ok := p.registry.Find(n)
		if !ok {
			// Branch and section nodes are validated through their block.
			if isSection(n) {
				return true
			}
			report.Errors = append(report.Errors, handler.Issue{
				Code:     CodeASTValidationFailed,
				Message:  fmt.Sprintf("no registered handler accepts %s node", n.FlowType.Kind),
				NodeID:   n.ID,
				Severity: handler.SeverityError,
			})
			return false
		}
		if n.IsLoop() && !p.config.Handler.AllowNestedLoops {
			for _, c := range handler.NestedLoops(n) {
				report.Errors = append(report.Errors, handler.Issue{
					Code:     CodeASTValidationFailed,
					Message:  fmt.Sprintf("loop %q is nested in loop %q; nested loops require a dedicated handler", c.ID, n.ID),
					NodeID:   c.ID,
					Severity: handler.SeverityError,
				})
			}
		}
		v := h.Validate(n)
		report.Errors = append(report.Errors, v.Errors...)
		report.Warnings = append(report.Warnings, v.Warnings...)
		report.Suggestions = append(report.Suggestions, v.Suggestions...)
		return true
	})

	report.IsValid = len(report.Errors) == 0
	p.logger.Info("script validation finished",
		"valid", report.IsValid,
		"errors", len(report.Errors),
		"warnings", len(report.Warnings))
	return report
}

func isSection(n *ast.Node) bool {
	switch {
	case n.FlowType.Conditional != nil:
		return n.FlowType.Conditional.Branch != ""
	case n.FlowType.TryCatch != nil:
		return n.FlowType.TryCatch.Section != ""
	}
	return false
}

// ComplexityAnalysis summarizes the size and shape of a script.
type ComplexityAnalysis struct {
	OriginalSteps     int                  `json:"original_steps"`
	ExpandedSteps     int                  `json:"expanded_steps"`
	ExpansionRatio    float64              `json:"expansion_ratio"`
	ControlStructures int                  `json:"control_structures"`
	NestingDepth      int                  `json:"nesting_depth"`
	EstimatedDuration time.Duration        `json:"estimated_duration"`
	Rating            ast.ComplexityRating `json:"complexity_rating"`
}

// AnalyzeComplexity preprocesses steps and reports on the expansion.
func (p *Preprocessor) AnalyzeComplexity(ctx context.Context, steps []script.Step) (*ComplexityAnalysis, error) {
	res, err := p.PreprocessScript(ctx, steps)
	if err != nil {
		return nil, err
	}
	a := &ComplexityAnalysis{
		OriginalSteps:     res.OriginalStepCount,
		ExpandedSteps:     res.ProcessedStepCount,
		ExpansionRatio:    float64(res.ProcessedStepCount) / float64(max(res.OriginalStepCount, 1)),
		ControlStructures: res.Stats.ControlStructuresFound,
		NestingDepth:      res.Plan.Stats.MaxNesting,
		EstimatedDuration: res.Plan.Stats.EstimatedDuration,
		Rating:            res.Plan.Stats.ComplexityRating,
	}
	p.logger.Debug("complexity analyzed",
		"expansion_ratio", a.ExpansionRatio,
		"nesting_depth", a.NestingDepth,
		"rating", a.Rating)
	return a, nil
}
