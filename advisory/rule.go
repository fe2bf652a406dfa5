package advisory

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/zero-day-ai/responder/finding"
)

// DefaultSeverityExpression rates advisories whose title mentions
// "critical" as critical and everything else as medium.
const DefaultSeverityExpression = `title.matches("(?i)critical") ? 9.0 : 4.0`

// CELRule derives a finding's severity from a CEL expression. The
// expression sees the string variables id, source, title, detail and link
// and must evaluate to a number.
type CELRule struct {
	expr    string
	program cel.Program
}

// NewCELRule compiles expr. An empty expr uses DefaultSeverityExpression.
func NewCELRule(expr string) (*CELRule, error) {
	if expr == "" {
		expr = DefaultSeverityExpression
	}

	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("detail", cel.StringType),
		cel.Variable("link", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile severity rule: %w", issues.Err())
	}

	out := ast.OutputType()
	if !out.IsExactType(cel.DoubleType) && !out.IsExactType(cel.IntType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("severity rule must evaluate to a number, got %s", out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build severity rule: %w", err)
	}

	return &CELRule{expr: expr, program: program}, nil
}

// Expression returns the rule's source.
func (r *CELRule) Expression() string {
	return r.expr
}

// Severity implements finding.SeverityRule.
func (r *CELRule) Severity(f *finding.Finding) (float64, error) {
	val, _, err := r.program.Eval(map[string]any{
		"id":     f.ID,
		"source": f.Source.String(),
		"title":  f.Title,
		"detail": f.Detail,
		"link":   f.Link,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate severity rule: %w", err)
	}

	switch v := val.Value().(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("severity rule returned %T, want a number", v)
	}
}
