// Package cel provides a CEL-based implementation of blockrule.Evaluator,
// adapted from the teacher's policy-expression evaluator: the same
// compile-once/evaluate-many shape, expression-length and nesting-depth
// guards, a CEL cost budget, and a per-evaluation timeout, but rebound to
// the gateway's admission Context instead of the teacher's policy engine.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	celgo "github.com/google/cel-go/cel"

	"github.com/sentinelgate/gateway/internal/domain/blockrule"
)

const (
	maxExpressionLength = 1024
	maxCostBudget       = 100_000
	maxNestingDepth      = 50
	evalTimeout          = 2 * time.Second
	interruptCheckFreq   = 100
)

// Evaluator compiles blockrule.Rule expressions into cel-go programs.
type Evaluator struct {
	env *celgo.Env
}

var _ blockrule.Evaluator = (*Evaluator)(nil)

// NewEvaluator builds the CEL environment exposing the fields of
// blockrule.Context as variables: caller_digest, model, issue_kinds
// (list of string), confidence (double), metadata (map of string).
func NewEvaluator() (*Evaluator, error) {
	env, err := celgo.NewEnv(
		celgo.Variable("caller_digest", celgo.StringType),
		celgo.Variable("model", celgo.StringType),
		celgo.Variable("issue_kinds", celgo.ListType(celgo.StringType)),
		celgo.Variable("confidence", celgo.DoubleType),
		celgo.Variable("metadata", celgo.MapType(celgo.StringType, celgo.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: build environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// program wraps a compiled cel-go program to satisfy blockrule.Program.
type program struct {
	name string
	prg  celgo.Program
}

func (p *program) Evaluate(ctx blockrule.Context) (bool, error) {
	activation, err := celgo.NewActivation(toVars(ctx))
	if err != nil {
		return false, fmt.Errorf("cel: build activation for rule %q: %w", p.name, err)
	}

	evalCtx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := p.prg.ContextEval(evalCtx, activation)
	if err != nil {
		return false, fmt.Errorf("cel: evaluate rule %q: %w", p.name, err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: rule %q did not return a boolean, got %T", p.name, result.Value())
	}
	return matched, nil
}

func toVars(ctx blockrule.Context) map[string]interface{} {
	return map[string]interface{}{
		"caller_digest": ctx.CallerDigest,
		"model":         ctx.Model,
		"issue_kinds":   ctx.IssueKinds,
		"confidence":    ctx.Confidence,
		"metadata":      ctx.Metadata,
	}
}

// Compile parses, type-checks, and cost-limits rule.Expression, guarding
// against pathologically long or deeply nested expressions before the CEL
// compiler ever sees them.
func (e *Evaluator) Compile(rule blockrule.Rule) (blockrule.Program, error) {
	if rule.Expression == "" {
		return nil, errors.New("cel: expression is empty")
	}
	if len(rule.Expression) > maxExpressionLength {
		return nil, fmt.Errorf("cel: expression too long: %d characters (max %d)", len(rule.Expression), maxExpressionLength)
	}
	if err := validateNesting(rule.Expression); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compile rule %q: %w", rule.Name, issues.Err())
	}

	prg, err := e.env.Program(ast,
		celgo.EvalOptions(celgo.OptOptimize),
		celgo.CostLimit(maxCostBudget),
		celgo.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: build program for rule %q: %w", rule.Name, err)
	}

	return &program{name: rule.Name, prg: prg}, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("cel: expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}
