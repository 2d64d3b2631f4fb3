// Package blockrule defines the gateway's optional custom block-rule hook:
// operator-supplied boolean expressions evaluated against a request's
// admission context, letting an operator block traffic the analyzer
// itself wouldn't catch (e.g. "never let model X see a caller outside
// tier Y", or "block if more than two issues were detected regardless of
// confidence").
package blockrule

// Context is the read-only view of a request a rule expression can
// inspect. It carries no raw identifiers — only what the admission
// pipeline already computed (digests, not IPs or keys).
type Context struct {
	CallerDigest string
	Model        string
	IssueKinds   []string
	Confidence   float64
	Metadata     map[string]string
}

// Rule is a single named, compiled-on-load expression. Name is used only
// for logging which rule fired.
type Rule struct {
	Name       string
	Expression string
}

// Program is a compiled Rule ready for repeated evaluation.
type Program interface {
	// Evaluate runs the compiled expression against ctx, returning true if
	// the rule matches (and therefore the request should be blocked).
	Evaluate(ctx Context) (bool, error)
}

// Evaluator compiles Rule expressions into reusable Programs.
type Evaluator interface {
	Compile(rule Rule) (Program, error)
}
