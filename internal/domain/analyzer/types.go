// Package analyzer defines the gateway's view of the remote content
// analyzer: the verdict shape admission decisions are made from, and the
// port the admission pipeline calls through. The analyzer's own detection
// logic (PII models, regex banks, embedding similarity) is an external
// collaborator; this package only models its wire contract in domain
// terms, decoupled from the gRPC/JSON transport in pkg/analyzerpb.
package analyzer

import "context"

// IssueKind mirrors analyzerpb.IssueKind at the domain level so callers
// outside the transport layer never import the wire package directly.
type IssueKind string

const (
	IssueKindUnknown               IssueKind = "UNKNOWN"
	IssueKindAPIKey                IssueKind = "API_KEY"
	IssueKindEmail                 IssueKind = "EMAIL"
	IssueKindPhone                 IssueKind = "PHONE"
	IssueKindSSN                   IssueKind = "SSN"
	IssueKindCreditCard            IssueKind = "CREDIT_CARD"
	IssueKindIPAddress             IssueKind = "IP_ADDRESS"
	IssueKindPerson                IssueKind = "PERSON"
	IssueKindLocation              IssueKind = "LOCATION"
	IssueKindURL                   IssueKind = "URL"
	IssueKindPassword              IssueKind = "PASSWORD"
	IssueKindPromptInjection       IssueKind = "PROMPT_INJECTION"
	IssueKindJailbreak             IssueKind = "JAILBREAK"
	IssueKindExcessiveSpecialChars IssueKind = "EXCESSIVE_SPECIAL_CHARS"
	IssueKindEncodedPayload        IssueKind = "ENCODED_PAYLOAD"
)

// Issue is one finding within a Verdict.
type Issue struct {
	Kind        IssueKind
	Text        string
	Start       int32
	End         int32
	Confidence  float64
	Replacement string
}

// Verdict is the analyzer's immutable decision for a single content
// string: whether it's safe, a redacted preview, and the issues found.
type Verdict struct {
	IsSafe       bool
	RedactedText string
	Issues       []Issue
	Confidence   float64
}

// Health reports the analyzer's liveness, as returned by HealthCheck.
type Health struct {
	Serving bool
	Version string
	Uptime  int64 // milliseconds
}

// Client is the outbound port the admission pipeline calls through. An
// error from CheckContent after retries means the analyzer could not be
// reached at all — the gateway fails closed on that, unlike rate-limit
// store errors.
type Client interface {
	CheckContent(ctx context.Context, text, requestID string, metadata map[string]string) (Verdict, error)
	HealthCheck(ctx context.Context) (Health, error)
	Close() error
}
