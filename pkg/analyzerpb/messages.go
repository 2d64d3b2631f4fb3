// Package analyzerpb defines the wire contract for the content analyzer
// service. Rather than generating stubs with protoc, the messages are
// plain Go structs carrying `json` tags, sent over a real gRPC channel
// using the codec in codec.go. This keeps the gateway's build hermetic
// (no protoc / buf toolchain dependency) while still exercising gRPC's
// connection management, deadlines, and keepalive.
package analyzerpb

// IssueKind enumerates the categories the analyzer can detect in a piece
// of content. Values match the wire contract's string enumeration.
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

// DetectedIssue is a single finding within a CheckContentResponse.
type DetectedIssue struct {
	Type        IssueKind `json:"type"`
	Text        string    `json:"text"`
	Start       int32     `json:"start"`
	End         int32     `json:"end"`
	Confidence  float64   `json:"confidence"`
	Replacement string    `json:"replacement"`
}

// CheckContentRequest carries the text to analyze plus caller metadata
// that the analyzer may use for logging or rate-specific heuristics.
type CheckContentRequest struct {
	Content   string            `json:"content"`
	RequestID string            `json:"request_id"`
	Metadata  map[string]string `json:"metadata"`
}

// CheckContentResponse is the analyzer's verdict for a single request.
type CheckContentResponse struct {
	IsSafe          bool            `json:"is_safe"`
	RedactedText    string          `json:"redacted_text"`
	DetectedIssues  []DetectedIssue `json:"detected_issues"`
	ConfidenceScore float64         `json:"confidence_score"`
	RequestID       string          `json:"request_id"`
}

// HealthCheckRequest has no fields; its presence keeps the RPC's shape
// symmetric with CheckContent and leaves room for future fields.
type HealthCheckRequest struct{}

// ServingStatus mirrors the standard gRPC health-checking protocol's
// status enumeration; readiness treats only Serving as healthy.
type ServingStatus string

const (
	ServingStatusUnknown       ServingStatus = "UNKNOWN"
	ServingStatusServing       ServingStatus = "SERVING"
	ServingStatusNotServing    ServingStatus = "NOT_SERVING"
	ServingStatusServiceUnknown ServingStatus = "SERVICE_UNKNOWN"
)

// HealthCheckResponse reports the analyzer's liveness.
type HealthCheckResponse struct {
	ServingStatus ServingStatus `json:"serving_status"`
	Version       string        `json:"version"`
	UptimeMs      int64         `json:"uptime_ms"`
}

const (
	// ServiceName is the gRPC service path segment used when invoking
	// methods via grpc.ClientConn.Invoke.
	ServiceName = "sentinelgate.analyzer.v1.ContentAnalyzer"

	// MethodCheckContent is the full method name for the CheckContent RPC.
	MethodCheckContent = "/" + ServiceName + "/CheckContent"

	// MethodHealthCheck is the full method name for the HealthCheck RPC.
	MethodHealthCheck = "/" + ServiceName + "/HealthCheck"
)
