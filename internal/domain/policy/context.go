package policy

import "time"

// EvaluationContext is the input to a policy Evaluator: everything needed
// to produce a Decision for one tool call, independent of transport.
//
// The Destination and identity fields are optional context a custom CEL
// rule can key off (egress domain/IP allowlisting, role-based overrides)
// but that the base read_only/write_tools decision surface ignores.
type EvaluationContext struct {
	ToolName         string
	ToolArguments    map[string]any
	SessionID        string
	Context          map[string]any
	ApprovalToken    string
	HasApprovalToken bool

	IdentityID   string
	IdentityName string
	UserRoles    []string
	RequestTime  time.Time

	ActionType string
	ActionName string
	Protocol   string
	Framework  string
	Gateway    string

	DestURL     string
	DestDomain  string
	DestIP      string
	DestPort    int
	DestScheme  string
	DestPath    string
	DestCommand string
}
