package types

import "fmt"

// ErrorKind is the error taxonomy of §7 — kinds, not Go types, shared
// across every component so callers can branch on a single field rather
// than a type-switch per package.
type ErrorKind string

const (
	KindTransport   ErrorKind = "TransportError"
	KindValidation  ErrorKind = "ValidationError"
	KindRiskRefusal ErrorKind = "RiskRefusal"
	KindLLMSchema   ErrorKind = "LLMSchemaError"
	KindPersistence ErrorKind = "PersistenceError"
	KindBusinessWarning ErrorKind = "BusinessWarning"
	KindFatal       ErrorKind = "Fatal"
)

// OrchestratorError wraps an underlying error with its taxonomy kind
// and enough context to write an Event row without re-deriving it.
type OrchestratorError struct {
	Kind      ErrorKind
	Component string
	Message   string
	Err       error
}

func (e *OrchestratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Component, e.Message)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

// NewError builds an OrchestratorError of the given kind.
func NewError(kind ErrorKind, component, message string, cause error) *OrchestratorError {
	return &OrchestratorError{Kind: kind, Component: component, Message: message, Err: cause}
}

// BrokerUnavailable is the distinct terminal-failure error the Broker
// Bridge Client returns per §4.2, treated fail-closed by risk gates.
var BrokerUnavailable = NewError(KindTransport, "broker", "broker bridge unavailable after retries", nil)

// IsKind reports whether err is an *OrchestratorError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	oe, ok := err.(*OrchestratorError)
	if !ok {
		return false
	}
	return oe.Kind == kind
}
