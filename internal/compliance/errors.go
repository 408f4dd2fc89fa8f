package compliance

import "fmt"

// ConsentError blocks an outbound send. Reason is user-facing.
type ConsentError struct {
	Status string
	Reason string
}

func (e *ConsentError) Error() string {
	return fmt.Sprintf("cannot send message: %s", e.Reason)
}

// WindowError blocks a non-template send outside the conversation window.
type WindowError struct {
	Reason string
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("outside conversation window: %s", e.Reason)
}

// ComplianceError blocks a template send that violates platform policy.
type ComplianceError struct {
	Reason string
}

func (e *ComplianceError) Error() string {
	return e.Reason
}
