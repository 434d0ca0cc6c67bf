package orchestrator

import (
	"fmt"

	"github.com/mpataki/clerk/internal/models"
)

// LocalValidationError means the answers failed client-side validation. No
// request was made.
type LocalValidationError struct {
	Errors models.ErrorMap
}

func (e *LocalValidationError) Error() string {
	return fmt.Sprintf("%d answer(s) failed validation", len(e.Errors))
}

// RemoteValidationError means the service rejected the answers. Errors may
// name fields the client does not know about.
type RemoteValidationError struct {
	Errors  models.ErrorMap
	Message string
}

func (e *RemoteValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d answer(s) rejected", e.Message, len(e.Errors))
	}
	return fmt.Sprintf("%d answer(s) rejected by the contract service", len(e.Errors))
}

// ServiceError is a failed exchange with the contract service. Retriable
// errors leave the answers in place for another attempt.
type ServiceError struct {
	Message   string
	Retriable bool
	Err       error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}
