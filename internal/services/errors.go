package services

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned on any authorization denial. Handlers must
	// not add detail that would reveal whether the target exists.
	ErrForbidden = errors.New("forbidden")

	// ErrLocked is returned when a maker edits a submitted obligation that
	// has not been reopened.
	ErrLocked = errors.New("locked: submitted and pending review")

	// ErrInvalidTransition is returned for status changes the lifecycle
	// forbids, e.g. a checker reopening a completed obligation.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAttachmentRequired is returned when displayed-in-FC is set to Yes
	// without any image attachment.
	ErrAttachmentRequired = errors.New("image attachment required")

	ErrNotFound = errors.New("not found")
)

// FieldValidationError reports a missing or invalid required field.
type FieldValidationError struct {
	Field string
}

func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("field validation failed: %s", e.Field)
}

func fieldRequired(field string) error {
	return &FieldValidationError{Field: field}
}
