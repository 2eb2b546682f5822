package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/referral/internal/model"
)

// RuntimeError represents an error detected while processing a trigger event.
//
// Runtime errors include:
//   - Invalid event: the trigger event fails validation
//   - Missing fact: a condition needs a fact the event does not carry
//   - Circle mismatch: a switch found the promoter outside the expected circle
//
// Missing facts and mismatches are local to one automation; siblings still run.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// EventID identifies the trigger event.
	EventID string

	// AutomationID identifies the automation (empty for event-level errors).
	AutomationID string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidEvent indicates the trigger event failed validation.
	ErrCodeInvalidEvent RuntimeErrorCode = "INVALID_EVENT"

	// ErrCodeMissingFact indicates a condition needs a fact the event lacks.
	ErrCodeMissingFact RuntimeErrorCode = "MISSING_FACT"

	// ErrCodeCircleMismatch indicates the promoter was not in the expected circle.
	ErrCodeCircleMismatch RuntimeErrorCode = "CIRCLE_MISMATCH"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.EventID != "" && e.AutomationID != "" {
		return fmt.Sprintf("%s: %s (event=%s, automation=%s)", e.Code, e.Message, e.EventID, e.AutomationID)
	}
	if e.EventID != "" {
		return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.EventID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsInvalidEvent returns true if err is an event validation error.
func IsInvalidEvent(err error) bool {
	return hasCode(err, ErrCodeInvalidEvent)
}

// IsMissingFact returns true if err (or any error it joins) is a missing-fact error.
// Uses errors.As, which walks errors.Join trees.
func IsMissingFact(err error) bool {
	return hasCode(err, ErrCodeMissingFact)
}

// IsCircleMismatch returns true if err is a circle mismatch.
func IsCircleMismatch(err error) bool {
	return hasCode(err, ErrCodeCircleMismatch)
}

// NewInvalidEventError wraps a validation failure.
func NewInvalidEventError(eventID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidEvent,
		Message: fmt.Sprintf("invalid trigger event: %v", err),
		EventID: eventID,
		Err:     err,
	}
}

// NewMissingFactError creates a RuntimeError for a condition whose fact is absent.
func NewMissingFactError(eventID, automationID string, c model.Condition) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeMissingFact,
		Message:      fmt.Sprintf("condition %s needs %s, which the event does not carry", c.ID, c.Parameter),
		EventID:      eventID,
		AutomationID: automationID,
		Details: map[string]string{
			"condition_id": c.ID,
			"parameter":    string(c.Parameter),
		},
	}
}

// NewCircleMismatchError creates a RuntimeError for a failed circle switch.
func NewCircleMismatchError(eventID, automationID, fromCircleID, toCircleID string) *RuntimeError {
	return &RuntimeError{
		Code:         ErrCodeCircleMismatch,
		Message:      fmt.Sprintf("promoter is not in circle %s; switch to %s skipped", fromCircleID, toCircleID),
		EventID:      eventID,
		AutomationID: automationID,
		Details: map[string]string{
			"from_circle": fromCircleID,
			"to_circle":   toCircleID,
		},
	}
}
