package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/referral/internal/commission"
	"github.com/roach88/referral/internal/condition"
	"github.com/roach88/referral/internal/model"
)

// Validation error codes (E100-E199)
const (
	ErrProgramNoCircles   = "E101" // at least one circle required
	ErrUnknownCircle      = "E102" // circle reference does not resolve
	ErrDuplicateID        = "E103" // duplicate link id within a program
	ErrInvalidTrigger     = "E104" // trigger not SIGNUP or PURCHASE
	ErrInvalidStatus      = "E105" // status not ACTIVE or INACTIVE
	ErrInvalidCommission  = "E106" // commission spec out of range
	ErrInvalidCondition   = "E107" // unsupported parameter/operator/value
	ErrSwitchToSameCircle = "E108" // switch target equals the automation's circle
	ErrEmptyReference     = "E109" // promoter or link reference is blank
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateProgram checks a compiled program's references and ranges.
// Returns all errors found (does not fail-fast).
func ValidateProgram(cfg *model.ProgramConfig) []ValidationError {
	var errs []ValidationError

	// E101: circles are the unit automations attach to
	if len(cfg.Circles) == 0 {
		errs = append(errs, ValidationError{
			Field:   "circles",
			Message: fmt.Sprintf("program %q declares no circles", cfg.ID),
			Code:    ErrProgramNoCircles,
		})
	}

	circles := make(map[string]bool, len(cfg.Circles))
	for _, c := range cfg.Circles {
		circles[c.ID] = true
	}

	for _, p := range cfg.Promoters {
		if p.CircleID != "" && !circles[p.CircleID] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("promoters.%s.circle", p.ID),
				Message: fmt.Sprintf("unknown circle %q", p.CircleID),
				Code:    ErrUnknownCircle,
			})
		}
		if strings.TrimSpace(p.Reference) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("promoters.%s.reference", p.ID),
				Message: "reference must be non-empty",
				Code:    ErrEmptyReference,
			})
		}
	}

	links := make(map[string]string, len(cfg.Links))
	for _, l := range cfg.Links {
		if owner, dup := links[l.ID]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("promoters.%s.links.%s", l.PromoterID, l.ID),
				Message: fmt.Sprintf("link id already used by promoter %q", owner),
				Code:    ErrDuplicateID,
			})
			continue
		}
		links[l.ID] = l.PromoterID
	}

	for _, a := range cfg.Automations {
		errs = append(errs, validateAutomation(a, circles)...)
	}

	return errs
}

func validateAutomation(a model.Automation, circles map[string]bool) []ValidationError {
	var errs []ValidationError
	field := "automations." + a.ID

	if !circles[a.CircleID] {
		errs = append(errs, ValidationError{
			Field:   field + ".circle",
			Message: fmt.Sprintf("unknown circle %q", a.CircleID),
			Code:    ErrUnknownCircle,
		})
	}
	if !a.Trigger.Valid() {
		errs = append(errs, ValidationError{
			Field:   field + ".trigger",
			Message: fmt.Sprintf("invalid trigger %q, must be %q or %q", a.Trigger, model.TriggerSignup, model.TriggerPurchase),
			Code:    ErrInvalidTrigger,
		})
	}
	if !a.Status.Valid() {
		errs = append(errs, ValidationError{
			Field:   field + ".status",
			Message: fmt.Sprintf("invalid status %q, must be %q or %q", a.Status, model.StatusActive, model.StatusInactive),
			Code:    ErrInvalidStatus,
		})
	}

	switch eff := a.Effect.(type) {
	case model.GenerateCommission:
		if err := commission.ValidateSpec(eff.Spec); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".effect.commission",
				Message: err.Error(),
				Code:    ErrInvalidCommission,
			})
		}
	case model.SwitchCircle:
		if !circles[eff.TargetCircleID] {
			errs = append(errs, ValidationError{
				Field:   field + ".effect.circle",
				Message: fmt.Sprintf("unknown target circle %q", eff.TargetCircleID),
				Code:    ErrUnknownCircle,
			})
		} else if eff.TargetCircleID == a.CircleID {
			errs = append(errs, ValidationError{
				Field:   field + ".effect.circle",
				Message: "target circle equals the automation's circle",
				Code:    ErrSwitchToSameCircle,
			})
		}
	}

	for i, c := range a.Conditions {
		if err := condition.Validate(c); err != nil {
			var ce *condition.ConfigError
			msg := err.Error()
			if errors.As(err, &ce) {
				msg = ce.Message
			}
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.conditions[%d]", field, i),
				Message: msg,
				Code:    ErrInvalidCondition,
			})
		}
	}

	return errs
}
