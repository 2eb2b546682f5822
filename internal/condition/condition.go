// Package condition evaluates automation conditions against event facts.
//
// Evaluation is pure and fail-closed: an unsupported combination, an
// unparsable value or an absent fact yields false rather than an error.
// Configuration-time callers use Validate to surface those cases as
// explicit errors instead.
package condition

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/referral/internal/model"
)

// Facts are the values a condition may inspect. A nil field means the
// fact is not available for the event being evaluated.
type Facts struct {
	SignupCount   *int64
	PurchaseCount *int64
	ItemID        *string
}

// ConfigError reports a condition that can never be evaluated meaningfully.
type ConfigError struct {
	ConditionID string
	Parameter   model.Parameter
	Operator    model.Operator
	Message     string
}

func (e *ConfigError) Error() string {
	if e.ConditionID != "" {
		return fmt.Sprintf("condition %s (%s %s): %s", e.ConditionID, e.Parameter, e.Operator, e.Message)
	}
	return fmt.Sprintf("condition (%s %s): %s", e.Parameter, e.Operator, e.Message)
}

// Evaluate reports whether c holds for facts.
func Evaluate(c model.Condition, facts Facts) bool {
	switch c.Parameter {
	case model.ParamSignupCount:
		return compareCount(c, facts.SignupCount)
	case model.ParamPurchaseCount:
		return compareCount(c, facts.PurchaseCount)
	case model.ParamItemID:
		return matchItem(c, facts.ItemID)
	default:
		return false
	}
}

// Validate returns a *ConfigError when c uses an unknown parameter, an
// operator the parameter does not support, or a value that cannot be parsed.
func Validate(c model.Condition) error {
	fail := func(format string, args ...any) error {
		return &ConfigError{
			ConditionID: c.ID,
			Parameter:   c.Parameter,
			Operator:    c.Operator,
			Message:     fmt.Sprintf(format, args...),
		}
	}

	switch c.Parameter {
	case model.ParamSignupCount, model.ParamPurchaseCount:
		if c.Operator != model.OpLessOrEqual && c.Operator != model.OpEqual {
			return fail("count parameters support only %q and %q", model.OpLessOrEqual, model.OpEqual)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(c.Value))
		if err != nil {
			return fail("value %q is not a number", c.Value)
		}
		if !v.IsInteger() || v.IsNegative() {
			return fail("value %q must be a non-negative integer", c.Value)
		}
	case model.ParamItemID:
		if c.Operator != model.OpEqual && c.Operator != model.OpContains {
			return fail("item_id supports only %q and %q", model.OpEqual, model.OpContains)
		}
		if c.Value == "" {
			return fail("value must not be empty")
		}
	default:
		return fail("unknown parameter")
	}
	return nil
}

// Missing reports whether c needs a fact that facts does not carry.
// Unknown parameters need nothing; they simply evaluate to false.
func Missing(c model.Condition, facts Facts) bool {
	switch c.Parameter {
	case model.ParamSignupCount:
		return facts.SignupCount == nil
	case model.ParamPurchaseCount:
		return facts.PurchaseCount == nil
	case model.ParamItemID:
		return facts.ItemID == nil
	default:
		return false
	}
}

// All reports whether every condition holds. An empty set holds.
func All(conds []model.Condition, facts Facts) bool {
	for _, c := range conds {
		if !Evaluate(c, facts) {
			return false
		}
	}
	return true
}

func compareCount(c model.Condition, fact *int64) bool {
	if fact == nil {
		return false
	}
	threshold, err := decimal.NewFromString(strings.TrimSpace(c.Value))
	if err != nil {
		return false
	}
	n := decimal.NewFromInt(*fact)

	switch c.Operator {
	case model.OpLessOrEqual:
		return n.LessThanOrEqual(threshold)
	case model.OpEqual:
		return n.Equal(threshold)
	default:
		return false
	}
}

func matchItem(c model.Condition, fact *string) bool {
	if fact == nil {
		return false
	}
	have := model.NormalizeItemID(*fact)
	want := model.NormalizeItemID(c.Value)

	switch c.Operator {
	case model.OpEqual:
		return have == want
	case model.OpContains:
		return strings.Contains(have, want)
	default:
		return false
	}
}
