// Package commission computes commission amounts from a commission spec.
package commission

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/referral/internal/model"
)

// Places is the number of decimal places commission amounts are rounded to.
const Places = 2

// ErrInvalidSpec is returned by ValidateSpec for specs that cannot be applied.
var ErrInvalidSpec = errors.New("invalid commission spec")

var hundred = decimal.NewFromInt(100)

// Compute returns the commission for spec given an optional revenue.
//
// FIXED returns the configured value unchanged. PERCENTAGE returns
// revenue*value/100 rounded half-up to Places; a nil revenue counts as zero.
func Compute(spec model.CommissionSpec, revenue *decimal.Decimal) decimal.Decimal {
	switch spec.Type {
	case model.CommissionFixed:
		return spec.Value
	case model.CommissionPercentage:
		base := decimal.Zero
		if revenue != nil {
			base = *revenue
		}
		return base.Mul(spec.Value).Div(hundred).Round(Places)
	default:
		return decimal.Zero
	}
}

// ValidateSpec checks that spec has a known type and an in-range value:
// a FIXED amount must be non-negative with at most Places decimals and a
// PERCENTAGE must lie in (0, 100].
func ValidateSpec(spec model.CommissionSpec) error {
	switch spec.Type {
	case model.CommissionFixed:
		if spec.Value.IsNegative() {
			return fmt.Errorf("%w: fixed amount %s is negative", ErrInvalidSpec, spec.Value)
		}
		if !spec.Value.Equal(spec.Value.Round(Places)) {
			return fmt.Errorf("%w: fixed amount %s has more than %d decimals", ErrInvalidSpec, spec.Value, Places)
		}
	case model.CommissionPercentage:
		if !spec.Value.IsPositive() || spec.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage %s outside (0, 100]", ErrInvalidSpec, spec.Value)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSpec, spec.Type)
	}
	return nil
}
