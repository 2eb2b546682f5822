package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/roach88/referral/internal/model"
	"github.com/roach88/referral/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	// Header with assertion type
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)

	// Expected vs Actual (most important info)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s: %s\n", event.Step, event.Kind, event.EventID, event)
		}
	}

	return buf.String()
}

// AssertionContext provides database access for state assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// assertOutcome checks that the automation produced the expected outcome
// for the event at least once (a retried event is traced again).
func assertOutcome(trace []TraceEvent, a Assertion) error {
	var seen []string
	for _, e := range trace {
		if e.EventID != a.Event || e.Automation != a.Automation {
			continue
		}
		if e.Status == a.Status && (a.Reason == "" || e.Reason == a.Reason) {
			return nil
		}
		seen = append(seen, e.String())
	}

	expected := fmt.Sprintf("%s %s on event %s", a.Automation, a.Status, a.Event)
	if a.Reason != "" {
		expected += fmt.Sprintf(" (%s)", a.Reason)
	}
	actual := "no outcome recorded"
	if len(seen) > 0 {
		actual = strings.Join(seen, ", ")
	}
	return &AssertionError{Type: AssertOutcome, Expected: expected, Actual: actual, Trace: trace}
}

func assertCommissionCount(ctx context.Context, st *store.Store, a Assertion) error {
	comms, err := st.ListCommissions(ctx, store.CommissionFilter{
		ProgramID:  a.Program,
		PromoterID: a.Promoter,
	})
	if err != nil {
		return fmt.Errorf("commission_count: %w", err)
	}

	n := 0
	for _, c := range comms {
		if a.Automation == "" || c.AutomationID == a.Automation {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertCommissionCount,
			Expected: fmt.Sprintf("%d commission(s) %s", a.Count, describeScope(a)),
			Actual:   fmt.Sprintf("%d commission(s)", n),
		}
	}
	return nil
}

func describeScope(a Assertion) string {
	parts := []string{"program=" + a.Program}
	if a.Promoter != "" {
		parts = append(parts, "promoter="+a.Promoter)
	}
	if a.Automation != "" {
		parts = append(parts, "automation="+a.Automation)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func assertMembership(ctx context.Context, st *store.Store, a Assertion) error {
	circle, err := st.GetMembership(ctx, a.Program, a.Promoter)
	if errors.Is(err, store.ErrNotFound) {
		circle = "<none>"
	} else if err != nil {
		return fmt.Errorf("membership: %w", err)
	}
	if circle != a.Circle {
		return &AssertionError{
			Type:     AssertMembership,
			Expected: fmt.Sprintf("promoter %s/%s in circle %s", a.Program, a.Promoter, a.Circle),
			Actual:   fmt.Sprintf("circle %s", circle),
		}
	}
	return nil
}

func assertRollup(ctx context.Context, st *store.Store, a Assertion) error {
	dim, err := model.ParseDimension(a.Dimension)
	if err != nil {
		return fmt.Errorf("rollup: %w", err)
	}
	key := model.Key{Dimension: dim, ID: a.ID, ProgramID: a.Program}

	var (
		totals model.Totals
		days   *int
		where  = key.String() + " all-time"
	)
	if a.Date != "" {
		where = key.String() + " " + a.Date
		row, err := st.GetDayRollup(ctx, key, a.Date)
		if errors.Is(err, store.ErrNotFound) {
			return &AssertionError{Type: AssertRollup, Expected: "row " + where, Actual: "no row"}
		}
		if err != nil {
			return fmt.Errorf("rollup: %w", err)
		}
		totals = row.Totals
	} else {
		row, err := st.GetRollup(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return &AssertionError{Type: AssertRollup, Expected: "row " + where, Actual: "no row"}
		}
		if err != nil {
			return fmt.Errorf("rollup: %w", err)
		}
		totals = row.Totals
		days = &row.Days
	}

	names := make([]string, 0, len(a.Expect))
	for name := range a.Expect {
		names = append(names, name)
	}
	sort.Strings(names)

	var mismatches []string
	for _, name := range names {
		actual, ok := metricValue(name, totals, days)
		if !ok {
			return fmt.Errorf("rollup: unknown metric %q for %s", name, where)
		}
		expected, err := decimal.NewFromString(a.Expect[name])
		if err != nil {
			return fmt.Errorf("rollup: metric %s: invalid expected value %q", name, a.Expect[name])
		}
		if !actual.Equal(expected) {
			mismatches = append(mismatches, fmt.Sprintf("%s=%s (want %s)", name, actual, expected))
		}
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertRollup,
			Expected: fmt.Sprintf("%s matches %v", where, a.Expect),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}

// metricValue reads a named metric. days is nil for day rows.
func metricValue(name string, t model.Totals, days *int) (decimal.Decimal, bool) {
	switch name {
	case "signups":
		return decimal.NewFromInt(t.Signups), true
	case "purchases":
		return decimal.NewFromInt(t.Purchases), true
	case "revenue":
		return t.Revenue, true
	case "commission":
		return t.Commission, true
	case "signup_commission":
		return t.SignupCommission, true
	case "purchase_commission":
		return t.PurchaseCommission, true
	case "days":
		if days == nil {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromInt(int64(*days)), true
	default:
		return decimal.Decimal{}, false
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		if assertion.Type != AssertOutcome && (actx == nil || actx.Store == nil) {
			errs = append(errs, fmt.Sprintf("assertion[%d]: %s requires database context", i, assertion.Type))
			continue
		}

		switch assertion.Type {
		case AssertOutcome:
			err = assertOutcome(result.Trace, assertion)
		case AssertCommissionCount:
			err = assertCommissionCount(actx.Ctx, actx.Store, assertion)
		case AssertMembership:
			err = assertMembership(actx.Ctx, actx.Store, assertion)
		case AssertRollup:
			err = assertRollup(actx.Ctx, actx.Store, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
