package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/roach88/referral/internal/aggregate"
	"github.com/roach88/referral/internal/commission"
	"github.com/roach88/referral/internal/condition"
	"github.com/roach88/referral/internal/metrics"
	"github.com/roach88/referral/internal/model"
	"github.com/roach88/referral/internal/store"
)

// OutcomeStatus is the result of one automation for one event.
type OutcomeStatus string

const (
	// OutcomeApplied means the effect was committed.
	OutcomeApplied OutcomeStatus = "applied"
	// OutcomeSkipped means a filter or condition excluded the automation.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeFailed means a condition needed a fact the event lacks.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeDuplicate means the automation already fired for this event.
	OutcomeDuplicate OutcomeStatus = "duplicate"
	// OutcomeMismatch means a circle switch found the promoter had left the
	// automation's circle after the snapshot was taken. A promoter already
	// outside the circle in the snapshot is reported as skipped with
	// reason "circle" instead.
	OutcomeMismatch OutcomeStatus = "mismatch"
)

// Skip reasons reported in Outcome.Reason.
const (
	ReasonInactive  = "inactive"
	ReasonTrigger   = "trigger"
	ReasonCircle    = "circle"
	ReasonCondition = "condition"
)

// Outcome describes what happened to one automation.
type Outcome struct {
	AutomationID string           `json:"automation_id"`
	Effect       model.EffectType `json:"effect"`
	Status       OutcomeStatus    `json:"status"`
	Reason       string           `json:"reason,omitempty"`
	CommissionID string           `json:"commission_id,omitempty"`
	Err          error            `json:"-"`
}

// Result is the per-event report of Process.
type Result struct {
	EventID     string             `json:"event_id"`
	Outcomes    []Outcome          `json:"outcomes"`
	Commissions []model.Commission `json:"commissions,omitempty"`
}

// Applied returns the outcomes whose effect was committed.
func (r *Result) Applied() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == OutcomeApplied {
			out = append(out, o)
		}
	}
	return out
}

// snapshot is the pre-event state every automation is evaluated against.
type snapshot struct {
	circleID string
	facts    condition.Facts
}

// Engine evaluates automations for trigger events and applies their effects.
//
// Thread-safety: Process may be called from multiple goroutines; the store
// serializes the writes.
type Engine struct {
	store    *store.Store
	agg      *aggregate.Aggregator
	ids      model.IDGenerator
	clock    model.Clock
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithIDGenerator sets the generator for commission ids.
// Default: UUIDv7Generator.
func WithIDGenerator(g model.IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithClock sets the clock used for membership and firing timestamps.
func WithClock(c model.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithMetrics records event and automation outcomes.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine writing to s. Commission effects refresh rollups
// through agg inside the commission's transaction.
func New(s *store.Store, agg *aggregate.Aggregator, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    s,
		agg:      agg,
		ids:      model.UUIDv7Generator{},
		clock:    model.SystemClock{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// HandleTrigger processes ev and discards the report. It lets the engine
// subscribe to an event source.
func (e *Engine) HandleTrigger(ctx context.Context, ev model.TriggerEvent) error {
	_, err := e.Process(ctx, ev)
	return err
}

// Process evaluates every automation of the event's program and applies
// the effects of those that hold.
//
// The returned Result is non-nil whenever evaluation started, even when an
// error is returned. The error joins missing-fact errors of individual
// automations, or carries the storage error that aborted the event.
func (e *Engine) Process(ctx context.Context, ev model.TriggerEvent) (*Result, error) {
	start := time.Now()
	res, err := e.process(ctx, ev)
	e.metrics.ObserveEvent(string(ev.Trigger), time.Since(start), err)
	return res, err
}

func (e *Engine) process(ctx context.Context, ev model.TriggerEvent) (*Result, error) {
	if err := e.validate.Struct(ev); err != nil {
		return nil, NewInvalidEventError(ev.EventID, err)
	}

	slog.Debug("processing trigger event",
		"event_id", ev.EventID,
		"trigger", ev.Trigger,
		"program_id", ev.ProgramID,
		"promoter_id", ev.PromoterID,
	)

	automations, err := e.store.ListAutomations(ctx, ev.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("load automations for event %s: %w", ev.EventID, err)
	}

	snap, err := e.takeSnapshot(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("snapshot for event %s: %w", ev.EventID, err)
	}

	res := &Result{EventID: ev.EventID}
	var factErrs []error

	// Evaluate everything first; apply afterwards.
	var firing []model.Automation
	for _, a := range automations {
		out, ok := e.evaluate(ev, snap, a)
		if ok {
			firing = append(firing, a)
			continue
		}
		if out.Status == OutcomeFailed {
			factErrs = append(factErrs, out.Err)
		}
		e.record(res, out)
	}

	for _, a := range firing {
		out, comm, err := e.apply(ctx, ev, a)
		if err != nil {
			slog.Error("effect application failed",
				"event_id", ev.EventID,
				"automation_id", a.ID,
				"effect", a.Effect.EffectType(),
				"error", err,
			)
			return res, errors.Join(append(factErrs, fmt.Errorf("apply %s for event %s: %w", a.ID, ev.EventID, err))...)
		}
		if comm != nil {
			res.Commissions = append(res.Commissions, *comm)
		}
		e.record(res, out)
	}

	return res, errors.Join(factErrs...)
}

func (e *Engine) record(res *Result, out Outcome) {
	res.Outcomes = append(res.Outcomes, out)
	e.metrics.AutomationOutcome(string(out.Status))
}

// takeSnapshot reads membership and counts once, in one transaction, so
// every automation sees the same pre-effect state.
func (e *Engine) takeSnapshot(ctx context.Context, ev model.TriggerEvent) (snapshot, error) {
	var snap snapshot
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		circleID, err := tx.GetMembership(ctx, ev.ProgramID, ev.PromoterID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			circleID = ""
		case err != nil:
			return err
		}

		// Counts are as of the triggering record, so a queued event sees
		// the same facts however late it is processed. Records of the other
		// kind count up to the event's timestamp.
		signups, purchases := int64(0), int64(0)
		switch ev.Trigger {
		case model.TriggerSignup:
			signups, err = tx.CountSignupsUpTo(ctx, ev.ProgramID, ev.PromoterID, ev.OccurredAt, ev.EventID)
			if err == nil {
				purchases, err = tx.CountPurchasesUpTo(ctx, ev.ProgramID, ev.PromoterID, ev.OccurredAt, "")
			}
		default:
			purchases, err = tx.CountPurchasesUpTo(ctx, ev.ProgramID, ev.PromoterID, ev.OccurredAt, ev.EventID)
			if err == nil {
				signups, err = tx.CountSignupsUpTo(ctx, ev.ProgramID, ev.PromoterID, ev.OccurredAt, "")
			}
		}
		if err != nil {
			return err
		}

		snap = snapshot{
			circleID: circleID,
			facts: condition.Facts{
				SignupCount:   &signups,
				PurchaseCount: &purchases,
				ItemID:        ev.ItemID,
			},
		}
		return nil
	})
	return snap, err
}

// evaluate decides whether a fires for ev. It returns ok=true for a
// surviving automation, otherwise the skipped or failed outcome.
func (e *Engine) evaluate(ev model.TriggerEvent, snap snapshot, a model.Automation) (Outcome, bool) {
	out := Outcome{AutomationID: a.ID, Status: OutcomeSkipped}
	if a.Effect != nil {
		out.Effect = a.Effect.EffectType()
	}

	switch {
	case a.Status != model.StatusActive:
		out.Reason = ReasonInactive
		return out, false
	case a.Trigger != ev.Trigger:
		out.Reason = ReasonTrigger
		return out, false
	case snap.circleID == "" || a.CircleID != snap.circleID:
		out.Reason = ReasonCircle
		return out, false
	}

	for _, c := range a.Conditions {
		if condition.Missing(c, snap.facts) {
			err := NewMissingFactError(ev.EventID, a.ID, c)
			slog.Warn("automation aborted: missing fact",
				"event_id", ev.EventID,
				"automation_id", a.ID,
				"condition_id", c.ID,
				"parameter", c.Parameter,
			)
			out.Status = OutcomeFailed
			out.Reason = string(c.Parameter)
			out.Err = err
			return out, false
		}
	}

	for _, c := range a.Conditions {
		if !condition.Evaluate(c, snap.facts) {
			slog.Debug("automation skipped: condition false",
				"event_id", ev.EventID,
				"automation_id", a.ID,
				"condition_id", c.ID,
			)
			out.Reason = ReasonCondition + ":" + c.ID
			return out, false
		}
	}

	return out, true
}

// apply commits a's effect. A storage error is returned; soft outcomes
// (duplicate, mismatch) are reported in the Outcome.
func (e *Engine) apply(ctx context.Context, ev model.TriggerEvent, a model.Automation) (Outcome, *model.Commission, error) {
	out := Outcome{AutomationID: a.ID, Effect: a.Effect.EffectType()}

	switch eff := a.Effect.(type) {
	case model.GenerateCommission:
		comm, fired, err := e.generateCommission(ctx, ev, a, eff)
		if err != nil {
			return out, nil, err
		}
		if !fired {
			out.Status = OutcomeDuplicate
			slog.Info("commission already generated for event",
				"event_id", ev.EventID,
				"automation_id", a.ID,
			)
			return out, nil, nil
		}
		out.Status = OutcomeApplied
		out.CommissionID = comm.ID
		return out, &comm, nil

	case model.SwitchCircle:
		switched, err := e.switchCircle(ctx, ev, a, eff)
		if err != nil {
			return out, nil, err
		}
		if !switched {
			out.Status = OutcomeMismatch
			out.Err = NewCircleMismatchError(ev.EventID, a.ID, a.CircleID, eff.TargetCircleID)
			slog.Warn("circle switch skipped",
				"event_id", ev.EventID,
				"automation_id", a.ID,
				"promoter_id", ev.PromoterID,
				"from_circle", a.CircleID,
				"to_circle", eff.TargetCircleID,
			)
			return out, nil, nil
		}
		out.Status = OutcomeApplied
		return out, nil, nil

	default:
		return out, nil, fmt.Errorf("unsupported effect %T", a.Effect)
	}
}

// generateCommission claims the firing slot, inserts the commission and
// refreshes its rollups, all in one transaction.
func (e *Engine) generateCommission(ctx context.Context, ev model.TriggerEvent, a model.Automation, eff model.GenerateCommission) (model.Commission, bool, error) {
	var revenue *decimal.Decimal
	if ev.Trigger == model.TriggerPurchase && ev.Amount != nil {
		r := *ev.Amount
		revenue = &r
	}

	c := model.Commission{
		ID:             e.ids.Generate(),
		AutomationID:   a.ID,
		EventID:        ev.EventID,
		ProgramID:      ev.ProgramID,
		PromoterID:     ev.PromoterID,
		LinkID:         ev.LinkID,
		ContactID:      ev.ContactID,
		ConversionType: model.ConversionFor(ev.Trigger),
		Amount:         commission.Compute(eff.Spec, revenue),
		Revenue:        revenue,
		CreatedAt:      ev.OccurredAt,
	}

	var stored model.Commission
	var fired bool
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		fired, err = tx.RecordFiring(ctx, ev.EventID, a.ID, c.ID, e.clock.Now())
		if err != nil || !fired {
			return err
		}
		stored, err = tx.InsertCommission(ctx, c)
		if err != nil {
			return err
		}
		return e.agg.OnCommission(ctx, tx, aggregate.Inserted(stored))
	})
	if err != nil || !fired {
		return model.Commission{}, false, err
	}

	e.metrics.CommissionCreated(string(stored.ConversionType), stored.Amount)
	slog.Info("commission generated",
		"event_id", ev.EventID,
		"automation_id", a.ID,
		"commission_id", stored.ID,
		"promoter_id", stored.PromoterID,
		"conversion_type", stored.ConversionType,
		"amount", stored.Amount.StringFixed(commission.Places),
	)
	return stored, true, nil
}

func (e *Engine) switchCircle(ctx context.Context, ev model.TriggerEvent, a model.Automation, eff model.SwitchCircle) (bool, error) {
	switched, err := e.store.ReplaceMembership(ctx, ev.ProgramID, ev.PromoterID, a.CircleID, eff.TargetCircleID, e.clock.Now())
	if err != nil {
		return false, err
	}
	if switched {
		e.metrics.CircleSwitched()
		slog.Info("circle switched",
			"event_id", ev.EventID,
			"automation_id", a.ID,
			"promoter_id", ev.PromoterID,
			"from_circle", a.CircleID,
			"to_circle", eff.TargetCircleID,
		)
	}
	return switched, nil
}
