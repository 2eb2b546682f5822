package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/referral/internal/aggregate"
	"github.com/roach88/referral/internal/compiler"
	"github.com/roach88/referral/internal/engine"
	"github.com/roach88/referral/internal/events"
	"github.com/roach88/referral/internal/model"
	"github.com/roach88/referral/internal/store"
	"github.com/roach88/referral/internal/testutil"
)

// Harness is the scenario execution engine.
// It replays steps through the real Source, Engine and Aggregator with a
// deterministic clock.
type Harness struct {
	store    *store.Store
	source   *events.Source
	engine   *engine.Engine
	clock    *testutil.DeterministicClock
	programs []model.ProgramConfig
	result   *Result

	// current step, read by handleTrigger
	step int
	kind string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Compile the scenario's programs and apply them
// 3. Apply each step through the ingestion path
// 4. Evaluate assertions
// 5. Render the snapshot for golden comparison
func Run(scenario *Scenario) (*Result, error) {
	// Create fresh in-memory SQLite database
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	loaded, loadErrs := compiler.LoadDir(scenario.Programs, compiler.LoadModeCollectAll)
	if len(loadErrs) > 0 {
		return nil, fmt.Errorf("failed to load programs: %w", errors.Join(loadErrs...))
	}

	ctx := context.Background()
	clock := testutil.NewDeterministicClock()

	for _, p := range loaded.Programs {
		if err := st.ApplyProgram(ctx, p, clock.Now()); err != nil {
			return nil, fmt.Errorf("failed to apply program %s: %w", p.ID, err)
		}
	}

	h := &Harness{
		store:    st,
		clock:    clock,
		programs: loaded.Programs,
		result:   NewResult(),
	}
	agg := aggregate.New(aggregate.WithClock(clock))
	h.engine = engine.New(st, agg, engine.WithClock(clock))
	h.source = events.NewSource(st, agg, events.HandlerFunc(h.handleTrigger), events.WithClock(clock))

	h.executeSteps(ctx, scenario.Steps)

	// Evaluate assertions against the result
	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(errMsg)
	}

	snapshot, err := renderSnapshot(ctx, st, scenario.Name, h.result, h.programs)
	if err != nil {
		return nil, fmt.Errorf("failed to render snapshot: %w", err)
	}
	h.result.Snapshot = snapshot

	return h.result, nil
}

// executeSteps applies every step in order. Step failures are recorded in
// the result; they never abort the scenario.
func (h *Harness) executeSteps(ctx context.Context, steps []Step) {
	for i, step := range steps {
		h.step = i + 1
		h.kind = string(step.Kind)

		rec := StepRecord{Kind: h.kind, RecordID: step.recordID()}
		err := h.source.Apply(ctx, step.Envelope)
		if err != nil {
			rec.Err = err.Error()
		}
		h.result.Steps = append(h.result.Steps, rec)

		prefix := fmt.Sprintf("step[%d] %s %s", h.step, step.Kind, rec.RecordID)
		switch {
		case err != nil && step.ExpectError == "":
			h.result.AddError(fmt.Sprintf("%s: unexpected error: %v", prefix, err))
		case err != nil && !strings.Contains(err.Error(), step.ExpectError):
			h.result.AddError(fmt.Sprintf("%s: error %q does not contain %q", prefix, err.Error(), step.ExpectError))
		case err == nil && step.ExpectError != "":
			h.result.AddError(fmt.Sprintf("%s: expected error containing %q, got none", prefix, step.ExpectError))
		}
	}
}

// handleTrigger runs the engine on a published event and traces every
// outcome, ordered by automation id.
func (h *Harness) handleTrigger(ctx context.Context, ev model.TriggerEvent) error {
	res, err := h.engine.Process(ctx, ev)
	if res == nil {
		return err
	}

	outcomes := append([]engine.Outcome(nil), res.Outcomes...)
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].AutomationID < outcomes[j].AutomationID
	})
	for _, o := range outcomes {
		h.result.Trace = append(h.result.Trace, TraceEvent{
			Step:       h.step,
			Kind:       h.kind,
			EventID:    ev.EventID,
			Automation: o.AutomationID,
			Status:     string(o.Status),
			Reason:     o.Reason,
		})
	}
	return err
}
