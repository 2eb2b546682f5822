package harness

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/events"
	"github.com/roach88/referral/internal/model"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Summary())
		})
	}
}

func purchaseStep(id, amount string, at time.Time) Step {
	return Step{Envelope: events.Envelope{
		Kind: events.KindPurchaseCreated,
		Purchase: &model.Purchase{
			ID:         id,
			ProgramID:  "scenario-a",
			PromoterID: "alice",
			ContactID:  "contact-1",
			Amount:     decimal.RequireFromString(amount),
			CreatedAt:  at,
		},
	}}
}

func inlineScenario(steps []Step, assertions []Assertion) *Scenario {
	return &Scenario{
		Name:        "inline",
		Description: "inline scenario",
		Programs:    filepath.Join("testdata", "programs", "percentage"),
		Steps:       steps,
		Assertions:  assertions,
	}
}

func TestRun_TracesOutcomes(t *testing.T) {
	at := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	scenario := inlineScenario(
		[]Step{purchaseStep("p1", "100.00", at), purchaseStep("p2", "20.00", at.Add(time.Hour))},
		nil,
	)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Summary())

	require.Len(t, result.Steps, 2)
	assert.Equal(t, "p2", result.Steps[1].RecordID)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, TraceEvent{
		Step:       1,
		Kind:       "purchase.created",
		EventID:    "p1",
		Automation: "ten-percent",
		Status:     "applied",
	}, result.Trace[0])
	assert.Len(t, result.Outcomes("p2"), 1)
	assert.Contains(t, result.Snapshot, "2024-03-10 signups=0 purchases=2 revenue=120.00 commission=12.00")
}

func TestRun_FailedAssertionFailsResult(t *testing.T) {
	at := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	scenario := inlineScenario(
		[]Step{purchaseStep("p1", "100.00", at)},
		[]Assertion{
			{Type: AssertMembership, Program: "scenario-a", Promoter: "alice", Circle: "c9"},
			{Type: AssertCommissionCount, Program: "scenario-a", Count: 3},
			{
				Type:      AssertRollup,
				Program:   "scenario-a",
				Dimension: "promoter",
				ID:        "alice",
				Expect:    map[string]string{"commission": "11.00", "purchases": "1"},
			},
		},
	)

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "Actual: circle c1")
	assert.Contains(t, result.Errors[1], "Actual: 1 commission(s)")
	assert.Contains(t, result.Errors[2], "Actual: commission=10 (want 11)")
}

func TestRun_StepExpectations(t *testing.T) {
	at := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

	t.Run("unexpected error", func(t *testing.T) {
		result, err := Run(inlineScenario([]Step{purchaseStep("p1", "-5", at)}, nil))
		require.NoError(t, err)
		assert.False(t, result.Pass)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "unexpected error")
		assert.Contains(t, result.Snapshot, "[1] purchase.created p1 rejected")
	})

	t.Run("missing expected error", func(t *testing.T) {
		step := purchaseStep("p1", "5", at)
		step.ExpectError = "negative"
		result, err := Run(inlineScenario([]Step{step}, nil))
		require.NoError(t, err)
		assert.False(t, result.Pass)
		assert.Contains(t, result.Errors[0], `expected error containing "negative"`)
	})

	t.Run("deleting an unknown record", func(t *testing.T) {
		step := Step{
			Envelope:    events.Envelope{Kind: events.KindPurchaseDeleted, ID: "nope"},
			ExpectError: "not found",
		}
		result, err := Run(inlineScenario([]Step{step}, nil))
		require.NoError(t, err)
		assert.True(t, result.Pass, result.Summary())
	})
}

func TestRun_BadProgramsDir(t *testing.T) {
	scenario := inlineScenario([]Step{}, nil)
	scenario.Programs = filepath.Join("testdata", "does-not-exist")

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load programs")
}
