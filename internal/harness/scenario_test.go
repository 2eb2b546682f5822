package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/referral/internal/events"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "purchase_count_condition.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "purchase_count_condition", scenario.Name)
	assert.Equal(t, filepath.Join("testdata", "programs", "counts"), scenario.Programs)
	require.Len(t, scenario.Steps, 7)

	first := scenario.Steps[0]
	assert.Equal(t, events.KindPurchaseCreated, first.Kind)
	require.NotNil(t, first.Purchase)
	assert.Equal(t, "10", first.Purchase.Amount.String())
	assert.Equal(t, 10, first.Purchase.CreatedAt.Hour())

	last := scenario.Steps[6]
	assert.Equal(t, events.KindPurchaseDeleted, last.Kind)
	assert.Equal(t, "p6", last.recordID())

	require.Len(t, scenario.Assertions, 4)
	assert.Equal(t, "condition:at-most-five", scenario.Assertions[1].Reason)
	assert.Equal(t, "50.00", scenario.Assertions[3].Expect["revenue"])
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join("testdata", "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "unknown field"
programs: ../programs
steps:
  - kind: signup.deleted
    id: s1
assertion: []
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nprograms: p\nsteps: [{kind: signup.deleted, id: s1}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing programs",
			content: "name: n\ndescription: d\nsteps: [{kind: signup.deleted, id: s1}]\n",
			wantErr: "programs directory is required",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\nprograms: p\nsteps: []\n",
			wantErr: "steps list is required",
		},
		{
			name:    "step without kind",
			content: "name: n\ndescription: d\nprograms: p\nsteps: [{id: s1}]\n",
			wantErr: "step[0]: kind is required",
		},
		{
			name:    "step without id",
			content: "name: n\ndescription: d\nprograms: p\nsteps: [{kind: signup.deleted}]\n",
			wantErr: "step[0]: record id is required",
		},
		{
			name: "incomplete outcome",
			content: "name: n\ndescription: d\nprograms: p\nsteps: [{kind: signup.deleted, id: s1}]\n" +
				"assertions: [{type: outcome, event: s1}]\n",
			wantErr: "assertion[0]: outcome requires",
		},
		{
			name: "unknown assertion type",
			content: "name: n\ndescription: d\nprograms: p\nsteps: [{kind: signup.deleted, id: s1}]\n" +
				"assertions: [{type: final_state}]\n",
			wantErr: "assertion[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_AbsoluteProgramsPathKept(t *testing.T) {
	abs, err := filepath.Abs(filepath.Join("testdata", "programs", "counts"))
	require.NoError(t, err)

	path := writeScenario(t, "name: n\ndescription: d\nprograms: "+abs+"\nsteps: [{kind: signup.deleted, id: s1}]\n")
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, abs, scenario.Programs)
}
