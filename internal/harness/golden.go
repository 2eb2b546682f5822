package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/referral/internal/model"
	"github.com/roach88/referral/internal/store"
)

// renderSnapshot renders the trace and the final memberships and rollups
// as stable text. Programs, promoters and rollup keys are sorted by id;
// day rows by date.
func renderSnapshot(ctx context.Context, st *store.Store, name string, result *Result, programs []model.ProgramConfig) (string, error) {
	var buf strings.Builder

	fmt.Fprintf(&buf, "scenario: %s\n", name)

	buf.WriteString("steps:\n")
	for i, rec := range result.Steps {
		fmt.Fprintf(&buf, "  [%d] %s %s", i+1, rec.Kind, rec.RecordID)
		if rec.Err != "" {
			buf.WriteString(" rejected")
		}
		buf.WriteString("\n")
		for _, e := range result.Trace {
			if e.Step == i+1 {
				fmt.Fprintf(&buf, "    %s\n", e)
			}
		}
	}

	sorted := append([]model.ProgramConfig(nil), programs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	buf.WriteString("memberships:\n")
	for _, p := range sorted {
		ids := make([]string, 0, len(p.Promoters))
		for _, pr := range p.Promoters {
			ids = append(ids, pr.ID)
		}
		sort.Strings(ids)

		for _, id := range ids {
			circle, err := st.GetMembership(ctx, p.ID, id)
			if errors.Is(err, store.ErrNotFound) {
				circle = "-"
			} else if err != nil {
				return "", err
			}
			fmt.Fprintf(&buf, "  %s/%s %s\n", p.ID, id, circle)
		}
	}

	buf.WriteString("rollups:\n")
	for _, p := range sorted {
		for _, dim := range model.Dimensions {
			rows, err := st.ListRollups(ctx, dim, p.ID)
			if err != nil {
				return "", err
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Key.ID < rows[j].Key.ID })

			for _, row := range rows {
				fmt.Fprintf(&buf, "  %s %s/%s\n", dim, p.ID, row.Key.ID)

				days, err := st.ListDayRollups(ctx, row.Key)
				if err != nil {
					return "", err
				}
				sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
				for _, d := range days {
					fmt.Fprintf(&buf, "    %s %s\n", d.Date, formatTotals(d.Totals))
				}
				fmt.Fprintf(&buf, "    all-time days=%d %s\n", row.Days, formatTotals(row.Totals))
			}
		}
	}

	return buf.String(), nil
}

func formatTotals(t model.Totals) string {
	return fmt.Sprintf("signups=%d purchases=%d revenue=%s commission=%s signup_commission=%s purchase_commission=%s",
		t.Signups,
		t.Purchases,
		t.Revenue.StringFixed(2),
		t.Commission.StringFixed(2),
		t.SignupCommission.StringFixed(2),
		t.PurchaseCommission.StringFixed(2),
	)
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, []byte(result.Snapshot))

	return result, nil
}
