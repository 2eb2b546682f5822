package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/model"
	"github.com/roach88/referral/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	StoreOptions
	Program   string
	Dimension string
	Day       string
	ID        string
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print commission rollups",
		Long: `Print the rollups of a program by promoter or by link.

By default the all-time rows are printed. With --day the day-wise rows of
that UTC day are printed instead; with --id the day-wise rows of one
promoter or link.

Example:
  referral stats --db ./referral.db --program acme
  referral stats --db ./referral.db --program acme --dimension link --day 2024-03-10
  referral stats --db ./referral.db --program acme --id alice`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	addDatabaseFlag(cmd, &opts.Database)
	cmd.Flags().StringVar(&opts.Program, "program", "", "program id (required)")
	cmd.Flags().StringVar(&opts.Dimension, "dimension", string(model.DimensionPromoter), "rollup dimension (promoter|link)")
	cmd.Flags().StringVar(&opts.Day, "day", "", "print the day-wise rows of this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "print the day-wise rows of this promoter or link")
	_ = cmd.MarkFlagRequired("program")
	cmd.MarkFlagsMutuallyExclusive("day", "id")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	dim, err := model.ParseDimension(opts.Dimension)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeFlag, "invalid --dimension", err)
	}
	if opts.Day != "" {
		if _, _, err := model.DayBounds(opts.Day); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeFlag, "invalid --day", err)
		}
	}

	st, closeStore, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch {
	case opts.Day != "":
		rows, err := st.ListDayRollupsByDate(ctx, dim, opts.Program, opts.Day)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeQuery, "failed to read day rollups", err)
		}
		if formatter.JSON() {
			return formatter.Success(rows)
		}
		writeDayRollups(formatter.Writer, rows)

	case opts.ID != "":
		key := model.Key{Dimension: dim, ID: opts.ID, ProgramID: opts.Program}
		rows, err := st.ListDayRollups(ctx, key)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeQuery, "failed to read day rollups", err)
		}
		if formatter.JSON() {
			return formatter.Success(rows)
		}
		writeDayRollups(formatter.Writer, rows)
		if total, err := st.GetRollup(ctx, key); err == nil {
			fmt.Fprintf(formatter.Writer, "all-time over %d day(s): commission %s\n", total.Days, total.Totals.Commission.StringFixed(2))
		} else if !errors.Is(err, store.ErrNotFound) {
			return formatter.Fail(ExitCommandError, ErrCodeQuery, "failed to read rollup", err)
		}

	default:
		rows, err := st.ListRollups(ctx, dim, opts.Program)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeQuery, "failed to read rollups", err)
		}
		if formatter.JSON() {
			return formatter.Success(rows)
		}
		writeRollups(formatter.Writer, rows)
	}
	return nil
}

const totalsHeader = "SIGNUPS\tPURCHASES\tREVENUE\tCOMMISSION\tSIGNUP COMM\tPURCHASE COMM"

func totalsColumns(t model.Totals) string {
	return fmt.Sprintf("%d\t%d\t%s\t%s\t%s\t%s",
		t.Signups, t.Purchases,
		t.Revenue.StringFixed(2), t.Commission.StringFixed(2),
		t.SignupCommission.StringFixed(2), t.PurchaseCommission.StringFixed(2))
}

func writeRollups(w io.Writer, rows []model.Rollup) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No rollups")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDAYS\t"+totalsHeader)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Days, totalsColumns(r.Totals))
	}
	tw.Flush()
}

func writeDayRollups(w io.Writer, rows []model.DayRollup) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No rollups")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tID\tNAME\t"+totalsHeader)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Date, r.ID, r.Name, totalsColumns(r.Totals))
	}
	tw.Flush()
}
