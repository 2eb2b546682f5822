package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/aggregate"
	"github.com/roach88/referral/internal/jobs"
)

// RebuildOptions holds flags for the rebuild command.
type RebuildOptions struct {
	StoreOptions
	Program string
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RebuildOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute rollups from the base records",
		Long: `Discard the day-wise and all-time rollups and recompute them from the
stored signups, purchases and commissions.

Without --program every configured program is rebuilt.

Example:
  referral rebuild --db ./referral.db
  referral rebuild --db ./referral.db --program acme`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(opts, cmd)
		},
	}

	addDatabaseFlag(cmd, &opts.Database)
	cmd.Flags().StringVar(&opts.Program, "program", "", "rebuild only this program")

	return cmd
}

func runRebuild(opts *RebuildOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, closeStore, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	agg := aggregate.New()

	var stats []aggregate.RebuildStats
	if opts.Program == "" {
		stats, err = jobs.New(st, agg).RunOnce(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeQuery, "rebuild failed", err)
		}
	} else {
		programs, err := st.ListPrograms(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeQuery, "failed to list programs", err)
		}
		if !slices.Contains(programs, opts.Program) {
			return formatter.Fail(ExitCommandError, ErrCodeFlag, fmt.Sprintf("unknown program %q", opts.Program), nil)
		}
		s, err := agg.Rebuild(ctx, st, opts.Program)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeQuery, "rebuild failed", err)
		}
		stats = []aggregate.RebuildStats{s}
	}

	if formatter.JSON() {
		return formatter.Success(stats)
	}

	for _, s := range stats {
		fmt.Fprintf(formatter.Writer, "✓ Rebuilt %s: %d day row(s), %d key(s)\n", s.ProgramID, s.Days, s.Keys)
	}
	if len(stats) == 0 {
		fmt.Fprintln(formatter.Writer, "No programs configured")
	}
	return nil
}
