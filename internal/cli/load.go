package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

// LoadResult reports the programs applied to the store.
type LoadResult struct {
	Database string           `json:"database"`
	Programs []ProgramSummary `json:"programs"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <config-dir>",
		Short: "Compile program configuration and apply it to a database",
		Long: `Compile the CUE program configuration in a directory and apply every
program to the database, creating it if it doesn't exist.

Programs, circles, promoters and links are upserted. A promoter's initial
circle is only assigned when it has no membership yet. Each program's
automations are replaced as a whole.

Example:
  referral load --db ./referral.db ./programs`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}

	addDatabaseFlag(cmd, &opts.Database)

	return cmd
}

func runLoad(opts *StoreOptions, configDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	programs, err := loadPrograms(formatter, configDir)
	if err != nil {
		return err
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

	now := time.Now().UTC()
	result := LoadResult{Database: opts.Database}
	for _, p := range programs {
		if err := st.ApplyProgram(ctx, p, now); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeQuery, fmt.Sprintf("failed to apply program %s", p.ID), err)
		}
		slog.Info("program applied", "program_id", p.ID, "automations", len(p.Automations))
		result.Programs = append(result.Programs, summarize(p))
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Loaded %d program(s) into %s\n", len(result.Programs), opts.Database)
	for _, s := range result.Programs {
		fmt.Fprintf(formatter.Writer, "  %s\n", s)
	}
	return nil
}
