package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/events"
)

// IngestResult reports how many envelopes were applied.
type IngestResult struct {
	Applied int           `json:"applied"`
	Failed  int           `json:"failed"`
	Errors  []IngestIssue `json:"errors,omitempty"`
}

// IngestIssue is one envelope that could not be applied.
type IngestIssue struct {
	Line    int    `json:"line"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <file|->",
		Short: "Apply a stream of signup and purchase mutations",
		Long: `Read newline-delimited JSON envelopes and apply each to the database.

Every envelope names a kind (signup.created, signup.updated, signup.deleted,
purchase.created, purchase.updated, purchase.deleted, commission.deleted)
and carries the record or its id. Creations run the program's automations
and every mutation refreshes the affected rollups.

Ingestion is retry-safe: re-applying a created record changes nothing.
An envelope that cannot be applied is reported and the stream continues;
a malformed line stops it.

Example:
  referral ingest --db ./referral.db events.ndjson
  cat events.ndjson | referral ingest --db ./referral.db -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	addDatabaseFlag(cmd, &opts.Database)

	return cmd
}

func runIngest(opts *StoreOptions, input string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	r, closeInput, err := openInput(cmd, input)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to open input", err)
	}
	defer closeInput()

	st, closeStore, err := openStore(formatter, opts.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p := newPipeline(st, nil, false)
	result, err := applyEnvelopes(ctx, p.source, r, formatter)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInput, "failed to read input", err)
	}

	if formatter.JSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		for _, issue := range result.Errors {
			fmt.Fprintf(formatter.Writer, "  line %d (%s): %s\n", issue.Line, issue.Kind, issue.Message)
		}
		fmt.Fprintf(formatter.Writer, "Applied %d record(s), %d failed\n", result.Applied, result.Failed)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) could not be applied", result.Failed))
	}
	return nil
}

// applyEnvelopes applies every envelope in r, collecting per-record
// failures. Only unreadable input is returned as an error.
func applyEnvelopes(ctx context.Context, src *events.Source, r io.Reader, formatter *OutputFormatter) (IngestResult, error) {
	var result IngestResult
	err := events.ReadEnvelopes(r, func(line int, env events.Envelope) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := src.Apply(ctx, env); err != nil {
			slog.Warn("envelope not applied", "line", line, "kind", env.Kind, "error", err)
			result.Failed++
			result.Errors = append(result.Errors, IngestIssue{Line: line, Kind: string(env.Kind), Message: err.Error()})
			return nil
		}
		formatter.VerboseLog("line %d: applied %s", line, env.Kind)
		result.Applied++
		return nil
	})
	return result, err
}

// openInput opens a file argument, or the command's stdin for "-".
func openInput(cmd *cobra.Command, input string) (io.Reader, func(), error) {
	if input == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(input)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
