package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/referral/internal/compiler"
	"github.com/roach88/referral/internal/model"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Programs []ProgramSummary           `json:"programs,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
}

// ProgramSummary counts what a compiled program declares.
type ProgramSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Circles     int    `json:"circles"`
	Promoters   int    `json:"promoters"`
	Links       int    `json:"links"`
	Automations int    `json:"automations"`
}

func summarize(cfg model.ProgramConfig) ProgramSummary {
	return ProgramSummary{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Circles:     len(cfg.Circles),
		Promoters:   len(cfg.Promoters),
		Links:       len(cfg.Links),
		Automations: len(cfg.Automations),
	}
}

func (s ProgramSummary) String() string {
	return fmt.Sprintf("%s: %d circle(s), %d promoter(s), %d link(s), %d automation(s)",
		s.ID, s.Circles, s.Promoters, s.Links, s.Automations)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config-dir>",
		Short: "Validate program configuration without touching a database",
		Long: `Compile the CUE program configuration in a directory and check it.

Reports every problem found: unknown circles, invalid triggers or statuses,
out-of-range commissions and unsupported conditions.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, configDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	programs, err := loadPrograms(formatter, configDir)
	if err != nil {
		return err
	}

	summaries := make([]ProgramSummary, 0, len(programs))
	for _, p := range programs {
		summaries = append(summaries, summarize(p))
	}

	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Programs: summaries})
	}

	fmt.Fprintln(formatter.Writer, "✓ All programs valid")
	for _, s := range summaries {
		fmt.Fprintf(formatter.Writer, "  %s\n", s)
	}
	return nil
}

// loadPrograms compiles and validates every program under configDir,
// reporting all problems. Load failures (missing directory, no files,
// CUE errors) exit with ExitCommandError; validation failures with
// ExitFailure.
func loadPrograms(formatter *OutputFormatter, configDir string) ([]model.ProgramConfig, error) {
	result, loadErrors := compiler.LoadDir(configDir, compiler.LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if result == nil && len(loadErrors) > 0 {
		var loadErr *compiler.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return nil, outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return nil, outputValidateError(formatter, compiler.ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, configDir)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		var ve compiler.ValidationError
		var loadErr *compiler.LoadError
		switch {
		case errors.As(err, &ve):
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   ve.Field,
				Message: err.Error(),
				Code:    ve.Code,
			})
		case errors.As(err, &loadErr):
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
			})
		default:
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "load",
				Message: err.Error(),
				Code:    compiler.ErrCodeGeneric,
			})
		}
	}
	if len(validationErrors) > 0 {
		return nil, outputValidationErrors(formatter, validationErrors)
	}

	for _, p := range result.Programs {
		formatter.VerboseLog("Compiled program %s (%d automation(s))", p.ID, len(p.Automations))
	}
	return result.Programs, nil
}

// outputValidateError outputs a single load error.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.JSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
