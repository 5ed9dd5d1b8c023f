package cmd

import (
	"context"
	"errors"
	"fmt"
)

const (
	// ExitOK means no dependency was flagged.
	ExitOK = 0
	// ExitFindings means at least one dependency is a WARNING.
	ExitFindings = 1
	// ExitUsage covers configuration, manifest and startup failures.
	ExitUsage = 2
	// ExitInterrupted follows the shell convention for SIGINT.
	ExitInterrupted = 130
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// ExitCode maps the error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitUsage
}

// Reportable reports whether err should be printed to the user. Findings are
// already in the report.
func Reportable(err error) bool {
	var ee *ExitError
	if errors.As(err, &ee) && ee.Err == nil {
		return false
	}
	return err != nil
}
