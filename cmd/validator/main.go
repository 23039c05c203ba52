// validator is the migration-validation server and CLI client.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luissimon96/migration-validator/pkg/version"
)

// CLI exit codes.
const (
	exitOK        = 0
	exitBadInput  = 2
	exitRejected  = 3
	exitTransport = 4
	exitExhausted = 5
)

func main() {
	root := &cobra.Command{
		Use:           "validator",
		Short:         "Validates that a software migration preserves structure, logic, and behavior",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newBehavioralCmd())
	root.AddCommand(newHealthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var coded *exitError
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		os.Exit(exitTransport)
	}
}

// exitError carries a CLI exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}
