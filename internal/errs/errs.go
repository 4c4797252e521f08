// Package errs holds the error taxonomy shared by the retrieval pipeline.
//
// Sentinels are matched with errors.Is; the typed errors carry the detail
// (missing keys, failing operation, oracle role) and unwrap to the cause.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration: a required environment value is missing. Fatal, never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrEmptyQuestion: the question is empty after trimming.
	ErrEmptyQuestion = errors.New("empty question")
	// ErrOracle: the classification or generation oracle failed.
	ErrOracle = errors.New("oracle error")
	// ErrTransport: the data provider call failed.
	ErrTransport = errors.New("transport error")
	// ErrUnapprovedSource: a source outside the selected set was requested.
	ErrUnapprovedSource = errors.New("source not in approved selection list")
	// ErrStepBudgetExceeded: the generation rounds ran out before a final answer.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
)

// ConfigError names every missing configuration key.
type ConfigError struct {
	Keys []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Keys, ", "))
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// TransportError wraps a data provider failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// OracleError wraps a failure of the classification or generation oracle.
type OracleError struct {
	Role string // "classify" | "generate"
	Err  error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("%s oracle: %v", e.Role, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

func (e *OracleError) Is(target error) bool { return target == ErrOracle }
