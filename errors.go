package bpp

import (
	"fmt"
	"strings"

	"github.com/bpp-build/bpp/fingerprint"
)

// CycleError reports a dependency cycle found while planning. Stack
// holds the step names from the offending step back to its
// reoccurrence.
type CycleError struct {
	Stack []string
}

func (e *CycleError) Error() string {
	return "cyclic dependency in build graph: " + strings.Join(e.Stack, " -> ")
}

// UnknownStepError reports a requested step name that no step carries.
type UnknownStepError struct {
	Name string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("requested step %q not found in build script", e.Name)
}

// ActionError reports a step action that failed; it aborts the build.
type ActionError struct {
	Step string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// HashMismatchError reports fetched content whose fingerprint
// disagrees with the author-supplied expectation.
type HashMismatchError struct {
	Step     string
	URL      string
	Expected fingerprint.Fingerprint
	Actual   fingerprint.Fingerprint
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for fetched content of step %q from %s: expected %s but got %s",
		e.Step, e.URL, e.Expected, e.Actual)
}

// OptionParseError reports a -D value that could not be converted to
// the requested type.
type OptionParseError struct {
	Key   string
	Value string
	Want  string
}

func (e *OptionParseError) Error() string {
	return fmt.Sprintf("invalid %s option value for key %q: %q", e.Want, e.Key, e.Value)
}

// LateMutationError reports an attempt to grow the build graph after
// the configure phase closed; it indicates a configure-script bug.
type LateMutationError struct {
	Kind string
	Name string
}

func (e *LateMutationError) Error() string {
	return fmt.Sprintf("cannot add new %s %q after the configure phase has ended", e.Kind, e.Name)
}

// fatal aborts the configure phase with err. The configure API has no
// error returns (author closures are plain functions), so author
// mistakes surface as typed panics recovered at the Run boundary.
func fatal(err error) {
	panic(err)
}
