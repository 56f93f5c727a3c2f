package recipe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fclpkg/fclrecipe/pkg/state"
	"github.com/fclpkg/fclrecipe/pkg/types"
)

// Sentinel errors for lifecycle operations, checked with errors.Is
var (
	// ErrSourceUnavailable indicates the upstream source could not be retrieved
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrPatchTargetMissing indicates a patch's expected text is absent upstream
	ErrPatchTargetMissing = errors.New("patch target missing")

	// ErrConfiguration indicates the configure step rejected the build definition
	ErrConfiguration = errors.New("configuration error")

	// ErrBuildFailure indicates the compile step exited non-zero
	ErrBuildFailure = errors.New("build failure")

	// ErrPackaging indicates the license file or build output is missing, or install failed
	ErrPackaging = errors.New("packaging error")

	// ErrStageOrder indicates an operation was invoked before its prerequisites
	ErrStageOrder = errors.New("lifecycle stage out of order")

	// ErrWorkspaceLocked indicates another live process is using the workspace
	ErrWorkspaceLocked = state.ErrLocked
)

// diagnosticTail is the number of tool output lines kept in Error()
const diagnosticTail = 20

// StageError carries the failing stage, its error kind and the external
// tool's output
type StageError struct {
	Stage  types.Stage
	Kind   error
	Err    error
	Output string
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Stage, e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if tail := e.Tail(diagnosticTail); tail != "" {
		b.WriteString("\n")
		b.WriteString(tail)
	}
	return b.String()
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Tail returns the last n lines of tool output
func (e *StageError) Tail(n int) string {
	output := strings.TrimRight(e.Output, "\n")
	if output == "" {
		return ""
	}
	lines := strings.Split(output, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func stageError(stage types.Stage, kind, err error, output []byte) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err, Output: string(output)}
}

// Diagnostic returns the full tool output attached to err, if any
func Diagnostic(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Output
	}
	return ""
}
