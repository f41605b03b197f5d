// Package errkind enumerates the fatal-error categories used throughout the
// re-aligner pipeline. A Kind is attached to an error with Wrap so that the
// top-level command can decide how to report it; none of these are retried.
package errkind

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Kind classifies a fatal error. It plays the same role as the
// single-word error categories ("Exit, OutOfRange") passed to srma_error() in
// the original implementation.
type Kind int

const (
	// Other is the zero value, used when no more specific kind applies.
	Other Kind = iota
	// CommandLineArgument marks an invalid or missing CLI flag combination.
	CommandLineArgument
	// OutOfRange marks an invariant violation, such as unsorted input.
	OutOfRange
	// OpenFileError marks a failure to open an input, output, or reference file.
	OpenFileError
	// ReadFileError marks a failure while reading an already-open file.
	ReadFileError
	// WriteFileError marks a failure while writing output.
	WriteFileError
	// Allocation marks a resource-exhaustion failure.
	Allocation
	// Thread marks a failure to start or join a pipeline worker.
	Thread
)

func (k Kind) String() string {
	switch k {
	case CommandLineArgument:
		return "CommandLineArgument"
	case OutOfRange:
		return "OutOfRange"
	case OpenFileError:
		return "OpenFileError"
	case ReadFileError:
		return "ReadFileError"
	case WriteFileError:
		return "WriteFileError"
	case Allocation:
		return "Allocation"
	case Thread:
		return "Thread"
	default:
		return "Other"
	}
}

// Wrap attaches kind to err, annotating it with args the way
// github.com/grailbio/base/errors.E does elsewhere in this codebase.
func Wrap(kind Kind, err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	a := make([]interface{}, 0, len(args)+1)
	a = append(a, fmt.Sprintf("[%s]", kind))
	a = append(a, args...)
	return errors.E(err, a...)
}

// New creates a fatal error of the given kind from a message.
func New(kind Kind, args ...interface{}) error {
	a := make([]interface{}, 0, len(args)+1)
	a = append(a, fmt.Sprintf("[%s]", kind))
	a = append(a, args...)
	return errors.E(a...)
}
</content>
