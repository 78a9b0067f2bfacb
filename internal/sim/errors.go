package sim

import "errors"

var (
	ErrUnresolvedSignal = errors.New("sim: signal id resolves to no handle")
	ErrBatchTooLarge    = errors.New("sim: token batch exceeds channel payload")
	ErrInvalidEncoding  = errors.New("sim: invalid value encoding")
)

// ExitAbnormal is the process status for fatal protocol errors.
const ExitAbnormal = 2

// ExitCode maps a Run error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrUnresolvedSignal) {
		return ExitAbnormal
	}
	return 1
}
