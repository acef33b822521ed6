package dmft

import "errors"

var (
	ErrRestart      = errors.New("dmft: no restartable iteration in checkpoint")
	ErrCheckpointIO = errors.New("dmft: checkpoint I/O failed")
)

// status is the outcome of a coordinator-only step, broadcast to every rank
// before any payload.
type status int

const (
	statusOK status = iota
	statusRestart
	statusIO
)

// statusError keeps the coordinator's cause next to the broadcast status.
type statusError struct {
	status status
	cause  error
}

func (e *statusError) Error() string { return e.cause.Error() }

func (e *statusError) Unwrap() error { return e.cause }

func restartFailure(cause error) error { return &statusError{status: statusRestart, cause: cause} }

func errorFor(s status) error {
	switch s {
	case statusRestart:
		return ErrRestart
	case statusIO:
		return ErrCheckpointIO
	default:
		return nil
	}
}
