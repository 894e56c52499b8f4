package dobj

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dOBJ/lib/engine"
)

// --------------------------------------------------------------------------
// Error Types
// --------------------------------------------------------------------------

// PreconditionError is returned when a call is rejected before it reaches the
// engine, e.g. an epoch hold on a container that is not open.
type PreconditionError struct {
	Op  engine.Op
	Msg string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// ResultCode makes precondition failures look like invalid parameters to engine.RCOf.
func (e *PreconditionError) ResultCode() engine.RC { return engine.RCInval }

// EngineError is a non-zero result code returned by an engine operation.
type EngineError struct {
	Op  engine.Op
	RC  engine.RC
	Err error // the engine's own error, may be nil
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s returned non-zero. RC: %d (%v)", e.Op, e.RC, e.Err)
	}
	return fmt.Sprintf("%s returned non-zero. RC: %d", e.Op, e.RC)
}

func (e *EngineError) Unwrap() error { return e.Err }

func (e *EngineError) ResultCode() engine.RC { return e.RC }

// UnsupportedError is returned for operations the engine does not implement.
type UnsupportedError struct {
	Op engine.Op
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported by this engine", e.Op)
}

func (e *UnsupportedError) ResultCode() engine.RC { return engine.RCNoSys }

// IoError is returned by the layout and global handle operations when the engine
// rejects the request.
type IoError struct {
	Op  engine.Op
	RC  engine.RC
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s failed with rc %d: %v", e.Op, e.RC, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

func (e *IoError) ResultCode() engine.RC { return e.RC }

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// RC returns the result code carried by err as an int, 0 for nil.
func RC(err error) int {
	return int(engine.RCOf(err))
}

// IsUnsupported reports whether err is an UnsupportedError.
func IsUnsupported(err error) bool {
	var u *UnsupportedError
	return errors.As(err, &u)
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var p *PreconditionError
	return errors.As(err, &p)
}

func precondition(op engine.Op, format string, args ...any) error {
	return &PreconditionError{Op: op, Msg: fmt.Sprintf(format, args...)}
}

// engineError wraps an engine failure. RCNoSys from the engine becomes an UnsupportedError.
func engineError(op engine.Op, err error) error {
	if err == nil {
		return nil
	}
	rc := engine.RCOf(err)
	if rc == engine.RCNoSys {
		return &UnsupportedError{Op: op}
	}
	return &EngineError{Op: op, RC: rc, Err: err}
}

func ioError(op engine.Op, err error) error {
	if err == nil {
		return nil
	}
	var u *UnsupportedError
	if errors.As(err, &u) {
		return err
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return &IoError{Op: op, RC: ee.RC, Err: ee.Err}
	}
	return &IoError{Op: op, RC: engine.RCOf(err), Err: err}
}
