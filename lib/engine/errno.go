package engine

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Result Codes
// --------------------------------------------------------------------------

// RC is an engine result code. Zero means success, failures are negative.
type RC int32

const RCSuccess RC = 0

// Generic errors.
const (
	RCNoPerm   RC = -(1001 + iota) // -1001: No permission
	RCNoHandle                     // -1002: Invalid handle
	RCInval                        // -1003: Invalid parameters
	RCExist                        // -1004: Entity already exists
	RCNonexist                     // -1005: The specified entity does not exist
	RCUnreach                      // -1006: Unreachable node
	RCNoSpace                      // -1007: No space on storage target
	RCAlready                      // -1008: Operation already performed
	RCNoMem                        // -1009: Out of memory
	RCNoSys                        // -1010: Function not implemented
	RCTimedOut                     // -1011: Time out
	RCBusy                         // -1012: Device or resource busy
	RCAgain                        // -1013: Try again
	RCProto                        // -1014: Incompatible protocol
	RCUninit                       // -1015: Un-initialized
	RCTrunc                        // -1016: Buffer too short, larger buffer needed
	RCOverflow                     // -1017: Value too large for defined data type
	RCCanceled                     // -1018: Operation canceled
)

// Storage errors.
const (
	RCIO       RC = -(2001 + iota) // -2001: Generic I/O error
	RCFree                         // -2002: Memory free error
	RCNoType                       // -2003: Unknown object type
	RCUnknown                      // -2004: Unknown error
	RCNoMap                        // -2005: Pool map not found
	RCStale                        // -2006: Stale pool map version
	RCNotLeader                    // -2007: Not service leader
	RCTgtRetry                     // -2008: Target create in progress
	RCEpochRO                      // -2009: Epoch is read-only
	RCEpochOld                     // -2010: Epoch is too old, all data have been recycled
	RCKey2Big                      // -2011: Key is too large
	RCRec2Big                      // -2012: Record is too large
	RCIOInval                      // -2013: IO buffers can't match object extents
	RCEQBusy                       // -2014: Event queue is busy
	RCDomain                       // -2015: Domain of cluster component can't match
	RCShutdown                     // -2016: Service should shut down
)

var rcMessages = map[RC]string{
	RCSuccess:   "Success",
	RCNoPerm:    "No permission",
	RCNoHandle:  "Invalid handle",
	RCInval:     "Invalid parameters",
	RCExist:     "Entity already exists",
	RCNonexist:  "The specified entity does not exist",
	RCUnreach:   "Unreachable node",
	RCNoSpace:   "No space on storage target",
	RCAlready:   "Operation already performed",
	RCNoMem:     "Out of memory",
	RCNoSys:     "Function not implemented",
	RCTimedOut:  "Time out",
	RCBusy:      "Device or resource busy",
	RCAgain:     "Try again",
	RCProto:     "Incompatible protocol",
	RCUninit:    "Un-initialized",
	RCTrunc:     "Buffer too short, larger buffer needed",
	RCOverflow:  "Value too large for defined data type",
	RCCanceled:  "Operation canceled",
	RCIO:        "Generic I/O error",
	RCFree:      "Memory free error",
	RCNoType:    "Unknown object type",
	RCUnknown:   "Unknown error",
	RCNoMap:     "Pool map not found",
	RCStale:     "Stale pool map version",
	RCNotLeader: "Not service leader",
	RCTgtRetry:  "Target create in progress",
	RCEpochRO:   "Epoch is read-only",
	RCEpochOld:  "Epoch is too old, all data have been recycled",
	RCKey2Big:   "Key is too large",
	RCRec2Big:   "Record is too large",
	RCIOInval:   "IO buffers can't match object extents",
	RCEQBusy:    "Event queue is busy",
	RCDomain:    "Domain of cluster component can't match",
	RCShutdown:  "Service should shut down",
}

// Message returns the human readable description of the code.
func (rc RC) Message() string {
	if msg, ok := rcMessages[rc]; ok {
		return msg
	}
	return "Unknown error code"
}

func (rc RC) String() string {
	return fmt.Sprintf("%s (%d)", rc.Message(), int32(rc))
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is returned by every engine operation that fails. RC is never RCSuccess.
type Error struct {
	RC  RC     // The result code
	Msg string // Optional detail
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("engine error: %s", e.RC)
	}
	return fmt.Sprintf("engine error: %s: %s", e.RC, e.Msg)
}

// NewError creates a new engine error. The message is formatted with fmt.Sprintf when args are given.
func NewError(rc RC, msg string, args ...any) *Error {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{RC: rc, Msg: msg}
}

// RCOf extracts the result code from an error chain.
// nil maps to RCSuccess, errors that carry no code map to RCUnknown.
func RCOf(err error) RC {
	if err == nil {
		return RCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.RC
	}
	var c interface{ ResultCode() RC }
	if errors.As(err, &c) {
		return c.ResultCode()
	}
	return RCUnknown
}
