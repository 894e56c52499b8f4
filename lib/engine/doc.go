// Package engine defines the contract between the dobj client layer and the
// storage engines that serve it.
//
// The package focuses on:
//   - A single interface (IEngine) covering pool, container, epoch, attribute,
//     object I/O, logging and administrative operations
//   - The shared data model: handles, epochs, object identifiers, object classes,
//     I/O descriptors and scatter-gather lists
//   - Result codes (RC) and the Error type every engine returns
//   - The self-describing blob used to share a local handle with other processes
//
// Key Components:
//
//   - IEngine Interface: The core abstraction. Every method returns a Go error which,
//     when non-nil, is an *Error carrying a negative result code. Engines advertise
//     the operations they implement through SupportsOp, so clients can resolve
//     their bindings once instead of probing on every call.
//
//   - Op: A closed enumeration of every named engine operation. The String form is
//     the action-subject name used in logs and error messages (e.g. "update-obj").
//
//   - IOD / SGL / IOV: The descriptor model. An IOD names an akey and describes the
//     records addressed under it, the matching SGL holds one IOV per record. IOVs
//     distinguish capacity (len(Buf)) from the logical length (Len) and carry an
//     ownership tag so borrowed caller memory is never reallocated.
//
//   - OID / ObjClass: 128-bit object identifiers with the object class and an
//     optional placement rank hint encoded in the high word.
//
// Implementations:
//
//	- Local Engine (lengine): in-process, versioned dkey/akey store.
//	  Available in the "github.com/ValentinKolb/dOBJ/lib/engine/lengine" package.
//
//	- Replicated Engine (dengine): a Dragonboat state machine wrapping a local
//	  engine, replicated with RAFT.
//	  Available in the "github.com/ValentinKolb/dOBJ/lib/engine/dengine" package.
//
//	- RPC Engine: forwards every operation to a remote server.
//	  Available in the "github.com/ValentinKolb/dOBJ/rpc/client" package.
package engine
