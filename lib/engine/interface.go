package engine

import "github.com/google/uuid"

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IEngine is the contract every storage engine implements.
// Every method returns nil on success or an error carrying a non-zero result code (see RCOf).
// Fetch and Local2Global methods fill caller supplied buffers in place.
type IEngine interface {
	// SupportsOp reports whether the engine implements op. Calling an unsupported
	// method returns RCNoSys.
	SupportsOp(op Op) bool

	// PoolCreate creates a pool and returns its uuid and service ranks.
	PoolCreate(req PoolCreateRequest) (id uuid.UUID, svc []Rank, err error)
	// PoolDestroy destroys a pool. Without force, pools with open connections are not destroyed.
	PoolDestroy(id uuid.UUID, group string, force bool) (err error)
	// PoolConnect opens a connection handle with the given PoolConnect* flags.
	PoolConnect(id uuid.UUID, group string, svc []Rank, flags uint64) (poh Handle, info PoolInfo, err error)
	// PoolDisconnect closes a connection handle and every container handle opened through it.
	PoolDisconnect(poh Handle) (err error)
	// PoolQuery returns the current pool info.
	PoolQuery(poh Handle) (info PoolInfo, err error)
	// PoolExclude marks targets as down.
	PoolExclude(id uuid.UUID, group string, svc []Rank, ranks []Rank) (err error)
	// PoolExcludeOut marks targets as out, removing them from placement.
	PoolExcludeOut(id uuid.UUID, group string, svc []Rank, ranks []Rank) (err error)
	// PoolAddTarget brings targets (back) into the pool.
	PoolAddTarget(id uuid.UUID, group string, svc []Rank, ranks []Rank) (err error)
	// PoolEvict invalidates every connection to the pool.
	PoolEvict(id uuid.UUID, group string, svc []Rank) (err error)
	// PoolStopService stops the pool service; later connects fail with RCUnreach.
	PoolStopService(poh Handle) (err error)
	// PoolExtend adds targets to a pool.
	PoolExtend(id uuid.UUID, group string, ranks []Rank) (err error)
	// PoolQueryTarget returns the state of a single target.
	PoolQueryTarget(poh Handle, rank Rank) (target Target, err error)
	// PoolLocal2Global serializes a connection handle into glob (see FillGlobal).
	PoolLocal2Global(poh Handle, glob *IOV) (err error)
	// PoolGlobal2Local turns a serialized connection handle into a local one.
	PoolGlobal2Local(glob IOV) (poh Handle, err error)

	// ContCreate creates a container in the pool.
	ContCreate(poh Handle, id uuid.UUID) (err error)
	// ContDestroy destroys a container. Without force, open containers are not destroyed.
	ContDestroy(poh Handle, id uuid.UUID, force bool) (err error)
	// ContOpen opens a container with the given ContOpen* flags.
	ContOpen(poh Handle, id uuid.UUID, flags uint64) (coh Handle, info ContInfo, err error)
	// ContClose closes a container handle and every object handle opened through it.
	ContClose(coh Handle) (err error)
	// ContQuery returns the current container info.
	ContQuery(coh Handle) (info ContInfo, err error)
	// ContLocal2Global serializes a container handle into glob (see FillGlobal).
	ContLocal2Global(coh Handle, glob *IOV) (err error)
	// ContGlobal2Local turns a serialized container handle into a local one under poh.
	ContGlobal2Local(poh Handle, glob IOV) (coh Handle, err error)
	// ContListAttr lists attribute names in lexical order.
	ContListAttr(coh Handle) (names []string, err error)
	// ContGetAttr returns the values of the named attributes.
	ContGetAttr(coh Handle, names []string) (values [][]byte, err error)
	// ContSetAttr sets attributes; names and values are parallel.
	ContSetAttr(coh Handle, names []string, values [][]byte) (err error)

	// EpochHold holds an epoch >= epoch and returns it together with the new epoch state.
	EpochHold(coh Handle, epoch Epoch) (held Epoch, state EpochState, err error)
	// EpochCommit commits a held epoch.
	EpochCommit(coh Handle, epoch Epoch) (state EpochState, err error)
	// EpochSlip raises the lowest referenced epoch, reclaiming older versions.
	EpochSlip(coh Handle, epoch Epoch) (state EpochState, err error)

	// ObjGenerateOID returns a fresh identifier of the given class.
	ObjGenerateOID(class ObjClass) (oid OID, err error)
	// ObjOpen opens an object with the given ObjOpen* mode.
	ObjOpen(coh Handle, oid OID, epoch Epoch, mode uint64) (oh Handle, err error)
	// ObjClose closes an object handle.
	ObjClose(oh Handle) (err error)
	// ObjQuery returns the leader rank of every shard.
	ObjQuery(oh Handle, epoch Epoch) (ranks []Rank, err error)
	// ObjLayout computes the placement of an object.
	ObjLayout(coh Handle, oid OID) (layout Layout, err error)
	// ObjFetch reads the records described by iods into sgls. Record sizes are written
	// back into iods. With no sgls only the sizes are reported.
	ObjFetch(oh Handle, epoch Epoch, dkey []byte, iods []IOD, sgls []SGL) (err error)
	// ObjUpdate writes the records described by iods from sgls at epoch.
	ObjUpdate(oh Handle, epoch Epoch, dkey []byte, iods []IOD, sgls []SGL) (err error)
	// ObjPunch punches the whole object.
	ObjPunch(oh Handle, epoch Epoch) (err error)
	// ObjPunchDkeys punches dkeys; nil punches every dkey.
	ObjPunchDkeys(oh Handle, epoch Epoch, dkeys [][]byte) (err error)
	// ObjPunchAkeys punches akeys under dkey; nil punches every akey.
	ObjPunchAkeys(oh Handle, epoch Epoch, dkey []byte, akeys [][]byte) (err error)

	// Log writes a client log record through the engine's log facility.
	Log(msg, file, function string, line int, level LogLevel) (err error)
	// KillServer takes a server rank out of service.
	KillServer(group string, rank Rank, force bool) (err error)

	// Info returns engine statistics. Not all fields are guaranteed to be filled in.
	Info() (info Info, err error)
	// Close releases the engine.
	Close() (err error)
}
