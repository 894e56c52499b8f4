package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// Handle is an opaque engine handle for a pool connection, an open container or an open object.
// The zero value is never a valid handle.
type Handle uint64

// InvalidHandle is the zero handle.
const InvalidHandle Handle = 0

// IsValid reports whether h is not the zero handle.
func (h Handle) IsValid() bool { return h != InvalidHandle }

// Rank identifies a storage target.
type Rank uint32

// --------------------------------------------------------------------------
// Epochs
// --------------------------------------------------------------------------

// Epoch is a 64-bit logical version number within a container.
type Epoch uint64

// EpochMax is the largest epoch; it is used as the open upper bound of write ranges.
const EpochMax = ^Epoch(0)

// EpochRange is an inclusive range of epochs.
type EpochRange struct {
	Lo Epoch
	Hi Epoch
}

// WriteRange returns the range used by updates at epoch e.
func WriteRange(e Epoch) EpochRange { return EpochRange{Lo: e, Hi: EpochMax} }

// ReadRange returns the range used by fetches at epoch e.
func ReadRange(e Epoch) EpochRange { return EpochRange{Lo: e, Hi: e} }

// EpochState is a container's epoch summary.
type EpochState struct {
	HCE  Epoch // highest committed epoch
	LRE  Epoch // lowest referenced epoch
	LHE  Epoch // lowest held epoch, EpochMax if nothing is held
	GHCE Epoch // global highest committed epoch
}

func (s EpochState) String() string {
	lhe := fmt.Sprint(uint64(s.LHE))
	if s.LHE == EpochMax {
		lhe = "max"
	}
	return fmt.Sprintf("hce=%d lre=%d lhe=%s ghce=%d", s.HCE, s.LRE, lhe, s.GHCE)
}

// --------------------------------------------------------------------------
// Open Modes
// --------------------------------------------------------------------------

const (
	PoolConnectRO uint64 = 1 << iota // read-only pool connection
	PoolConnectRW                    // read-write pool connection
	PoolConnectEX                    // exclusive pool connection
)

const (
	ContOpenRO uint64 = 1 << iota // read-only container handle
	ContOpenRW                    // read-write container handle
)

// ContOpenDefault is used when a container is opened without explicit flags.
const ContOpenDefault = ContOpenRW

const (
	ObjOpenRO uint64 = 1 << (iota + 1) // read-only object handle
	ObjOpenRW                          // read-write object handle
)

// --------------------------------------------------------------------------
// Info Types
// --------------------------------------------------------------------------

// TargetState is the state of a pool target.
type TargetState uint8

const (
	TargetUp   TargetState = iota // in the pool map and serving
	TargetDown                    // excluded, still in the pool map
	TargetOut                     // excluded and removed from placement
)

func (s TargetState) String() string {
	switch s {
	case TargetUp:
		return "up"
	case TargetDown:
		return "down"
	case TargetOut:
		return "out"
	}
	return "unknown"
}

// Target is one storage target of a pool.
type Target struct {
	Rank  Rank
	State TargetState
}

// PoolInfo describes a pool as seen by a connection.
type PoolInfo struct {
	UUID       uuid.UUID
	Group      string
	Mode       uint32
	UID        uint32
	GID        uint32
	ScmSize    uint64
	MapVersion uint32
	Targets    []Target
	Disabled   uint32 // number of targets not in state up
	Svc        []Rank
	Conts      uint32
}

// ContInfo describes an open container.
type ContInfo struct {
	UUID      uuid.UUID
	Epoch     EpochState
	Snapshots uint32
	Objects   uint64
}

// PoolCreateRequest carries the arguments of create-pool.
// UUID is optional: engines generate one when it is uuid.Nil.
type PoolCreateRequest struct {
	UUID    uuid.UUID
	Mode    uint32
	UID     uint32
	GID     uint32
	Group   string
	Targets []Rank // explicit target ranks, engine default when empty
	ScmSize uint64
	SvcNr   uint32
}

// Shard is one redundancy group of an object layout.
type Shard struct {
	Ranks []Rank // replicas, the first one is the leader
}

// Layout is the placement of an object across targets.
type Layout struct {
	OID    OID
	Class  ObjClass
	Shards []Shard
}

// Info is a snapshot of engine statistics.
type Info struct {
	Type         string
	Pools        int
	Containers   int
	Objects      int
	Records      int
	Bytes        uint64
	Handles      int
	SupportedOps []Op
	Metadata     map[string]string
}

func (i Info) String() string {
	return fmt.Sprintf("%s: pools=%d conts=%d objects=%d records=%d bytes=%d handles=%d",
		i.Type, i.Pools, i.Containers, i.Objects, i.Records, i.Bytes, i.Handles)
}

// LogLevel is the severity passed to the log operation.
type LogLevel uint8

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarning
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "DEBUG"
	case LogInfo:
		return "INFO"
	case LogWarning:
		return "WARNING"
	case LogError:
		return "ERROR"
	}
	return "UNKNOWN"
}
