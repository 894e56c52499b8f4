package engine

import "strings"

// --------------------------------------------------------------------------
// Operations
// --------------------------------------------------------------------------

// Op identifies one named engine operation.
type Op uint8

const (
	OpInvalid Op = iota

	// client side (never sent to an engine)
	OpInit
	OpFini
	OpCreateEQ
	OpDestroyEQ
	OpPollEQ
	OpTestEvent
	OpInitEvent

	// pool
	OpCreatePool
	OpDestroyPool
	OpConnectPool
	OpDisconnectPool
	OpLocal2GlobalPool
	OpGlobal2LocalPool
	OpExcludePool
	OpExcludeOutPool
	OpAddTargetPool
	OpEvictPool
	OpStopServicePool
	OpQueryPool
	OpExtendPool
	OpQueryTarget

	// container
	OpCreateCont
	OpDestroyCont
	OpOpenCont
	OpCloseCont
	OpQueryCont
	OpLocal2GlobalCont
	OpGlobal2LocalCont
	OpListAttrCont
	OpGetAttrCont
	OpSetAttrCont

	// epoch
	OpHoldEpoch
	OpCommitEpoch
	OpSlipEpoch

	// object
	OpGenerateOID
	OpOpenObj
	OpCloseObj
	OpQueryObj
	OpLayoutObj
	OpFetchObj
	OpUpdateObj
	OpPunchObj
	OpPunchDkeys
	OpPunchAkeys

	// misc
	OpLog
	OpKillServer

	opCount
)

var opNames = [opCount]string{
	OpInvalid:          "invalid",
	OpInit:             "init",
	OpFini:             "fini",
	OpCreateEQ:         "create-eq",
	OpDestroyEQ:        "destroy-eq",
	OpPollEQ:           "poll-eq",
	OpTestEvent:        "test-event",
	OpInitEvent:        "init-event",
	OpCreatePool:       "create-pool",
	OpDestroyPool:      "destroy-pool",
	OpConnectPool:      "connect-pool",
	OpDisconnectPool:   "disconnect-pool",
	OpLocal2GlobalPool: "local2global-pool",
	OpGlobal2LocalPool: "global2local-pool",
	OpExcludePool:      "exclude-pool",
	OpExcludeOutPool:   "exclude-out-pool",
	OpAddTargetPool:    "add-target-pool",
	OpEvictPool:        "evict-pool",
	OpStopServicePool:  "stop-service-pool",
	OpQueryPool:        "query-pool",
	OpExtendPool:       "extend-pool",
	OpQueryTarget:      "query-target",
	OpCreateCont:       "create-cont",
	OpDestroyCont:      "destroy-cont",
	OpOpenCont:         "open-cont",
	OpCloseCont:        "close-cont",
	OpQueryCont:        "query-cont",
	OpLocal2GlobalCont: "local2global-cont",
	OpGlobal2LocalCont: "global2local-cont",
	OpListAttrCont:     "list-attr-cont",
	OpGetAttrCont:      "get-attr-cont",
	OpSetAttrCont:      "set-attr-cont",
	OpHoldEpoch:        "hold-epoch",
	OpCommitEpoch:      "commit-epoch",
	OpSlipEpoch:        "slip-epoch",
	OpGenerateOID:      "generate-oid",
	OpOpenObj:          "open-obj",
	OpCloseObj:         "close-obj",
	OpQueryObj:         "query-obj",
	OpLayoutObj:        "layout-obj",
	OpFetchObj:         "fetch-obj",
	OpUpdateObj:        "update-obj",
	OpPunchObj:         "punch-obj",
	OpPunchDkeys:       "punch-dkeys",
	OpPunchAkeys:       "punch-akeys",
	OpLog:              "log",
	OpKillServer:       "kill-server",
}

// String returns the action-subject name of the operation.
func (o Op) String() string {
	if o < opCount {
		return opNames[o]
	}
	return "unknown"
}

// ParseOp is the inverse of Op.String. OpInvalid is returned for unknown names.
func ParseOp(name string) Op {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range opNames {
		if n == name {
			return Op(i)
		}
	}
	return OpInvalid
}

// IsLocal reports whether the operation is handled by the client itself and never reaches an engine.
func (o Op) IsLocal() bool {
	return o >= OpInit && o <= OpInitEvent
}

// IsMutation reports whether the operation changes engine state.
// Replicated engines route mutations through consensus and everything else through reads.
func (o Op) IsMutation() bool {
	switch o {
	case OpQueryPool, OpQueryCont, OpListAttrCont, OpGetAttrCont, OpQueryObj, OpLayoutObj,
		OpFetchObj, OpQueryTarget, OpLocal2GlobalPool, OpLocal2GlobalCont, OpLog:
		return false
	}
	return !o.IsLocal() && o != OpInvalid && o < opCount
}

// AllOps returns every valid operation in declaration order.
func AllOps() []Op {
	ops := make([]Op, 0, int(opCount)-1)
	for o := OpInvalid + 1; o < opCount; o++ {
		ops = append(ops, o)
	}
	return ops
}

// OpCount is the number of defined operations including OpInvalid.
const OpCount = int(opCount)

// --------------------------------------------------------------------------
// Op Sets
// --------------------------------------------------------------------------

// OpSet is a bit set of operations, used by engines to advertise what they support.
type OpSet uint64

// NewOpSet returns a set containing the given ops.
func NewOpSet(ops ...Op) OpSet {
	var s OpSet
	for _, o := range ops {
		s = s.With(o)
	}
	return s
}

// With returns a copy of the set with o added.
func (s OpSet) With(o Op) OpSet { return s | 1<<o }

// Without returns a copy of the set with o removed.
func (s OpSet) Without(o Op) OpSet { return s &^ (1 << o) }

// Has reports whether o is in the set.
func (s OpSet) Has(o Op) bool { return o < opCount && s&(1<<o) != 0 }

// Ops lists the members of the set.
func (s OpSet) Ops() []Op {
	var ops []Op
	for o := Op(0); o < opCount; o++ {
		if s.Has(o) {
			ops = append(ops, o)
		}
	}
	return ops
}
