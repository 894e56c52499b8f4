// Package lengine implements a local, in-memory, single-node storage engine based on the
// engine.IEngine interface. All state lives in memory; Save and Load turn it into a
// compressed snapshot so it can be persisted or shipped to another replica.
//
// Key Features:
//   - Pools with a static target map, target exclusion and service ranks
//   - Containers with attributes and an epoch state (HCE, LRE, held epochs)
//   - Objects addressed by dkey and akey, holding single values or arrays of records
//   - Multi-version records: every update creates a version at its epoch, fetches
//     at epoch e see the newest version <= e that is not hidden by a punch
//   - Deterministic behaviour: given the same sequence of calls two engines end up
//     in the same state, which the replicated engine relies on
//
// Implementation Details:
//
//   - Handle Tables: pool, container and object handles are kept in separate
//     xsync.MapOf tables. Handles are drawn from a single counter and are never reused.
//     Closing a parent handle closes every child handle opened through it.
//
//   - Version Chains: each single value and each array index owns a skipmap ordered
//     by descending epoch, so the first entry <= e during a range scan is the visible one.
//
//   - Punches: tombstones are epochs recorded on the object, dkey or akey level.
//     A punch at epoch p hides every version at epoch <= p from reads at epoch >= p.
//
//   - Aggregation: slipping the lowest referenced epoch (LRE) removes every version
//     that can no longer be observed by a read at an epoch >= LRE. Reads below LRE
//     fail with RCEpochOld.
//
//   - Snapshots: Save writes a magic header followed by an lz4 compressed CBOR document
//     of the complete state, including open handles. Load replaces the state.
//
// Thread Safety:
//
//	All operations are safe for concurrent use. Handle tables are concurrent maps,
//	pool and container metadata are guarded by their own mutexes and each object
//	carries a read-write lock, so operations on different objects never contend.
//
// Usage Example:
//
//	e := lengine.NewLocalEngine(lengine.DefaultOptions())
//	id, svc, _ := e.PoolCreate(engine.PoolCreateRequest{Mode: 0o731, SvcNr: 1})
//	poh, _, _ := e.PoolConnect(id, "", svc, engine.PoolConnectRW)
package lengine
