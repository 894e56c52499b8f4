// Package util provides small building blocks shared by the engines and the client layer.
//
// The package contains:
//   - hash: seeded FNV-1a hashing of keys (layouts, replica ids)
//   - epochheap: a min-heap of held epochs with key-based removal
//   - queue: a lock-free multi-producer single-consumer queue feeding a channel
//   - statistics: a size histogram and the load balance score reported in the engine info
package util
