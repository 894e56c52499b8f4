package util

import (
	"encoding/binary"
)

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// HashKey hashes a key with FNV-1a, mixing in seed.
// A zero seed gives the plain FNV-1a value, which is stable across processes.
func HashKey(key []byte, seed uint64) uint64 {
	hash := uint64(fnvOffset64) ^ seed
	for _, c := range key {
		hash ^= uint64(c)
		hash *= fnvPrime64
	}
	return hash
}

// HashUint64 hashes the little endian form of v.
func HashUint64(v uint64, seed uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return HashKey(b[:], seed)
}
