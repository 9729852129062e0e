// Package shard maps cache keys onto a fixed set of lock stripes.
package shard

import (
	"hash/fnv"
)

// MaxStripes bounds the number of stripes a table may be split into.
const MaxStripes = 256

// Clamp limits n to the range [1, MaxStripes].
func Clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxStripes {
		return MaxStripes
	}
	return n
}

// Index returns the stripe for an item key within a container.
// With numStripes=1, every key lands on stripe 0.
func Index(container, key string, numStripes int) int {
	if numStripes <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(container))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(numStripes))
}
