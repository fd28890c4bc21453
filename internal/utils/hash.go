package utils

import (
	"fmt"
	"hash/fnv"
)

// Fingerprint hashes parts in order. Parts are separated so that ("ab", "c")
// and ("a", "bc") hash differently.
func Fingerprint(parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
