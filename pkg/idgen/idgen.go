// Package idgen provides injectable identifier generators.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a fresh unique identifier.
type Generator func() string

// UUID generates random (v4) UUID strings.
func UUID() string {
	return uuid.New().String()
}

// Sequence returns a deterministic generator producing prefix-1, prefix-2, ...
func Sequence(prefix string) Generator {
	var n atomic.Uint64
	return func() string {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1))
	}
}
