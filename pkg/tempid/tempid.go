// Package tempid issues placeholder identifiers for entities that have not
// been persisted yet.
//
// A temporary identifier carries a fixed prefix so it can never be mistaken
// for a server-issued identifier, and is unique within a process lifetime.
package tempid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// Prefix marks an identifier as temporary. Server-issued identifiers are
// assumed to never carry it.
const Prefix = "temp-"

var counter atomic.Uint64

// New returns a fresh temporary identifier. It never collides with another
// identifier produced by this process: a monotonic counter disambiguates
// identifiers created within the same nanosecond.
func New() string {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		// crypto/rand is documented to never fail on supported platforms;
		// the counter alone still guarantees process-local uniqueness.
		return fmt.Sprintf("%s%d-%d", Prefix, time.Now().UnixNano(), counter.Add(1))
	}
	return fmt.Sprintf("%s%d-%d-%s", Prefix, time.Now().UnixNano(), counter.Add(1), hex.EncodeToString(suffix[:]))
}

// Is reports whether id is a temporary identifier produced by New.
func Is(id string) bool {
	return strings.HasPrefix(id, Prefix)
}
