package simulator

import (
	"hash/fnv"
	"math/rand"
	"os"
	"time"
)

// Producers draw from isolated streams derived from one master seed, so the
// backfill job and the live scheduler never share (or race on) a *rand.Rand.
const (
	SubsystemBackfill = "backfill"
	SubsystemLive     = "live"
	SubsystemPreview  = "preview"
)

// NewRNG returns a deterministically seeded source for the named subsystem.
// The same (seed, subsystem) pair always yields the same sequence.
// The returned source is not safe for concurrent use.
func NewRNG(seed int64, subsystem string) *rand.Rand {
	return rand.New(rand.NewSource(seed ^ fnv1a64(subsystem)))
}

// ProcessSeed picks a seed unique to this process. Callers log it so the run
// can be replayed with --seed.
func ProcessSeed() int64 {
	seed := time.Now().UnixNano() ^ int64(os.Getpid())<<32
	if seed == 0 {
		seed = 1
	}
	return seed
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
