// Package simrng derives deterministic, platform-independent random
// streams for the tick loop. A stream is keyed by (primary seed, tick,
// agent index, stage tag), which keeps a single run seed while making
// stages independent and re-entrant: any stage can be replayed in
// isolation and sees the same draws.
package simrng

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// Stage tags the loop stage a stream belongs to.
type Stage string

const (
	StageOrder    Stage = "order"
	StageInit     Stage = "init"
	StageObserve  Stage = "observe"
	StageEvaluate Stage = "evaluate"
	StageDecide   Stage = "decide"
	StageAct      Stage = "act"
	StageUpdate   Stage = "update"
	StageNoise    Stage = "noise"
	StageEvents   Stage = "events"
)

// tickWide marks streams that are not bound to a single agent.
const tickWide = -1

// Stream returns the PRNG stream for one agent and stage at one tick.
// Identical inputs produce identical sequences on every platform.
func Stream(primarySeed int64, tick int, agentIndex int, stage Stage) *rand.Rand {
	return rand.New(rand.NewChaCha8(streamKey(primarySeed, tick, int64(agentIndex), stage)))
}

// TickStream returns a stream scoped to the whole tick, used for
// population-level draws such as event injection.
func TickStream(primarySeed int64, tick int, stage Stage) *rand.Rand {
	return rand.New(rand.NewChaCha8(streamKey(primarySeed, tick, tickWide, stage)))
}

// Perm returns the stable agent processing order for a tick: a
// Fisher-Yates permutation of [0, n) drawn from the tick's order stream.
func Perm(primarySeed int64, tick int, n int) []int {
	return TickStream(primarySeed, tick, StageOrder).Perm(n)
}

func streamKey(primarySeed int64, tick int, agentIndex int64, stage Stage) [32]byte {
	h := sha256.New()
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], uint64(primarySeed))
	h.Write(word[:])
	binary.BigEndian.PutUint64(word[:], uint64(tick))
	h.Write(word[:])
	binary.BigEndian.PutUint64(word[:], uint64(agentIndex))
	h.Write(word[:])
	h.Write([]byte(stage))
	var key [32]byte
	h.Sum(key[:0])
	return key
}
