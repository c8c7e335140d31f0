package sim

import (
	"hash/fnv"
	"math/rand"
)

// SubsystemModel names the stream models draw initial conditions from.
// It is seeded with the run seed itself.
const SubsystemModel = "model"

// SubsystemConnect names the gating stream of a connection population.
func SubsystemConnect(population string) string {
	return "connect/" + population
}

// Streams hands out one seeded *rand.Rand per named subsystem. Streams are
// independent: draws from a connection pass never shift the draws of a model
// or of another connection population.
//
// Streams is not safe for concurrent use. Every draw happens at the serial
// point or inside Init.
type Streams struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewStreams returns the stream set for a run seed.
func NewStreams(seed int64) *Streams {
	return &Streams{seed: seed, streams: make(map[string]*rand.Rand)}
}

// Seed returns the run seed.
func (r *Streams) Seed() int64 { return r.seed }

// Stream returns the generator for name, creating it on first use. Repeated
// calls return the same generator.
func (r *Streams) Stream(name string) *rand.Rand {
	if g, ok := r.streams[name]; ok {
		return g
	}
	g := rand.New(rand.NewSource(streamSeed(r.seed, name)))
	r.streams[name] = g
	return g
}

func streamSeed(seed int64, name string) int64 {
	if name == SubsystemModel {
		return seed
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return seed ^ int64(h.Sum64())
}
