package randomutil

import (
	"math/rand"
)

// RandomGenerator is the injection seam for randomness. Skip-rate sampling and
// model-group selection draw through it so tests can pin the outcome.
type RandomGenerator interface {
	GenerateInt63() int64
	GenerateIntn(n int) int
}

type RandomNumberGenerator struct{}

func (RandomNumberGenerator) GenerateInt63() int64 {
	return rand.Int63()
}

func (RandomNumberGenerator) GenerateIntn(n int) int {
	return rand.Intn(n)
}
