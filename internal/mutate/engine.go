package mutate

import (
	"bytes"
	"errors"
	"fmt"

	"stdinfuzz/internal/types"
)

// MaxRepeat is the exclusive upper bound of the insertion repeat count.
const MaxRepeat = 50

var ErrInvalidInput = errors.New("invalid mutation input")

// Engine derives mutants from a seed. It keeps no state besides its random source.
type Engine struct {
	src Source
}

func NewEngine(src Source) *Engine {
	if src == nil {
		src = NewRandomSource()
	}
	return &Engine{src: src}
}

// Generate applies every operator once per round, each to the untouched seed,
// and returns the batch in round order: substitution, deletion, insertion.
func (e *Engine) Generate(seed []byte, rounds int) ([]types.Mutant, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("%w: seed is empty", ErrInvalidInput)
	}
	if rounds < 1 {
		return nil, fmt.Errorf("%w: rounds must be positive, got %d", ErrInvalidInput, rounds)
	}

	ops := []struct {
		op types.Operator
		fn func([]byte, Source) []byte
	}{
		{types.OpSubstitute, Substitute},
		{types.OpDelete, Delete},
		{types.OpInsert, Insert},
	}

	batch := make([]types.Mutant, 0, len(ops)*rounds)
	for round := range rounds {
		for _, o := range ops {
			batch = append(batch, types.Mutant{
				Index:    len(batch),
				Round:    round,
				Operator: o.op,
				Data:     o.fn(seed, e.src),
			})
		}
	}
	return batch, nil
}

// Substitute overwrites one random position with the byte found at another
// random position. Both picks are independent, so the result may equal the seed.
func Substitute(seed []byte, src Source) []byte {
	out := bytes.Clone(seed)
	from := src.IntN(len(seed))
	to := src.IntN(len(seed))
	out[to] = seed[from]
	return out
}

// Delete removes a random non-empty range that never runs past the end of the seed.
func Delete(seed []byte, src Source) []byte {
	pos := src.IntN(len(seed))
	n := src.IntN(len(seed)-pos) + 1

	out := make([]byte, 0, len(seed)-n)
	out = append(out, seed[:pos]...)
	return append(out, seed[pos+n:]...)
}

// Insert splices 0 to MaxRepeat-1 copies of a randomly sampled seed byte
// at a random position.
func Insert(seed []byte, src Source) []byte {
	sym := seed[src.IntN(len(seed))]
	count := src.IntN(MaxRepeat)
	pos := src.IntN(len(seed))

	out := make([]byte, 0, len(seed)+count)
	out = append(out, seed[:pos]...)
	out = append(out, bytes.Repeat([]byte{sym}, count)...)
	return append(out, seed[pos:]...)
}
