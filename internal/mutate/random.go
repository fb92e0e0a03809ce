package mutate

import (
	"math/rand/v2"
	"sync"

	"stdinfuzz/config"

	"go.uber.org/zap"
)

// Source supplies uniformly distributed integers in [0, n).
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

// NewRandomSource returns the process-wide, randomly seeded generator.
// Two runs produce different batches.
func NewRandomSource() Source {
	return globalSource{}
}

func (globalSource) IntN(n int) int {
	return rand.IntN(n)
}

type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededSource returns a generator whose sequence depends only on seed,
// so a batch can be regenerated exactly.
func NewSeededSource(seed uint64) Source {
	return &seededSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *seededSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// NewEngineFromConfig seeds the engine from the campaign's rand_seed when one
// is configured and falls back to the process-wide generator otherwise.
func NewEngineFromConfig(cfg *config.AppConfig, logger *zap.Logger) *Engine {
	if seed := cfg.Campaign.RandSeed; seed != nil {
		logger.Info("using seeded mutation source", zap.Uint64("rand_seed", *seed))
		return NewEngine(NewSeededSource(*seed))
	}
	return NewEngine(NewRandomSource())
}
