package testutil

import (
	"fmt"
	"sync"

	"github.com/quadratichq/quadratic-sub015/internal/engine"
)

// SeqGenerator produces unbounded deterministic transaction ids of the
// form "<prefix>-001", "<prefix>-002", ... Unlike engine.FixedGenerator
// it never exhausts, which suits scenario runs of unknown length.
type SeqGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

var _ engine.IDGenerator = (*SeqGenerator)(nil)

// NewSeqGenerator creates a generator with the given id prefix.
func NewSeqGenerator(prefix string) *SeqGenerator {
	return &SeqGenerator{prefix: prefix}
}

// Generate returns the next id in sequence.
func (g *SeqGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%03d", g.prefix, g.n)
}
