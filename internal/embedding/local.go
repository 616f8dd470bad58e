package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// LocalProvider is a deterministic, dependency-free embedder: each token
// hashes into a bucket of the output vector. It is not semantically
// meaningful but is stable across runs, which is what mock-mode sessions
// and tests need from the L4 tier.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates a deterministic local embedder.
func NewLocalProvider(cfg Config) *LocalProvider {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &LocalProvider{dimension: dim}
}

// Embed hashes each text's tokens into a normalized vector.
func (p *LocalProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embedOne(text)
	}
	return out, nil
}

func (p *LocalProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dimension)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[int(h.Sum32())%p.dimension] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// Dimension returns the fixed embedding vector dimension.
func (p *LocalProvider) Dimension() int {
	return p.dimension
}
