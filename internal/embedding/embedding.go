package embedding

import "context"

// Provider generates vector embeddings from text. Vectors returned by any
// Provider are fitted to the configured dimension so every L4 collection
// sees a uniform width.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"` // default 1536
}

// DefaultDimension is the collection width used when none is configured.
const DefaultDimension = 1536

// Fit pads a vector with zeros or truncates it to exactly dim entries.
func Fit(vec []float32, dim int) []float32 {
	if dim <= 0 || len(vec) == dim {
		return vec
	}
	if len(vec) > dim {
		return vec[:dim]
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out
}
