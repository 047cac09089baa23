// Package stub provides deterministic EmbeddingBackend/GenerationBackend
// test doubles so pipeline, linkengine, and search tests don't depend on
// a real ONNX model.
package stub

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/fortemi/core/internal/backend"
	"github.com/fortemi/core/internal/ferr"
)

// Embedder produces a deterministic unit vector from a text hash, so
// identical text always embeds identically and distinct texts are
// extremely unlikely to collide.
type Embedder struct {
	Dims int
}

func NewEmbedder(dims int) *Embedder { return &Embedder{Dims: dims} }

func (e *Embedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return deterministicVector(text, e.Dims), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, e.Dims)
	}
	return out, nil
}

func (e *Embedder) Dimensions(model string) (int, error) { return e.Dims, nil }

func deterministicVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	h := fnv.New64a()
	var norm float64
	for i := 0; i < dims; i++ {
		h.Reset()
		_, _ = h.Write([]byte{byte(i), byte(i >> 8)})
		_, _ = h.Write([]byte(text))
		sum := h.Sum64()
		f := float64(sum%20000)/10000.0 - 1.0
		v[i] = float32(f)
		norm += f * f
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// Generator returns a canned response, optionally varied by model slug
// or forced to fail on a keyed prompt, to exercise tiered-escalation
// handlers in tests (e.g. a fast-GPU model slug returning fewer
// concepts than a standard-GPU one).
type Generator struct {
	Response string
	ByModel  map[string]string
	FailOn   map[string]bool
}

func NewGenerator(response string) *Generator {
	return &Generator{Response: response, ByModel: map[string]string{}, FailOn: map[string]bool{}}
}

func (g *Generator) Generate(ctx context.Context, model, prompt string, options backend.GenerateOptions) (string, error) {
	if g.FailOn[prompt] {
		return "", ferr.New("stub.Generate", ferr.Transient, "forced failure for test prompt")
	}
	if r, ok := g.ByModel[model]; ok {
		return r, nil
	}
	return g.Response, nil
}
