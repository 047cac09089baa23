// Package backend declares the inference backend contracts (§6):
// embedding and text generation are pluggable so the core can run
// against a local ONNX model or a remote service without the pipeline
// or worker packages knowing the difference.
package backend

import "context"

// EmbeddingBackend turns text into a dense vector for a named model.
// Implementations classify failures as ferr.Transient (retry-worthy,
// e.g. a timed-out remote call) or ferr.Permanent (e.g. unknown model).
type EmbeddingBackend interface {
	// Embed returns the declared-dimensionality vector for one passage.
	Embed(ctx context.Context, model, text string) ([]float32, error)
	// EmbedBatch embeds many passages in one call when the backend
	// supports it; callers fall back to repeated Embed otherwise.
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
	// Dimensions reports the declared output width for a model.
	Dimensions(model string) (int, error)
}

// GenerationBackend produces text from a prompt, used for title
// generation and similar fast-GPU/standard-GPU tiered jobs.
type GenerationBackend interface {
	Generate(ctx context.Context, model, prompt string, options GenerateOptions) (string, error)
}

// GenerateOptions controls a single generation call.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
}
