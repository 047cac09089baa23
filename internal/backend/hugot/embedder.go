package hugot

import (
	"context"
	"sync"

	"github.com/knights-analytics/hugot"

	"github.com/fortemi/core/internal/ferr"
)

// pipelineHandle keeps one loaded session+pipeline per model slug alive
// for the process lifetime, so repeated Embed calls don't reload ONNX
// weights from disk every time.
type pipelineHandle struct {
	session  hugot.Session
	pipeline *hugot.FeatureExtractionPipeline
	dims     int
}

// Embedder is a local ONNX-backed backend.EmbeddingBackend, grounded on
// the teacher's DefaultEmbedder but generalized from a single hardcoded
// model to any model slug named by an EmbeddingConfig.
type Embedder struct {
	mu      sync.Mutex
	loaded  map[string]*pipelineHandle
	onnxRel string // e.g. "onnx/model.onnx"; empty lets hugot pick the default export
}

// NewEmbedder constructs an Embedder. onnxFilePath selects the exported
// ONNX file within each downloaded model repo.
func NewEmbedder(onnxFilePath string) *Embedder {
	return &Embedder{loaded: map[string]*pipelineHandle{}, onnxRel: onnxFilePath}
}

// Close destroys every loaded session. Call on process shutdown.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for name, h := range e.loaded {
		if err := h.session.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.loaded, name)
	}
	return firstErr
}

func (e *Embedder) handle(model string) (*pipelineHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h, ok := e.loaded[model]; ok {
		return h, nil
	}

	modelPath, err := PrepareModel(model, e.onnxRel)
	if err != nil {
		return nil, ferr.Wrap("hugot.Embedder", ferr.Permanent, "prepare model "+model, err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, ferr.Wrap("hugot.Embedder", ferr.Transient, "create session", err)
	}

	cfg := hugot.FeatureExtractionConfig{ModelPath: modelPath, Name: "embedder-" + model}
	pipe, err := hugot.NewPipeline(session, cfg)
	if err != nil {
		_ = session.Destroy()
		return nil, ferr.Wrap("hugot.Embedder", ferr.Permanent, "create pipeline for "+model, err)
	}

	h := &pipelineHandle{session: session, pipeline: pipe}
	e.loaded[model] = h
	return h, nil
}

// Embed implements backend.EmbeddingBackend.
func (e *Embedder) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements backend.EmbeddingBackend.
func (e *Embedder) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	h, err := e.handle(model)
	if err != nil {
		return nil, err
	}

	result, err := h.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, ferr.Wrap("hugot.Embedder.EmbedBatch", ferr.Transient, "run pipeline", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, ferr.New("hugot.Embedder.EmbedBatch", ferr.Permanent, "embedding count mismatch")
	}

	e.mu.Lock()
	if h.dims == 0 && len(result.Embeddings) > 0 {
		h.dims = len(result.Embeddings[0])
	}
	e.mu.Unlock()

	return result.Embeddings, nil
}

// Dimensions implements backend.EmbeddingBackend. It requires at least
// one prior Embed call for the model, since hugot does not expose
// output width before running the pipeline once.
func (e *Embedder) Dimensions(model string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.loaded[model]
	if !ok || h.dims == 0 {
		return 0, ferr.New("hugot.Embedder.Dimensions", ferr.InvalidInput, "model not yet embedded at least once: "+model)
	}
	return h.dims, nil
}
