// Command fortemi is the composition root and worker binary for the
// Fortémi knowledge-base core: it wires the Postgres-backed store,
// memory registry, request router, job queue/worker, embedding
// pipeline, link and graph maintenance engines, hybrid search, and the
// in-process event bus into one running process.
//
// Grounded on the teacher's grapher.go::NewGrapher composition-root
// shape: one struct holding every collaborator, one constructor wiring
// them in dependency order, a Close method, and a convenience method
// for picking the default (stub, here) backend the way UseDefaultPipeline
// picks the teacher's default chunker/embedder/extractor.
package main

import (
	"context"
	"log/slog"

	"github.com/fortemi/core/internal/backend"
	"github.com/fortemi/core/internal/backend/hugot"
	"github.com/fortemi/core/internal/backend/stub"
	"github.com/fortemi/core/internal/config"
	"github.com/fortemi/core/internal/embedpipeline"
	"github.com/fortemi/core/internal/eventbus"
	"github.com/fortemi/core/internal/ferr"
	"github.com/fortemi/core/internal/graphmaint"
	"github.com/fortemi/core/internal/linkengine"
	"github.com/fortemi/core/internal/memory"
	"github.com/fortemi/core/internal/model"
	"github.com/fortemi/core/internal/queue"
	"github.com/fortemi/core/internal/router"
	"github.com/fortemi/core/internal/search"
	"github.com/fortemi/core/internal/store"
	"github.com/fortemi/core/internal/worker"
)

// maxMemories bounds the catalog.memories table per §3's QuotaExceeded
// invariant; this binary doesn't expose a way to change it at runtime.
const maxMemories = 256

// App holds every collaborator the worker loop and any embedding
// library caller needs. Fields are exported so a caller embedding this
// binary's package as a library (rather than running main) can reach
// into the same wiring the worker uses.
type App struct {
	cfg *config.Config
	log *slog.Logger

	Store    *store.Store
	Registry *memory.Registry
	Router   *router.Router
	Queue    *queue.Queue
	Worker   *worker.Worker
	Events   *eventbus.Bus

	Embedder  backend.EmbeddingBackend
	Generator backend.GenerationBackend

	Pipeline *embedpipeline.Pipeline
	Linker   *linkengine.Engine
	Graph    *graphmaint.Engine

	embedderCloser func() error
}

// NewApp opens the store, applies migrations, and wires every
// component named in SPEC_FULL.md's component sections, in the
// dependency order each one needs: store, then registry/router (both
// need the open DB), then queue, then the domain engines (which need
// the queue and a backend), then the worker (which needs the engines
// as handlers), then search and the event bus (independent of the
// others, needed by callers rather than the worker loop itself).
func NewApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	st, err := store.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}

	registry := memory.New(st.DB, maxMemories, cfg.MemoryCacheTTL)
	rt := router.New(st.DB, registry)
	q := queue.New(st.DB)

	if err := bootstrapDefaultMemory(ctx, registry, cfg.DefaultMemory); err != nil {
		st.Close()
		return nil, err
	}

	embedder, embedderCloser, err := buildEmbedder(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	generator := stub.NewGenerator("untitled note")

	pipeline := embedpipeline.New(embedder, q)
	linker := linkengine.New(linkengine.Config{Threshold: cfg.LinkThreshold, TopK: cfg.LinkTopK})
	graph := graphmaint.New(graphmaint.Config{
		SNNK:                cfg.GraphSNNK,
		SNNPruneThreshold:   cfg.GraphSNNPruneThreshold,
		NormalizationGamma:  cfg.GraphNormalizationGamma,
		CommunityResolution: cfg.GraphCommunityResolution,
		PFNETMaxNodesForQ3:  cfg.GraphPFNETMaxNodes,
	})

	w := worker.New(q, log)

	events := eventbus.New(cfg.EventBusCapacity, cfg.EventReplayBuffer, cfg.EventCoalesceWindow)

	a := &App{
		cfg: cfg, log: log,
		Store: st, Registry: registry, Router: rt, Queue: q, Worker: w, Events: events,
		Embedder: embedder, Generator: generator,
		Pipeline: pipeline, Linker: linker, Graph: graph,
		embedderCloser: embedderCloser,
	}
	a.registerHandlers()
	return a, nil
}

// Close releases the embedder's resources (e.g. loaded ONNX sessions)
// and the database pool, in that order.
func (a *App) Close() error {
	var firstErr error
	if a.embedderCloser != nil {
		if err := a.embedderCloser(); err != nil {
			firstErr = err
		}
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// registerHandlers binds the job types §4.4/§5 name onto the Worker's
// drain loop, including extract_concepts' tiered escalation (§4.3).
func (a *App) registerHandlers() {
	a.Worker.Register("embed_note", a.handleEmbedNote)
	a.Worker.Register("generate_title", a.handleGenerateTitle)
	a.Worker.Register("link_note", a.handleLinkNote)
	a.Worker.Register("graph_maintenance", a.handleGraphMaintenance)
	a.Worker.Register("extract_concepts", a.handleExtractConcepts)
}

// Search runs HybridSearch against a single resolved memory (explicit
// header name, cached default, or the shared canonical namespace — see
// Router.Resolve). The transaction is always rolled back: search never
// writes.
func (a *App) Search(ctx context.Context, explicitMemoryName string, req search.Request) (*search.Result, error) {
	tx, m, err := a.Router.BeginTx(ctx, explicitMemoryName)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	set, err := store.EnsureDefaultEmbeddingSet(ctx, tx, "default")
	if err != nil {
		return nil, err
	}
	engine := search.New(a.Embedder, set.ID, a.cfg.MRLCoarseDims > 0, a.cfg.MRLCoarseDims)
	res, err := engine.Search(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	for i := range res.Hits {
		res.Hits[i].Memory = m.Name
	}
	return res, nil
}

// SearchFederated runs req across every memory the registry knows
// about and RRF-fuses the per-memory rankings into one ranking (§4.7).
func (a *App) SearchFederated(ctx context.Context, req search.Request) (*search.Result, error) {
	infos, err := a.Registry.ListMemories(ctx)
	if err != nil {
		return nil, err
	}
	memories := make([]model.Memory, len(infos))
	for i, info := range infos {
		memories[i] = info.Memory
	}
	return search.Federated(ctx, a.Store.DB, a.Embedder, a.cfg.MRLCoarseDims > 0, a.cfg.MRLCoarseDims, search.FederatedRequest{
		Request: req, Memories: memories,
	})
}

// bootstrapDefaultMemory ensures at least one memory namespace exists
// so RequestRouter's fallback resolution order always has a default to
// land on, the way a fresh install of the teacher's single-tenant store
// always has its one database to open against.
func bootstrapDefaultMemory(ctx context.Context, registry *memory.Registry, name string) error {
	if name == "" {
		name = "default"
	}
	if _, err := registry.ResolveDefault(ctx); err == nil {
		return nil
	} else if ferr.KindOf(err) != ferr.NotFound {
		return err
	}
	_, err := registry.CreateMemory(ctx, name)
	return err
}

// buildEmbedder selects the configured EmbeddingBackend: "hugot" loads a
// local ONNX export via the file named by cfg.ONNXFilePath, "stub" (the
// default) uses the deterministic test double so the binary runs
// without a model download. No GenerationBackend equivalent is wired to
// hugot: the teacher's hugot wrapper only exposes a
// FeatureExtractionPipeline, never a text-generation pipeline, so title
// generation always runs against the stub generator (see DESIGN.md).
func buildEmbedder(cfg *config.Config) (backend.EmbeddingBackend, func() error, error) {
	switch cfg.EmbeddingBackend {
	case "hugot":
		if cfg.ONNXFilePath == "" {
			return nil, nil, ferr.New("fortemi.buildEmbedder", ferr.InvalidInput, "embedding_backend=hugot requires onnx_file_path")
		}
		e := hugot.NewEmbedder(cfg.ONNXFilePath)
		return e, e.Close, nil
	case "", "stub":
		return stub.NewEmbedder(cfg.EmbeddingDims), nil, nil
	default:
		return nil, nil, ferr.New("fortemi.buildEmbedder", ferr.InvalidInput, "unknown embedding_backend: "+cfg.EmbeddingBackend)
	}
}
