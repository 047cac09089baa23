// Package graphmaint implements GraphMaintenance (§4.6): normalization,
// SNN pruning, PFNET(∞,2) sparsification, and two-phase Louvain
// community detection over one memory's link graph.
//
// The convergence-loop shape is grounded on
// nornicdb/apoc/algo/algo.go's plain map-of-scores style (its
// PageRank/BetweennessCentrality functions), adapted here from
// label-propagation-flavored primitives to true modularity-optimizing
// Louvain, which the spec requires and the teacher pack does not
// implement anywhere.
package graphmaint

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/model"
)

// Config names the tunables from §4.6/§6.
type Config struct {
	NormalizationGamma  float64
	SNNK                int
	SNNPruneThreshold   float64
	CommunityResolution float64
	PFNETMaxNodesForQ3  int
}

func DefaultConfig() Config {
	return Config{
		NormalizationGamma:  1.0,
		SNNK:                10,
		SNNPruneThreshold:   0.15,
		CommunityResolution: 1.0,
		PFNETMaxNodesForQ3:  1000,
	}
}

// edge is the engine's working representation of one link: a stable
// pair plus the similarity used for ranking, independent of whatever
// persistence shape store.Link has.
type edge struct {
	a, b       uuid.UUID
	similarity float64 // raw, as stored
	effective  float64 // post-normalization, used for all derived steps
	snnScore   float64
	retained   bool // survived SNN pruning (or pruning was skipped)
	pfnetFlag  bool // survived PFNET sparsification; the spec's soft pfnet_retained flag
}

// Result is everything a GraphMaintenance run produces, ready to be
// persisted by the caller via the store package.
type Result struct {
	Edges       []EdgeUpdate
	Communities []CommunityAssignment
	Labels      map[int]CommunityLabel
	Diagnostics Diagnostics
}

// CommunityLabel is the derived label/confidence pair for one
// community id, ready for store.WriteCommunityLabel.
type CommunityLabel struct {
	Label      string
	Confidence float64
}

type EdgeUpdate struct {
	A, B          uuid.UUID
	SNNScore      float64
	PFNETRetained bool
	CommunityID   *int
}

type CommunityAssignment struct {
	NoteID      uuid.UUID
	CommunityID int
}

type Diagnostics struct {
	NodeCount             int
	EdgeCountRaw          int
	EdgeCountPFNET        int
	CommunityCount        int
	ModularityQ           float64
	LargestCommunityRatio float64
	SNNSkipped            bool
}

// Engine runs the four-step pipeline over an in-memory graph built from
// the caller's already-loaded nodes and links.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine { return &Engine{cfg: cfg} }

// ConceptLookup resolves the TF-IDF-gated concept labels assigned to a
// note, reused from §4.4's gate so community labels never pick an
// overly common concept.
type ConceptLookup func(noteID uuid.UUID) []string

// Run executes normalization, SNN pruning, PFNET sparsification, and
// Louvain over the given link set. nodeCount is the total live note
// count in the memory (isolated notes count toward it but never gain
// edges or a community).
func (e *Engine) Run(links []*model.Link, nodeCount int, labelsOf ConceptLookup) Result {
	edges := toEdges(links, e.cfg.NormalizationGamma)

	adjAll := buildAdjacency(edges)
	meanDegree := 0.0
	if nodeCount > 0 {
		meanDegree = float64(len(edges)) / float64(nodeCount)
	}

	snnSkipped := meanDegree < float64(e.cfg.SNNK)
	if !snnSkipped {
		scoreSNN(edges, adjAll, e.cfg.SNNK)
		pruneSNN(edges, e.cfg.SNNPruneThreshold)
	} else {
		for i := range edges {
			edges[i].snnScore = 0
			edges[i].retained = true // SNN prune skipped: nothing excluded by this step
		}
	}

	active := activeEdges(edges)
	adjActive := buildAdjacency(active)
	markPFNETRetained(active, adjActive)

	backbone := backboneEdges(active)
	assignments, communityCount, modularityQ := runLouvain(backbone, e.cfg.CommunityResolution)

	largestRatio := largestCommunityRatio(assignments, nodeCount)
	labelsByComm := labelCommunities(assignments, labelsOf)

	return buildResult(edges, assignments, labelsByComm, Diagnostics{
		NodeCount:             nodeCount,
		EdgeCountRaw:          len(edges),
		EdgeCountPFNET:        len(backbone),
		CommunityCount:        communityCount,
		ModularityQ:           modularityQ,
		LargestCommunityRatio: largestRatio,
		SNNSkipped:            snnSkipped,
	})
}

func toEdges(links []*model.Link, gamma float64) []*edge {
	out := make([]*edge, len(links))
	for i, l := range links {
		eff := l.Similarity
		if gamma != 1.0 && eff > 0 {
			eff = math.Pow(eff, gamma)
		}
		out[i] = &edge{a: l.SourceID, b: l.TargetID, similarity: l.Similarity, effective: eff, retained: true}
	}
	return out
}

// buildAdjacency indexes edges by endpoint for kNN/witness lookups.
func buildAdjacency(edges []*edge) map[uuid.UUID][]*edge {
	adj := map[uuid.UUID][]*edge{}
	for _, e := range edges {
		adj[e.a] = append(adj[e.a], e)
		adj[e.b] = append(adj[e.b], e)
	}
	return adj
}

func other(e *edge, node uuid.UUID) uuid.UUID {
	if e.a == node {
		return e.b
	}
	return e.a
}

func activeEdges(edges []*edge) []*edge {
	var out []*edge
	for _, e := range edges {
		if e.retained {
			out = append(out, e)
		}
	}
	return out
}

func backboneEdges(edges []*edge) []*edge {
	var out []*edge
	for _, e := range edges {
		if e.pfnetRetained() {
			out = append(out, e)
		}
	}
	return out
}

func (e *edge) pfnetRetained() bool { return e.pfnetFlag }

func buildResult(all []*edge, assignments map[uuid.UUID]int, labels map[int]labelInfo, diag Diagnostics) Result {
	updates := make([]EdgeUpdate, 0, len(all))
	for _, e := range all {
		var cid *int
		if ca, ok := assignments[e.a]; ok {
			if cb, ok2 := assignments[e.b]; ok2 && ca == cb {
				c := ca
				cid = &c
			}
		}
		updates = append(updates, EdgeUpdate{A: e.a, B: e.b, SNNScore: e.snnScore, PFNETRetained: e.pfnetFlag, CommunityID: cid})
	}

	var comms []CommunityAssignment
	for n, c := range assignments {
		comms = append(comms, CommunityAssignment{NoteID: n, CommunityID: c})
	}
	sort.Slice(comms, func(i, j int) bool { return comms[i].NoteID.String() < comms[j].NoteID.String() })

	outLabels := map[int]CommunityLabel{}
	for comm, info := range labels {
		outLabels[comm] = CommunityLabel{Label: info.label, Confidence: info.confidence}
	}

	diag.CommunityCount = countDistinctCommunities(assignments)

	return Result{Edges: updates, Communities: comms, Labels: outLabels, Diagnostics: diag}
}

func countDistinctCommunities(assignments map[uuid.UUID]int) int {
	seen := map[int]bool{}
	for _, c := range assignments {
		seen[c] = true
	}
	return len(seen)
}
