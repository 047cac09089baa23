// Package model defines the shared data types passed between Fortémi's
// store, pipeline, graph, search, and event layers. It generalizes the
// teacher's Chunk/Document/Edge/Entity shapes into the note-centric model
// described by the core spec.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Metadata is a free-form, JSON-backed key/value bag attached to notes,
// jobs, and events, mirroring the teacher's model.Metadata Valuer/Scanner.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("metadata: marshal: %w", err)
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = Metadata{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		*m = Metadata{}
		return nil
	}
	out := Metadata{}
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("metadata: unmarshal: %w", err)
	}
	*m = out
	return nil
}

// Note is the memory-owned unit of knowledge. Identity is a time-ordered
// UUID (uuid.NewV7); content keeps both the original and any AI/user
// revision so provenance survives editing.
type Note struct {
	ID               uuid.UUID
	DocumentTypeID   string
	OriginalContent  string
	RevisedContent   *string
	Tags             []string
	Metadata         Metadata
	Deleted          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Content returns the revised content when present, falling back to the
// original — the text the embedding pipeline and search snippets use.
func (n *Note) Content() string {
	if n.RevisedContent != nil && *n.RevisedContent != "" {
		return *n.RevisedContent
	}
	return n.OriginalContent
}

// ChunkStrategy enumerates the chunking strategies §4.4 names.
type ChunkStrategy string

const (
	ChunkSemantic      ChunkStrategy = "semantic"
	ChunkSyntactic     ChunkStrategy = "syntactic"
	ChunkPerSection    ChunkStrategy = "per_section"
	ChunkParagraph     ChunkStrategy = "paragraph"
	ChunkSentence      ChunkStrategy = "sentence"
	ChunkSlidingWindow ChunkStrategy = "sliding_window"
	ChunkFixed         ChunkStrategy = "fixed"
	ChunkWhole         ChunkStrategy = "whole"
)

// TagStrategy controls which SKOS tags DocumentComposition folds into
// embedding text.
type TagStrategy string

const (
	TagNone    TagStrategy = "none"
	TagAll     TagStrategy = "all"
	TagPrimary TagStrategy = "primary"
)

// DocumentComposition controls what text is sent to the embedding model
// for a chunk, per §3's EmbeddingConfig definition.
type DocumentComposition struct {
	IncludeTitle      bool
	IncludeContent    bool
	TagStrategy       TagStrategy
	IncludeConcepts   bool
	ConceptMaxDocFreq float64
	InstructionPrefix string
}

// EmbeddingConfig names a model and how text is prepared for it.
type EmbeddingConfig struct {
	ID             string
	ModelSlug      string
	Dimensions     int
	SupportsMRL    bool
	MRLDimensions  []int
	Composition    DocumentComposition
	ChunkStrategy  ChunkStrategy
	ChunkSize      int
	ChunkOverlap   int
}

// EmbeddingSetKind distinguishes a Filter Set (shares the default
// population, restricts retrieval via predicate) from a Full Set (owns its
// own vectors, potentially a different model).
type EmbeddingSetKind string

const (
	FilterSet EmbeddingSetKind = "filter"
	FullSet   EmbeddingSetKind = "full"
)

// EmbeddingSet is a named, logically independent collection of embeddings.
type EmbeddingSet struct {
	ID           string
	Name         string
	Kind         EmbeddingSetKind
	ConfigID     string
	FilterJSON   Metadata
	CreatedAt    time.Time
}

// Embedding is one chunk's vector within one set.
type Embedding struct {
	NoteID      uuid.UUID
	SetID       string
	ChunkIndex  int
	Vector      []float32
	CoarseVector []float32 // MRL-truncated projection, nil when MRL disabled
	ModelID     string
	Dimensions  int
	CreatedAt   time.Time
}

// ChunkChain records how a note was split so search can de-duplicate by
// note and a later re-embed can restart deterministically.
type ChunkChain struct {
	NoteID      uuid.UUID
	TotalChunks int
	Strategy    ChunkStrategy
}

// Chunk is one ordered slice of a note's text, carrying offsets so
// chunking is restartable and inspectable.
type Chunk struct {
	NoteID     uuid.UUID
	Index      int
	Content    string
	StartPos   int
	EndPos     int
}

// EdgeMetadata carries the derived fields GraphMaintenance writes onto a
// link in place, never by deleting the edge.
type EdgeMetadata struct {
	SNNScore      *float64
	PFNETRetained *bool
	CommunityID   *int
}

// Link is an undirected graph edge between two notes in the same memory,
// stored with a stable (min, max) ordering of endpoints.
type Link struct {
	SourceID   uuid.UUID
	TargetID   uuid.UUID
	Similarity float64
	Metadata   EdgeMetadata
	CreatedAt  time.Time
}

// StableOrder returns the endpoints in canonical (min, max) order so
// undirected edges never duplicate under swapped insertion order.
func StableOrder(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() <= b.String() {
		return a, b
	}
	return b, a
}

// GraphNode is the derived per-query view of a note's graph position.
type GraphNode struct {
	NoteID               uuid.UUID
	CommunityID           *int
	CommunityLabel        *string
	CommunityConfidence   *float64
	Degree                int
}

// DocumentType is a shared-catalog registry row describing how a note's
// content should be extracted, chunked, and embedded by default.
type DocumentType struct {
	ID                   string
	Name                 string
	FilenamePatterns     []string
	MIMETypes            []string
	ChunkStrategy        ChunkStrategy
	RecommendedConfigID  string
	ContentTemplate      *string
}

// JobStatus enumerates the lifecycle states of §3's Job record.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// CostTier is the Worker's tiering key: CPU jobs drain before fast-GPU,
// which drains before standard-GPU.
type CostTier string

const (
	TierCPU        CostTier = "cpu"
	TierFastGPU    CostTier = "fast_gpu"
	TierStandardGPU CostTier = "standard_gpu"
)

// Job is one row of the durable priority queue.
type Job struct {
	ID               uuid.UUID
	MemorySchema     string
	Type             string
	Payload          Metadata
	Status           JobStatus
	Priority         int
	CostTier         CostTier
	RetryCount       int
	MaxRetries       int
	ProgressPercent  int
	ProgressMessage  string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ClaimVisibleAt   time.Time
	ErrorMessage     *string
	NoteID           *uuid.UUID
	Deadline         time.Duration
	Cancelled        bool
}

// IsGlobal reports whether the job is memory-wide (no note scope), which
// puts it under type-level deduplication instead of (note_id, type).
func (j *Job) IsGlobal() bool { return j.NoteID == nil }

// Memory is a tenant namespace: one physical database, one schema.
type Memory struct {
	ID              string
	Name            string
	SchemaName      string
	IsDefault       bool
	Locked          bool
	SchemaVersion   int
	CreatedAt       time.Time
	LastAccessed    time.Time
	NoteCountCache  int64
	SizeBytesCache  int64
}

// DriftStatus classifies how a memory's schema compares to canonical.
type DriftStatus string

const (
	DriftCurrent DriftStatus = "current"
	DriftBehind  DriftStatus = "behind"
	DriftUnknown DriftStatus = "unknown"
)

// MemoryInfo is the read-model returned by list/create operations,
// pairing a Memory with its computed drift status.
type MemoryInfo struct {
	Memory
	Drift DriftStatus
}

// Event is the immutable envelope broadcast by the EventBus.
type Event struct {
	EventID        uuid.UUID
	EventType      string
	OccurredAt     time.Time
	Memory         string
	Actor          string
	EntityType     string
	EntityID       string
	CorrelationID  string
	CausationID    string
	PayloadVersion int
	Payload        Metadata
}
