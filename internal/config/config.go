// Package config loads Fortémi's runtime configuration from environment
// variables, with an optional YAML overlay for values operators prefer to
// keep in a file (tuning knobs, tiering thresholds).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable named in the external-interfaces section of
// the core spec: connection info, retrieval weights, graph-refinement
// constants, and job-tiering parameters.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	DefaultMemory string `yaml:"default_memory"`

	LinkThreshold float64 `yaml:"link_threshold"`
	LinkTopK      int     `yaml:"link_top_k"`
	RRFK          int     `yaml:"rrf_k"`

	GraphSNNK                int     `yaml:"graph_snn_k"`
	GraphSNNPruneThreshold   float64 `yaml:"graph_snn_prune_threshold"`
	GraphNormalizationGamma  float64 `yaml:"graph_normalization_gamma"`
	GraphCommunityResolution float64 `yaml:"graph_community_resolution"`
	GraphPFNETMaxNodes       int     `yaml:"graph_pfnet_max_nodes"`

	ConceptMaxDocFreq float64 `yaml:"concept_max_doc_freq"`

	// ConceptEscalationThreshold is the minimum concept count a fast-GPU
	// extract_concepts job must produce; fewer triggers §4.3's tiered
	// escalation to a standard-GPU retry.
	ConceptEscalationThreshold int `yaml:"concept_escalation_threshold"`

	JobRetryBackoff  []time.Duration `yaml:"-"`
	JobDefaultDeadline time.Duration `yaml:"job_default_deadline"`

	EventBusCapacity   int           `yaml:"event_bus_capacity"`
	EventReplayBuffer  int           `yaml:"event_replay_buffer"`
	EventCoalesceWindow time.Duration `yaml:"event_coalesce_window"`

	MemoryCacheTTL time.Duration `yaml:"memory_cache_ttl"`

	MRLCoarseDims int `yaml:"mrl_coarse_dims"`

	// EmbeddingBackend selects the EmbeddingBackend implementation: "stub"
	// (deterministic, no model download) or "hugot" (local ONNX inference
	// via the exported file named by ONNXFilePath).
	EmbeddingBackend string `yaml:"embedding_backend"`
	ONNXFilePath     string `yaml:"onnx_file_path"`
	EmbeddingDims    int    `yaml:"embedding_dims"`
}

// Default returns the constants named throughout the spec's component
// sections, before any environment/file overrides are applied.
func Default() *Config {
	return &Config{
		DefaultMemory: "shared",

		LinkThreshold: 0.70,
		LinkTopK:      64,
		RRFK:          20,

		GraphSNNK:                10,
		GraphSNNPruneThreshold:   0.15,
		GraphNormalizationGamma:  1.0,
		GraphCommunityResolution: 1.0,
		GraphPFNETMaxNodes:       1000,

		ConceptMaxDocFreq:          0.8,
		ConceptEscalationThreshold: 3,

		JobRetryBackoff:    []time.Duration{0, 30 * time.Second, 120 * time.Second},
		JobDefaultDeadline: 5 * time.Minute,

		EventBusCapacity:    256,
		EventReplayBuffer:   1024,
		EventCoalesceWindow: 500 * time.Millisecond,

		MemoryCacheTTL: 60 * time.Second,

		MRLCoarseDims: 64,

		EmbeddingBackend: "stub",
		EmbeddingDims:    384,
	}
}

// LoadFile overlays YAML-file values onto the receiver. A missing file is
// not an error — the defaults (plus any env overrides applied before or
// after) remain in effect.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadEnv overlays values from environment variables named in the spec's
// external-interfaces section. Unset variables leave the current value
// untouched.
func (c *Config) LoadEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	f64 := func(key string, dst *float64) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = parsed
		return nil
	}
	i := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = parsed
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = parsed
		return nil
	}

	str("FORTEMI_DATABASE_URL", &c.DatabaseURL)
	str("FORTEMI_DEFAULT_MEMORY", &c.DefaultMemory)
	str("FORTEMI_EMBEDDING_BACKEND", &c.EmbeddingBackend)
	str("FORTEMI_ONNX_FILE_PATH", &c.ONNXFilePath)
	if err := i("FORTEMI_EMBEDDING_DIMS", &c.EmbeddingDims); err != nil {
		return err
	}

	if err := f64("FORTEMI_LINK_THRESHOLD", &c.LinkThreshold); err != nil {
		return err
	}
	if err := i("FORTEMI_LINK_TOP_K", &c.LinkTopK); err != nil {
		return err
	}
	if err := i("FORTEMI_RRF_K", &c.RRFK); err != nil {
		return err
	}
	if err := i("FORTEMI_GRAPH_SNN_K", &c.GraphSNNK); err != nil {
		return err
	}
	if err := f64("FORTEMI_GRAPH_SNN_PRUNE_THRESHOLD", &c.GraphSNNPruneThreshold); err != nil {
		return err
	}
	if err := f64("FORTEMI_GRAPH_NORMALIZATION_GAMMA", &c.GraphNormalizationGamma); err != nil {
		return err
	}
	if err := f64("FORTEMI_GRAPH_COMMUNITY_RESOLUTION", &c.GraphCommunityResolution); err != nil {
		return err
	}
	if err := i("FORTEMI_GRAPH_PFNET_MAX_NODES", &c.GraphPFNETMaxNodes); err != nil {
		return err
	}
	if err := f64("FORTEMI_CONCEPT_MAX_DOC_FREQ", &c.ConceptMaxDocFreq); err != nil {
		return err
	}
	if err := i("FORTEMI_CONCEPT_ESCALATION_THRESHOLD", &c.ConceptEscalationThreshold); err != nil {
		return err
	}
	if err := dur("FORTEMI_JOB_DEFAULT_DEADLINE", &c.JobDefaultDeadline); err != nil {
		return err
	}
	if err := i("FORTEMI_EVENT_BUS_CAPACITY", &c.EventBusCapacity); err != nil {
		return err
	}
	if err := i("FORTEMI_EVENT_REPLAY_BUFFER", &c.EventReplayBuffer); err != nil {
		return err
	}
	if err := dur("FORTEMI_EVENT_COALESCE_WINDOW", &c.EventCoalesceWindow); err != nil {
		return err
	}
	if err := dur("FORTEMI_MEMORY_CACHE_TTL", &c.MemoryCacheTTL); err != nil {
		return err
	}
	if err := i("FORTEMI_MRL_COARSE_DIMS", &c.MRLCoarseDims); err != nil {
		return err
	}
	return nil
}

// Load builds the default config, overlays an optional YAML file, then
// applies environment overrides (env wins, matching the teacher pack's
// layering convention of file-as-base, env-as-override).
func Load(yamlPath string) (*Config, error) {
	c := Default()
	if err := c.LoadFile(yamlPath); err != nil {
		return nil, err
	}
	if err := c.LoadEnv(); err != nil {
		return nil, err
	}
	return c, nil
}
