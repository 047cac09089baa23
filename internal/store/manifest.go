package store

// Manifest is the explicit, FK-ordered list of tables every memory
// namespace owns, cloned from the canonical namespace at memory-creation
// time and reconciled on startup. Order matters: a table may only
// reference tables earlier in this list (or the shared catalog).
//
// This is a manifest, not a denylist (§9 design notes) — classification
// of "does this table belong to a memory" is explicit and total, and the
// drift test in drift.go fails closed on anything it can't place.
var Manifest = []string{
	"notes",
	"note_revisions",
	"tags",
	"note_tags",
	"collections",
	"collection_notes",
	"links",
	"embedding_sets",
	"embeddings",
	"chunk_chains",
	"skos_concepts",
	"skos_concept_relations",
	"note_concepts",
	"provenance",
	"attachments",
	"attachment_extractions",
	"templates",
	"webhooks",
	"webhook_deliveries",
	"user_config",
	"saved_searches",
	"graph_diagnostics",
	"community_labels",
	"note_metadata_index",
	"audit_log",
}

// SharedCatalogTables lists the tables that live exclusively in the
// shared catalog namespace and are never cloned per memory. Used by the
// drift test together with Manifest to classify every canonical table.
var SharedCatalogTables = []string{
	"memories",
	"document_types",
	"embedding_configs",
	"jobs",
	"auth_state",
}

// CanonicalSchema is the namespace cloned to produce every new memory.
const CanonicalSchema = "memory_canonical"

// CatalogSchema is the shared, cross-memory namespace.
const CatalogSchema = "catalog"

// SchemaName derives the Postgres schema name for a memory from its
// storage id, keeping names predictable and collision-free.
func SchemaName(memoryID string) string {
	return "memory_" + memoryID
}
