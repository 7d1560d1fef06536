// Package domain defines the document, parent and child types shared by the
// chunker, the embedding pipeline, the parent store and the retriever.
package domain

// Reserved metadata keys. Lineage keys are written after document metadata,
// so a document key with the same name is overwritten.
const (
	KeyText             = "text"
	KeyParentUnitID     = "parent_unit_id"
	KeyOriginalParentID = "original_parent_id"
	KeyIsChunkedParent  = "is_chunked_parent"
	KeyChunkIndex       = "chunk_index"

	KeyParentID      = "parent_id"
	KeyIsParentChunk = "is_parent_chunk"
)

// Document is a caller-supplied unit of content.
type Document struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// ParentRecord is what the retriever hands back: a whole document or, when
// parent chunking is on, one parent chunk.
type ParentRecord struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// IsParentChunk reports whether the record is a chunk of a larger parent.
func (p ParentRecord) IsParentChunk() bool {
	v, _ := p.Metadata.Get(KeyIsParentChunk)
	b, _ := v.(bool)
	return b
}

// NewParentChunkRecord builds the record for chunk i of parentID. Document
// metadata is copied first and the lineage keys win on collision.
func NewParentChunkRecord(id, parentID string, i int, text string, docMeta Metadata) ParentRecord {
	meta := docMeta.Clone()
	meta.Set(KeyParentID, parentID)
	meta.Set(KeyIsParentChunk, true)
	meta.Set(KeyChunkIndex, i)
	return ParentRecord{ID: id, Content: text, Metadata: meta}
}

// ChildChunk is a small embeddable fragment with its lineage.
type ChildChunk struct {
	ChildID          string
	Text             string
	ParentUnitID     string
	OriginalParentID string
	ChunkIndex       int
	IsChunkedParent  bool
	// Metadata is the originating document's metadata.
	Metadata Metadata
}

// Payload returns the flat metadata stored next to the child's vector:
// document metadata first, then the reserved lineage keys.
func (c ChildChunk) Payload() Metadata {
	meta := c.Metadata.Clone()
	meta.Set(KeyText, c.Text)
	meta.Set(KeyParentUnitID, c.ParentUnitID)
	meta.Set(KeyOriginalParentID, c.OriginalParentID)
	meta.Set(KeyIsChunkedParent, c.IsChunkedParent)
	meta.Set(KeyChunkIndex, c.ChunkIndex)
	return meta
}

// EmbeddingRecord is the unit written to the vector index.
type EmbeddingRecord struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is a single ranked hit from the vector index.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// OriginalParentID returns the top-level parent id recorded on the match.
func (m Match) OriginalParentID() string {
	return m.Metadata.String(KeyOriginalParentID)
}
