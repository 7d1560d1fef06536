package ingest

import (
	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/engine/identity"
)

// Chunker turns a document into its parent records and child chunks.
type Chunker struct {
	// ChunkParents splits the document into parent chunks before child
	// splitting. Off means the whole document is the only parent unit.
	ChunkParents bool
	Parent       Splitter
	Child        Splitter
	// IDs assigns parent ids. nil uses identity.Random.
	IDs identity.Assigner
}

// Plan is the chunking result for one document.
type Plan struct {
	ParentID string
	// Parents holds the whole document first, followed by its parent chunks
	// when ChunkParents is set.
	Parents  []domain.ParentRecord
	Children []domain.ChildChunk
}

// NewChunker builds a Chunker from sizes in runes.
func NewChunker(chunkParents bool, parentSize, parentOverlap, childSize, childOverlap int) (Chunker, error) {
	c := Chunker{ChunkParents: chunkParents}
	var err error
	if c.Child, err = NewSplitter(childSize, childOverlap); err != nil {
		return Chunker{}, err
	}
	if chunkParents {
		if c.Parent, err = NewSplitter(parentSize, parentOverlap); err != nil {
			return Chunker{}, err
		}
	}
	return c, nil
}

// Split plans one document. Empty content gives a single empty parent record
// and no children.
func (c Chunker) Split(doc domain.Document) Plan {
	ids := c.IDs
	if ids == nil {
		ids = identity.Random{}
	}
	parentID := ids.NewParentID()
	plan := Plan{
		ParentID: parentID,
		Parents: []domain.ParentRecord{{
			ID:       parentID,
			Content:  doc.Content,
			Metadata: doc.Metadata.Clone(),
		}},
	}

	type unit struct {
		id   string
		text string
	}
	var units []unit
	if !c.ChunkParents {
		units = []unit{{id: parentID, text: doc.Content}}
	} else {
		for i, text := range c.Parent.Split(doc.Content) {
			id := identity.ParentChunkID(parentID, i)
			plan.Parents = append(plan.Parents, domain.NewParentChunkRecord(id, parentID, i, text, doc.Metadata))
			units = append(units, unit{id: id, text: text})
		}
	}

	for _, u := range units {
		for i, text := range c.Child.Split(u.text) {
			plan.Children = append(plan.Children, domain.ChildChunk{
				ChildID:          identity.ChildID(u.id, i),
				Text:             text,
				ParentUnitID:     u.id,
				OriginalParentID: parentID,
				ChunkIndex:       i,
				IsChunkedParent:  c.ChunkParents,
				Metadata:         doc.Metadata,
			})
		}
	}
	return plan
}

// SplitAll plans every document in order.
func (c Chunker) SplitAll(docs []domain.Document) []Plan {
	plans := make([]Plan, len(docs))
	for i, d := range docs {
		plans[i] = c.Split(d)
	}
	return plans
}

// Span locates one document's children in the flattened child list.
type Span struct {
	Doc   int
	Start int
	End   int
}

// Layout assigns each plan its range in the flattened child list by prefix
// sums over child counts.
func Layout(plans []Plan) []Span {
	spans := make([]Span, len(plans))
	offset := 0
	for i, p := range plans {
		spans[i] = Span{Doc: i, Start: offset, End: offset + len(p.Children)}
		offset += len(p.Children)
	}
	return spans
}

// Flatten concatenates the children of all plans, laid out as Layout says.
func Flatten(plans []Plan) []domain.ChildChunk {
	spans := Layout(plans)
	n := 0
	if len(spans) > 0 {
		n = spans[len(spans)-1].End
	}
	out := make([]domain.ChildChunk, n)
	for i, s := range spans {
		copy(out[s.Start:s.End], plans[i].Children)
	}
	return out
}
