// Package identity assigns ids to parents, parent chunks and child chunks.
//
// Parent ids are random. Parent-chunk and child ids are derived from their
// parent unit id and position, so re-chunking the same parent yields the same
// ids.
package identity

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Assigner hands out top-level parent ids.
type Assigner interface {
	NewParentID() string
}

// Random issues "parent-<uuid4>" ids.
type Random struct{}

// NewParentID implements Assigner.
func (Random) NewParentID() string { return NewParentID() }

// NewParentID returns a fresh, globally unique parent id.
func NewParentID() string {
	return "parent-" + uuid.NewString()
}

// ParentChunkID returns the id of chunk i of parentID.
func ParentChunkID(parentID string, i int) string {
	return parentID + "-pchunk-" + strconv.Itoa(i)
}

// ChildID returns the id of child i of parentUnitID.
func ChildID(parentUnitID string, i int) string {
	return parentUnitID + "-child-" + strconv.Itoa(i)
}

// PointID maps a child id to the UUID the vector index stores it under.
// The mapping is deterministic per namespace.
func PointID(namespace, childID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+childID)).String()
}

// Sequence issues "<prefix>-<n>" ids from a counter. Safe for concurrent use;
// intended for tests and reproducible fixtures.
type Sequence struct {
	Prefix string
	n      atomic.Int64
}

// NewParentID implements Assigner.
func (s *Sequence) NewParentID() string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "parent"
	}
	return fmt.Sprintf("%s-%d", prefix, s.n.Add(1)-1)
}
