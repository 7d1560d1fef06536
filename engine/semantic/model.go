package semantic

import (
	"fmt"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
)

// Payload keys the store adds to every point.
const (
	PayloadNamespace = "namespace"
	PayloadChildID   = "child_id"
)

// IndexSpec describes the collection to create.
type IndexSpec struct {
	Dimension int
	// Metric is cosine, dot, euclid or manhattan. Empty means cosine.
	Metric string
	// Region is accepted for parity with managed indexes and only logged.
	Region string
}

// Stats summarises the collection and one namespace within it.
type Stats struct {
	Collection      string `json:"collection"`
	Status          string `json:"status"`
	Dimension       uint64 `json:"dimension"`
	TotalPoints     uint64 `json:"total_points"`
	Namespace       string `json:"namespace"`
	NamespacePoints uint64 `json:"namespace_points"`
}

// ParseMetric maps a metric name to a Qdrant distance.
func ParseMetric(s string) (pb.Distance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return pb.Distance_Cosine, nil
	case "dot", "dotproduct":
		return pb.Distance_Dot, nil
	case "euclid", "euclidean":
		return pb.Distance_Euclid, nil
	case "manhattan":
		return pb.Distance_Manhattan, nil
	default:
		return pb.Distance_UnknownDistance, fmt.Errorf("semantic: unknown metric %q", s)
	}
}
