// Package semantic is the vector index client. It stores child vectors in a
// Qdrant collection, partitioned into namespaces by a payload field.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/parentchild/engine/domain"
	"github.com/WessleyAI/parentchild/engine/identity"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore owns all Qdrant operations for one collection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	log         *slog.Logger
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	v := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	v.conn = conn
	return v, nil
}

// NewWithClients creates a VectorStore over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{
		points:      points,
		collections: collections,
		collection:  collection,
		log:         slog.Default(),
	}
}

// WithLogger sets the logger.
func (v *VectorStore) WithLogger(l *slog.Logger) *VectorStore {
	if l != nil {
		v.log = l
	}
	return v
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// Close closes the underlying gRPC connection, if the store owns one.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// CreateIndex creates the collection if it doesn't exist. An existing
// collection is left untouched.
func (v *VectorStore) CreateIndex(ctx context.Context, spec IndexSpec) error {
	if spec.Dimension <= 0 {
		return domain.NewValidationError("dimension", fmt.Sprint(spec.Dimension), domain.ErrInvalidConfig)
	}
	dist, err := ParseMetric(spec.Metric)
	if err != nil {
		return domain.NewValidationError("metric", spec.Metric, domain.ErrInvalidConfig)
	}

	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			v.log.Info("semantic: collection exists", "collection", v.collection)
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dimension),
					Distance: dist,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	v.log.Info("semantic: collection created", "collection", v.collection,
		"dimension", spec.Dimension, "metric", dist.String(), "region", spec.Region)
	return nil
}

func (v *VectorStore) info(ctx context.Context) (*pb.CollectionInfo, error) {
	resp, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.collection})
	if err != nil {
		return nil, fmt.Errorf("semantic: collection info %s: %w", v.collection, err)
	}
	return resp.GetResult(), nil
}

// IndexReady reports whether the collection is green.
func (v *VectorStore) IndexReady(ctx context.Context) (bool, error) {
	info, err := v.info(ctx)
	if err != nil {
		return false, err
	}
	return info.GetStatus() == pb.CollectionStatus_Green, nil
}

// WaitReady polls IndexReady every poll interval until the collection is
// ready or ctx is done.
func (v *VectorStore) WaitReady(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		ready, err := v.IndexReady(ctx)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		v.log.Debug("semantic: waiting for collection", "collection", v.collection)
		select {
		case <-ctx.Done():
			return fmt.Errorf("semantic: wait ready %s: %w", v.collection, ctx.Err())
		case <-ticker.C:
		}
	}
}

// DeleteIndex drops the collection.
func (v *VectorStore) DeleteIndex(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.collection})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert writes records into namespace. Point ids are derived from the
// namespace and record id; the record id is kept in the payload.
func (v *VectorStore) Upsert(ctx context.Context, namespace string, records []domain.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, r.Metadata.Len()+2)
		for _, f := range r.Metadata.Fields() {
			payload[f.Key] = toValue(f.Value)
		}
		payload[PayloadNamespace] = toValue(namespace)
		payload[PayloadChildID] = toValue(r.ID)

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: identity.PointID(namespace, r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Query returns the topK nearest points of namespace, best first. Raw vectors
// are never requested; metadata only when includeMetadata is set.
func (v *VectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         namespaceFilter(namespace),
		// The child id lives in the payload, so it is always fetched.
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors: &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: false}},
	}
	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	matches := make([]domain.Match, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		m := domain.Match{ID: p.GetId().GetUuid(), Score: p.GetScore()}
		payload := p.GetPayload()
		if id := payload[PayloadChildID].GetStringValue(); id != "" {
			m.ID = id
		}
		if includeMetadata {
			fields := make(map[string]any, len(payload))
			for k, val := range payload {
				if k == PayloadNamespace || k == PayloadChildID {
					continue
				}
				fields[k] = fromValue(val)
			}
			m.Metadata = domain.MetadataFromMap(fields)
		}
		matches[i] = m
	}
	return matches, nil
}

// DescribeStats reports the collection status and point counts.
func (v *VectorStore) DescribeStats(ctx context.Context, namespace string) (Stats, error) {
	info, err := v.info(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Collection:  v.collection,
		Status:      info.GetStatus().String(),
		Dimension:   info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(),
		TotalPoints: info.GetPointsCount(),
		Namespace:   namespace,
	}
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: v.collection,
		Filter:         namespaceFilter(namespace),
		Exact:          &exact,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("semantic: count %s: %w", namespace, err)
	}
	st.NamespacePoints = resp.GetResult().GetCount()
	return st, nil
}

// DeleteNamespace removes every point of namespace.
func (v *VectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: namespaceFilter(namespace),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete namespace %s: %w", namespace, err)
	}
	return nil
}

func namespaceFilter(namespace string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{fieldMatch(PayloadNamespace, namespace)}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// toValue converts a metadata scalar to a payload value.
func toValue(val any) *pb.Value {
	switch tv := val.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

// fromValue converts a payload value back to a metadata scalar. Nested
// values are rendered as strings.
func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_NullValue, nil:
		return nil
	default:
		return v.String()
	}
}
