package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// pointNamespace derives Qdrant point UUIDs from example ids, which Qdrant
// would otherwise reject.
var pointNamespace = uuid.MustParse("6f1c3c3e-8a51-4d3c-9b6e-2c9e5f0a7d41")

const defaultQdrantPort = 6334

// qdrantAPI is the part of *qdrant.Client the store uses
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

// QdrantStore talks to Qdrant over gRPC
type QdrantStore struct {
	client qdrantAPI
}

// NewQdrantStore creates a client for the Qdrant gRPC endpoint at rawURL
// (e.g. http://localhost:6334; https enables TLS). The connection is made
// lazily on first use.
func NewQdrantStore(rawURL, apiKey string) (*QdrantStore, error) {
	cfg, err := qdrantConfig(rawURL, apiKey)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

func qdrantConfig(rawURL, apiKey string) (*qdrant.Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("qdrant: invalid url %q", rawURL)
	}
	port := defaultQdrantPort
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("qdrant: invalid port in %q", rawURL)
		}
	}
	return &qdrant.Config{
		Host:                   u.Hostname(),
		Port:                   port,
		APIKey:                 apiKey,
		UseTLS:                 u.Scheme == "https",
		SkipCompatibilityCheck: true,
	}, nil
}

func (q *QdrantStore) Backend() string { return "qdrant" }

func (q *QdrantStore) EnsureCollection(ctx context.Context, name string, dims int, metric Metric) error {
	if metric != Cosine {
		return fmt.Errorf("unsupported metric %q", metric)
	}

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	if exists {
		info, err := q.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != uint64(dims) {
			return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, name, size, dims)
		}
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	// a concurrent cold start may have created it first
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	return nil
}

func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("point id cannot be empty")
		}
		payload := map[string]any{
			"example_id": p.ID,
			"content":    p.Text,
		}
		if len(p.Metadata) > 0 {
			payload["metadata"] = p.Metadata
		}
		values, err := qdrant.TryValueMap(payload)
		if err != nil {
			return fmt.Errorf("qdrant: payload for %s: %w", p.ID, err)
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(p.ID)),
			Vectors: qdrant.NewVectors(toFloat32(p.Vector)...),
			Payload: values,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	return q.wrap(collection, err)
}

func (q *QdrantStore) Query(ctx context.Context, collection string, vector []float64, k int) ([]Match, error) {
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(toFloat32(vector)...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, q.wrap(collection, err)
	}

	matches := make([]Match, 0, len(scored))
	for _, sp := range scored {
		m := Match{ID: sp.GetId().GetUuid(), Score: float64(sp.GetScore())}
		payload := sp.GetPayload()
		if id := payload["example_id"].GetStringValue(); id != "" {
			m.ID = id
		}
		m.Text = payload["content"].GetStringValue()
		if md := payload["metadata"].GetStructValue(); md != nil {
			m.Metadata = structToMap(md)
		}
		matches = append(matches, m)
	}
	return topK(matches, k), nil
}

func (q *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointUUID(id))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	return q.wrap(collection, err)
}

func (q *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, q.wrap(collection, err)
	}
	return int(n), nil
}

func (q *QdrantStore) Close() error {
	return q.client.Close()
}

func (q *QdrantStore) wrap(collection string, err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return fmt.Errorf("qdrant: %w", err)
}

func pointUUID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func structToMap(s *qdrant.Struct) map[string]any {
	out := make(map[string]any, len(s.GetFields()))
	for k, v := range s.GetFields() {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		return structToMap(kind.StructValue)
	case *qdrant.Value_ListValue:
		list := make([]any, len(kind.ListValue.GetValues()))
		for i, item := range kind.ListValue.GetValues() {
			list[i] = valueToAny(item)
		}
		return list
	default:
		return nil
	}
}
