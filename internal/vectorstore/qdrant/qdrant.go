package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"ragagent/internal/domain"
)

// payloadContent is the payload key holding node text.
const payloadContent = "content"

// Config contains connection details for a Qdrant server (gRPC port).
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Provider talks to Qdrant over gRPC. It assumes cosine distance and creates
// collections on first write.
type Provider struct {
	client *qdrant.Client
	logger *slog.Logger
}

// NewProvider connects to Qdrant.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Provider{client: client, logger: logger}, nil
}

func (p *Provider) Name() string { return "qdrant" }

// Collections lists collection names in sorted order.
func (p *Provider) Collections(ctx context.Context) ([]string, error) {
	names, err := p.client.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (p *Provider) Store(name string) domain.VectorStore {
	return &Store{client: p.client, name: name, logger: p.logger}
}

func (p *Provider) Close() error { return p.client.Close() }

// Upsert writes nodes as points. Point IDs are derived from node IDs so
// re-ingesting a document overwrites its points.
func (p *Provider) Upsert(ctx context.Context, collection string, nodes []domain.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", collection, err)
	}
	if !exists {
		err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(len(nodes[0].Embedding)),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %q: %w", collection, err)
		}
	}

	points := make([]*qdrant.PointStruct, 0, len(nodes))
	for _, n := range nodes {
		payload, err := toPayload(n)
		if err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(n.ID)),
			Vectors: qdrant.NewVectors(n.Embedding...),
			Payload: payload,
		})
	}
	wait := true
	if _, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Wait: &wait, Points: points}); err != nil {
		return fmt.Errorf("upsert into %q: %w", collection, err)
	}
	return nil
}

// Reset drops the collection if it exists.
func (p *Provider) Reset(ctx context.Context, collection string) error {
	exists, err := p.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", collection, err)
	}
	if !exists {
		return nil
	}
	return p.client.DeleteCollection(ctx, collection)
}

// PointID maps a node ID onto the UUID form Qdrant accepts.
func PointID(nodeID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ragagent:"+nodeID)).String()
}

func toPayload(n domain.Node) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(n.Metadata)+1)
	for k, v := range n.Metadata {
		if v == nil {
			continue
		}
		val, err := qdrant.NewValue(v)
		if err != nil {
			return nil, fmt.Errorf("convert metadata %q of node %s: %w", k, n.ID, err)
		}
		payload[k] = val
	}
	payload[payloadContent] = qdrant.NewValueString(n.Content)
	return payload, nil
}

// Store is a handle on one Qdrant collection.
type Store struct {
	client *qdrant.Client
	name   string
	logger *slog.Logger
}

func (s *Store) Name() string { return s.name }

// Query runs a dense search. Sparse and hybrid modes need named sparse
// vectors, which this provider does not index, so they run as dense queries.
func (s *Store) Query(ctx context.Context, q domain.VectorQuery) ([]domain.ScoredNode, error) {
	if q.Mode != "" && q.Mode != domain.QueryModeDefault {
		s.logger.Debug("query mode not supported by qdrant provider; using dense search", "mode", q.Mode, "collection", s.name)
	}
	res, err := s.client.GetPointsClient().Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.name,
		Vector:         q.Embedding,
		Limit:          uint64(max(q.TopK, 1)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", s.name, err)
	}
	return convertPoints(res.GetResult()), nil
}

func convertPoints(points []*qdrant.ScoredPoint) []domain.ScoredNode {
	out := make([]domain.ScoredNode, 0, len(points))
	for _, pt := range points {
		var id string
		if pt.Id != nil {
			switch v := pt.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = v.Uuid
			case *qdrant.PointId_Num:
				id = fmt.Sprintf("%d", v.Num)
			}
		}
		md := make(map[string]any, len(pt.Payload))
		content := ""
		for k, v := range pt.Payload {
			if k == payloadContent {
				content = v.GetStringValue()
				continue
			}
			md[k] = fromValue(v)
		}
		out = append(out, domain.ScoredNode{
			Node:  domain.Node{ID: id, Content: content, Metadata: md},
			Score: domain.Score(float64(pt.Score)),
		})
	}
	return out
}

func fromValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		items := k.ListValue.GetValues()
		list := make([]any, len(items))
		for i, item := range items {
			list[i] = fromValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		fields := k.StructValue.GetFields()
		m := make(map[string]any, len(fields))
		for name, f := range fields {
			m[name] = fromValue(f)
		}
		return m
	}
	return nil
}
