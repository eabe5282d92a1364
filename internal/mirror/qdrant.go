// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// pointsClient is the subset of the Qdrant points service the mirror uses.
type pointsClient interface {
	Upsert(ctx context.Context, in *qdrantclient.UpsertPoints, opts ...grpc.CallOption) (*qdrantclient.PointsOperationResponse, error)
}

// collectionsClient is the subset of the Qdrant collections service used
// to create the collection on first connect.
type collectionsClient interface {
	List(ctx context.Context, in *qdrantclient.ListCollectionsRequest, opts ...grpc.CallOption) (*qdrantclient.ListCollectionsResponse, error)
	Create(ctx context.Context, in *qdrantclient.CreateCollection, opts ...grpc.CallOption) (*qdrantclient.CollectionOperationResponse, error)
}

// Defaults for the vector mirror.
const (
	DefaultQdrantCollection = "enlitens_knowledge"
	DefaultVectorSize       = 768
)

// pointNamespace derives stable point ids from document ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://enlitens.example/knowledge"))

// Qdrant mirrors one summary vector per entry.
type Qdrant struct {
	conn       *grpc.ClientConn
	points     pointsClient
	emb        Embedder
	collection string
	size       int
}

// NewQdrant dials the Qdrant gRPC port and ensures the collection exists.
func NewQdrant(ctx context.Context, cfg types.MirrorConfig, emb Embedder) (*Qdrant, error) {
	if emb == nil {
		return nil, errors.New("qdrant mirror needs an embedder")
	}
	host, port := cfg.QdrantHost, cfg.QdrantPort
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 6334
	}
	conn, err := grpc.NewClient(fmt.Sprintf("%s:%d", host, port), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	q := newQdrant(qdrantclient.NewPointsClient(conn), emb, cfg.QdrantCollection, cfg.VectorSize)
	q.conn = conn
	if err := q.ensureCollection(ctx, qdrantclient.NewCollectionsClient(conn)); err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

func newQdrant(points pointsClient, emb Embedder, collection string, size int) *Qdrant {
	if collection == "" {
		collection = DefaultQdrantCollection
	}
	if size <= 0 {
		size = DefaultVectorSize
	}
	return &Qdrant{points: points, emb: emb, collection: collection, size: size}
}

func (q *Qdrant) ensureCollection(ctx context.Context, client collectionsClient) error {
	list, err := client.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}
	_, err = client.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(q.size),
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collection, err)
	}
	return nil
}

// Name implements Mirror.
func (q *Qdrant) Name() string { return "qdrant" }

// PointID returns the point id used for documentID.
func PointID(documentID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID)).String()
}

// Upsert embeds the entry summary and writes it as one point.
func (q *Qdrant) Upsert(ctx context.Context, entry *types.KnowledgeEntry) error {
	text := summaryText(entry)
	if text == "" {
		return fmt.Errorf("%s: nothing to embed", entry.DocumentID)
	}
	vecs, err := q.emb.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embedding %s: %w", entry.DocumentID, err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embedding %s: got %d vectors", entry.DocumentID, len(vecs))
	}
	if len(vecs[0]) != q.size {
		return fmt.Errorf("embedding %s: dimension %d, collection expects %d", entry.DocumentID, len(vecs[0]), q.size)
	}

	wait := true
	_, err = q.points.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*qdrantclient.PointStruct{{
			Id: &qdrantclient.PointId{
				PointIdOptions: &qdrantclient.PointId_Uuid{Uuid: PointID(entry.DocumentID)},
			},
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: vecs[0]},
				},
			},
			Payload: payload(entry),
		}},
	})
	if err != nil {
		return fmt.Errorf("upserting point for %s: %w", entry.DocumentID, err)
	}
	return nil
}

func payload(e *types.KnowledgeEntry) map[string]*qdrantclient.Value {
	str := func(s string) *qdrantclient.Value {
		return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
	}
	tags := make([]*qdrantclient.Value, 0, len(e.Metadata.Tags))
	for _, t := range e.Metadata.Tags {
		tags = append(tags, str(t))
	}
	return map[string]*qdrantclient.Value{
		"document_id": str(e.DocumentID),
		"title":       str(e.Metadata.Title),
		"sha256":      str(e.Source.SHA256),
		"tags":        {Kind: &qdrantclient.Value_ListValue{ListValue: &qdrantclient.ListValue{Values: tags}}},
	}
}

// Close closes the gRPC connection.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
