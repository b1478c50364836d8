package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/qdrant/go-client/qdrant"
)

// qdrantScrollPage is the number of points fetched per Scroll request.
const qdrantScrollPage = 256

// QdrantConfig holds connection parameters for a Qdrant collection.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// Collection is the collection holding the passages.
	Collection string
	// VectorSize is the context-window width W.
	VectorSize uint64
	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantRepository stores each passage as a point with a sequential numeric
// id. The id vector is stored as the point vector; text, tokens and the exact
// integer embedding live in the payload because Qdrant normalises vectors
// stored in cosine collections.
type QdrantRepository struct {
	client *qdrant.Client
	cfg    QdrantConfig
	nextID atomic.Uint64
}

// OpenQdrant connects to Qdrant and ensures the target collection exists.
func OpenQdrant(ctx context.Context, cfg QdrantConfig) (*QdrantRepository, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("store: qdrant collection is empty")
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("store: qdrant vector size must be positive")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, repoErr("qdrant: create client", err)
	}

	r := &QdrantRepository{client: client, cfg: cfg}
	if err := r.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	n, err := r.Count(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	r.nextID.Store(uint64(n))
	return r, nil
}

func (r *QdrantRepository) ensureCollection(ctx context.Context) error {
	exists, err := r.client.CollectionExists(ctx, r.cfg.Collection)
	if err != nil {
		return repoErr("qdrant: check collection", err)
	}
	if exists {
		return nil
	}
	err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: r.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     r.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return repoErr(fmt.Sprintf("qdrant: create collection %q", r.cfg.Collection), err)
	}
	return nil
}

// Insert upserts p as a new point and waits for it to be persisted.
func (r *QdrantRepository) Insert(ctx context.Context, p Passage) error {
	tokens, err := json.Marshal(p.Tokens)
	if err != nil {
		return repoErr("qdrant: insert: encode tokens", err)
	}
	embedding, err := json.Marshal(p.Embedding)
	if err != nil {
		return repoErr("qdrant: insert: encode embedding", err)
	}

	vec := make([]float32, len(p.Embedding))
	for i, id := range p.Embedding {
		vec[i] = float32(id)
	}

	// 1-based, like the sqlite and bolt keys.
	id := r.nextID.Add(1)
	_, err = r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDNum(id),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(map[string]any{
				"text":      p.Text,
				"tokens":    string(tokens),
				"embedding": string(embedding),
			}),
		}},
	})
	if err != nil {
		return repoErr("qdrant: insert", err)
	}
	return nil
}

// Scan pages through the collection in point-id order.
func (r *QdrantRepository) Scan(ctx context.Context, fn func(Passage) error) error {
	var offset *qdrant.PointId
	for {
		points, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: r.cfg.Collection,
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(qdrantScrollPage)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return repoErr("qdrant: scroll", err)
		}
		for _, pt := range points {
			p, err := passageFromPayload(pt.GetPayload())
			if err != nil {
				return repoErr(fmt.Sprintf("qdrant: point %d", pt.GetId().GetNum()), err)
			}
			if err := fn(p); err != nil {
				return err
			}
		}
		if len(points) < qdrantScrollPage {
			return nil
		}
		// Scroll offsets are inclusive.
		offset = qdrant.NewIDNum(points[len(points)-1].GetId().GetNum() + 1)
	}
}

func passageFromPayload(payload map[string]*qdrant.Value) (Passage, error) {
	var p Passage
	p.Text = payload["text"].GetStringValue()
	if err := json.Unmarshal([]byte(payload["tokens"].GetStringValue()), &p.Tokens); err != nil {
		return Passage{}, fmt.Errorf("decode tokens: %w", err)
	}
	if err := json.Unmarshal([]byte(payload["embedding"].GetStringValue()), &p.Embedding); err != nil {
		return Passage{}, fmt.Errorf("decode embedding: %w", err)
	}
	return p, nil
}

// Count returns the exact number of points in the collection.
func (r *QdrantRepository) Count(ctx context.Context) (int, error) {
	n, err := r.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: r.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, repoErr("qdrant: count", err)
	}
	return int(n), nil
}

// Reset deletes and recreates the collection.
func (r *QdrantRepository) Reset(ctx context.Context) error {
	if err := r.client.DeleteCollection(ctx, r.cfg.Collection); err != nil {
		return repoErr("qdrant: delete collection", err)
	}
	r.nextID.Store(0)
	return r.ensureCollection(ctx)
}

// Ping calls the Qdrant health check endpoint.
func (r *QdrantRepository) Ping(ctx context.Context) error {
	if _, err := r.client.HealthCheck(ctx); err != nil {
		return repoErr("qdrant: health check", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (r *QdrantRepository) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("store: qdrant: close: %w", err)
	}
	return nil
}
