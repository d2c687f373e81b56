// Package mirror copies committed passages into a Qdrant collection so they
// can be browsed or searched outside the pipeline. The mirror is written after
// the registry commit and is never read by the query path.
package mirror

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/manualrag-go/internal/rag"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "manual_passages"

// pointNamespace seeds the deterministic point IDs.
var pointNamespace = uuid.MustParse("6f1d9c2e-4b7a-5e1f-9a3c-2d8b7e6f0a41")

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// Collection is the collection name (default: DefaultCollection).
	Collection string
	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// ConfigFromEnv returns a QdrantConfig from QDRANT_HOST, QDRANT_PORT,
// QDRANT_COLLECTION, QDRANT_API_KEY and QDRANT_TLS, or nil when QDRANT_HOST
// is unset and the mirror is disabled.
func ConfigFromEnv() *QdrantConfig {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		return nil
	}
	cfg := &QdrantConfig{
		Host:       host,
		Collection: os.Getenv("QDRANT_COLLECTION"),
		APIKey:     os.Getenv("QDRANT_API_KEY"),
	}
	if p, err := strconv.Atoi(os.Getenv("QDRANT_PORT")); err == nil {
		cfg.Port = p
	}
	cfg.UseTLS, _ = strconv.ParseBool(os.Getenv("QDRANT_TLS"))
	return cfg
}

// Qdrant mirrors passages into a cosine-distance collection. The collection
// is created on first use with the dimension of the first mirrored vectors.
type Qdrant struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client
	// collection is the target collection name.
	collection string

	// mu guards ready.
	mu sync.Mutex
	// ready is set once the collection is known to exist.
	ready bool
}

// NewQdrant creates a client for cfg. No RPC is issued until the first
// Mirror or Ping call.
func NewQdrant(cfg *QdrantConfig) (*Qdrant, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &Qdrant{client: client, collection: collection}, nil
}

// ensureCollection creates the collection with the given vector size if it
// does not already exist.
func (q *Qdrant) ensureCollection(ctx context.Context, size uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     size,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to create collection %q: %w", q.collection, err)
		}
	}
	q.ready = true
	return nil
}

// Mirror upserts one point per passage of reg and removes points left over
// from earlier versions of the same manual.
func (q *Qdrant) Mirror(ctx context.Context, reg rag.Registration, passages []rag.Passage, embeddings [][]float32) error {
	if len(passages) != len(embeddings) {
		return fmt.Errorf("qdrant: %d passages, %d embeddings", len(passages), len(embeddings))
	}
	if len(passages) > 0 {
		if err := q.ensureCollection(ctx, uint64(len(embeddings[0]))); err != nil {
			return err
		}
	}

	wait := true
	if points := buildPoints(reg, passages, embeddings); len(points) > 0 {
		if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert failed: %w", err)
		}
	}

	if !q.isReady() {
		return nil
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(staleFilter(reg)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete stale points failed: %w", err)
	}
	return nil
}

func (q *Qdrant) isReady() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}

// Name returns the dependency label used in readiness responses.
func (q *Qdrant) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (q *Qdrant) Ping(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (q *Qdrant) Close() error {
	return q.client.Close()
}

// buildPoints converts passages into Qdrant points with stable IDs.
func buildPoints(reg rag.Registration, passages []rag.Passage, embeddings [][]float32) []*qdrant.PointStruct {
	points := make([]*qdrant.PointStruct, 0, len(passages))
	for i, p := range passages {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(reg.ManualID, reg.Version, i)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"manual_id":      reg.ManualID,
				"version":        int64(reg.Version),
				"chunk":          int64(i),
				"text":           p.Text,
				"position":       int64(p.Offset),
				"content_handle": reg.ContentHandle.String(),
			}),
		})
	}
	return points
}

// staleFilter matches points of reg.ManualID from any other version.
func staleFilter(reg rag.Registration) *qdrant.Filter {
	return &qdrant.Filter{
		Must:    []*qdrant.Condition{qdrant.NewMatch("manual_id", reg.ManualID)},
		MustNot: []*qdrant.Condition{qdrant.NewMatchInt("version", int64(reg.Version))},
	}
}

// PointID returns the deterministic point ID of chunk i of a manual version,
// so re-mirroring the same version overwrites rather than duplicates.
func PointID(manualID string, version, chunk int) string {
	key := manualID + "\x00" + strconv.Itoa(version) + "\x00" + strconv.Itoa(chunk)
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}
