// Package index builds and queries the persisted vector index over retained
// fragments, the retrieval side of the RAG pipeline.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/rufuslabs/rufus/internal/crawler"
)

const collectionName = "fragments"

// Config controls the vector store location and the embedding backend.
// The embedding endpoint is any OpenAI-compatible /v1 API, e.g. a local
// llama-server or Ollama.
type Config struct {
	Path             string
	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	EmbeddingModel   string
	AddConcurrency   int
}

// Match is one nearest-neighbor search hit.
type Match struct {
	URL        string
	Text       string
	Similarity float32
}

// Store wraps a persistent chromem collection keyed by fragment content
// hash, with the source URL and relevance score kept as metadata.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	addConc    int
	logger     *zap.Logger
}

// Open creates or reopens the vector store at cfg.Path. embed may be nil,
// in which case the OpenAI-compatible endpoint from cfg is used.
func Open(cfg Config, embed chromem.EmbeddingFunc, logger *zap.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("index path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if embed == nil {
		if cfg.EmbeddingBaseURL == "" || cfg.EmbeddingModel == "" {
			return nil, fmt.Errorf("embedding base URL and model are required")
		}
		normalized := true
		embed = chromem.NewEmbeddingFuncOpenAICompat(
			cfg.EmbeddingBaseURL,
			cfg.EmbeddingAPIKey,
			cfg.EmbeddingModel,
			&normalized,
		)
	}

	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("open vector store %s: %w", cfg.Path, err)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}

	addConc := cfg.AddConcurrency
	if addConc <= 0 {
		addConc = 2
	}
	return &Store{
		db:         db,
		collection: collection,
		addConc:    addConc,
		logger:     logger,
	}, nil
}

// Build embeds and upserts the fragments. Failures here never invalidate the
// already-exported JSON results; the caller treats them as fatal to the
// indexing step only.
func (s *Store) Build(ctx context.Context, fragments []crawler.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(fragments))
	for _, frag := range fragments {
		if frag.Text == "" {
			continue
		}
		metadata := map[string]string{"url": frag.URL}
		if frag.Score != nil {
			metadata["score"] = strconv.FormatFloat(*frag.Score, 'f', -1, 64)
		}
		docs = append(docs, chromem.Document{
			ID:       fragmentID(frag),
			Metadata: metadata,
			Content:  frag.Text,
		})
	}
	if err := s.collection.AddDocuments(ctx, docs, s.addConc); err != nil {
		return fmt.Errorf("index fragments: %w", err)
	}
	s.logger.Info("Vector index updated", zap.Int("fragments", len(docs)))
	return nil
}

// Search returns the k nearest fragments to the query text.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if query == "" {
		return nil, fmt.Errorf("query text is required")
	}
	if k <= 0 {
		k = 5
	}
	if count := s.collection.Count(); k > count {
		k = count
	}
	if k == 0 {
		return nil, nil
	}
	results, err := s.collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for _, res := range results {
		matches = append(matches, Match{
			URL:        res.Metadata["url"],
			Text:       res.Content,
			Similarity: res.Similarity,
		})
	}
	return matches, nil
}

// fragmentID hashes url+text so re-indexing the same crawl is idempotent.
func fragmentID(frag crawler.Fragment) string {
	sum := sha256.Sum256([]byte(frag.URL + "\x00" + frag.Text))
	return hex.EncodeToString(sum[:])
}
