// Package rag provides the retrieval backing for the email draft pipeline:
// similar past emails, tone-matched reply pairs, and snippet templates,
// stored per business in an embedded vector database.
package rag

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Example is one retrieved document: a past inbound text and the reply that
// answered it. Reply is empty for plain examples and snippets.
type Example struct {
	ID    string
	Text  string
	Reply string
	Score float32
}

// Retriever is the retrieval contract the email pipeline consumes.
type Retriever interface {
	// SimilarExamples returns past inbound emails closest to the text.
	SimilarExamples(ctx context.Context, businessID, text string, k int) ([]Example, error)
	// SimilarPairs returns tone-matched (inbound, reply) pairs.
	SimilarPairs(ctx context.Context, businessID, text string, k int) ([]Example, error)
	// SelectSnippets returns reusable template fragments relevant to the text.
	SelectSnippets(ctx context.Context, businessID, text string, k int) ([]string, error)
}

const (
	kindExamples = "examples"
	kindPairs    = "pairs"
	kindSnippets = "snippets"
)

// Config configures the embedded retriever.
type Config struct {
	// PersistPath keeps the database on disk; empty stays in memory.
	PersistPath string
	// Compress gzips the persisted database.
	Compress bool
	// EmbeddingAPIKey is the OpenAI key for the default embedding function.
	EmbeddingAPIKey string
}

// ChromemRetriever stores documents in chromem-go collections, one per
// (business, kind). Collections are memory-resident; persistence is optional.
type ChromemRetriever struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// New creates a retriever with OpenAI embeddings.
func New(cfg Config) (*ChromemRetriever, error) {
	if cfg.EmbeddingAPIKey == "" {
		return nil, fmt.Errorf("rag: embedding api key is required")
	}
	embed := chromem.NewEmbeddingFuncOpenAI(cfg.EmbeddingAPIKey, chromem.EmbeddingModelOpenAI3Small)
	return NewWithEmbedding(cfg, embed)
}

// NewWithEmbedding creates a retriever with a caller-supplied embedding
// function. Tests use a deterministic local function.
func NewWithEmbedding(cfg Config, embed chromem.EmbeddingFunc) (*ChromemRetriever, error) {
	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("rag: create persist dir: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("rag: open persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemRetriever{
		db:          db,
		embed:       embed,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (r *ChromemRetriever) collection(businessID, kind string) (*chromem.Collection, error) {
	name := kind + "-" + businessID
	r.mu.Lock()
	defer r.mu.Unlock()
	if col, ok := r.collections[name]; ok {
		return col, nil
	}
	col, err := r.db.GetOrCreateCollection(name, nil, r.embed)
	if err != nil {
		return nil, fmt.Errorf("rag: collection %q: %w", name, err)
	}
	r.collections[name] = col
	return col, nil
}

// IndexExample stores a past inbound email for similarity retrieval.
func (r *ChromemRetriever) IndexExample(ctx context.Context, businessID, id, text string) error {
	return r.add(ctx, businessID, kindExamples, id, text, nil)
}

// IndexPair stores an (inbound, reply) pair for tone matching.
func (r *ChromemRetriever) IndexPair(ctx context.Context, businessID, id, text, reply string) error {
	return r.add(ctx, businessID, kindPairs, id, text, map[string]string{"reply": reply})
}

// IndexSnippet stores a reusable template fragment.
func (r *ChromemRetriever) IndexSnippet(ctx context.Context, businessID, id, text string) error {
	return r.add(ctx, businessID, kindSnippets, id, text, nil)
}

func (r *ChromemRetriever) add(ctx context.Context, businessID, kind, id, text string, metadata map[string]string) error {
	col, err := r.collection(businessID, kind)
	if err != nil {
		return err
	}
	doc := chromem.Document{ID: id, Content: text, Metadata: metadata}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("rag: index %s/%s: %w", kind, id, err)
	}
	return nil
}

// SimilarExamples implements Retriever.
func (r *ChromemRetriever) SimilarExamples(ctx context.Context, businessID, text string, k int) ([]Example, error) {
	return r.query(ctx, businessID, kindExamples, text, k)
}

// SimilarPairs implements Retriever.
func (r *ChromemRetriever) SimilarPairs(ctx context.Context, businessID, text string, k int) ([]Example, error) {
	return r.query(ctx, businessID, kindPairs, text, k)
}

// SelectSnippets implements Retriever.
func (r *ChromemRetriever) SelectSnippets(ctx context.Context, businessID, text string, k int) ([]string, error) {
	examples, err := r.query(ctx, businessID, kindSnippets, text, k)
	if err != nil {
		return nil, err
	}
	snippets := make([]string, 0, len(examples))
	for _, e := range examples {
		snippets = append(snippets, e.Text)
	}
	return snippets, nil
}

func (r *ChromemRetriever) query(ctx context.Context, businessID, kind, text string, k int) ([]Example, error) {
	col, err := r.collection(businessID, kind)
	if err != nil {
		return nil, err
	}
	// chromem rejects nResults above the document count.
	if count := col.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := col.Query(ctx, text, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("rag: query %s: %w", kind, err)
	}
	out := make([]Example, 0, len(results))
	for _, res := range results {
		out = append(out, Example{
			ID:    res.ID,
			Text:  res.Content,
			Reply: res.Metadata["reply"],
			Score: res.Similarity,
		})
	}
	return out, nil
}

var _ Retriever = (*ChromemRetriever)(nil)
