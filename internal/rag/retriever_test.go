package rag

import (
	"context"
	"math"
	"strings"
	"testing"
)

// testEmbedding maps text to a small normalized bag-of-keywords vector, so
// similarity in tests is deterministic.
func testEmbedding(_ context.Context, text string) ([]float32, error) {
	keywords := []string{"sipariş", "kargo", "iade", "fatura", "stok", "merhaba"}
	vec := make([]float32, len(keywords)+1)
	lower := strings.ToLower(text)
	for i, kw := range keywords {
		vec[i] = float32(strings.Count(lower, kw))
	}
	vec[len(keywords)] = 0.1 // keeps zero-keyword texts embeddable
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func newTestRetriever(t *testing.T) *ChromemRetriever {
	t.Helper()
	r, err := NewWithEmbedding(Config{}, testEmbedding)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSimilarExamplesRanksByTopic(t *testing.T) {
	r := newTestRetriever(t)
	ctx := context.Background()
	docs := map[string]string{
		"e-1": "Siparişim ne zaman kargoya verilecek?",
		"e-2": "İade sürecini başlatmak istiyorum.",
		"e-3": "Faturamı göremiyorum.",
	}
	for id, text := range docs {
		if err := r.IndexExample(ctx, "biz-1", id, text); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.SimilarExamples(ctx, "biz-1", "Siparişim hâlâ kargoda görünmüyor", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].ID != "e-1" {
		t.Errorf("closest example should be the shipping one, got %s", got[0].ID)
	}
	if got[0].Score < got[1].Score {
		t.Error("results must be ordered by similarity")
	}
}

func TestSimilarPairsCarryReplies(t *testing.T) {
	r := newTestRetriever(t)
	ctx := context.Background()
	if err := r.IndexPair(ctx, "biz-1", "p-1", "İade yapmak istiyorum", "İade talebinizi memnuniyetle alırız."); err != nil {
		t.Fatal(err)
	}

	got, err := r.SimilarPairs(ctx, "biz-1", "iade nasıl yapılır", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Reply != "İade talebinizi memnuniyetle alırız." {
		t.Errorf("pair should carry its reply, got %+v", got)
	}
}

func TestQueryClampsToCollectionSize(t *testing.T) {
	r := newTestRetriever(t)
	ctx := context.Background()
	if err := r.IndexSnippet(ctx, "biz-1", "s-1", "Kargo takip bağlantınız: ..."); err != nil {
		t.Fatal(err)
	}

	got, err := r.SelectSnippets(ctx, "biz-1", "kargo", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 snippet, got %d", len(got))
	}
}

func TestEmptyCollectionReturnsNothing(t *testing.T) {
	r := newTestRetriever(t)
	got, err := r.SimilarExamples(context.Background(), "biz-1", "merhaba", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("empty collection should return no results, got %d", len(got))
	}
}

func TestCollectionsIsolatedPerBusiness(t *testing.T) {
	r := newTestRetriever(t)
	ctx := context.Background()
	if err := r.IndexExample(ctx, "biz-1", "e-1", "Siparişim nerede?"); err != nil {
		t.Fatal(err)
	}

	got, err := r.SimilarExamples(ctx, "biz-2", "Siparişim nerede?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("tenant isolation violated: got %d results", len(got))
	}
}
