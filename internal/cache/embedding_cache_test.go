package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// countingProvider is a deterministic fake embedding provider that records
// how many times each text was embedded.
type countingProvider struct {
	mu    sync.Mutex
	calls map[string]int
	fail  bool
}

func newCountingProvider() *countingProvider {
	return &countingProvider{calls: map[string]int{}}
}

func (p *countingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errors.New("provider unavailable")
	}
	p.calls[text]++
	// Deterministic vector derived from the text.
	return []float32{float32(len(text)), 1}, nil
}

func (p *countingProvider) GetModel() string { return "test-model" }

func (p *countingProvider) callCount(text string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[text]
}

func TestEmbedCachesRepeatedText(t *testing.T) {
	provider := newCountingProvider()
	c, err := NewEmbeddingCache(provider, 10)
	if err != nil {
		t.Fatalf("NewEmbeddingCache() failed: %v", err)
	}
	ctx := context.Background()

	first, err := c.Embed(ctx, "repeated text")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	second, err := c.Embed(ctx, "repeated text")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}

	if provider.callCount("repeated text") != 1 {
		t.Errorf("provider calls: got %d, want 1", provider.callCount("repeated text"))
	}
	if len(first) != len(second) || first[0] != second[0] {
		t.Errorf("cached vector differs: first %v, second %v", first, second)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats: got hits=%d misses=%d, want 1/1", stats.Hits, stats.Misses)
	}
}

func TestEmbedReturnsPrivateCopies(t *testing.T) {
	provider := newCountingProvider()
	c, _ := NewEmbeddingCache(provider, 10)
	ctx := context.Background()

	vec, err := c.Embed(ctx, "mutate me")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	vec[0] = -999

	again, err := c.Embed(ctx, "mutate me")
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if again[0] == -999 {
		t.Error("caller mutation leaked into the cached vector")
	}
}

// TestEvictionVictimIsLeastRecentlyUsed fills the cache to capacity, touches
// the oldest entry, then inserts one more: the untouched entry must be the
// one evicted.
func TestEvictionVictimIsLeastRecentlyUsed(t *testing.T) {
	provider := newCountingProvider()
	c, _ := NewEmbeddingCache(provider, 2)
	ctx := context.Background()

	mustEmbed := func(text string) {
		t.Helper()
		if _, err := c.Embed(ctx, text); err != nil {
			t.Fatalf("Embed(%q) failed: %v", text, err)
		}
	}

	mustEmbed("alpha") // cache: [alpha]
	mustEmbed("beta")  // cache: [alpha, beta]
	mustEmbed("alpha") // hit; beta is now least recently used
	mustEmbed("gamma") // evicts beta

	mustEmbed("alpha")
	if got := provider.callCount("alpha"); got != 1 {
		t.Errorf("alpha provider calls: got %d, want 1 (should have stayed cached)", got)
	}

	mustEmbed("beta")
	if got := provider.callCount("beta"); got != 2 {
		t.Errorf("beta provider calls: got %d, want 2 (should have been evicted)", got)
	}
}

func TestProviderFailureCachesNothing(t *testing.T) {
	provider := newCountingProvider()
	provider.fail = true
	c, _ := NewEmbeddingCache(provider, 10)
	ctx := context.Background()

	if _, err := c.Embed(ctx, "flaky text"); err == nil {
		t.Fatal("Embed() succeeded with a failing provider")
	}
	if got := c.Stats().Size; got != 0 {
		t.Errorf("cache size after failure: got %d, want 0", got)
	}

	provider.fail = false
	if _, err := c.Embed(ctx, "flaky text"); err != nil {
		t.Fatalf("Embed() after recovery failed: %v", err)
	}
	if got := provider.callCount("flaky text"); got != 1 {
		t.Errorf("provider calls after recovery: got %d, want 1", got)
	}
}

// TestHitRateOnRepeatHeavyWorkload replays a workload where 80% of lookups
// repeat earlier texts; the hit rate must clear 70%.
func TestHitRateOnRepeatHeavyWorkload(t *testing.T) {
	provider := newCountingProvider()
	c, _ := NewEmbeddingCache(provider, 1000)
	ctx := context.Background()

	texts := make([]string, 20)
	for i := range texts {
		texts[i] = fmt.Sprintf("snippet-%d", i)
	}

	// 20 unique lookups, then 80 repeats cycling over the same texts.
	for _, text := range texts {
		if _, err := c.Embed(ctx, text); err != nil {
			t.Fatalf("Embed() failed: %v", err)
		}
	}
	for i := 0; i < 80; i++ {
		if _, err := c.Embed(ctx, texts[i%len(texts)]); err != nil {
			t.Fatalf("Embed() failed: %v", err)
		}
	}

	if rate := c.HitRate(); rate <= 0.7 {
		t.Errorf("hit rate: got %.2f, want > 0.70", rate)
	}
	if stats := c.Stats(); stats.Misses != 20 {
		t.Errorf("misses: got %d, want 20", stats.Misses)
	}
}

func TestCacheKeyScoping(t *testing.T) {
	if cacheKey("model-a", "text") == cacheKey("model-b", "text") {
		t.Error("keys for different models collide")
	}
	if cacheKey("m", "text-1") == cacheKey("m", "text-2") {
		t.Error("keys for different texts collide")
	}
	// The separator prevents concatenation ambiguity.
	if cacheKey("ab", "c") == cacheKey("a", "bc") {
		t.Error("keys collide across the model/text boundary")
	}
}

func TestNewEmbeddingCacheRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewEmbeddingCache(newCountingProvider(), 0); err == nil {
		t.Error("NewEmbeddingCache(0) returned nil error")
	}
	if _, err := NewEmbeddingCache(newCountingProvider(), -5); err == nil {
		t.Error("NewEmbeddingCache(-5) returned nil error")
	}
}
