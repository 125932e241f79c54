package firewall

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/philippgille/chromem-go"
)

// EmbeddingProvider generates embeddings for oracle-prompt example
// selection. Implementations must be deterministic: the same text always
// maps to the same vector, or prompt synthesis (and therefore the whole
// pipeline) stops being reproducible.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// ExampleSelector picks the catalog examples most similar to the request
// text so the oracle prompt stays compact on large catalogs. Backed by an
// in-memory chromem-go collection built once at startup.
type ExampleSelector struct {
	coll     *chromem.Collection
	perLabel map[string]int
}

// NewExampleSelector indexes every catalog example under its label. A nil
// provider selects the built-in feature-hashing embedder.
func NewExampleSelector(catalog *Catalog, provider EmbeddingProvider) (*ExampleSelector, error) {
	if provider == nil {
		provider = NewHashEmbedder(0)
	}
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return provider.Embed(ctx, text)
	}

	db := chromem.NewDB()
	coll, err := db.CreateCollection("catalog-examples", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create example collection: %w", err)
	}

	sel := &ExampleSelector{coll: coll, perLabel: make(map[string]int)}

	var docs []chromem.Document
	add := func(label string, examples []string) {
		for i, ex := range examples {
			docs = append(docs, chromem.Document{
				ID:       fmt.Sprintf("%s/%d", label, i),
				Metadata: map[string]string{"label": label},
				Content:  ex,
			})
			sel.perLabel[label]++
		}
	}
	for i := range catalog.Subjects {
		add(catalog.Subjects[i].Label, catalog.Subjects[i].Examples)
	}
	for i := range catalog.Predicates {
		add(catalog.Predicates[i].Label, catalog.Predicates[i].Examples)
	}

	if len(docs) > 0 {
		if err := coll.AddDocuments(context.Background(), docs, 1); err != nil {
			return nil, fmt.Errorf("index examples: %w", err)
		}
	}
	return sel, nil
}

// Select returns up to k examples for the label, ordered by similarity to
// the request text. Returns nil when the label has no indexed examples or
// the query fails; callers fall back to the static example list.
func (s *ExampleSelector) Select(label, text string, k int) []string {
	n := s.perLabel[label]
	if n == 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}
	results, err := s.coll.Query(context.Background(), text, k, map[string]string{"label": label}, nil)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Content)
	}
	return out
}

// HashEmbedder is the built-in EmbeddingProvider: feature hashing of word
// unigrams and bigrams into a fixed-width vector, L2-normalized. It needs no
// model files and is fully deterministic, which keeps prompt synthesis
// reproducible across processes.
type HashEmbedder struct {
	dim int
}

// DefaultHashDimension is the vector width used when none is specified.
const DefaultHashDimension = 256

// NewHashEmbedder creates a hashing embedder. dim <= 0 selects
// DefaultHashDimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

// Dimension returns the vector width.
func (h *HashEmbedder) Dimension() int {
	return h.dim
}

// Embed hashes the text's word unigrams and bigrams into the vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	words := strings.Fields(strings.ToLower(text))

	bump := func(feature string) {
		f := fnv.New32a()
		f.Write([]byte(feature)) //nolint:errcheck // fnv never fails
		idx := int(f.Sum32()) % h.dim
		if idx < 0 {
			idx += h.dim
		}
		// Sign bit from a second hash keeps colliding features from only
		// accumulating in one direction.
		g := fnv.New32()
		g.Write([]byte(feature)) //nolint:errcheck // fnv never fails
		if g.Sum32()>>31 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	for i, w := range words {
		bump(w)
		if i+1 < len(words) {
			bump(w + " " + words[i+1])
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
