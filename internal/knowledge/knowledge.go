// Package knowledge is the retrieval collaborator node bodies query for
// context: sources are chunked, embedded and stored in a store.Store, and
// Query returns the chunks most similar to a set of query strings.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/wavefront/internal/store"
)

// Defaults applied by Query.
const (
	DefaultLimit          = 3
	DefaultScoreThreshold = 0.35
)

// Filter restricts results to chunks whose metadata matches every entry.
type Filter map[string]string

// Preference returns the filter selecting chunks tagged with preference p,
// or nil when p is empty.
func Preference(p string) Filter {
	if p == "" {
		return nil
	}
	return Filter{"preference": p}
}

// Result is one retrieved chunk.
type Result struct {
	Content  string
	Score    float64
	Source   string
	Metadata map[string]string
}

// Knowledge indexes sources and answers queries.
type Knowledge struct {
	store     *store.Store
	embedder  Embedder
	logger    *slog.Logger
	threshold float64
	limit     int
}

// Option configures a Knowledge.
type Option func(*Knowledge)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(k *Knowledge) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithScoreThreshold sets the minimum similarity a result must reach.
func WithScoreThreshold(t float64) Option {
	return func(k *Knowledge) {
		k.threshold = t
	}
}

// WithDefaultLimit sets the result count used when Query gets limit <= 0.
func WithDefaultLimit(n int) Option {
	return func(k *Knowledge) {
		if n > 0 {
			k.limit = n
		}
	}
}

// New creates a Knowledge over st using emb for both indexing and queries.
func New(st *store.Store, emb Embedder, opts ...Option) *Knowledge {
	k := &Knowledge{
		store:     st,
		embedder:  emb,
		logger:    slog.Default(),
		threshold: DefaultScoreThreshold,
		limit:     DefaultLimit,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Add indexes sources. A source that fails is logged as a warning and
// skipped; the others are still indexed. The returned error joins every
// source failure, and n counts the chunks newly stored.
func (k *Knowledge) Add(ctx context.Context, sources ...Source) (n int, err error) {
	var errs []error
	for _, src := range sources {
		added, err := k.addSource(ctx, src)
		if err != nil {
			k.logger.Warn("failed to add knowledge source",
				"source", src.Name(),
				"kind", src.Kind(),
				"error", err)
			errs = append(errs, err)
			continue
		}
		k.logger.Debug("knowledge source added",
			"source", src.Name(),
			"chunks", added)
		n += added
	}
	return n, errors.Join(errs...)
}

func (k *Knowledge) addSource(ctx context.Context, src Source) (int, error) {
	pieces, err := src.Pieces(ctx)
	if err != nil {
		return 0, fmt.Errorf("source %q: %w", src.Name(), err)
	}
	if len(pieces) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vectors, err := k.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("source %q: embed: %w", src.Name(), err)
	}
	if len(vectors) != len(pieces) {
		return 0, fmt.Errorf("source %q: embedder returned %d vectors for %d pieces", src.Name(), len(vectors), len(pieces))
	}

	chunks := make([]store.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = store.Chunk{Content: p.Content, Metadata: p.Metadata, Embedding: vectors[i]}
	}
	return k.store.AddSource(ctx, src.Name(), src.Kind(), chunks)
}

// Query returns up to limit chunks ranked by similarity to any of the
// queries. Each chunk appears once, with its best score. limit <= 0 uses
// the default limit.
func (k *Knowledge) Query(ctx context.Context, queries []string, limit int, filter Filter) ([]Result, error) {
	if limit <= 0 {
		limit = k.limit
	}
	if len(queries) == 0 {
		return []Result{}, nil
	}

	vectors, err := k.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}

	best := make(map[string]store.Match)
	for _, v := range vectors {
		matches, err := k.store.Search(ctx, store.SearchQuery{
			Vector:    v,
			Limit:     limit,
			Filter:    filter,
			Threshold: k.threshold,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if prev, seen := best[m.Chunk.ID]; !seen || m.Score > prev.Score {
				best[m.Chunk.ID] = m
			}
		}
	}

	all := make([]store.Match, 0, len(best))
	for _, m := range best {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Chunk.Seq < all[j].Chunk.Seq
	})
	if len(all) > limit {
		all = all[:limit]
	}

	results := make([]Result, len(all))
	for i, m := range all {
		results[i] = Result{
			Content:  m.Chunk.Content,
			Score:    m.Score,
			Source:   m.Chunk.Source,
			Metadata: m.Chunk.Metadata,
		}
	}
	return results, nil
}

// Reset empties the index.
func (k *Knowledge) Reset(ctx context.Context) error {
	return k.store.Reset(ctx)
}
