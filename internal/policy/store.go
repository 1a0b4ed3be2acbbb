// Package policy holds the clause catalogue and answers similarity queries
// against it. The index is built once at startup and only read afterwards.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/types"
)

const DefaultK = 8

// Store is the read-only view the pipeline uses.
type Store interface {
	AllClauses() []types.Clause
	Retrieve(ctx context.Context, query string, k int) ([]types.Clause, error)
}

// Index is an in-memory embedding index over the catalogue. Safe for
// concurrent readers once Build returns.
type Index struct {
	clauses  []types.Clause
	vectors  [][]float32
	embedder Embedder
}

// ClauseText is what gets embedded for a clause.
func ClauseText(c types.Clause) string {
	return fmt.Sprintf("CLAUSE %s: %s\n%s", c.ID, c.RuleName, c.Description)
}

// Build embeds every clause, reusing vectors from cache when present. A nil
// cache disables persistence.
func Build(ctx context.Context, clauses []types.Clause, emb Embedder, cache *Cache, log *logrus.Entry) (*Index, error) {
	idx := &Index{
		clauses:  append([]types.Clause(nil), clauses...),
		vectors:  make([][]float32, len(clauses)),
		embedder: emb,
	}

	var missing []int
	var texts []string
	for i, c := range clauses {
		text := ClauseText(c)
		if cache != nil {
			vec, ok, err := cache.Get(emb.Model(), text)
			if err != nil {
				log.WithError(err).Warn("embedding cache lookup failed")
			} else if ok {
				idx.vectors[i] = vec
				continue
			}
		}
		missing = append(missing, i)
		texts = append(texts, text)
	}

	if len(texts) > 0 {
		vecs, err := emb.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed catalogue: %w", err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d clauses", len(vecs), len(texts))
		}
		for j, i := range missing {
			idx.vectors[i] = vecs[j]
			if cache != nil {
				if err := cache.Put(emb.Model(), texts[j], vecs[j]); err != nil {
					log.WithError(err).Warn("embedding cache write failed")
				}
			}
		}
	}

	log.WithFields(logrus.Fields{
		"clauses":  len(clauses),
		"embedded": len(texts),
		"cached":   len(clauses) - len(texts),
		"model":    emb.Model(),
	}).Info("clause index built")
	return idx, nil
}

func (x *Index) AllClauses() []types.Clause {
	return append([]types.Clause(nil), x.clauses...)
}

// Retrieve returns the k clauses most similar to query, best first. Ties
// keep catalogue order.
func (x *Index) Retrieve(ctx context.Context, query string, k int) ([]types.Clause, error) {
	if k <= 0 {
		k = DefaultK
	}
	vecs, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		if cerr := apperr.FromContext(ctx, "clause_store"); cerr != nil {
			return nil, cerr
		}
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "clause_store", fmt.Errorf("embed query: %w", err))
	}
	if len(vecs) != 1 {
		return nil, apperr.Newf(apperr.KindStoreUnavailable, "clause_store", "embedder returned %d vectors for query", len(vecs))
	}
	q := vecs[0]

	type scored struct {
		i     int
		score float64
	}
	ranked := make([]scored, len(x.clauses))
	for i, v := range x.vectors {
		ranked[i] = scored{i: i, score: cosine(q, v)}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]types.Clause, k)
	for j := 0; j < k; j++ {
		out[j] = x.clauses[ranked[j].i]
	}
	return out, nil
}

// unavailable stands in when the index could not be built. The catalogue
// is still served; every query fails fast.
type unavailable struct {
	clauses []types.Clause
	cause   error
}

func Unavailable(clauses []types.Clause, cause error) Store {
	return &unavailable{clauses: append([]types.Clause(nil), clauses...), cause: cause}
}

func (u *unavailable) AllClauses() []types.Clause {
	return append([]types.Clause(nil), u.clauses...)
}

func (u *unavailable) Retrieve(context.Context, string, int) ([]types.Clause, error) {
	return nil, apperr.Wrap(apperr.KindStoreUnavailable, "clause_store", u.cause)
}
