package raptor

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"raptorengine/internal/errs"
)

const (
	embedBackoffCap   = 8 * time.Second
	embedDocsBatchCap = 1000
)

// slot bundles one API key with its own rate limiter and concurrency
// semaphore; a slot's deque of timestamps is never shared across slots.
type slot struct {
	key     string
	limiter *RateLimiter
	sem     *semaphore.Weighted
}

// EmbeddingClient maintains N slots (one per API key), packs chunks under a
// per-request token budget, and dispatches contextualized-embed calls
// across slots with round-robin load balancing.
type EmbeddingClient struct {
	provider EmbeddingProvider
	meter    TokenCounter
	model    string
	outDim   int

	perRequestBudget int
	maxRetries       int

	slots []*slot
	rr    uint64
}

// EmbeddingClientConfig collects the knobs EmbeddingClient needs beyond the
// keys themselves.
type EmbeddingClientConfig struct {
	Model                 string
	OutputDim             int
	RPMLimit              int
	TPMLimit              int
	PerRequestTokenBudget int
	PerSlotMaxConcurrent  int
	MaxRetries            int
}

// NewEmbeddingClient builds a client with one slot per key. Keys must be
// non-empty; at least one key is required.
func NewEmbeddingClient(provider EmbeddingProvider, meter TokenCounter, keys []string, cfg EmbeddingClientConfig) (*EmbeddingClient, error) {
	if len(keys) == 0 {
		return nil, errs.Validation("EMBEDDING_NO_KEYS", "embedding client: no API keys provided")
	}
	if cfg.PerSlotMaxConcurrent < 1 {
		cfg.PerSlotMaxConcurrent = 2
	}
	if cfg.RPMLimit < 1 {
		cfg.RPMLimit = 3
	}
	if cfg.TPMLimit < 1 {
		cfg.TPMLimit = 10_000
	}
	if cfg.PerRequestTokenBudget < 1 {
		cfg.PerRequestTokenBudget = 9_500
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}

	slots := make([]*slot, 0, len(keys))
	for _, k := range keys {
		slots = append(slots, &slot{
			key:     k,
			limiter: NewRateLimiter(cfg.RPMLimit, cfg.TPMLimit),
			sem:     semaphore.NewWeighted(int64(cfg.PerSlotMaxConcurrent)),
		})
	}

	return &EmbeddingClient{
		provider:         provider,
		meter:            meter,
		model:            cfg.Model,
		outDim:           cfg.OutputDim,
		perRequestBudget: cfg.PerRequestTokenBudget,
		maxRetries:       cfg.MaxRetries,
		slots:            slots,
	}, nil
}

func (c *EmbeddingClient) pickSlot() *slot {
	i := atomic.AddUint64(&c.rr, 1) - 1
	return c.slots[int(i%uint64(len(c.slots)))]
}

// EmbedDocFulltext packs chunks under the per-request token budget and
// embeds them as documents. With one slot or one resulting group it takes
// the single-slot path (one contextualized call for every chunk); otherwise
// groups are dispatched round-robin across slots in parallel and re-sorted
// by group index before concatenation.
func (c *EmbeddingClient) EmbedDocFulltext(ctx context.Context, chunks []string) ([][]float32, []string, error) {
	if len(chunks) == 0 {
		return nil, nil, errs.Validation("EMBEDDING_EMPTY_INPUT", "embed_doc_fulltext: no chunks given")
	}
	lens := c.meter.CountAll(chunks)
	groups := PackGroupsByTPM(chunks, lens, c.perRequestBudget)

	if len(c.slots) == 1 || len(groups) == 1 {
		return c.embedSingleSlot(ctx, chunks)
	}

	type result struct {
		idx   int
		vecs  [][]float32
		chunk []string
	}
	results := make([]result, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	for gi, group := range groups {
		gi, group := gi, group
		sl := c.pickSlot()
		g.Go(func() error {
			vecs, err := c.embedGroup(gctx, sl, group)
			if err != nil {
				return err
			}
			results[gi] = result{idx: gi, vecs: vecs, chunk: group}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errs.Embedding("EMBEDDING_GENERATION_FAILED", "embed_doc_fulltext: group embed failed", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].idx < results[j].idx })

	var allVecs [][]float32
	var allChunks []string
	for _, r := range results {
		allVecs = append(allVecs, r.vecs...)
		allChunks = append(allChunks, r.chunk...)
	}
	return allVecs, allChunks, nil
}

func (c *EmbeddingClient) embedSingleSlot(ctx context.Context, chunks []string) ([][]float32, []string, error) {
	sl := c.slots[0]
	vecs, err := c.embedGroup(ctx, sl, chunks)
	if err != nil {
		return nil, nil, errs.Embedding("EMBEDDING_GENERATION_FAILED", "embed_doc_fulltext: single-slot embed failed", err)
	}
	return vecs, chunks, nil
}

// embedGroup acquires the slot's semaphore and rate-limit budget, then
// issues one contextualized_embed call, retrying any provider error with
// exponential backoff capped at 8s up to maxRetries. Rate-limit, connection
// and permanent failures (e.g. a rejected request) are all retried alike.
func (c *EmbeddingClient) embedGroup(ctx context.Context, sl *slot, group []string) ([][]float32, error) {
	groupTokens := c.meter.CountTotal(group)

	if err := sl.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sl.sem.Release(1)

	if err := sl.limiter.Acquire(ctx, groupTokens); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCappedExponential(ctx, attempt, embedBackoffCap); err != nil {
				return nil, err
			}
		}
		results, err := c.provider.ContextualizedEmbed(ctx, [][]string{group}, "document", c.model, c.outDim)
		if err != nil {
			lastErr = err
			continue
		}
		if len(results) == 0 {
			lastErr = errs.Embedding("EMBEDDING_EMPTY_RESPONSE", "embed group: provider returned no results", nil)
			continue
		}
		return results[0], nil
	}
	if lastErr == nil {
		lastErr = errs.Embedding("EMBEDDING_RETRIES_EXHAUSTED", "embed group: retries exhausted", nil)
	}
	return nil, lastErr
}

// EmbedQueries batches queries into a single contextualized call, each
// query its own one-element sub-list so it shares no context with the
// others. Uses slot 0 only.
func (c *EmbeddingClient) EmbedQueries(ctx context.Context, queries []string) ([][]float32, error) {
	if len(queries) == 0 {
		return nil, nil
	}
	sl := c.slots[0]
	totalTok := c.meter.CountTotal(queries)
	if err := sl.limiter.Acquire(ctx, totalTok); err != nil {
		return nil, err
	}

	groups := make([][]string, len(queries))
	for i, q := range queries {
		groups[i] = []string{q}
	}
	results, err := c.provider.ContextualizedEmbed(ctx, groups, "query", c.model, c.outDim)
	if err != nil {
		return nil, errs.Embedding("EMBEDDING_GENERATION_FAILED", "embed_queries: provider call failed", err)
	}

	out := make([][]float32, len(results))
	for i, r := range results {
		if len(r) == 0 {
			return nil, errs.Embedding("EMBEDDING_EMPTY_RESPONSE", "embed_queries: empty result for a query", nil)
		}
		out[i] = r[0]
	}
	return out, nil
}

// EmbedDocs greedily packs texts into batches bounded by both the
// per-request token budget and a 1000-item cap, then issues one call per
// batch sequentially on slot 0, returning vectors in input order. This is
// the level-summary embedding path used by the builder's pacer step.
func (c *EmbeddingClient) EmbedDocs(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	sl := c.slots[0]
	lens := c.meter.CountAll(texts)
	batches := PackByTPMAndCount(texts, lens, c.perRequestBudget, embedDocsBatchCap)

	var out [][]float32
	for _, batch := range batches {
		vecs, err := c.embedGroup(ctx, sl, batch)
		if err != nil {
			return nil, errs.Embedding("EMBEDDING_GENERATION_FAILED", "embed_docs: batch embed failed", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func sleepCappedExponential(ctx context.Context, attempt int, cap time.Duration) error {
	d := time.Duration(1) << uint(attempt-1) * time.Second
	if d > cap {
		d = cap
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
