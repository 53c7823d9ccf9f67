package embedding

import (
	"context"
	"errors"
	"testing"

	einoembedding "github.com/cloudwego/eino/components/embedding"
)

// recordingEmbedder records the size of every batch it was called with, so
// tests can assert WrapWithBatchLimit actually split an oversized request
// rather than forwarding it whole.
type recordingEmbedder struct {
	batchSizes []int
	err        error
}

func (r *recordingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...einoembedding.Option) ([][]float64, error) {
	r.batchSizes = append(r.batchSizes, len(texts))
	if r.err != nil {
		return nil, r.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(len(r.batchSizes))*100 + float64(i)}
	}
	return out, nil
}

// TestWrapWithBatchLimitSplitsOversizedRequests exercises batchEmbedder's
// splitting branch directly with maxSize > 0; maxBatch=0 just forwards to
// the inner embedder unchanged.
func TestWrapWithBatchLimitSplitsOversizedRequests(t *testing.T) {
	inner := &recordingEmbedder{}
	wrapped := WrapWithBatchLimit(inner, 3)

	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	vecs, err := wrapped.EmbedStrings(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}

	wantBatches := []int{3, 3, 1}
	if len(inner.batchSizes) != len(wantBatches) {
		t.Fatalf("expected %d calls with sizes %v, got %v", len(wantBatches), wantBatches, inner.batchSizes)
	}
	for i, want := range wantBatches {
		if inner.batchSizes[i] != want {
			t.Fatalf("batch %d: expected size %d, got %d", i, want, inner.batchSizes[i])
		}
	}

	// Output order must match input order across the batch boundary: the
	// first vector of the second batch corresponds to texts[3] ("d").
	if vecs[3][0] != 200 {
		t.Fatalf("expected vecs[3] to come from the second batch's first item, got %v", vecs[3])
	}
}

// TestWrapWithBatchLimitPropagatesBatchError confirms a failure partway
// through the split stops immediately and reports which batch failed.
func TestWrapWithBatchLimitPropagatesBatchError(t *testing.T) {
	inner := &recordingEmbedder{err: errors.New("boom")}
	wrapped := WrapWithBatchLimit(inner, 2)

	_, err := wrapped.EmbedStrings(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(inner.batchSizes) != 1 {
		t.Fatalf("expected the split to stop after the first failing batch, got %d calls", len(inner.batchSizes))
	}
}

// TestWrapWithBatchLimitPassesThroughUnderLimit confirms requests at or
// under maxSize are forwarded in a single call (no unnecessary splitting).
func TestWrapWithBatchLimitPassesThroughUnderLimit(t *testing.T) {
	inner := &recordingEmbedder{}
	wrapped := WrapWithBatchLimit(inner, 5)

	if _, err := wrapped.EmbedStrings(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inner.batchSizes) != 1 || inner.batchSizes[0] != 2 {
		t.Fatalf("expected a single pass-through call of size 2, got %v", inner.batchSizes)
	}
}
