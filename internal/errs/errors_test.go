package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	inner := Embedding("EMBEDDING_GENERATION_FAILED", "provider gave up", errors.New("boom"))
	wrapped := fmt.Errorf("level 2: %w", inner)

	if !Is(wrapped, KindEmbedding) {
		t.Fatalf("expected wrapped error to match KindEmbedding")
	}
	if Is(wrapped, KindValidation) {
		t.Fatalf("embedding error must not match KindValidation")
	}
	if Is(errors.New("plain"), KindEmbedding) {
		t.Fatalf("plain error must not match any kind")
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	e := Persistence("PERSISTENCE_LEVEL_COMMIT_FAILED", "commit failed", cause)
	if !errors.Is(e, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	e := Validation("RAPTOR_EMPTY_INPUT", "no chunks")
	e2 := e.WithContext("doc_id", "doc-1").WithContext("level", 2)

	if len(e.Context) != 0 {
		t.Fatalf("original error's context mutated: %v", e.Context)
	}
	if e2.Context["doc_id"] != "doc-1" || e2.Context["level"] != 2 {
		t.Fatalf("expected merged context, got %v", e2.Context)
	}
	if e2.Code != e.Code || e2.Kind != e.Kind {
		t.Fatalf("copy changed identity fields")
	}
}
