// Package errs defines the structured error taxonomy surfaced to callers
// of the RAPTOR build pipeline: a Kind, a short machine code, free-form
// context (doc_id, dataset_id, level, …), and an optional cause chain.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a build error into one of the taxonomy's buckets.
// RateLimitedLocally is deliberately absent: the limiter waits instead of
// failing, so it never reaches this taxonomy.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindEmbedding     Kind = "embedding"
	KindSummarization Kind = "summarization"
	KindPersistence   Kind = "persistence"
)

// Error is the structured error returned across package boundaries. Error()
// reports the message, or "kind: code" when the message is empty; Unwrap
// exposes the cause for errors.Is/As.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext returns a copy of e with k=v merged into its Context map.
func (e *Error) WithContext(k string, v any) *Error {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	for ck, cv := range e.Context {
		cp.Context[ck] = cv
	}
	cp.Context[k] = v
	return &cp
}

func newErr(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// Validation reports a precondition failure: empty inputs, mismatched
// lengths, unsupported configuration. No persistence mutation precedes it.
func Validation(code, message string) *Error {
	return newErr(KindValidation, code, message, nil)
}

// Embedding reports an embedding-provider failure surfaced after retries
// are exhausted. The current level's transaction is never opened.
func Embedding(code, message string, cause error) *Error {
	return newErr(KindEmbedding, code, message, cause)
}

// Summarization reports an LLM-provider failure, including EmptyOutput,
// surfaced after retries are exhausted.
func Summarization(code, message string, cause error) *Error {
	return newErr(KindSummarization, code, message, cause)
}

// Persistence reports a DB constraint violation or connection loss during a
// level transaction; the transaction is rolled back and the build aborted.
func Persistence(code, message string, cause error) *Error {
	return newErr(KindPersistence, code, message, cause)
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
