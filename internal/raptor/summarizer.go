package raptor

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"raptorengine/internal/errs"
)

const (
	summarizeMaxEnumerated = 64
	summarizeTemperature   = 0.2
	summarizeMinBackoff    = 1 * time.Second
	summarizeMaxBackoff    = 20 * time.Second
	summarizeMaxAttempts   = 6
)

// clusterPromptTemplate fixes the section headings so downstream consumers
// can parse Summary/Key facts/etc. reliably regardless of provider.
const clusterPromptTemplate = `Summarize the docs below. Output EXACTLY these sections:
Summary: 3–4 sentences.
Key facts: 3–6 bullets.
Entities: comma list.
Topics: 3–6 tags.
Evidence: [#i,...]
Uncertainties: bullets or "None".
Rules: Use only <docs>; keep entities/numbers/dates; note contradictions; if unsure say "unknown".
<docs>
%s
</docs>
`

// Summarizer wraps a ChatLLM behind a semaphore bounding concurrent calls
// across all groups in a level, formats the cluster prompt, retries
// transient provider errors with exponential backoff, and cleans the
// provider's raw output.
type Summarizer struct {
	llm ChatLLM
	sem *semaphore.Weighted
}

// NewSummarizer builds a Summarizer whose concurrency is bounded by
// llmConcurrency, the pipeline-level semaphore size.
func NewSummarizer(llm ChatLLM, llmConcurrency int) *Summarizer {
	if llmConcurrency < 1 {
		llmConcurrency = 1
	}
	return &Summarizer{llm: llm, sem: semaphore.NewWeighted(int64(llmConcurrency))}
}

// SummarizeCluster formats texts into the fixed cluster prompt, truncating
// to the first 64 entries, issues the call at temperature 0.2 under the
// semaphore, retries transient errors with exponential backoff, and strips
// a leading "Summary:" token from the result. Fails with EmptyOutput if the
// provider returns empty text after all retries are exhausted.
func (s *Summarizer) SummarizeCluster(ctx context.Context, texts []string, maxTokens int) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)

	prompt := buildClusterPrompt(texts)

	var out string
	var lastErr error
	for attempt := 0; attempt < summarizeMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt, summarizeMinBackoff, summarizeMaxBackoff); err != nil {
				return "", err
			}
		}
		text, err := s.llm.Summarize(ctx, prompt, maxTokens, summarizeTemperature)
		if err != nil {
			lastErr = err
			continue
		}
		out = cleanSummaryOutput(text)
		if out != "" {
			return out, nil
		}
		lastErr = nil // empty output: retry, but surface EmptyOutput if it never recovers
	}

	if lastErr != nil {
		return "", errs.Summarization("SUMMARIZATION_FAILED", "summarizer: provider failed after retries", lastErr)
	}
	return "", errs.Summarization("SUMMARIZATION_EMPTY_OUTPUT", "summarizer: empty output after retries", nil)
}

func buildClusterPrompt(texts []string) string {
	if len(texts) > summarizeMaxEnumerated {
		texts = texts[:summarizeMaxEnumerated]
	}
	var b strings.Builder
	for i, t := range texts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[#%d] %s", i+1, t)
	}
	return fmt.Sprintf(clusterPromptTemplate, b.String())
}

// cleanSummaryOutput strips a leading "Summary:" token some models emit
// despite the template already naming the section.
func cleanSummaryOutput(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "summary:") {
		trimmed = strings.TrimSpace(trimmed[len("summary:"):])
	}
	return trimmed
}

// sleepBackoff sleeps a randomized exponential backoff in [min, max],
// honoring context cancellation.
func sleepBackoff(ctx context.Context, attempt int, minWait, maxWait time.Duration) error {
	backoff := minWait * time.Duration(1<<uint(attempt-1))
	if backoff > maxWait {
		backoff = maxWait
	}
	jittered := time.Duration(rand.Int63n(int64(backoff) + 1))
	if jittered < minWait {
		jittered = minWait
	}

	timer := time.NewTimer(jittered)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
