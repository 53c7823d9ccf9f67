package raptor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBuildClusterPromptEnumeratesAndTruncates(t *testing.T) {
	texts := make([]string, 70)
	for i := range texts {
		texts[i] = fmt.Sprintf("text number %d", i+1)
	}
	prompt := buildClusterPrompt(texts)

	if !strings.Contains(prompt, "[#1] text number 1") {
		t.Fatalf("expected first entry enumerated, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[#64] text number 64") {
		t.Fatalf("expected entry 64 present")
	}
	if strings.Contains(prompt, "[#65]") {
		t.Fatalf("expected truncation to 64 entries, found [#65]")
	}
	if !strings.Contains(prompt, "<docs>") || !strings.Contains(prompt, "</docs>") {
		t.Fatalf("expected docs delimiters in prompt")
	}
}

func TestCleanSummaryOutputStripsLeadingToken(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Summary: the gist", "the gist"},
		{"  summary: lower case too", "lower case too"},
		{"No prefix here", "No prefix here"},
		{"   padded   ", "padded"},
	}
	for _, tc := range cases {
		if got := cleanSummaryOutput(tc.in); got != tc.want {
			t.Fatalf("cleanSummaryOutput(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// flakyLLM fails (or returns empty) a configured number of times before
// producing its summary.
type flakyLLM struct {
	mu       sync.Mutex
	failures int
	empties  int
	summary  string
	calls    int
}

func (f *flakyLLM) Summarize(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return "", errors.New("transient provider error")
	}
	if f.empties > 0 {
		f.empties--
		return "", nil
	}
	return f.summary, nil
}

func TestSummarizeClusterRetriesTransientError(t *testing.T) {
	llm := &flakyLLM{failures: 1, summary: "Summary: recovered"}
	s := NewSummarizer(llm, 3)

	out, err := s.SummarizeCluster(context.Background(), []string{"t1", "t2"}, 256)
	if err != nil {
		t.Fatalf("expected retry to absorb the failure, got %v", err)
	}
	if out != "recovered" {
		t.Fatalf("expected cleaned summary, got %q", out)
	}
	if llm.calls != 2 {
		t.Fatalf("expected 2 calls (failure + retry), got %d", llm.calls)
	}
}

func TestSummarizeClusterRetriesEmptyOutput(t *testing.T) {
	llm := &flakyLLM{empties: 1, summary: "eventually"}
	s := NewSummarizer(llm, 3)

	out, err := s.SummarizeCluster(context.Background(), []string{"t1"}, 256)
	if err != nil {
		t.Fatalf("expected retry to recover from an empty output, got %v", err)
	}
	if out != "eventually" {
		t.Fatalf("got %q", out)
	}
}

func TestSummarizeClusterHonorsCancellation(t *testing.T) {
	llm := &flakyLLM{failures: 100}
	s := NewSummarizer(llm, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.SummarizeCluster(ctx, []string{"t1"}, 256)
	if err == nil {
		t.Fatalf("expected cancellation to cut retries short")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

// slowLLM tracks how many Summarize calls run at once.
type slowLLM struct {
	inFlight int64
	peak     int64
}

func (s *slowLLM) Summarize(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	cur := atomic.AddInt64(&s.inFlight, 1)
	for {
		p := atomic.LoadInt64(&s.peak)
		if cur <= p || atomic.CompareAndSwapInt64(&s.peak, p, cur) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt64(&s.inFlight, -1)
	return "ok", nil
}

// TestSummarizerSemaphoreBoundsConcurrency: with a semaphore of 2, no more
// than two provider calls may ever be in flight at once.
func TestSummarizerSemaphoreBoundsConcurrency(t *testing.T) {
	llm := &slowLLM{}
	s := NewSummarizer(llm, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.SummarizeCluster(context.Background(), []string{"t"}, 64); err != nil {
				t.Errorf("summarize: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak := atomic.LoadInt64(&llm.peak); peak > 2 {
		t.Fatalf("semaphore breached: %d concurrent calls observed", peak)
	}
}
