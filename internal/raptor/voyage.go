package raptor

import (
	"context"
	"errors"
	"os"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"raptorengine/internal/errs"
)

const voyageBaseURL = "https://api.voyageai.com/v1"

// VoyageProvider implements EmbeddingProvider against VoyageAI's
// contextualized-embed HTTP endpoint via go-resty; no Go SDK for VoyageAI
// exists, so the request/response shape is modeled on the provider's
// documented contract.
type VoyageProvider struct {
	client *resty.Client
	apiKey string
}

// NewVoyageProvider builds a provider bound to one API key.
func NewVoyageProvider(apiKey string) *VoyageProvider {
	client := resty.New().
		SetHostURL(voyageBaseURL).
		SetTimeout(60 * time.Second).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")
	return &VoyageProvider{client: client, apiKey: apiKey}
}

type voyageContextualizedEmbedRequest struct {
	Inputs          [][]string `json:"inputs"`
	Model           string     `json:"model"`
	InputType       string     `json:"input_type"`
	OutputDimension int        `json:"output_dimension,omitempty"`
	OutputDtype     string     `json:"output_dtype,omitempty"`
}

type voyageResult struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type voyageContextualizedEmbedResponse struct {
	Results []voyageResult `json:"results"`
}

type voyageErrorBody struct {
	Detail string `json:"detail"`
}

// ContextualizedEmbed issues one POST /contextualizedembeddings call. A 429
// response is surfaced as a rate-limit-kind error (see IsRateLimit); any
// other error status becomes an embedding-kind provider error.
func (p *VoyageProvider) ContextualizedEmbed(ctx context.Context, groups [][]string, inputType, model string, outputDim int) ([][][]float32, error) {
	req := voyageContextualizedEmbedRequest{
		Inputs:          groups,
		Model:           model,
		InputType:       inputType,
		OutputDimension: outputDim,
		OutputDtype:     "float",
	}

	var body voyageContextualizedEmbedResponse
	var errBody voyageErrorBody
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&body).
		SetError(&errBody).
		Post("/contextualizedembeddings")
	if err != nil {
		return nil, errs.Embedding("EMBEDDING_CONNECTION_FAILED", "voyage: request failed", err)
	}
	if resp.StatusCode() == 429 {
		return nil, newRateLimitError(errBody.Detail)
	}
	if resp.IsError() {
		msg := errBody.Detail
		if msg == "" {
			msg = resp.Status()
		}
		return nil, errs.Embedding("EMBEDDING_PROVIDER_ERROR", "voyage: "+msg, nil)
	}

	out := make([][][]float32, len(body.Results))
	for i, r := range body.Results {
		out[i] = r.Embeddings
	}
	return out, nil
}

// rateLimitError is the discriminable rate-limit error kind the embedding
// provider contract requires; the embedding client's retry loop treats it
// the same as a connection or provider error (exponential backoff).
type rateLimitError struct {
	msg string
}

func (e *rateLimitError) Error() string {
	if e.msg == "" {
		return "voyage: rate limited"
	}
	return "voyage: rate limited: " + e.msg
}

func newRateLimitError(msg string) error { return &rateLimitError{msg: msg} }

// IsRateLimit reports whether err is (or wraps) a rate-limit-kind error
// from an embedding provider.
func IsRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

var voyageNumberedKeyRe = regexp.MustCompile(`^VOYAGEAI_KEY_(\d+)$`)

// CollectVoyageAPIKeys gathers VOYAGEAI_KEY plus any numbered
// VOYAGEAI_KEY_1, VOYAGEAI_KEY_2, … variables from the environment, ordered
// by their numeric suffix, with duplicates removed and order preserved.
func CollectVoyageAPIKeys() []string {
	var keys []string
	if base := os.Getenv("VOYAGEAI_KEY"); base != "" {
		keys = append(keys, base)
	}

	type numbered struct {
		n   int
		key string
	}
	var extra []numbered
	for _, kv := range os.Environ() {
		name, val, ok := splitEnv(kv)
		if !ok || val == "" {
			continue
		}
		m := voyageNumberedKeyRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		extra = append(extra, numbered{n: n, key: val})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].n < extra[j].n })
	for _, e := range extra {
		keys = append(keys, e.key)
	}

	seen := make(map[string]bool, len(keys))
	var uniq []string
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			uniq = append(uniq, k)
		}
	}
	return uniq
}

func splitEnv(kv string) (name, val string, ok bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], true
		}
	}
	return "", "", false
}
