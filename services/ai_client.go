package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/noelys215/arbiter-api/models"
	"github.com/noelys215/arbiter-api/utils"
)

// RerankCandidate is the slim candidate view sent to the reranker.
type RerankCandidate struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	MediaType string  `json:"media_type"`
	Year      *int    `json:"year,omitempty"`
	Overview  string  `json:"overview,omitempty"`
}

// RerankResult is an ordered candidate id list plus a short overall
// rationale.
type RerankResult struct {
	OrderedIDs []string
	Why        string
}

// AIProvider is the assistance layer for constraint parsing and candidate
// reranking. Every failure must leave the caller on the deterministic path.
type AIProvider interface {
	ParseConstraints(ctx context.Context, baseline models.SessionConstraints, text string) (models.SessionConstraints, error)
	RerankCandidates(ctx context.Context, constraints models.SessionConstraints, candidates []RerankCandidate) (*RerankResult, error)
}

// AIError marks assistant-layer failures so callers can distinguish
// degraded-AI from real service errors.
type AIError struct {
	Op  string
	Err error
}

func (e *AIError) Error() string { return fmt.Sprintf("ai %s: %v", e.Op, e.Err) }
func (e *AIError) Unwrap() error { return e.Err }

// OpenAIClient calls the OpenAI responses API with a request timeout, a
// single retry on transient failures and a circuit breaker. A missing API
// key disables the client and every call returns an AIError.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewOpenAIClient() *OpenAIClient {
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Println("⚠️ OPENAI_API_KEY not set, AI assistance disabled")
	}

	settings := gobreaker.Settings{
		Name:    "openai",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}

	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  utils.NewHTTPClient(20 * time.Second),
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

func (c *OpenAIClient) Model() string { return c.model }

type responsesRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type responsesReply struct {
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	OutputText string `json:"output_text"`
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string { return fmt.Sprintf("openai: status %d", e.status) }

func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

func (c *OpenAIClient) post(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(responsesRequest{Model: c.model, Input: prompt})
	if err != nil {
		return "", err
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &httpStatusError{status: resp.StatusCode}
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return "", err
	}

	var reply responsesReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if reply.OutputText != "" {
		return reply.OutputText, nil
	}
	for _, out := range reply.Output {
		for _, content := range out.Content {
			if content.Type == "output_text" && content.Text != "" {
				return content.Text, nil
			}
		}
	}
	return "", fmt.Errorf("openai: empty response")
}

// complete runs one prompt with at most one retry. Auth failures and client
// errors are terminal; timeouts, rate limits, 5xx and malformed JSON get a
// single retry.
func (c *OpenAIClient) complete(ctx context.Context, op, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", &AIError{Op: op, Err: fmt.Errorf("api key not configured")}
	}

	text, err := c.post(ctx, prompt)
	if err == nil {
		return text, nil
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && !retryableStatus(statusErr.status) {
		return "", &AIError{Op: op, Err: err}
	}
	if ctx.Err() != nil {
		return "", &AIError{Op: op, Err: err}
	}

	text, retryErr := c.post(ctx, prompt)
	if retryErr != nil {
		return "", &AIError{Op: op, Err: retryErr}
	}
	return text, nil
}

// extractJSONObject pulls the first top-level JSON object out of the model's
// reply, tolerating markdown fences and surrounding prose.
func extractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

type parsedConstraintsReply struct {
	Moods      []string `json:"moods"`
	Avoid      []string `json:"avoid"`
	MaxRuntime *int     `json:"max_runtime"`
	Format     *string  `json:"format"`
	Energy     *string  `json:"energy"`
}

const parsePromptHeader = `You extract watch-night constraints from a short free-text note.
Reply with a single JSON object, no prose, with keys:
moods (array of short mood strings), avoid (array of strings),
max_runtime (integer minutes or null), format ("movie", "tv", "any" or null),
energy ("low", "med", "high" or null).
Only include constraints the note actually states.`

// ParseConstraints asks the model to read free text and returns the baseline
// narrowed by what the model extracted. The merge can only tighten:
// moods/avoid are unioned, max_runtime only lowers, format and energy fill
// empty slots.
func (c *OpenAIClient) ParseConstraints(ctx context.Context, baseline models.SessionConstraints, text string) (models.SessionConstraints, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return baseline, nil
	}

	prompt := fmt.Sprintf("%s\n\nNote:\n%s", parsePromptHeader, trimmed)
	reply, err := c.complete(ctx, "parse_constraints", prompt)
	if err != nil {
		return baseline, err
	}

	raw, ok := extractJSONObject(reply)
	if !ok {
		return baseline, &AIError{Op: "parse_constraints", Err: fmt.Errorf("no JSON object in reply")}
	}
	var parsed parsedConstraintsReply
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return baseline, &AIError{Op: "parse_constraints", Err: err}
	}

	merged := baseline
	merged.Moods = append(append([]string{}, baseline.Moods...), parsed.Moods...)
	merged.Avoid = append(append([]string{}, baseline.Avoid...), parsed.Avoid...)
	if parsed.MaxRuntime != nil && *parsed.MaxRuntime > 0 {
		if merged.MaxRuntime == nil || *parsed.MaxRuntime < *merged.MaxRuntime {
			v := *parsed.MaxRuntime
			merged.MaxRuntime = &v
		}
	}
	if parsed.Format != nil && (merged.Format == "" || merged.Format == "any") {
		f := strings.ToLower(strings.TrimSpace(*parsed.Format))
		if f == "movie" || f == "tv" {
			merged.Format = f
		}
	}
	if parsed.Energy != nil && merged.Energy == nil {
		e := strings.ToLower(strings.TrimSpace(*parsed.Energy))
		if e == "low" || e == "med" || e == "high" {
			merged.Energy = &e
		}
	}
	merged.FreeText = trimmed
	merged.ParsedByAI = true
	merged.AIVersion = &c.model
	merged.Normalize()
	return merged, nil
}

type rerankReply struct {
	Ordered []string `json:"ordered"`
	Why     string   `json:"why"`
}

const rerankPromptHeader = `You order movie/TV candidates for a group watch night by fit with the
stated constraints. Reply with a single JSON object, no prose:
{"ordered": ["id", ...], "why": "one sentence"}.
Include every candidate id exactly once, best fit first.`

// RerankCandidates asks the model for a full ordering of the candidate slate.
// The caller validates and pads the result before trusting it.
func (c *OpenAIClient) RerankCandidates(ctx context.Context, constraints models.SessionConstraints, candidates []RerankCandidate) (*RerankResult, error) {
	if len(candidates) == 0 {
		return &RerankResult{}, nil
	}

	constraintsJSON := constraints.JSON()
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, &AIError{Op: "rerank", Err: err}
	}

	prompt := fmt.Sprintf("%s\n\nConstraints:\n%s\n\nCandidates:\n%s", rerankPromptHeader, constraintsJSON, candidatesJSON)
	reply, err := c.complete(ctx, "rerank", prompt)
	if err != nil {
		return nil, err
	}

	raw, ok := extractJSONObject(reply)
	if !ok {
		return nil, &AIError{Op: "rerank", Err: fmt.Errorf("no JSON object in reply")}
	}
	var parsed rerankReply
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, &AIError{Op: "rerank", Err: err}
	}

	result := &RerankResult{Why: strings.TrimSpace(parsed.Why)}
	for _, entry := range parsed.Ordered {
		if id := strings.TrimSpace(entry); id != "" {
			result.OrderedIDs = append(result.OrderedIDs, id)
		}
	}
	return result, nil
}
