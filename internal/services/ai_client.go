package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Classifier validates an item's category against a fixed vocabulary.
type Classifier interface {
	ClassifyItem(ctx context.Context, req *ClassifyRequest) (*ClassificationVerdict, error)
}

// Synthesizer turns a batch of dated raw entries into one document's prose.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *SynthesizeRequest) (string, error)
}

// ClassifyRequest carries one item's fields plus the allowed vocabulary.
type ClassifyRequest struct {
	ItemID     int64
	Title      string
	Category   string
	Summary    string
	Vocabulary []string
}

// ClassificationVerdict is the structured output the classifier must return.
type ClassificationVerdict struct {
	NeedsChange bool   `json:"needsChange"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Reason      string `json:"reason"`
}

// SynthesizeRequest carries the raw material for one document.
type SynthesizeRequest struct {
	ProjectName string
	Category    string
	Entries     string // timestamp-ordered rendering of the raw entries
}

const classificationSystemPrompt = `You are a documentation librarian. You validate the category assigned to a short note about a software project.

You are given the note's title, its current category, a short summary, and the fixed list of allowed categories. Decide whether the current category is correct. If it is wrong, pick the single best category from the allowed list and optionally a free-form subcategory.

Rules:
- Only use categories from the allowed list.
- Prefer keeping the current category unless it is clearly wrong.
- Keep the reason to one sentence.

Return JSON.`

const synthesisSystemPrompt = `You are a project historian. You receive a list of dated raw notes from one project, all belonging to one category, and you write a single coherent document summarizing them.

Rules:
- Use ONLY the supplied material. Do not invent events, dates, names, or outcomes that are not in the notes.
- Preserve chronological order where it matters.
- Write plain prose with short paragraphs; no preamble about being an AI.`

// classificationSchema defines structured output for category validation
var classificationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"needsChange": map[string]interface{}{
			"type":        "boolean",
			"description": "Whether the current category is wrong",
		},
		"category": map[string]interface{}{
			"type":        "string",
			"description": "The correct category from the allowed list",
		},
		"subcategory": map[string]interface{}{
			"type":        "string",
			"description": "Optional finer-grained label",
		},
		"reason": map[string]interface{}{
			"type":        "string",
			"description": "One-sentence justification",
		},
	},
	"required":             []string{"needsChange", "category", "subcategory", "reason"},
	"additionalProperties": false,
}

// AIClient talks to an OpenAI-compatible chat completions endpoint. It is the
// single outstanding-request collaborator for both classification and
// synthesis: the limiter paces calls, and classification verdicts are cached
// by item content so unchanged items are not re-billed across firings.
type AIClient struct {
	baseURL          string
	apiKey           string
	classifierModel  string
	synthesizerModel string
	httpClient       *http.Client
	limiter          *rate.Limiter
	verdictCache     *gocache.Cache
	log              *logrus.Entry
}

// NewAIClient creates the collaborator client. requestsPerMinute bounds the
// sustained call rate; burst is fixed at 1 so calls stay strictly serialized.
func NewAIClient(baseURL, apiKey, classifierModel, synthesizerModel string, requestsPerMinute float64) *AIClient {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	return &AIClient{
		baseURL:          strings.TrimRight(baseURL, "/"),
		apiKey:           apiKey,
		classifierModel:  classifierModel,
		synthesizerModel: synthesizerModel,
		httpClient:       &http.Client{Timeout: 60 * time.Second},
		limiter:          rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), 1),
		verdictCache:     gocache.New(12*time.Hour, 30*time.Minute),
		log:              logrus.WithField("component", "ai_client"),
	}
}

// ClassifyItem issues one classification request with structured output.
func (c *AIClient) ClassifyItem(ctx context.Context, req *ClassifyRequest) (*ClassificationVerdict, error) {
	cacheKey := c.verdictCacheKey(req)
	if cached, ok := c.verdictCache.Get(cacheKey); ok {
		if verdict, ok := cached.(*ClassificationVerdict); ok {
			c.log.WithField("item_id", req.ItemID).Debug("classification verdict served from cache")
			return verdict, nil
		}
	}

	userPrompt := fmt.Sprintf(`TITLE: %s
CURRENT CATEGORY: %s
SUMMARY: %s

ALLOWED CATEGORIES: %s

Validate the current category. Return JSON.`,
		req.Title, req.Category, req.Summary, strings.Join(req.Vocabulary, ", "))

	body := map[string]interface{}{
		"model": c.classifierModel,
		"messages": []map[string]interface{}{
			{"role": "system", "content": classificationSystemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"stream":      false,
		"temperature": 0.1,
		"response_format": map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "category_validation",
				"strict": true,
				"schema": classificationSchema,
			},
		},
	}

	content, err := c.chatCompletion(ctx, "classify", body)
	if err != nil {
		return nil, err
	}

	var verdict ClassificationVerdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		c.log.WithError(err).WithField("response_length", len(content)).Warn("failed to parse classification verdict")
		return nil, fmt.Errorf("failed to parse classification verdict: %w", err)
	}

	// A verdict naming a category outside the vocabulary is treated as
	// malformed output: skip now, retry next firing.
	if verdict.NeedsChange && !contains(req.Vocabulary, verdict.Category) {
		return nil, fmt.Errorf("classifier returned category %q outside the vocabulary", verdict.Category)
	}

	c.verdictCache.Set(cacheKey, &verdict, gocache.DefaultExpiration)
	return &verdict, nil
}

// Synthesize issues one free-form synthesis request.
func (c *AIClient) Synthesize(ctx context.Context, req *SynthesizeRequest) (string, error) {
	userPrompt := fmt.Sprintf(`PROJECT: %s
CATEGORY: %s

RAW ENTRIES (chronological):
%s

Write the document for this category using only the entries above.`,
		req.ProjectName, req.Category, req.Entries)

	body := map[string]interface{}{
		"model": c.synthesizerModel,
		"messages": []map[string]interface{}{
			{"role": "system", "content": synthesisSystemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"stream":      false,
		"temperature": 0.4,
	}

	content, err := c.chatCompletion(ctx, "synthesize", body)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("synthesizer returned empty content")
	}
	return content, nil
}

// chatCompletion sends one request and returns the first choice's content.
func (c *AIClient) chatCompletion(ctx context.Context, kind string, body map[string]interface{}) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter interrupted: %w", err)
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start).Seconds()
	if m := GetMetrics(); m != nil {
		m.RecordAIRequest(kind, elapsed)
	}
	if err != nil {
		if m := GetMetrics(); m != nil {
			m.RecordAIError(kind)
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if m := GetMetrics(); m != nil {
			m.RecordAIError(kind)
		}
		c.log.WithFields(logrus.Fields{
			"kind":   kind,
			"status": resp.StatusCode,
		}).Warn("collaborator API error")
		return "", fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to parse API response: %w", err)
	}
	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("no choices in collaborator response")
	}

	return apiResponse.Choices[0].Message.Content, nil
}

// verdictCacheKey hashes the fields that influence a verdict, so edits to the
// item invalidate the cache naturally.
func (c *AIClient) verdictCacheKey(req *ClassifyRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s", req.ItemID, req.Title, req.Category, req.Summary)
	return hex.EncodeToString(h.Sum(nil))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
