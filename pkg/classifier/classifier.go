// Package classifier wraps the external text-analysis call.
//
// The wrapper fails closed: whatever goes wrong with the provider call,
// Analyze hands back a usable result so the pipeline can always finish
// processing an accepted query.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"go.scholarhub.net/triage/pkg/types"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 15 * time.Second

const instructionTemplate = `You are an admissions assistant for an international scholarship program.
Analyze the applicant query you are given.
Return ONLY a JSON object with:
1. "category": one of "faq", "application_issue", "high_value", "spam"
2. "sentiment_score": a number from 0.0 to 1.0, where 1.0 is highly polite
3. "reply": a polite, accurate answer to the question`

// Classifier produces a classification result for a piece of text.
type Classifier interface {
	Analyze(ctx context.Context, text string) types.ClassificationResult
}

// Client calls an OpenAI-style chat completions endpoint.
type Client struct {
	// Required config
	BaseURL string
	APIKey  string
	Model   string
	// Optional components
	HTTP *http.Client // defaults to a client with DefaultTimeout
	Log  *zap.Logger
}

var _ Classifier = (*Client)(nil)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// verdict is the structured payload expected inside the model output.
type verdict struct {
	Category       string  `json:"category"`
	SentimentScore float64 `json:"sentiment_score"`
	Reply          string  `json:"reply"`
}

// Analyze classifies the given text. It never fails: any transport error,
// timeout or non-conforming model output yields the fixed fallback result.
func (c *Client) Analyze(ctx context.Context, text string) types.ClassificationResult {
	result, err := c.call(ctx, text)
	if err != nil {
		c.log().Warn("Classifier call failed, using fallback", zap.Error(err))
		return types.FallbackResult()
	}
	return result
}

func (c *Client) call(ctx context.Context, text string) (types.ClassificationResult, error) {
	var zero types.ClassificationResult
	reqBody := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: instructionTemplate},
			{Role: "user", Content: text},
		},
	}
	buf, err := json.Marshal(&reqBody)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.BaseURL, "/")+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	res, err := c.http().Do(req)
	if err != nil {
		return zero, fmt.Errorf("classifier request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return zero, fmt.Errorf("classifier returned status %d", res.StatusCode)
	}
	resBuf, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return zero, fmt.Errorf("failed to read classifier response: %w", err)
	}
	var chatRes chatResponse
	if err := json.Unmarshal(resBuf, &chatRes); err != nil {
		return zero, fmt.Errorf("malformed classifier response: %w", err)
	}
	if len(chatRes.Choices) < 1 {
		return zero, fmt.Errorf("classifier response has no choices")
	}
	return parseVerdict(chatRes.Choices[0].Message.Content)
}

// parseVerdict validates the structured payload inside the model output.
// Models tend to wrap JSON in Markdown code fences, so those are stripped
// before structural validation.
func parseVerdict(content string) (types.ClassificationResult, error) {
	var zero types.ClassificationResult
	var v verdict
	if err := json.Unmarshal([]byte(stripFences(content)), &v); err != nil {
		return zero, fmt.Errorf("unparseable model verdict: %w", err)
	}
	result := types.ClassificationResult{
		Category:       types.Category(v.Category),
		SentimentScore: v.SentimentScore,
		ReplyText:      v.Reply,
	}
	if err := result.Check(); err != nil {
		return zero, fmt.Errorf("invalid model verdict: %w", err)
	}
	return result, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func (c *Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (c *Client) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}
