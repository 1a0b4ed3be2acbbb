package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"vigilant-go/internal/apperr"
	"vigilant-go/internal/retry"
)

// Model is one completion call against a language model.
type Model interface {
	Complete(ctx context.Context, prompt string) ([]byte, error)
}

// GatewayClient posts OpenAI-style chat completions to an LLM gateway.
type GatewayClient struct {
	URL         string
	APIKey      string
	ModelName   string
	Temperature float64
	HTTPClient  *http.Client
	Log         *logrus.Entry
}

func NewGatewayClient(url, apiKey, model string, log *logrus.Entry) *GatewayClient {
	return &GatewayClient{
		URL:         url,
		APIKey:      apiKey,
		ModelName:   model,
		Temperature: 0.05,
		HTTPClient:  &http.Client{Timeout: 90 * time.Second},
		Log:         log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

// Complete returns the raw response body. A 429 comes back as
// retry.Throttled carrying the Retry-After header, or the body when the
// gateway only explains itself there.
func (g *GatewayClient) Complete(ctx context.Context, prompt string) ([]byte, error) {
	const op = "llm_gateway"

	data, err := json.Marshal(chatRequest{
		Model:          g.ModelName,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		Temperature:    g.Temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, op, fmt.Errorf("marshal request: %w", err))
	}
	g.Log.WithField("payload_len", len(data)).Debug("llm request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		if cerr := apperr.FromContext(ctx, op); cerr != nil {
			return nil, cerr
		}
		return nil, apperr.Wrap(apperr.KindOf(err), op, fmt.Errorf("llm request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if cerr := apperr.FromContext(ctx, op); cerr != nil {
			return nil, cerr
		}
		return nil, apperr.Wrap(apperr.KindUpstream, op, fmt.Errorf("read body: %w", err))
	}
	g.Log.WithField("http_status", resp.StatusCode).Debug("llm raw response received")

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		hint := resp.Header.Get("Retry-After")
		if hint == "" {
			hint = string(body)
		}
		return nil, &retry.Throttled{Hint: hint, Err: fmt.Errorf("gateway returned 429")}
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, apperr.New(apperr.KindTimeout, op, "gateway timed out")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, apperr.Newf(apperr.KindUpstream, op, "gateway returned %d: %s", resp.StatusCode, truncate(string(body), 300))
	}
	return body, nil
}

// extractContentFromChoices reads openai-style choices[0].message.content.
func extractContentFromChoices(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return ""
	}
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].(string)
	return extractJSON(content)
}

// extractJSON finds the first balanced JSON object in a string, ignoring
// braces inside string literals. Markdown fences are stripped first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```JSON", "```"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
