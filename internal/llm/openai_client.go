package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"guideflow/internal/config"
	"guideflow/internal/jsonx"
	"guideflow/internal/logging"
	"guideflow/internal/utils"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	maxRetries int
}

// NewOpenAIClient builds a client from the LLM config section.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := 120 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return &OpenAIClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     utils.NewComponentLogger("OpenAIClient"),
		maxRetries: cfg.MaxRetries,
	}
}

// Model returns the model name used by this client.
func (c *OpenAIClient) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Execute implements Client.
func (c *OpenAIClient) Execute(ctx context.Context, task Task, req Request) (Response, error) {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	if len(req.Images) == 0 {
		messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	} else {
		parts := []contentPart{{Type: "text", Text: req.Prompt}}
		for _, img := range req.Images {
			url := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURLPart{URL: url}})
		}
		messages = append(messages, chatMessage{Role: "user", Content: parts})
	}

	body, err := jsonx.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	c.logger.Debug("=== LLM Request ===")
	c.logger.Debug("Task: %s Model: %s Images: %d PromptChars: %d", task, c.model, len(req.Images), len(req.Prompt))

	var lastErr error
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		resp, err := c.doPost(ctx, c.baseURL+"/chat/completions", body)
		if err != nil {
			lastErr = err
			continue
		}
		result, retryable, err := c.decodeResponse(resp)
		if err == nil {
			c.logger.Debug("=== LLM Response === model=%s chars=%d", result.Model, len(result.Content))
			return result, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Response{}, fmt.Errorf("LLM call failed: %w", lastErr)
}

// ExecuteTTSEnhancement implements Client; the OpenAI backend uses the same
// chat endpoint for narration work.
func (c *OpenAIClient) ExecuteTTSEnhancement(ctx context.Context, req Request) (Response, error) {
	return c.Execute(ctx, TaskTTSEnhance, req)
}

func (c *OpenAIClient) doPost(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.httpClient.Do(httpReq)
}

func (c *OpenAIClient) decodeResponse(resp *http.Response) (Response, bool, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, true, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Response{}, true, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(data), 256))
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, false, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(data), 256))
	}
	var parsed chatResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return Response{}, false, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, false, fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, false, fmt.Errorf("empty choices in response")
	}
	model := parsed.Model
	if model == "" {
		model = c.model
	}
	return Response{Content: parsed.Choices[0].Message.Content, Model: model}, false, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
