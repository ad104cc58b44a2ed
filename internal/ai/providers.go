package ai

import (
	"browser-agent/pkg/apperr"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/genai"
)

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float32         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) completeOpenAI(ctx context.Context, system, user string) (string, error) {
	const op = "completeOpenAI"

	url := c.config.BaseURL
	if url == "" {
		url = defaultOpenAIURL
	}

	body, err := c.post(ctx, op, url, openAIRequest{
		Model: c.config.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    c.config.Temperature,
		MaxTokens:      c.config.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}, map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	})
	if err != nil {
		return "", err
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperr.Wrap(op, apperr.CodeMalformedResponse, err, map[string]any{
			apperr.MetaReason: "unmarshal_failed",
			apperr.MetaStage:  apperr.StageAI,
		})
	}

	if len(resp.Choices) == 0 {
		return "", apperr.WrapErrorWithReason(op, apperr.CodeMalformedResponse, "no_choices")
	}

	return resp.Choices[0].Message.Content, nil
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Temperature float32         `json:"temperature"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (c *Client) completeAnthropic(ctx context.Context, system, user string) (string, error) {
	const op = "completeAnthropic"

	url := c.config.BaseURL
	if url == "" {
		url = defaultAnthropicURL
	}

	body, err := c.post(ctx, op, url, claudeRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		System:      system + "\nRespond with a single JSON object and nothing else.",
		Temperature: c.config.Temperature,
		Messages:    []claudeMessage{{Role: "user", Content: user}},
	}, map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var resp claudeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", apperr.Wrap(op, apperr.CodeMalformedResponse, err, map[string]any{
			apperr.MetaReason: "unmarshal_failed",
			apperr.MetaStage:  apperr.StageAI,
		})
	}

	var b strings.Builder
	for _, content := range resp.Content {
		if content.Type == "text" {
			b.WriteString(content.Text)
		}
	}

	if b.Len() == 0 {
		return "", apperr.WrapErrorWithReason(op, apperr.CodeMalformedResponse, "empty_content")
	}

	return b.String(), nil
}

func (c *Client) gemini(ctx context.Context) (*genai.Client, error) {
	c.genaiOnce.Do(func() {
		c.genaiClient, c.genaiErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.config.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
	})

	return c.genaiClient, c.genaiErr
}

func (c *Client) completeGemini(ctx context.Context, system, user string) (string, error) {
	const op = "completeGemini"

	client, err := c.gemini(ctx)
	if err != nil {
		return "", apperr.Wrap(op, apperr.CodeAIError, err, map[string]any{
			apperr.MetaReason: "client_create_failed",
			apperr.MetaStage:  apperr.StageAI,
		})
	}

	resp, err := client.Models.GenerateContent(ctx, c.config.Model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr(c.config.Temperature),
		MaxOutputTokens:   int32(c.config.MaxTokens),
	})
	if err != nil {
		return "", apperr.Wrap(op, apperr.CodeAIError, err, map[string]any{
			apperr.MetaReason: "generate_failed",
			apperr.MetaStage:  apperr.StageAI,
		})
	}

	text := resp.Text()
	if text == "" {
		return "", apperr.Wrap(op, apperr.CodeMalformedResponse, errors.New("empty response"), map[string]any{
			apperr.MetaReason: "empty_content",
			apperr.MetaStage:  apperr.StageAI,
		})
	}

	return text, nil
}
