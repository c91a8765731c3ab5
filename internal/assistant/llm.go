package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces the assistant reply for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ChatClient calls an OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	apiURL      string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

// NewChatClient creates a chat client.
func NewChatClient(apiURL, apiKey, model string, temperature float64) *ChatClient {
	return &ChatClient{
		apiURL:      apiURL,
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

func (c *ChatClient) Complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Temperature: c.temperature})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API error %d: %s", resp.StatusCode, string(raw))
	}

	var cResp chatResponse
	if err := json.Unmarshal(raw, &cResp); err != nil {
		return "", fmt.Errorf("chat response parse error: %w", err)
	}
	if len(cResp.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return cResp.Choices[0].Message.Content, nil
}
