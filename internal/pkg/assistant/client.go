package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/magictales/storyforge/internal/pkg/env"
)

const defaultRequestTimeout = 60 * time.Second

// Client talks to the story generation backend over HTTP.
type Client struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
}

type generateRequest struct {
	SessionID   string   `json:"session_id"`
	StepName    string   `json:"step_name"`
	Instruction string   `json:"instruction"`
	History     []string `json:"history"`
	ProfileInfo string   `json:"profile_info,omitempty"`
}

type generateResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// NewClientFromEnv builds a client from ASSISTANT_BASE_URL / ASSISTANT_API_KEY.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL: strings.TrimRight(env.GetEnv("ASSISTANT_BASE_URL", ""), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("ASSISTANT_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

// Generate asks the backend to produce the content for one pipeline step.
// The caller controls the per-step timeout through ctx.
func (c *Client) Generate(ctx context.Context, prompt PromptContext) (string, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return "", errors.New("ASSISTANT_BASE_URL is not configured")
	}

	body, err := json.Marshal(generateRequest{
		SessionID:   prompt.SessionID,
		StepName:    prompt.StepName,
		Instruction: prompt.Instruction,
		History:     prompt.History,
		ProfileInfo: prompt.ProfileInfo,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("invalid generation response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("generation backend error: %s", parsed.Error)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return "", errors.New("generation backend returned empty content")
	}

	return parsed.Content, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultRequestTimeout}
}
