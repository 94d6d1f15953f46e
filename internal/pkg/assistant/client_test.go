package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generate", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "outline", req.StepName)
		assert.Len(t, req.History, 2)

		json.NewEncoder(w).Encode(generateResponse{Content: "Chapter one..."})
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL, APIKey: "test-key", HTTPClient: server.Client()}

	content, err := client.Generate(context.Background(), PromptContext{
		SessionID:   "s-1",
		StepName:    "outline",
		Instruction: "Write the outline",
		History:     []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Chapter one...", content)
}

func TestClient_Generate_BackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream overloaded"))
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL, HTTPClient: server.Client()}

	_, err := client.Generate(context.Background(), PromptContext{StepName: "outline"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_Generate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := &Client{BaseURL: server.URL, HTTPClient: server.Client()}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, PromptContext{StepName: "outline"})
	assert.Error(t, err)
}

func TestClient_Generate_MissingBaseURL(t *testing.T) {
	client := &Client{}
	_, err := client.Generate(context.Background(), PromptContext{})
	assert.Error(t, err)
}
