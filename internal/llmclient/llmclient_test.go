package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/protolith/excavate/api/schemas"
	"github.com/protolith/excavate/internal/config"
)

func geminiBody(t *testing.T, text string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{
				"content":      map[string]any{"parts": []map[string]string{{"text": text}}},
				"finishReason": "STOP",
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestGeminiClientRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiClient(config.LLMModelConfig{Model: "gemini-2.5-flash"}, 1, zap.NewNop())
	assert.Error(t, err)
}

func TestGeminiClientComplete(t *testing.T) {
	var seen geminiRequestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(geminiBody(t, `{"ok":true}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(config.LLMModelConfig{
		Provider:   config.ProviderGemini,
		Model:      "gemini-2.5-flash",
		APIKey:     "test-key",
		Endpoint:   srv.URL,
		APITimeout: 5 * time.Second,
	}, 1, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	raw, err := client.Complete(context.Background(), schemas.CompletionRequest{
		SystemPrompt:   "persona",
		UserPrompt:     "question",
		ResponseSchema: json.RawMessage(`{"type":"object"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	assert.Equal(t, "application/json", seen.GenerationConfig.ResponseMimeType)
	assert.JSONEq(t, `{"type":"object"}`, string(seen.GenerationConfig.ResponseSchema))
	require.NotNil(t, seen.SystemInstruction)
	assert.Equal(t, "persona", seen.SystemInstruction.Parts[0].Text)
}

func TestGeminiClientRetriesTransientErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(geminiBody(t, `{"ok":true}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(config.LLMModelConfig{
		Model:      "gemini-2.5-flash",
		APIKey:     "test-key",
		Endpoint:   srv.URL,
		APITimeout: 5 * time.Second,
	}, 1, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Complete(context.Background(), schemas.CompletionRequest{UserPrompt: "q"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestGeminiClientDoesNotRetryPermanentErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewGeminiClient(config.LLMModelConfig{
		Model:      "gemini-2.5-flash",
		APIKey:     "test-key",
		Endpoint:   srv.URL,
		APITimeout: 5 * time.Second,
	}, 3, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Complete(context.Background(), schemas.CompletionRequest{UserPrompt: "q"})
	assert.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestRouterDispatchesByTier(t *testing.T) {
	fast := NewMockReasoner().Enqueue(json.RawMessage(`"fast"`))
	powerful := NewMockReasoner().Enqueue(json.RawMessage(`"powerful"`))
	router, err := NewRouter(zap.NewNop(), fast, powerful)
	require.NoError(t, err)

	raw, err := router.Complete(context.Background(), schemas.CompletionRequest{Tier: schemas.TierPowerful})
	require.NoError(t, err)
	assert.Equal(t, `"powerful"`, string(raw))

	// Unspecified tier takes the fast path.
	raw, err = router.Complete(context.Background(), schemas.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, `"fast"`, string(raw))
}

func TestNewReasonerMockProvider(t *testing.T) {
	cfg := config.LLMConfig{
		Fast:     config.LLMModelConfig{Provider: config.ProviderMock},
		Powerful: config.LLMModelConfig{Provider: config.ProviderMock},
	}
	r, err := NewReasoner(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestNewReasonerUnknownProvider(t *testing.T) {
	cfg := config.LLMConfig{
		Fast:     config.LLMModelConfig{Provider: "openai"},
		Powerful: config.LLMModelConfig{Provider: config.ProviderMock},
	}
	_, err := NewReasoner(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestMockReasonerScriptOrder(t *testing.T) {
	m := NewMockReasoner().
		Enqueue(json.RawMessage(`1`)).
		EnqueueError(assert.AnError).
		Enqueue(json.RawMessage(`2`))

	raw, err := m.Complete(context.Background(), schemas.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, `1`, string(raw))

	_, err = m.Complete(context.Background(), schemas.CompletionRequest{})
	assert.ErrorIs(t, err, assert.AnError)

	raw, err = m.Complete(context.Background(), schemas.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, `2`, string(raw))

	// Script exhausted.
	_, err = m.Complete(context.Background(), schemas.CompletionRequest{})
	assert.Error(t, err)
	assert.Len(t, m.Calls(), 4)
}
