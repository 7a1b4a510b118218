package enrich

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
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestOpenAIProvider_Generate(t *testing.T) {
	var got openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse(`{"products":[{"name":"더블엑스","tags":"비타민","description":"a\n\nb"}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIKey: "sk-test", APIURL: server.URL + "/", Model: "gpt-test"})
	results, err := p.Generate(context.Background(), []string{"더블엑스"})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "더블엑스", results[0].Name)
	assert.Equal(t, "gpt-test", got.Model)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	assert.Contains(t, got.Messages[1].Content, "- 더블엑스")
}

func TestOpenAIProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse(`[{"name":"A","tags":"t","description":"d"}]`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIURL: server.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	results, err := p.Generate(context.Background(), []string{"A"})

	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIProvider_QuotaExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "rate limit", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIURL: server.URL, MaxRetries: 1, RetryDelay: time.Millisecond})
	_, err := p.Generate(context.Background(), []string{"A"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIProvider_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewOpenAIProvider(Config{APIURL: server.URL, MaxRetries: 3, RetryDelay: time.Millisecond})
	_, err := p.Generate(context.Background(), []string{"A"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaExhausted)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIProvider_EmptyBatch(t *testing.T) {
	p := NewOpenAIProvider(Config{APIURL: "http://127.0.0.1:0"})
	results, err := p.Generate(context.Background(), nil)

	assert.NoError(t, err)
	assert.Nil(t, results)
}
