package enrich

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResults(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Result
		wantErr bool
	}{
		{
			name:  "bare array",
			input: `[{"name":"더블엑스","tags":"비타민 C","description":"a\n\nb"}]`,
			want:  []Result{{Name: "더블엑스", Tags: "비타민 C", Description: "a\n\nb"}},
		},
		{
			name:  "products object",
			input: `{"products":[{"name":"칼맥디","tags":"칼슘","description":"x"}]}`,
			want:  []Result{{Name: "칼맥디", Tags: "칼슘", Description: "x"}},
		},
		{
			name:  "fenced json",
			input: "```json\n{\"products\":[{\"name\":\"A\",\"tags\":\"t\",\"description\":\"d\"}]}\n```",
			want:  []Result{{Name: "A", Tags: "t", Description: "d"}},
		},
		{
			name:  "other list key",
			input: `{"items":[{"name":"B","tags":"t","description":"d"}]}`,
			want:  []Result{{Name: "B", Tags: "t", Description: "d"}},
		},
		{
			name:  "object without list",
			input: `{"status":"ok"}`,
			want:  nil,
		},
		{
			name:    "empty",
			input:   "  ",
			wantErr: true,
		},
		{
			name:    "invalid json",
			input:   `{"products": [`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResults(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt([]string{"더블엑스", "칼맥디"})

	assert.Contains(t, prompt, "- 더블엑스\n- 칼맥디")
	assert.Contains(t, prompt, `{"products":`)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{provider: "", want: "openai"},
		{provider: "OpenAI", want: "openai"},
		{provider: "google", want: "google"},
		{provider: "gemini", want: "google"},
		{provider: "anthropic", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := NewProvider(Config{Provider: tt.provider})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestMinInterval(t *testing.T) {
	assert.Equal(t, 5*time.Second, MinInterval("google"))
	assert.Equal(t, 5*time.Second, MinInterval("Gemini"))
	assert.Equal(t, time.Second, MinInterval("openai"))
	assert.Equal(t, time.Second, MinInterval(""))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"quota", fmt.Errorf("wrapped: %w", ErrQuotaExhausted), false},
		{"rate limited", &statusError{code: 429}, true},
		{"server error", &statusError{code: 503}, true},
		{"bad request", &statusError{code: 400}, false},
		{"unauthorized", &statusError{code: 401}, false},
		{"network", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}

func TestIsQuota(t *testing.T) {
	assert.True(t, isQuota(fmt.Errorf("x: %w", &statusError{code: 429})))
	assert.False(t, isQuota(&statusError{code: 500}))
	assert.False(t, isQuota(errors.New("plain")))
}
