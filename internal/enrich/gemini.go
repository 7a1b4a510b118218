package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

var defaultGeminiModels = []string{"gemini-2.5-flash", "gemini-2.0-flash"}

// GeminiProvider calls the Google generative language REST API. Models
// are tried in order; a quota error stops immediately.
type GeminiProvider struct {
	client *http.Client
	apiKey string
	apiURL string
	models []string
	retry  retrypolicy.RetryPolicy[any]
}

func NewGeminiProvider(cfg Config) *GeminiProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	models := defaultGeminiModels
	if cfg.Model != "" {
		models = strings.Split(cfg.Model, ",")
		for i := range models {
			models[i] = strings.TrimSpace(models[i])
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &GeminiProvider{
		client: &http.Client{Timeout: timeout},
		apiKey: cfg.APIKey,
		apiURL: apiURL,
		models: models,
		retry:  newRetryPolicy(cfg),
	}
}

func (p *GeminiProvider) Name() string { return "google" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *GeminiProvider) Generate(ctx context.Context, names []string) ([]Result, error) {
	if len(names) == 0 {
		return nil, nil
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: buildPrompt(names)}}}},
	}
	reqBody.GenerationConfig.ResponseMimeType = "application/json"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	var lastErr error
	for _, model := range p.models {
		var text string
		err := failsafe.With[any](p.retry).WithContext(ctx).Run(func() error {
			var err error
			text, err = p.generate(ctx, model, payload)
			return err
		})
		if err == nil {
			results, err := parseResults(text)
			if err != nil {
				return nil, fmt.Errorf("gemini %s: %w", model, err)
			}
			return results, nil
		}
		if errors.Is(err, ErrQuotaExhausted) {
			return nil, fmt.Errorf("gemini %s: %w", model, err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastErr = fmt.Errorf("gemini %s: %w", model, err)
	}
	return nil, lastErr
}

func (p *GeminiProvider) generate(ctx context.Context, model string, payload []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.apiURL, url.PathEscape(model), url.QueryEscape(p.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: %s", ErrQuotaExhausted, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var decoded geminiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("response has no candidates")
	}
	return decoded.Candidates[0].Content.Parts[0].Text, nil
}
