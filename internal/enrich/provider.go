package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrQuotaExhausted means the provider refuses further requests until its
// quota resets. A pass that hits it stops without failing.
var ErrQuotaExhausted = errors.New("enrichment provider quota exhausted")

// Result is the generated text for one product.
type Result struct {
	Name        string `json:"name"`
	Tags        string `json:"tags"`
	Description string `json:"description"`
}

// Provider generates tags and descriptions for a batch of product names.
type Provider interface {
	Name() string
	Generate(ctx context.Context, names []string) ([]Result, error)
}

type Config struct {
	Provider   string
	APIKey     string
	APIURL     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAIProvider(cfg), nil
	case "google", "gemini":
		return NewGeminiProvider(cfg), nil
	}
	return nil, fmt.Errorf("unknown enrichment provider %q", cfg.Provider)
}

// MinInterval is the minimum spacing between requests for a provider.
func MinInterval(provider string) time.Duration {
	switch strings.ToLower(provider) {
	case "google", "gemini":
		return 5 * time.Second
	}
	return time.Second
}

// statusError is a non-2xx provider response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s: %s", e.code, http.StatusText(e.code), e.body)
}

func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrQuotaExhausted) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

func isQuota(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusTooManyRequests
}

const promptTemplate = `대상 제품:
%s

[작성 규칙: tags (분류/성분)]
1. 제품군만 적지 말고 핵심 성분과 구성 요소를 상세히 포함하세요.
2. 예시: '더블엑스' → 비타민 A, B, C, D, E, K, 엽산, 비오틴 및 20가지 식물 농축물 성분 포함.
3. 예시: '화장품' → 살리실산(BHA), 히알루론산, 세라마이드 등 핵심 유효 성분 명시.
4. 해시태그(#)는 사용하지 말고 쉼표로 구분된 성분 나열 형식을 사용하세요.

[작성 규칙: description (설명)]
1. 두 개의 단락으로 작성하고 단락 사이에 빈 줄을 넣으세요.
   - 첫 번째 단락: 제품에 대한 간결한 소개 (2~3줄).
   - 두 번째 단락: 성분이 작용하는 과학적 원리와 연구 근거 요약.
2. 확정적인 말투 대신 신중하고 객관적인 문체를 사용하세요.
   - 예: "~에 도움을 줄 수 있는 것으로 알려져 있다", "~연구 결과가 있다"

[출력 형식]
다음 JSON 형식으로만 출력하세요:
{"products": [{"name": "제품명", "tags": "성분1, 성분2 및 성분3 포함", "description": "첫 번째 단락\n\n두 번째 단락"}]}`

func buildPrompt(names []string) string {
	lines := make([]string, len(names))
	for i, n := range names {
		lines[i] = "- " + n
	}
	return fmt.Sprintf(promptTemplate, strings.Join(lines, "\n"))
}

// parseResults accepts a bare JSON array, an object with a "products"
// array, or an object whose first array value holds the results. Markdown
// code fences around the JSON are ignored.
func parseResults(text string) ([]Result, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty response")
	}

	if strings.HasPrefix(text, "[") {
		var results []Result
		if err := json.Unmarshal([]byte(text), &results); err != nil {
			return nil, fmt.Errorf("failed to decode results: %w", err)
		}
		return results, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}

	if raw, ok := obj["products"]; ok {
		var results []Result
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, fmt.Errorf("failed to decode products: %w", err)
		}
		return results, nil
	}

	for _, raw := range obj {
		var results []Result
		if err := json.Unmarshal(raw, &results); err == nil {
			return results, nil
		}
	}
	return nil, nil
}
