package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/psmp-io/psmp/pkg/config"
	"github.com/psmp-io/psmp/pkg/models"
)

// httpProvider is the shared base for config-declared HTTP providers.
type httpProvider struct {
	name   string
	cfg    config.ProviderConfig
	client *http.Client
}

func (p *httpProvider) Name() string                    { return p.name }
func (p *httpProvider) Kind() config.ProviderKind       { return p.cfg.Kind }
func (p *httpProvider) Priority() int                   { return p.cfg.Priority }
func (p *httpProvider) Residency() models.DataResidency { return p.cfg.Residency }
func (p *httpProvider) Models() []string                { return p.cfg.Models }

func (p *httpProvider) apiKey() string {
	if p.cfg.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.cfg.APIKeyEnv)
}

// NewProvider builds a provider from its configuration.
func NewProvider(name string, cfg config.ProviderConfig) (Provider, error) {
	base := httpProvider{
		name:   name,
		cfg:    cfg,
		client: &http.Client{},
	}
	switch cfg.Kind {
	case config.ProviderKindLocalRuntime:
		return &localRuntimeProvider{httpProvider: base}, nil
	case config.ProviderKindCloudAggregator:
		return &cloudAggregatorProvider{httpProvider: base}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// localRuntimeProvider speaks the Ollama-style local inference API.
type localRuntimeProvider struct {
	httpProvider
}

func (p *localRuntimeProvider) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(p.cfg.BaseURL, "/")+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *localRuntimeProvider) Generate(ctx context.Context, genReq Request) (*Response, error) {
	payload := map[string]any{
		"model":  genReq.Model,
		"prompt": genReq.Prompt,
		"stream": false,
	}
	if genReq.SystemPrompt != "" {
		payload["system"] = genReq.SystemPrompt
	}
	options := map[string]any{}
	if genReq.Temperature > 0 {
		options["temperature"] = genReq.Temperature
	}
	if genReq.MaxTokens > 0 {
		options["num_predict"] = genReq.MaxTokens
	}
	if len(options) > 0 {
		payload["options"] = options
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(p.cfg.BaseURL, "/")+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("generate returned status %d: %s", resp.StatusCode, data)
	}

	var out struct {
		Response        string `json:"response"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	result := &Response{
		Provider: p.name,
		Model:    genReq.Model,
		Content:  out.Response,
	}
	if out.PromptEvalCount > 0 || out.EvalCount > 0 {
		result.Usage = &Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		}
	}
	return result, nil
}

// cloudAggregatorProvider speaks the OpenAI-compatible chat completions API.
type cloudAggregatorProvider struct {
	httpProvider
}

func (p *cloudAggregatorProvider) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(p.cfg.BaseURL, "/")+"/models", nil)
	if err != nil {
		return err
	}
	if key := p.apiKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *cloudAggregatorProvider) Generate(ctx context.Context, genReq Request) (*Response, error) {
	var messages []map[string]string
	if genReq.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": genReq.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": genReq.Prompt})

	payload := map[string]any{
		"model":    genReq.Model,
		"messages": messages,
	}
	if genReq.Temperature > 0 {
		payload["temperature"] = genReq.Temperature
	}
	if genReq.MaxTokens > 0 {
		payload["max_tokens"] = genReq.MaxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := p.apiKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("generate returned status %d: %s", resp.StatusCode, data)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in completion response")
	}
	result := &Response{
		Provider: p.name,
		Model:    genReq.Model,
		Content:  out.Choices[0].Message.Content,
	}
	if out.Usage.TotalTokens > 0 {
		result.Usage = &Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		}
	}
	return result, nil
}
