package secretary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	OpenAIBaseURL        = "https://api.openai.com/v1"
	chatCompletionsRoute = "/chat/completions"
	azureCompletionRoute = "%s/openai/deployments/%s/chat/completions?api-version=%s"
	DefaultAzureVersion  = "2024-10-21"
)

// OpenAIProvider talks to the OpenAI chat completions API or any compatible
// endpoint, Azure OpenAI included.
type OpenAIProvider struct {
	apiKey      string
	model       string
	url         string
	azure       bool
	jsonMode    bool
	temperature *float64
	client      *http.Client
	log         *slog.Logger
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithBaseURL points the provider at a compatible server.
func WithBaseURL(baseURL string) OpenAIOption {
	return func(p *OpenAIProvider) {
		p.url = strings.TrimRight(baseURL, "/") + chatCompletionsRoute
	}
}

func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = c }
}

func WithTemperature(t float64) OpenAIOption {
	return func(p *OpenAIProvider) { p.temperature = &t }
}

// WithJSONMode toggles response_format json_object for single-shot calls.
// Reasoning models that reject it should be used with ForceGenerate or have
// it disabled.
func WithJSONMode(enabled bool) OpenAIOption {
	return func(p *OpenAIProvider) { p.jsonMode = enabled }
}

func WithProviderLogger(log *slog.Logger) OpenAIOption {
	return func(p *OpenAIProvider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewOpenAIProvider creates a provider for model using apiKey.
func NewOpenAIProvider(apiKey, model string, opts ...OpenAIOption) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:   apiKey,
		model:    model,
		url:      OpenAIBaseURL + chatCompletionsRoute,
		jsonMode: true,
		client:   http.DefaultClient,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewAzureProvider targets an Azure OpenAI deployment.
func NewAzureProvider(endpoint, apiKey, deployment, apiVersion string, opts ...OpenAIOption) *OpenAIProvider {
	if apiVersion == "" {
		apiVersion = DefaultAzureVersion
	}
	p := NewOpenAIProvider(apiKey, deployment, opts...)
	p.azure = true
	p.url = fmt.Sprintf(azureCompletionRoute, strings.TrimRight(endpoint, "/"), deployment, apiVersion)
	return p
}

// Model is the model or deployment name.
func (p *OpenAIProvider) Model() string { return p.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model,omitempty"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// APIError is a non-2xx answer from the completions endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat completions: status %d: %s", e.StatusCode, e.Message)
}

// Send implements Provider.
func (p *OpenAIProvider) Send(ctx context.Context, systemPrompt, input string) (string, error) {
	return p.SendMessages(ctx, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: input},
	})
}

// SendMessages implements ChatProvider.
func (p *OpenAIProvider) SendMessages(ctx context.Context, messages []Message) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("API key is not set")
	}
	req := chatRequest{Temperature: p.temperature}
	if !p.azure {
		req.Model = p.model
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role.String(), Content: m.Content})
	}
	if p.jsonMode && ModeFromContext(ctx) == ModeSingle {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("error marshaling body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.azure {
		httpReq.Header.Set("api-key", p.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	p.log.Debug("Sending chat completion", "model", p.model, "messages", len(messages), "json_mode", req.ResponseFormat != nil, "field", FieldFromContext(ctx))
	res, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}
	var out chatResponse
	decodeErr := json.Unmarshal(payload, &out)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(payload))
		if decodeErr == nil && out.Error != nil {
			msg = out.Error.Message
		}
		return "", &APIError{StatusCode: res.StatusCode, Message: preview(msg, 300)}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("error decoding response: %w", decodeErr)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	p.log.Debug("Chat completion received", "finish_reason", out.Choices[0].FinishReason, "length", len(out.Choices[0].Message.Content))
	return out.Choices[0].Message.Content, nil
}
