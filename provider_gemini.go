package secretary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider sends prompts through the Google GenAI SDK.
type GeminiProvider struct {
	client *genai.Client
	model  string
	cfg    generateConfig
	log    *slog.Logger
}

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// NewGeminiProvider wraps an existing client. JSON responses are requested
// in single-shot mode unless disabled.
func NewGeminiProvider(client *genai.Client, model string, log *slog.Logger, opts ...GenerateOption) *GeminiProvider {
	if log == nil {
		log = slog.Default()
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	cfg := generateConfig{JSONMode: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GeminiProvider{client: client, model: model, cfg: cfg, log: log}
}

// Model is the model name used for every call.
func (g *GeminiProvider) Model() string { return g.model }

// Send implements Provider.
func (g *GeminiProvider) Send(ctx context.Context, systemPrompt, input string) (string, error) {
	return g.SendMessages(ctx, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: input},
	})
}

// SendMessages implements ChatProvider. System messages become the system
// instruction; assistant turns are sent with the model role.
func (g *GeminiProvider) SendMessages(ctx context.Context, messages []Message) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("client not initialized")
	}

	var (
		system   []string
		contents []*genai.Content
	)
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", fmt.Errorf("no valid content provided")
	}

	config, err := g.cfg.contentConfig(g.cfg.JSONMode && ModeFromContext(ctx) == ModeSingle)
	if err != nil {
		return "", err
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	g.log.Debug("Generating content", "model", g.model, "content_count", len(contents), "field", FieldFromContext(ctx))
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	g.log.Debug("Generated content successfully", "response_length", sb.Len())
	return sb.String(), nil
}
