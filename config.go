package secretary

import (
	"fmt"
	"strconv"

	"google.golang.org/genai"
)

// GenerateOption configures a GeminiProvider.
type GenerateOption func(*generateConfig)

type generateConfig struct {
	Parameters map[string]string // temperature, topK, topP, maxOutputTokens
	JSONMode   bool
}

// WithParameters sets sampling parameters by name.
func WithParameters(params map[string]string) GenerateOption {
	return func(cfg *generateConfig) {
		if cfg.Parameters == nil {
			cfg.Parameters = make(map[string]string, len(params))
		}
		for k, v := range params {
			cfg.Parameters[k] = v
		}
	}
}

// WithGeminiJSONMode toggles application/json responses for single-shot calls.
func WithGeminiJSONMode(enabled bool) GenerateOption {
	return func(cfg *generateConfig) { cfg.JSONMode = enabled }
}

// contentConfig validates the parameters and builds the genai request config.
func (cfg generateConfig) contentConfig(jsonResponse bool) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	if jsonResponse {
		config.ResponseMIMEType = "application/json"
	}

	if temp, ok := cfg.Parameters["temperature"]; ok {
		v, err := strconv.ParseFloat(temp, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature parameter '%s': %w", temp, err)
		}
		if v < 0 || v > 2 {
			return nil, fmt.Errorf("temperature parameter '%v' must be between 0.0 and 2.0", v)
		}
		f := float32(v)
		config.Temperature = &f
	}
	if topK, ok := cfg.Parameters["topK"]; ok {
		v, err := strconv.ParseFloat(topK, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid topK parameter '%s': %w", topK, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("topK parameter '%v' must be greater than 0", v)
		}
		f := float32(v)
		config.TopK = &f
	}
	if topP, ok := cfg.Parameters["topP"]; ok {
		v, err := strconv.ParseFloat(topP, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid topP parameter '%s': %w", topP, err)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("topP parameter '%v' must be between 0.0 and 1.0", v)
		}
		f := float32(v)
		config.TopP = &f
	}
	for _, key := range []string{"maxTokens", "maxOutputTokens"} {
		raw, ok := cfg.Parameters[key]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid %s parameter '%s': %w", key, raw, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("%s parameter '%d' must be greater than 0", key, n)
		}
		config.MaxOutputTokens = int32(n)
	}
	return config, nil
}
