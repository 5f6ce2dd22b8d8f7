package secretary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentConfig_Parameters(t *testing.T) {
	cfg := generateConfig{}
	WithParameters(map[string]string{
		"temperature":     "0.2",
		"topK":            "40",
		"topP":            "0.9",
		"maxOutputTokens": "512",
	})(&cfg)

	got, err := cfg.contentConfig(false)
	require.NoError(t, err)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-6)
	require.NotNil(t, got.TopK)
	assert.Equal(t, float32(40), *got.TopK)
	require.NotNil(t, got.TopP)
	assert.InDelta(t, 0.9, *got.TopP, 1e-6)
	assert.Equal(t, int32(512), got.MaxOutputTokens)
	assert.Empty(t, got.ResponseMIMEType)
}

func TestContentConfig_JSONResponse(t *testing.T) {
	got, err := generateConfig{}.contentConfig(true)
	require.NoError(t, err)
	assert.Equal(t, "application/json", got.ResponseMIMEType)
	assert.Nil(t, got.Temperature)
}

func TestContentConfig_InvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
		errMsg string
	}{
		{"temperature not a number", map[string]string{"temperature": "hot"}, "invalid temperature parameter"},
		{"temperature too high", map[string]string{"temperature": "2.5"}, "must be between 0.0 and 2.0"},
		{"negative topK", map[string]string{"topK": "-1"}, "must be greater than 0"},
		{"topP above one", map[string]string{"topP": "1.5"}, "must be between 0.0 and 1.0"},
		{"maxTokens not an int", map[string]string{"maxTokens": "many"}, "invalid maxTokens parameter"},
		{"zero maxOutputTokens", map[string]string{"maxOutputTokens": "0"}, "must be greater than 0"},
		{"maxOutputTokens overflows int32", map[string]string{"maxOutputTokens": "4294967297"}, "invalid maxOutputTokens parameter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := generateConfig{}
			WithParameters(tt.params)(&cfg)
			_, err := cfg.contentConfig(false)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestWithParameters_Merges(t *testing.T) {
	cfg := generateConfig{}
	WithParameters(map[string]string{"temperature": "0.1"})(&cfg)
	WithParameters(map[string]string{"topK": "5"})(&cfg)
	assert.Equal(t, map[string]string{"temperature": "0.1", "topK": "5"}, cfg.Parameters)
}

func TestGeminiProvider_Defaults(t *testing.T) {
	p := NewGeminiProvider(nil, "", quietLogger())
	assert.Equal(t, "gemini-2.5-flash", p.Model())
	assert.True(t, p.cfg.JSONMode)

	p = NewGeminiProvider(nil, "gemini-2.5-pro", nil, WithGeminiJSONMode(false))
	assert.Equal(t, "gemini-2.5-pro", p.Model())
	assert.False(t, p.cfg.JSONMode)

	_, err := p.Send(context.Background(), "system", "input")
	assert.ErrorContains(t, err, "client not initialized")
}
