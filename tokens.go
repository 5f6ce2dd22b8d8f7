package secretary

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates how many tokens a text costs.
type TokenCounter interface {
	CountTokens(text string) int
}

// HeuristicCounter counts roughly four characters per token.
type HeuristicCounter struct{}

func (HeuristicCounter) CountTokens(text string) int { return EstimateTokensFromText(text) }

// TiktokenCounter counts with the BPE encoding of OpenAI models. The encoding
// is loaded on first use; if that fails the heuristic is used instead.
type TiktokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4.1":       "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"o4":            "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// NewTiktokenCounter picks the encoding for model by prefix, defaulting to
// cl100k_base. Non-OpenAI models get the default, which is close enough for
// plan estimates.
func NewTiktokenCounter(model string) *TiktokenCounter {
	enc := "cl100k_base"
	best := 0
	for prefix, e := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			enc, best = e, len(prefix)
		}
	}
	return &TiktokenCounter{encoding: enc}
}

// Encoding is the name of the BPE encoding in use.
func (c *TiktokenCounter) Encoding() string { return c.encoding }

func (c *TiktokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init tiktoken encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.initErr
}

func (c *TiktokenCounter) CountTokens(text string) int {
	if err := c.init(); err != nil {
		return EstimateTokensFromText(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokensFromText provides a rough token estimate from text length.
func EstimateTokensFromText(text string) int {
	// ~4 characters per token for English text
	return (len(text) + 3) / 4
}

// EstimateTokensFromWords provides a rough token estimate from word count.
func EstimateTokensFromWords(wordCount int) int {
	// ~1.3 tokens per word
	return (wordCount*13 + 9) / 10
}
