package unifiedllm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter returns the number of tokens text occupies for a model.
type TokenCounter interface {
	CountTokens(model, text string) (int, error)
}

// DefaultEncoding is used for models that are neither in the catalog nor
// known to tiktoken.
const DefaultEncoding = "cl100k_base"

// TiktokenCounter counts tokens with a tiktoken BPE encoding chosen per
// model. Encodings are loaded lazily and cached.
type TiktokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTiktokenCounter creates an empty counter.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// CountTokens implements TokenCounter.
func (c *TiktokenCounter) CountTokens(model, text string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (c *TiktokenCounter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	// Gateway ids look like "provider/model".
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[model]; ok {
		return enc, nil
	}

	var (
		enc *tiktoken.Tiktoken
		err error
	)
	if info := GetModelInfo(model); info != nil && info.Encoding != "" {
		enc, err = tiktoken.GetEncoding(info.Encoding)
	} else if enc, err = tiktoken.EncodingForModel(model); err != nil {
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
	}
	if err != nil {
		return nil, fmt.Errorf("load tokenizer for model %q: %w", model, err)
	}

	c.encodings[model] = enc
	return enc, nil
}
