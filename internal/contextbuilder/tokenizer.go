package contextbuilder

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts and truncates text with a BPE encoding. Encodings are
// cached per model; unknown models fall back to cl100k_base.
type Tokenizer struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{encodings: map[string]*tiktoken.Tiktoken{}}
}

func (t *Tokenizer) encodingFor(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encodings[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	t.encodings[model] = enc
	return enc
}

// Count returns the token count of text under the model's encoding. When no
// encoding can be loaded it approximates at four characters per token.
func (t *Tokenizer) Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc := t.encodingFor(model)
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// Truncate cuts text from the end so it fits within budget tokens. A zero or
// negative budget yields "".
func (t *Tokenizer) Truncate(model, text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	enc := t.encodingFor(model)
	if enc == nil {
		max := budget * 4
		if len(text) <= max {
			return text
		}
		return text[:max]
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return enc.Decode(tokens[:budget])
}
