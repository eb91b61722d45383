package rag

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

var setOfflineLoader sync.Once

// BPETokenizer splits text into the byte-pair tokens of a tiktoken encoding,
// so chunk sizes are bounded in model tokens. Vocabularies are loaded from
// the embedded offline loader and never fetched over the network.
type BPETokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	setOfflineLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load bpe encoding %s failed: %w", encoding, err)
	}
	return &BPETokenizer{enc: enc}, nil
}

// Count returns the number of BPE tokens in text.
func (b *BPETokenizer) Count(text string) int {
	return len(b.enc.Encode(text, nil, nil))
}

// Tokenize returns one span per BPE token. A token that ends inside a
// multi-byte rune is merged with the tokens after it up to the next rune
// boundary, so every span slices to valid UTF-8. The spans cover the text
// with no gaps. Whitespace-only text has no tokens.
func (b *BPETokenizer) Tokenize(text string) []Token {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	ids := b.enc.Encode(text, nil, nil)
	tokens := make([]Token, 0, len(ids))
	start, pos := 0, 0
	for _, id := range ids {
		pos += len(b.enc.Decode([]int{id}))
		if pos > len(text) {
			pos = len(text)
		}
		if pos < len(text) && !utf8.RuneStart(text[pos]) {
			continue
		}
		if pos > start {
			tokens = append(tokens, Token{Start: start, End: pos})
			start = pos
		}
	}
	if start < len(text) {
		if len(tokens) == 0 {
			tokens = append(tokens, Token{Start: start, End: len(text)})
		} else {
			tokens[len(tokens)-1].End = len(text)
		}
	}
	return tokens
}
