package rag

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

var ErrInvalidChunkSize = errors.New("invalid chunk size")

// Token is a byte span [Start, End) of the tokenized text.
type Token struct {
	Start int
	End   int
}

type Tokenizer interface {
	Tokenize(text string) []Token
}

// WordTokenizer emits one token per word (a letter/digit run) or punctuation
// rune. Each token owns the whitespace before it and the last token owns any
// trailing whitespace, so the spans cover the text with no gaps.
type WordTokenizer struct{}

func (WordTokenizer) Tokenize(text string) []Token {
	var tokens []Token
	start, pos := 0, 0
	for pos < len(text) {
		r, size := utf8.DecodeRuneInString(text[pos:])
		if unicode.IsSpace(r) {
			pos += size
			continue
		}
		if isWordRune(r) {
			for pos < len(text) {
				r, size = utf8.DecodeRuneInString(text[pos:])
				if !isWordRune(r) {
					break
				}
				pos += size
			}
		} else {
			pos += size
		}
		tokens = append(tokens, Token{Start: start, End: pos})
		start = pos
	}
	if len(tokens) > 0 {
		tokens[len(tokens)-1].End = len(text)
	}
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// Chunk is one token window of an opinion's text.
type Chunk struct {
	OpinionID string
	Index     int
	Text      string
	Prefix    string
}

// Embeddable is the string handed to the embedding model.
func (c Chunk) Embeddable() string {
	return c.Prefix + c.Text
}

// Chunker splits text into windows of at most MaxTokens tokens, consecutive
// windows sharing OverlapTokens tokens.
type Chunker struct {
	tokenizer     Tokenizer
	maxTokens     int
	overlapTokens int
	prefix        string
}

func NewChunker(tokenizer Tokenizer, maxTokens, overlapTokens int, prefix string) (*Chunker, error) {
	if err := validateChunkSize(maxTokens, overlapTokens); err != nil {
		return nil, err
	}
	if tokenizer == nil {
		tokenizer = WordTokenizer{}
	}
	return &Chunker{
		tokenizer:     tokenizer,
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
		prefix:        prefix,
	}, nil
}

func validateChunkSize(maxTokens, overlapTokens int) error {
	if maxTokens <= 0 || overlapTokens < 0 || overlapTokens >= maxTokens {
		return fmt.Errorf("%w: max tokens %d, overlap %d", ErrInvalidChunkSize, maxTokens, overlapTokens)
	}
	return nil
}

// Split returns the ordered chunks of text. Whitespace-only text has no chunks.
func (c *Chunker) Split(opinionID, text string) ([]Chunk, error) {
	if err := validateChunkSize(c.maxTokens, c.overlapTokens); err != nil {
		return nil, err
	}
	tokens := c.tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		return nil, nil
	}

	stride := c.maxTokens - c.overlapTokens
	var chunks []Chunk
	for start := 0; ; start += stride {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, Chunk{
			OpinionID: opinionID,
			Index:     len(chunks),
			Text:      text[tokens[start].Start:tokens[end-1].End],
			Prefix:    c.prefix,
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}
