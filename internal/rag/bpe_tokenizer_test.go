package rag

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBPETokenizer(t *testing.T) *BPETokenizer {
	t.Helper()
	tok, err := NewBPETokenizer("cl100k_base")
	require.NoError(t, err)
	return tok
}

func TestBPETokenizerSpansCoverText(t *testing.T) {
	tok := newTestBPETokenizer(t)
	tests := []struct {
		name string
		text string
	}{
		{name: "ascii", text: "The court, in 1987, affirmed the judgment."},
		{name: "surrounding whitespace", text: "  leading and trailing  \n"},
		{name: "accents", text: "Café résumé naïve"},
		{name: "cjk", text: "日本語の判決文"},
		{name: "emoji", text: "ok 👍🏽 done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := tok.Tokenize(tt.text)
			require.NotEmpty(t, tokens)
			var rebuilt strings.Builder
			prevEnd := 0
			for _, span := range tokens {
				assert.Equal(t, prevEnd, span.Start, "spans must be contiguous")
				assert.Greater(t, span.End, span.Start)
				piece := tt.text[span.Start:span.End]
				assert.True(t, utf8.ValidString(piece), "span %q splits a rune", piece)
				rebuilt.WriteString(piece)
				prevEnd = span.End
			}
			assert.Equal(t, tt.text, rebuilt.String())
			assert.LessOrEqual(t, len(tokens), tok.Count(tt.text))
		})
	}
}

func TestBPETokenizerWhitespaceOnly(t *testing.T) {
	tok := newTestBPETokenizer(t)
	for _, text := range []string{"", "   ", "\n\t\n"} {
		assert.Empty(t, tok.Tokenize(text), "%q", text)
	}
}

func TestNewBPETokenizerUnknownEncoding(t *testing.T) {
	_, err := NewBPETokenizer("no_such_encoding")
	assert.Error(t, err)
}

func TestChunkerBoundsModelTokens(t *testing.T) {
	tok := newTestBPETokenizer(t)
	text := strings.Repeat("The court held that the motion was denied and the case was sent back for a new trial. ", 30)

	tests := []struct {
		name          string
		maxTokens     int
		overlapTokens int
	}{
		{name: "no overlap", maxTokens: 16, overlapTokens: 0},
		{name: "small overlap", maxTokens: 32, overlapTokens: 4},
		{name: "large window", maxTokens: 128, overlapTokens: 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunker, err := NewChunker(tok, tt.maxTokens, tt.overlapTokens, "")
			require.NoError(t, err)
			chunks, err := chunker.Split("1", text)
			require.NoError(t, err)
			require.Greater(t, len(chunks), 1)

			var rebuilt strings.Builder
			for i, c := range chunks {
				assert.LessOrEqual(t, tok.Count(c.Text), tt.maxTokens, "chunk %d", i)
				spans := tok.Tokenize(c.Text)
				if i == 0 {
					rebuilt.WriteString(c.Text)
					continue
				}
				rebuilt.WriteString(c.Text[spans[tt.overlapTokens].Start:])
			}
			assert.Equal(t, text, rebuilt.String())
		})
	}
}
