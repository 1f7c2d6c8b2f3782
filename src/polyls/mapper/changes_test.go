package mapper

import (
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

// applyChanges replays change events the way a server does: sequentially,
// each against the document produced by the previous one.
func applyChanges(t *testing.T, text string, events []protocol.TextDocumentContentChangeEvent) string {
	t.Helper()
	for _, ev := range events {
		if ev.Range == nil {
			text = ev.Text
			continue
		}
		start := byteOffset(t, text, ev.Range.Start)
		end := byteOffset(t, text, ev.Range.End)
		text = text[:start] + ev.Text + text[end:]
	}
	return text
}

func byteOffset(t *testing.T, text string, pos protocol.Position) int {
	t.Helper()
	offset := 0
	for line := uint32(0); line < pos.Line; line++ {
		idx := strings.IndexByte(text[offset:], '\n')
		require.GreaterOrEqual(t, idx, 0, "position line out of range")
		offset += idx + 1
	}
	var units uint32
	for i, r := range text[offset:] {
		if units >= pos.Character {
			return offset + i
		}
		units += uint32(utf16.RuneLen(r))
	}
	return len(text)
}

func TestFull(t *testing.T) {
	events := Full("hello")
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Range)
	assert.Equal(t, "hello", events[0].Text)
}

func TestIncrementalNoChange(t *testing.T) {
	assert.Empty(t, Incremental("same", "same"))
}

func TestIncrementalRoundTrips(t *testing.T) {
	tests := []struct {
		name    string
		oldText string
		newText string
	}{
		{"append", "\\section{Intro}\n", "\\section{Intro}\nSome prose.\n"},
		{"prepend", "body\n", "\\documentclass{article}\nbody\n"},
		{"delete line", "a\nb\nc\n", "a\nc\n"},
		{"replace word", "\\section{Draft}\n", "\\section{Final}\n"},
		{"multiple edits", "one\ntwo\nthree\nfour\n", "one\nTWO\nthree\nfive\n"},
		{"empty to text", "", "fresh content"},
		{"text to empty", "gone", ""},
		{"multibyte", "caf\u00e9 \U0001F600 end", "caf\u00e9 \U0001F600 END"},
		{"edit after multibyte", "\U0001F600\U0001F600 x", "\U0001F600\U0001F600 y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := Incremental(tt.oldText, tt.newText)
			got := applyChanges(t, tt.oldText, events)
			assert.Equal(t, tt.newText, got)
		})
	}
}

func TestIncrementalReplacementIsSingleEvent(t *testing.T) {
	events := Incremental("name: old\n", "name: new\n")
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Range)
	assert.NotEmpty(t, events[0].Text)
	assert.NotZero(t, events[0].RangeLength)
}

func TestIncrementalPositionsAreUTF16(t *testing.T) {
	// The astral-plane rune occupies two UTF-16 code units.
	events := Incremental("\U0001F600abc", "\U0001F600abX")
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Range)
	assert.Equal(t, uint32(4), events[0].Range.Start.Character)
}
