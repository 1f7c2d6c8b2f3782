package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

func TestNormalizeSymbolsEmpty(t *testing.T) {
	result, err := normalizeSymbols(json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Empty(t, result.All)
	assert.Empty(t, result.Roots)

	result, err = normalizeSymbols(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Empty(t, result.All)
}

func TestNormalizeSymbolsHierarchical(t *testing.T) {
	raw := json.RawMessage(`[
		{
			"name": "Introduction", "kind": 15, "detail": "section",
			"range": {"start": {"line": 0, "character": 0}, "end": {"line": 10, "character": 0}},
			"selectionRange": {"start": {"line": 0, "character": 0}, "end": {"line": 0, "character": 22}},
			"children": [
				{
					"name": "Background", "kind": 15,
					"range": {"start": {"line": 2, "character": 0}, "end": {"line": 5, "character": 0}},
					"selectionRange": {"start": {"line": 2, "character": 0}, "end": {"line": 2, "character": 10}},
					"children": [
						{
							"name": "History", "kind": 15,
							"range": {"start": {"line": 3, "character": 0}, "end": {"line": 4, "character": 0}},
							"selectionRange": {"start": {"line": 3, "character": 0}, "end": {"line": 3, "character": 7}}
						}
					]
				}
			]
		},
		{
			"name": "Methods", "kind": 15,
			"range": {"start": {"line": 11, "character": 0}, "end": {"line": 20, "character": 0}},
			"selectionRange": {"start": {"line": 11, "character": 0}, "end": {"line": 11, "character": 16}}
		}
	]`)

	result, err := normalizeSymbols(raw)
	require.NoError(t, err)

	names := make([]string, 0, len(result.All))
	for _, s := range result.All {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Introduction", "Background", "History", "Methods"}, names,
		"depth-first order with parents before children")

	require.Len(t, result.Roots, 2)
	assert.Equal(t, "Introduction", result.Roots[0].Name)
	assert.Equal(t, "Methods", result.Roots[1].Name)

	assert.Equal(t, 0, result.All[0].Depth)
	assert.Equal(t, 1, result.All[1].Depth)
	assert.Equal(t, 2, result.All[2].Depth)
	assert.Equal(t, "section", result.All[0].Detail)
	assert.Equal(t, protocol.SymbolKindString, result.All[0].Kind)
}

func TestNormalizeSymbolsFlat(t *testing.T) {
	raw := json.RawMessage(`[
		{
			"name": "knuth1984", "kind": 5,
			"location": {"uri": "file:///ws/refs.bib", "range": {"start": {"line": 0, "character": 0}, "end": {"line": 2, "character": 1}}}
		},
		{
			"name": "title", "kind": 7, "containerName": "knuth1984",
			"location": {"uri": "file:///ws/refs.bib", "range": {"start": {"line": 1, "character": 2}, "end": {"line": 1, "character": 30}}}
		},
		{
			"name": "lamport1994", "kind": 5,
			"location": {"uri": "file:///ws/refs.bib", "range": {"start": {"line": 3, "character": 0}, "end": {"line": 5, "character": 1}}}
		}
	]`)

	result, err := normalizeSymbols(raw)
	require.NoError(t, err)

	require.Len(t, result.All, 3)
	assert.Equal(t, "knuth1984", result.All[0].Name)
	assert.Equal(t, "title", result.All[1].Name)

	require.Len(t, result.Roots, 2)
	assert.Equal(t, "knuth1984", result.Roots[0].Name)
	assert.Equal(t, "lamport1994", result.Roots[1].Name)

	assert.Equal(t, uint32(1), result.All[1].Range.Start.Line)
}

func TestNormalizeSymbolsMalformed(t *testing.T) {
	_, err := normalizeSymbols(json.RawMessage(`{"not": "an array"}`))
	assert.Error(t, err)
}
