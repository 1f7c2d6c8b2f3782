package session

import (
	"encoding/json"
	"fmt"

	"go.lsp.dev/protocol"
)

// Symbol is the session's uniform view of one document symbol, independent
// of whether the server answered with the flat or hierarchical shape.
type Symbol struct {
	Name   string
	Detail string
	Kind   protocol.SymbolKind
	Range  protocol.Range
	// Depth is 0 for root symbols; children are one deeper than their parent.
	Depth int
}

// SymbolQueryResult carries all symbols of a document in server-reported
// order plus the subset without a parent.
type SymbolQueryResult struct {
	All   []Symbol
	Roots []Symbol
}

// normalizeSymbols flattens either documentSymbol result shape into one
// ordered list. Hierarchical trees are walked depth-first so a parent
// always precedes its children; flat lists keep wire order, with symbols
// lacking a container treated as roots.
func normalizeSymbols(raw json.RawMessage) (SymbolQueryResult, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return SymbolQueryResult{}, fmt.Errorf("decoding documentSymbol result: %w", err)
	}
	if len(elements) == 0 {
		return SymbolQueryResult{}, nil
	}

	if isHierarchical(elements[0]) {
		var tree []protocol.DocumentSymbol
		if err := json.Unmarshal(raw, &tree); err != nil {
			return SymbolQueryResult{}, fmt.Errorf("decoding hierarchical symbols: %w", err)
		}
		return flattenTree(tree), nil
	}

	var flat []protocol.SymbolInformation
	if err := json.Unmarshal(raw, &flat); err != nil {
		return SymbolQueryResult{}, fmt.Errorf("decoding flat symbols: %w", err)
	}
	return fromFlat(flat), nil
}

// isHierarchical sniffs the result shape: only SymbolInformation carries a
// location field, only DocumentSymbol carries a selectionRange.
func isHierarchical(element json.RawMessage) bool {
	var probe struct {
		Location       *json.RawMessage `json:"location"`
		SelectionRange *json.RawMessage `json:"selectionRange"`
	}
	if err := json.Unmarshal(element, &probe); err != nil {
		return false
	}
	return probe.Location == nil && probe.SelectionRange != nil
}

func flattenTree(tree []protocol.DocumentSymbol) SymbolQueryResult {
	var result SymbolQueryResult
	var walk func(nodes []protocol.DocumentSymbol, depth int)
	walk = func(nodes []protocol.DocumentSymbol, depth int) {
		for _, node := range nodes {
			sym := Symbol{
				Name:   node.Name,
				Detail: node.Detail,
				Kind:   node.Kind,
				Range:  node.Range,
				Depth:  depth,
			}
			result.All = append(result.All, sym)
			if depth == 0 {
				result.Roots = append(result.Roots, sym)
			}
			walk(node.Children, depth+1)
		}
	}
	walk(tree, 0)
	return result
}

func fromFlat(flat []protocol.SymbolInformation) SymbolQueryResult {
	var result SymbolQueryResult
	for _, info := range flat {
		sym := Symbol{
			Name:  info.Name,
			Kind:  info.Kind,
			Range: info.Location.Range,
		}
		if info.ContainerName != "" {
			sym.Depth = 1
		}
		result.All = append(result.All, sym)
		if sym.Depth == 0 {
			result.Roots = append(result.Roots, sym)
		}
	}
	return result
}
