// Package mapper converts between internal document state and LSP wire
// shapes.
package mapper

import (
	"unicode/utf16"

	"github.com/sergi/go-diff/diffmatchpatch"
	"go.lsp.dev/protocol"
)

// Full wraps text as a single whole-document change event.
func Full(text string) []protocol.TextDocumentContentChangeEvent {
	return []protocol.TextDocumentContentChangeEvent{{Text: text}}
}

// Incremental diffs oldText against newText and returns range-scoped
// change events. Ranges are expressed against oldText and ordered so that
// applying the events sequentially yields newText: later edits come
// first, leaving earlier ranges untouched. Positions use UTF-16 code
// units per the protocol.
func Incremental(oldText, newText string) []protocol.TextDocumentContentChangeEvent {
	if oldText == newText {
		return nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupEfficiency(dmp.DiffMain(oldText, newText, false))

	var events []protocol.TextDocumentContentChangeEvent
	var pos docPosition
	for i := 0; i < len(diffs); i++ {
		d := diffs[i]
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos = pos.advance(d.Text)
		case diffmatchpatch.DiffDelete:
			end := pos.advance(d.Text)
			text := ""
			// A delete directly followed by an insert is a replacement.
			if i+1 < len(diffs) && diffs[i+1].Type == diffmatchpatch.DiffInsert {
				text = diffs[i+1].Text
				i++
			}
			events = append(events, protocol.TextDocumentContentChangeEvent{
				Range:       &protocol.Range{Start: pos.toProtocol(), End: end.toProtocol()},
				RangeLength: utf16Len(d.Text),
				Text:        text,
			})
			pos = end
		case diffmatchpatch.DiffInsert:
			p := pos.toProtocol()
			events = append(events, protocol.TextDocumentContentChangeEvent{
				Range: &protocol.Range{Start: p, End: p},
				Text:  d.Text,
			})
		}
	}

	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}

type docPosition struct {
	line uint32
	char uint32
}

func (p docPosition) advance(text string) docPosition {
	for _, r := range text {
		if r == '\n' {
			p.line++
			p.char = 0
			continue
		}
		p.char += uint32(utf16.RuneLen(r))
	}
	return p
}

func (p docPosition) toProtocol() protocol.Position {
	return protocol.Position{Line: p.line, Character: p.char}
}

func utf16Len(text string) uint32 {
	var n uint32
	for _, r := range text {
		n += uint32(utf16.RuneLen(r))
	}
	return n
}
