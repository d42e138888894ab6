// Package artifact finds survey templates in model output and versions them.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// SpanMode selects how the prose around an extracted document is cut.
type SpanMode int

const (
	// SpanLegacy cuts at the first '{' and the last '}' of the whole text.
	SpanLegacy SpanMode = iota
	// SpanMatched cuts at the bounds of the matched document.
	SpanMatched
)

func ParseSpanMode(s string) SpanMode {
	if strings.EqualFold(s, "matched") {
		return SpanMatched
	}
	return SpanLegacy
}

// Extraction is a document found in free text plus the prose around it.
type Extraction struct {
	Document Document
	// Start and End are byte offsets of the matched document in the text.
	Start, End int
	Before     string
	After      string
}

// Extract returns the first balanced top-level {...} region that decodes to
// a JSON object carrying a group_id key. Malformed regions are skipped.
// Regions are found with a string-aware scan first and, when that yields no
// document, by plain brace counting, so an unbalanced quote in prose cannot
// hide a later document.
func Extract(text string, mode SpanMode) (*Extraction, bool) {
	if ex, ok := extract(text, mode, true); ok {
		return ex, true
	}
	return extract(text, mode, false)
}

func extract(text string, mode SpanMode, quoted bool) (*Extraction, bool) {
	for _, c := range candidates(text, quoted) {
		var doc Document
		if err := decodeObject([]byte(text[c.start:c.end]), &doc); err != nil {
			continue
		}
		if _, ok := doc["group_id"]; !ok {
			continue
		}

		ex := &Extraction{Document: doc, Start: c.start, End: c.end}
		switch mode {
		case SpanMatched:
			ex.Before = text[:c.start]
			ex.After = text[c.end:]
		default:
			ex.Before = text[:strings.IndexByte(text, '{')]
			ex.After = text[strings.LastIndexByte(text, '}')+1:]
		}
		return ex, true
	}
	return nil, false
}

type span struct{ start, end int }

// candidates lists every region where the brace depth rises from zero and
// returns to it. With quoted set, strings inside a region are skipped so that
// braces in string values do not end it. A '}' at depth zero is ignored.
func candidates(text string, quoted bool) []span {
	var (
		out      []span
		depth    int
		start    int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if quoted && depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, span{start, i + 1})
			}
		}
	}
	return out
}

func decodeObject(raw []byte, v *Document) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if *v == nil {
		return errors.New("not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing data after JSON object")
	}
	return nil
}
