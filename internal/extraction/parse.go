package extraction

import (
	"encoding/json"
	"regexp"
	"strings"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// parseDocument parses an LLM response into a Document. It tolerates
// markdown code fences, surrounding prose, case-insensitive keys and
// trailing commas. Anything unparsable yields an empty document with
// zero lines rather than an error, since a best-effort partial result
// beats a hard failure on OCR noise.
func parseDocument(raw string) *Document {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	// Keep only the outermost JSON object
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return &Document{Lines: []Line{}}
	}
	text = text[start : end+1]

	doc, ok := unmarshalDocument(text)
	if !ok {
		// Second chance without trailing commas, which smaller vision
		// models emit constantly
		doc, ok = unmarshalDocument(trailingComma.ReplaceAllString(text, "$1"))
	}
	if !ok {
		return &Document{Lines: []Line{}}
	}

	if doc.Lines == nil {
		doc.Lines = []Line{}
	}
	for i := range doc.Lines {
		doc.Lines[i].Name = strings.TrimSpace(doc.Lines[i].Name)
		if doc.Lines[i].Quantity < 1 {
			doc.Lines[i].Quantity = 1
		}
	}
	return doc
}

func unmarshalDocument(text string) (*Document, bool) {
	var doc Document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, false
	}
	return &doc, true
}
