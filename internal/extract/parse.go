package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/civiclab/stance-cli/internal/model"
)

// candidate is the shape a structured response must decode into.
type candidate struct {
	Label      *string  `json:"label"`
	Confidence *float64 `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

// parseRecord recovers a schema-conforming record from raw model output
// using layered fallbacks, in order:
//
//  1. strict parse of the entire body
//  2. the first fenced code block, if the body uses ``` fences
//  3. balanced brace-delimited substrings found by scanning
//
// The first candidate that validates wins; later ones are ignored.
func parseRecord(raw string, schema model.Schema) (*candidate, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return nil, eris.New("extract: empty response")
	}

	if c, err := decodeCandidate(body, schema); err == nil {
		return c, nil
	}

	if block, ok := firstFencedBlock(body); ok {
		if c, err := decodeCandidate(block, schema); err == nil {
			return c, nil
		}
	}

	for _, obj := range scanBalancedObjects(body) {
		if c, err := decodeCandidate(obj, schema); err == nil {
			return c, nil
		}
	}

	return nil, eris.New("extract: no JSON object conforming to schema found")
}

// decodeCandidate strictly decodes s and validates it against the schema:
// all required keys present, label in the closed set or null, confidence
// numeric in [0,1] or null.
func decodeCandidate(s string, schema model.Schema) (*candidate, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &keys); err != nil {
		return nil, eris.Wrap(err, "extract: decode")
	}
	for _, k := range schema.RequiredKeys {
		if _, ok := keys[k]; !ok {
			return nil, eris.Errorf("extract: missing required key %q", k)
		}
	}

	var c candidate
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, eris.Wrap(err, "extract: decode typed")
	}

	if c.Label != nil && !schema.HasLabel(*c.Label) {
		// Models sometimes return the literal string "null".
		if strings.EqualFold(*c.Label, "null") {
			c.Label = nil
		} else {
			return nil, eris.Errorf("extract: label %q not in label set", *c.Label)
		}
	}
	if c.Confidence != nil && (*c.Confidence < 0 || *c.Confidence > 1) {
		return nil, eris.Errorf("extract: confidence %f out of [0,1]", *c.Confidence)
	}

	return &c, nil
}

// firstFencedBlock returns the contents of the first ``` fenced section,
// with any language tag on the opening line stripped.
func firstFencedBlock(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	block := rest[:end]
	// Drop the language tag ("json", "javascript", ...) if present.
	if nl := strings.Index(block, "\n"); nl >= 0 {
		first := strings.TrimSpace(block[:nl])
		if first != "" && !strings.ContainsAny(first, "{}") {
			block = block[nl+1:]
		}
	}
	return strings.TrimSpace(block), true
}

// scanBalancedObjects returns every balanced brace-delimited substring in
// scan order of the opening brace, outer objects before the nested ones
// they contain. Braces inside JSON strings are ignored.
func scanBalancedObjects(s string) []string {
	var objects []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if end, ok := matchBalanced(s, i); ok {
			objects = append(objects, s[i:end+1])
		}
	}
	return objects
}

// matchBalanced walks forward from the opening brace at start and returns
// the index of its matching closing brace.
func matchBalanced(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// truncateExcerpt shortens raw output for inclusion in error diagnostics.
func truncateExcerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
