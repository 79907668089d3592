package mutation

import (
	"encoding/json"
	"strings"
)

// ParseOperations extracts operations from collaborator output: a single
// operation object or an array of them, optionally wrapped in markdown
// code fences or surrounded by prose. Line and block comments outside
// strings are ignored.
func ParseOperations(raw string) ([]Operation, error) {
	var firstErr error
	sources := append(fencedBlocks(raw), stripFences(raw))
	for _, src := range sources {
		for rest := src; ; {
			start, body := nextJSONValue(rest)
			if body == "" {
				break
			}
			ops, err := decodeOperations(stripComments(body))
			if err == nil {
				return ops, nil
			}
			if firstErr == nil {
				firstErr = err
			}
			rest = rest[start+len(body):]
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, opErrorf(CodeInvalidOutput, "no JSON object or array found")
}

func decodeOperations(body string) ([]Operation, error) {
	if strings.HasPrefix(body, "[") {
		var ops []Operation
		if err := json.Unmarshal([]byte(body), &ops); err != nil {
			return nil, opErrorf(CodeInvalidOutput, "decoding operations: %v", err)
		}
		if len(ops) == 0 {
			return nil, opErrorf(CodeInvalidOutput, "operation array is empty")
		}
		return ops, nil
	}
	var op Operation
	if err := json.Unmarshal([]byte(body), &op); err != nil {
		return nil, opErrorf(CodeInvalidOutput, "decoding operation: %v", err)
	}
	return []Operation{op}, nil
}

// fencedBlocks returns the contents of each markdown code fence in s, in
// order. An unterminated fence runs to the end of s.
func fencedBlocks(s string) []string {
	var blocks []string
	var cur []string
	inFence := false
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inFence {
				blocks = append(blocks, strings.Join(cur, "\n"))
				cur = nil
			}
			inFence = !inFence
			continue
		}
		if inFence {
			cur = append(cur, line)
		}
	}
	if inFence && len(cur) > 0 {
		blocks = append(blocks, strings.Join(cur, "\n"))
	}
	return blocks
}

// stripFences drops markdown fence lines, keeping what they enclose.
func stripFences(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// jsonScanner tracks whether a byte offset lies inside a JSON string.
type jsonScanner struct {
	inString bool
	escaped  bool
}

// step consumes c and reports whether it is structural, i.e. outside any
// string literal and not a quote.
func (sc *jsonScanner) step(c byte) bool {
	switch {
	case sc.escaped:
		sc.escaped = false
		return false
	case sc.inString && c == '\\':
		sc.escaped = true
		return false
	case c == '"':
		sc.inString = !sc.inString
		return false
	}
	return !sc.inString
}

// nextJSONValue returns the offset and text of the first balanced object
// or array in s. body is "" when no opening bracket is ever closed.
func nextJSONValue(s string) (start int, body string) {
	start = strings.IndexAny(s, "{[")
	if start < 0 {
		return 0, ""
	}
	var sc jsonScanner
	depth := 0
	for i := start; i < len(s); i++ {
		if !sc.step(s[i]) {
			continue
		}
		switch s[i] {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return start, s[start : i+1]
			}
		}
	}
	return 0, ""
}

func stripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var sc jsonScanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) && c == '/' && i+1 < len(s) {
			switch s[i+1] {
			case '/':
				for i+1 < len(s) && s[i+1] != '\n' {
					i++
				}
				continue
			case '*':
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return b.String()
				}
				i += end + 3
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
