package insights

import "strings"

// ParseResult is the outcome of extracting a JSON object from LLM output.
type ParseResult struct {
	// Parsed reports whether a candidate object was found.
	Parsed bool

	// Value is the candidate JSON object bytes, from the first '{' to the
	// last '}' inclusive. It is not validated; callers unmarshal it.
	Value []byte

	// Raw is the original input text.
	Raw string
}

// ParseObject extracts the outermost JSON object from LLM output. Models
// sometimes wrap JSON in prose or markdown fences; the text between the
// first '{' and the last '}' is taken as the candidate object.
func ParseObject(text string) ParseResult {
	result := ParseResult{Raw: text}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return result
	}

	result.Parsed = true
	result.Value = []byte(text[start : end+1])
	return result
}
