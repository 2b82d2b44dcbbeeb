package devicepref

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Encode ids as a bracketed list of double-quoted strings, e.g. ["a", "b"].
// Quotes and backslashes inside ids are escaped. ids must be valid UTF-8,
// invalid bytes are written as U+FFFD.
func EncodeList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = quote(id)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func quote(id string) string {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	// Strings always encode.
	_ = encoder.Encode(id)
	return strings.TrimSuffix(buf.String(), "\n")
}

// Decode a list written by EncodeList. An empty string is an empty list.
func DecodeList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("malformed preference list %q: %w", s, err)
	}
	return ids, nil
}
