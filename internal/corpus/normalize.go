package corpus

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/liliang-cn/solace/internal/domain"
)

// Normalize turns a raw record into the indexed text and its residual
// metadata. ok is false when the record carries no usable text or the
// cleaned text is shorter than minLen characters.
func Normalize(c domain.Corpus, split string, rec Record, minLen int) (text string, metadata map[string]any, ok bool) {
	used := c.UsedColumns()

	var raw string
	if c.TextColumn != "" {
		s, isString := rec[c.TextColumn].(string)
		if !isString {
			return "", nil, false
		}
		raw = s
	} else {
		parts := make([]string, 0, len(c.TextColumns))
		for _, col := range c.TextColumns {
			v, present := rec[col]
			if !present || isEmpty(v) {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s: %s", col, scalarString(v)))
		}
		raw = strings.Join(parts, "\n")
	}

	text = strings.Join(strings.Fields(raw), " ")
	if text == "" || utf8.RuneCountInString(text) < minLen {
		return "", nil, false
	}

	metadata = make(map[string]any, len(rec)+2)
	for k, v := range rec {
		if slices.Contains(used, k) {
			continue
		}
		metadata[k] = metadataValue(v)
	}
	metadata[domain.MetadataKeySource] = c.Name
	metadata[domain.MetadataKeySplit] = split

	return text, metadata, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func scalarString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}

// metadataValue keeps JSON scalars and flattens anything else to a string
func metadataValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, int, int64, json.Number:
		return v
	}
	return scalarString(v)
}
