package rules

import (
	"fmt"
	"strings"
)

// renderTemplate replaces every "{{field}}" occurrence with the stringified
// value of row[field], substituting the empty string for a null or absent
// field.
func renderTemplate(tmpl string, row map[string]any) string {
	var b strings.Builder
	for {
		start := strings.Index(tmpl, "{{")
		if start < 0 {
			b.WriteString(tmpl)
			break
		}
		end := strings.Index(tmpl[start:], "}}")
		if end < 0 {
			b.WriteString(tmpl)
			break
		}
		end += start

		b.WriteString(tmpl[:start])
		field := strings.TrimSpace(tmpl[start+2 : end])
		b.WriteString(stringifyField(row[field]))
		tmpl = tmpl[end+2:]
	}
	return b.String()
}

func stringifyField(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func renderDataPayload(payload map[string]string, row map[string]any) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = renderTemplate(v, row)
	}
	return out
}
