package utils

import "strings"

// ClaimStrings reads a JWT claim that may be a JSON array or a single
// space-delimited string. Non-string array members are dropped.
func ClaimStrings(v any) []string {
	switch claim := v.(type) {
	case []string:
		return append([]string(nil), claim...)
	case []any:
		out := make([]string, 0, len(claim))
		for _, item := range claim {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(claim)
	default:
		return nil
	}
}
