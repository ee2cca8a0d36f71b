package query

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultResultCap = 5000
	TruncationMarker = "\n... (results truncated)"
)

// Truncate bounds text to limit bytes plus the marker. Cuts land on a line
// boundary so the header survives; a header longer than limit is cut on a
// rune boundary instead.
func Truncate(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultResultCap
	}
	if len(text) <= limit {
		return text
	}

	headerEnd := strings.IndexByte(text, '\n')
	var cut int
	if headerEnd < 0 || headerEnd > limit {
		cut = limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
	} else {
		cut = strings.LastIndexByte(text[:limit+1], '\n')
	}
	return text[:cut] + TruncationMarker
}
