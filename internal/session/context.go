package session

import (
	"fmt"
	"strings"
)

// SummaryLimit is the number of characters of each prior response replayed
// into the context block.
const SummaryLimit = 500

// NoHistoryMarker is the context block for a session without exchanges.
const NoHistoryMarker = "No previous conversation in this session."

// BuildContext renders exchanges, oldest first, as the conversation history
// block of an enhanced query.
func BuildContext(exchanges []Exchange) string {
	if len(exchanges) == 0 {
		return NoHistoryMarker
	}

	var b strings.Builder
	b.WriteString("CONVERSATION HISTORY:\n")
	for i, ex := range exchanges {
		n := i + 1
		fmt.Fprintf(&b, "\nPREVIOUS QUERY %d: %s\n", n, ex.Query)
		fmt.Fprintf(&b, "PREVIOUS RESPONSE %d (Summary): %s...\n", n, Summarize(ex.Response))
	}
	return b.String()
}

// Summarize returns the first SummaryLimit characters of s without splitting
// a multi-byte character.
func Summarize(s string) string {
	count := 0
	for i := range s {
		if count == SummaryLimit {
			return s[:i]
		}
		count++
	}
	return s
}
