package bridge

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"commerce-portal-backend/internal/store"
)

const (
	intentDiscoverComposite = "discover_composite"
	plannedQueryLimit       = 40
	titleLimit              = 50
)

// DeriveThreadTitle names a new thread from the turn's terminal payload and
// the user's input. It has no hidden state.
func DeriveThreadTitle(done *TerminalPayload, inputText string) string {
	intent, _ := done.Intent()
	query := strings.TrimSpace(intent.SearchQuery)
	if intent.Type == intentDiscoverComposite && query != "" {
		return "Planning " + capitalize(truncateRunes(query, plannedQueryLimit))
	}
	if query != "" && utf8.RuneCountInString(query) <= titleLimit {
		return capitalize(query)
	}
	if input := strings.TrimSpace(inputText); input != "" {
		return truncateRunes(input, titleLimit)
	}
	return store.DefaultTitle
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
