package tgui

import "unicode/utf8"

// CaptionLimit is Telegram's media caption limit in characters.
const CaptionLimit = 1024

// TruncRunes cuts s to at most n runes, ending with "…" when it cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n-1]) + "…"
}

// Clamp keeps i inside [0, n-1]; it returns 0 when n is 0.
func Clamp(i, n int) int {
	if n <= 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
