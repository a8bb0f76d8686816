package router

import (
	"strings"

	"github.com/google/uuid"
)

func newReqID() string { return uuid.NewString()[:8] }

// parseCommand splits "/name@bot a b" into the lower-cased name and its
// arguments. ok is false for text that is not a command.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return "", nil, false
	}
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), parts[1:], true
}

// tokenize splits on whitespace, keeping quoted runs together.
//
//	/cmd a "b c" 'd'
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar = true, ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// splitCallback parses "scope:action[:payload]".
func splitCallback(data string) (scope, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}
