package tgui

import "html"

// H is HTML already safe for ParseMode=HTML.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

func Code(s string) H { return H("<code>" + html.EscapeString(s) + "</code>") }

// Field renders "<b>label</b> value" for listings.
func Field(label string, value H) H {
	return H("<b>"+html.EscapeString(label)+"</b> ") + value
}
