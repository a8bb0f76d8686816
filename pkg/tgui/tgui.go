package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline builds an inline keyboard row by row.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row. Empty rows are skipped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Column appends one row per button.
func (i *Inline) Column(btn ...tele.Btn) *Inline {
	for _, b := range btn {
		i.Row(b)
	}
	return i
}

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}
