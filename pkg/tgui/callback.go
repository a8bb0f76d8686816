package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "scope:action" or "scope:action:payload".
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// CheckedData is Data with the Telegram length limit enforced.
func CheckedData(scope, action, payload string) (string, error) {
	d := Data(scope, action, payload)
	if len(d) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return d, nil
}
