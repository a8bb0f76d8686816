// Package tgui holds small Telegram UI helpers: inline keyboard building,
// "scope:action:payload" callback data, HTML escaping and paging.
package tgui
