package router

import (
	"sort"
	"strings"

	kit "github.com/Larkinyegor/telegram-bot-bw/internal/transport"
)

// sanitizeCommand maps a name onto Telegram's [a-z0-9_]{1,32} command alphabet.
func sanitizeCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == ' ':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// menuCommands lists the commands shown in the Telegram menu: public ones
// first, then owner-only, each group sorted by name.
func menuCommands(cmds []Command) []kit.BotCommand {
	type entry struct {
		kit.BotCommand
		owner bool
	}
	seen := map[string]bool{}
	var entries []entry
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		name := sanitizeCommand(c.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		entries = append(entries, entry{kit.BotCommand{Command: name, Description: desc}, c.Access == AccessOwnerOnly})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].owner != entries[j].owner {
			return !entries[i].owner
		}
		return entries[i].Command < entries[j].Command
	})

	out := make([]kit.BotCommand, 0, len(entries))
	for _, e := range entries {
		if len(out) == 100 {
			break
		}
		out = append(out, e.BotCommand)
	}
	return out
}
