package pty

import "strings"

var namedKeys = map[string]string{
	"enter":     "\r",
	"return":    "\r",
	"tab":       "\t",
	"escape":    "\x1b",
	"esc":       "\x1b",
	"space":     " ",
	"backspace": "\x7f",
	"delete":    "\x1b[3~",
	"insert":    "\x1b[2~",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
	"pageup":    "\x1b[5~",
	"pagedown":  "\x1b[6~",
	"f1":        "\x1bOP",
	"f2":        "\x1bOQ",
	"f3":        "\x1bOR",
	"f4":        "\x1bOS",
	"f5":        "\x1b[15~",
	"f6":        "\x1b[17~",
	"f7":        "\x1b[18~",
	"f8":        "\x1b[19~",
	"f9":        "\x1b[20~",
	"f10":       "\x1b[21~",
	"f11":       "\x1b[23~",
	"f12":       "\x1b[24~",
}

// KeySequence translates a key or chord name to the bytes a terminal sends
// for it. "Enter", "C-c", "ctrl+c" and "Up" are recognized; anything else
// is returned unchanged so literal text passes through.
func KeySequence(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if seq, ok := namedKeys[key]; ok {
		return seq
	}
	for _, prefix := range []string{"c-", "ctrl-", "ctrl+"} {
		if rest, ok := strings.CutPrefix(key, prefix); ok && len(rest) == 1 {
			if c := rest[0]; c >= 'a' && c <= 'z' {
				return string(rune(c - 'a' + 1))
			}
		}
	}
	for _, prefix := range []string{"m-", "alt-", "alt+"} {
		if rest, ok := strings.CutPrefix(key, prefix); ok && len(rest) == 1 {
			return "\x1b" + rest
		}
	}
	return name
}

// KeysToBytes concatenates the sequences for keys.
func KeysToBytes(keys []string) []byte {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(KeySequence(k))
	}
	return []byte(b.String())
}
