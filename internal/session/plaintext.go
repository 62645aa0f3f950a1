package session

import "regexp"

// escapeSeq matches, in order: CSI; OSC ended by BEL or ST; DCS, PM, APC
// and screen's title string ended by ST; charset designation; keypad mode;
// any other two-byte escape.
var escapeSeq = regexp.MustCompile(
	`\x1b\[[0-?]*[ -/]*[@-~]` +
		`|\x1b\].*?(?:\x07|\x1b\\)` +
		`|\x1b[P^_k].*?\x1b\\` +
		`|\x1b[()][0-9A-Za-z]` +
		`|\x1b[=>]` +
		`|\x1b.`)

// PlainText renders captured terminal output as text: escape sequences are
// removed, backspaces erase the previous byte and control bytes other than
// newline and tab are dropped.
func PlainText(b []byte) string {
	b = escapeSeq.ReplaceAll(b, nil)
	out := make([]byte, 0, len(b))
	for _, ch := range b {
		switch {
		case ch == '\b':
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case ch == '\n' || ch == '\t':
			out = append(out, ch)
		case ch < 0x20 || ch == 0x7f:
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}
