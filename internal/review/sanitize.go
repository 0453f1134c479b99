package review

import (
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
	"golang.org/x/text/unicode/norm"
)

const hexDigits = "0123456789ABCDEF"

// sanitize prepares s for display in a terminal.
//   - s is normalized to NFC, so visually identical text compares and measures the same.
//   - If tabWidth > 0, \t is replaced with tabWidth spaces. Otherwise, \t is left as-is.
//   - \n is left as-is. \r is shown as "\x0D" so it can't rewind the line.
//   - Except for above, C0 controls, DEL and C1 controls are replaced with "\xXX" (ex: "\x1B" for ESC).
//   - Bidi formatting characters, which can visually reorder text, are replaced with "\uXXXX" (ex: "\u202E" for RLO).
//   - Invalid UTF-8 is replaced by U+FFFD.
func sanitize(s string, tabWidth int) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(strings.ToValidUTF8(s, "�"))

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size

		switch {
		case r == '\t' && tabWidth > 0:
			for j := 0; j < tabWidth; j++ {
				b.WriteByte(' ')
			}
		case r == '\t' || r == '\n':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7F:
			writeHexEscape(&b, byte(r))
		case r >= 0x80 && r <= 0x9F:
			writeHexEscape(&b, byte(r))
		case isBidiControl(r):
			writeUnicodeEscape(&b, r)
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

func writeHexEscape(b *strings.Builder, code byte) {
	b.WriteByte('\\')
	b.WriteByte('x')
	b.WriteByte(hexDigits[code>>4])
	b.WriteByte(hexDigits[code&0x0F])
}

func writeUnicodeEscape(b *strings.Builder, r rune) {
	b.WriteString(`\u`)
	for shift := 12; shift >= 0; shift -= 4 {
		b.WriteByte(hexDigits[(r>>shift)&0x0F])
	}
}

// isBidiControl reports whether r is an explicit bidi mark, embedding, override or isolate.
func isBidiControl(r rune) bool {
	switch {
	case r == 0x061C, r == 0x200E, r == 0x200F:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r >= 0x2066 && r <= 0x2069:
		return true
	}
	return false
}

// truncate shortens s to at most maxWidth terminal cells, ending in an ellipsis when anything was cut. maxWidth <= 0 disables truncation.
func truncate(s string, maxWidth int) string {
	if maxWidth <= 0 || runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	return runewidth.Truncate(s, maxWidth, "…")
}
