package review

import (
	"strconv"
	"strings"

	"github.com/codalotl/autoapprove/internal/shellsafety"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultMaxWidth is the display width ShellFormatter truncates to when MaxWidth is zero.
const DefaultMaxWidth = 512

// A Formatter renders a command vector as display text for a reviewer. It is display only: the result is never executed or parsed.
type Formatter interface {
	FormatCommand(argv []string) string
}

// ShellFormatter renders commands the way a user would type them into bash.
type ShellFormatter struct {
	MaxWidth int // MaxWidth caps the display width in terminal cells. 0 means DefaultMaxWidth; negative means unlimited.
	TabWidth int // TabWidth expands tabs to this many spaces. 0 leaves tabs as-is.
}

// FormatCommand implements Formatter. []string{"bash", "-lc", line} is displayed as line itself; anything else is displayed as its arguments, shell-quoted
// where needed and joined by spaces.
func (f ShellFormatter) FormatCommand(argv []string) string {
	var text string
	if len(argv) == 3 && argv[0] == shellsafety.Interpreter && argv[1] == shellsafety.InterpreterFlag {
		text = argv[2]
	} else {
		quoted := make([]string, len(argv))
		for i, arg := range argv {
			quoted[i] = quoteArg(arg)
		}
		text = strings.Join(quoted, " ")
	}

	maxWidth := f.MaxWidth
	if maxWidth == 0 {
		maxWidth = DefaultMaxWidth
	}
	return truncate(sanitize(text, f.TabWidth), maxWidth)
}

func quoteArg(arg string) string {
	q, err := syntax.Quote(arg, syntax.LangBash)
	if err != nil {
		// Only strings bash can't represent at all (ex: NUL bytes) fail to quote.
		return strconv.Quote(arg)
	}
	return q
}
