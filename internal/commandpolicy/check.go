package commandpolicy

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/codalotl/autoapprove/internal/shellsafety"
)

// ErrEmptyCommand is returned when Check is invoked with an empty argv.
var ErrEmptyCommand = errors.New("shell command argv is empty")

// Check checks argv lexically against the blocked/dangerous/safe commands. argv is a single flat command; compound lines are decomposed by the caller.
//   - Precedence: safe > blocked > dangerous. So a match on the safe list overrules everything.
//   - inscrutable is returned if argv contains shell metacharacters, command substitution, xargs, or other non-simple elements.
//   - some safe commands are only safe without certain arguments (ex: find -delete, git branch -D). With those arguments the safe match is ignored.
//   - a command is marked as dangerous if it does not match any list and argv[0] is a path-qualified command (absolute or uses ".."); this is treated as
//     "outside sandbox" heuristically.
//   - a scrutable command that is on no list is 'none'.
func (p *Policy) Check(argv []string) (CheckResult, error) {
	result, _, err := p.check(argv)
	return result, err
}

// Classify implements shellsafety.Oracle. It returns a verdict only when Check reports CheckResultSafe.
func (p *Policy) Classify(argv []string) (shellsafety.Verdict, bool) {
	result, matched, err := p.check(argv)
	if err != nil || result != CheckResultSafe {
		return shellsafety.Verdict{}, false
	}
	return shellsafety.Verdict{
		Rule:   matched.String(),
		Reason: "matches safe command " + matched.String(),
	}, true
}

func (p *Policy) check(argv []string) (CheckResult, CommandMatcher, error) {
	if len(argv) == 0 {
		return CheckResultNone, CommandMatcher{}, ErrEmptyCommand
	}

	if isInscrutableCommand(argv) {
		return CheckResultInscrutable, CommandMatcher{}, nil
	}

	p.mu.RLock()
	safeMatch, safeOK := matchAny(argv, p.safe)
	blockedMatch, blockedOK := matchAny(argv, p.blocked)
	dangerousMatch, dangerousOK := matchAny(argv, p.dangerous)
	p.mu.RUnlock()

	if safeOK && hasUnsafeArgs(argv) {
		log.Debug("safe match %q ignored for risky arguments: %q", safeMatch.String(), argv)
		safeOK = false
	}

	switch {
	case safeOK:
		return CheckResultSafe, safeMatch, nil
	case blockedOK:
		return CheckResultBlocked, blockedMatch, nil
	case dangerousOK:
		return CheckResultDangerous, dangerousMatch, nil
	}

	if isOutsideSandboxCommand(argv[0]) {
		return CheckResultDangerous, CommandMatcher{}, nil
	}

	return CheckResultNone, CommandMatcher{}, nil
}

// matchAny returns the first matching matcher in key order, so the result is deterministic.
func matchAny(argv []string, set map[string]entry) (CommandMatcher, bool) {
	if len(argv) == 0 || len(set) == 0 {
		return CommandMatcher{}, false
	}
	var (
		best  CommandMatcher
		found bool
	)
	for _, e := range set {
		if !commandMatches(e, argv) {
			continue
		}
		if !found || matcherLess(e.matcher, best) {
			best = e.matcher
			found = true
		}
	}
	return best, found
}

func commandMatches(e entry, argv []string) bool {
	m := e.matcher
	if len(argv) == 0 {
		return false
	}
	if e.pattern != nil {
		if !e.pattern.Match(argv[0]) {
			return false
		}
	} else if m.Command != argv[0] {
		return false
	}

	if len(m.ArgsPrefix) > len(argv)-1 {
		return false
	}
	for i, arg := range m.ArgsPrefix {
		if argv[i+1] != arg {
			return false
		}
	}

	if len(m.Flags) == 0 {
		return true
	}

	args := argv[1:]
	for _, flag := range m.Flags {
		if !flagPresent(args, flag) {
			return false
		}
	}
	return true
}

func flagPresent(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
		if strings.HasPrefix(arg, flag) {
			rest := arg[len(flag):]
			if strings.HasPrefix(rest, "=") || strings.HasPrefix(rest, " ") {
				return true
			}
		}
	}
	return false
}

// riskyFindArgs make find execute, delete, or write files.
var riskyFindArgs = map[string]struct{}{
	"-exec":    {},
	"-execdir": {},
	"-ok":      {},
	"-okdir":   {},
	"-delete":  {},
	"-fprint":  {},
	"-fprint0": {},
	"-fprintf": {},
	"-fls":     {},
}

// riskyGitBranchArgs make git branch delete or rename branches.
var riskyGitBranchArgs = map[string]struct{}{
	"-d":       {},
	"-D":       {},
	"-m":       {},
	"-M":       {},
	"-c":       {},
	"-C":       {},
	"--delete": {},
	"--move":   {},
	"--copy":   {},
	"-f":       {},
	"--force":  {},
}

// goToolRiskyFlags make go test/vet run another program or write a binary.
var goToolRiskyFlags = []string{"exec", "toolexec", "vettool", "o"}

// uniqValueFlags are uniq's short options whose value is the next argument.
var uniqValueFlags = map[string]struct{}{
	"-f": {},
	"-s": {},
	"-w": {},
}

// hasUnsafeArgs reports whether argv uses arguments that make an otherwise read-only command execute programs or write files.
func hasUnsafeArgs(argv []string) bool {
	args := argv[1:]
	switch filepath.Base(argv[0]) {
	case "find":
		for _, arg := range args {
			if _, ok := riskyFindArgs[arg]; ok {
				return true
			}
		}
	case "git":
		if len(args) == 0 {
			return false
		}
		switch args[0] {
		case "branch":
			return gitBranchUnsafe(args[1:])
		case "diff", "log", "show":
			return anyOption(args[1:], func(opt string) bool {
				return isLongOption(opt, "output", "ext-diff")
			})
		}
	case "go":
		if len(args) == 0 || (args[0] != "test" && args[0] != "vet") {
			return false
		}
		return anyOption(args[1:], func(opt string) bool {
			return isGoFlag(opt, goToolRiskyFlags...)
		})
	case "rg":
		return anyOption(args, func(opt string) bool {
			return isLongOption(opt, "pre", "hostname-bin")
		})
	case "sort":
		return anyOption(args, func(opt string) bool {
			return isLongOption(opt, "output", "compress-program") || hasShortFlag(opt, "o")
		})
	case "uniq":
		// The second operand is an output file.
		return len(uniqOperands(args)) > 1
	case "date":
		return anyOption(args, func(opt string) bool {
			return isLongOption(opt, "set") || hasShortFlag(opt, "s")
		})
	case "file":
		return anyOption(args, func(opt string) bool {
			return isLongOption(opt, "compile") || hasShortFlag(opt, "C")
		})
	}
	return false
}

func gitBranchUnsafe(args []string) bool {
	for _, arg := range args {
		if _, ok := riskyGitBranchArgs[arg]; ok {
			return true
		}
		// Combined short flags, ex: -vD.
		if hasShortFlag(arg, "dDmMcC") && len(arg) > 2 {
			return true
		}
	}
	return false
}

// anyOption reports whether pred holds for any option argument before a "--" terminator.
func anyOption(args []string, pred func(opt string) bool) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if len(arg) > 1 && arg[0] == '-' && pred(arg) {
			return true
		}
	}
	return false
}

// isLongOption reports whether arg is "--name" or "--name=value" for one of names. GNU tools accept unambiguous abbreviations, so any prefix of a name
// (ex: "--out" for "--output") also matches.
func isLongOption(arg string, names ...string) bool {
	if !strings.HasPrefix(arg, "--") || len(arg) == 2 {
		return false
	}
	opt, _, _ := strings.Cut(arg, "=")
	for _, name := range names {
		if strings.HasPrefix("--"+name, opt) {
			return true
		}
	}
	return false
}

// isGoFlag reports whether arg is one of names in Go flag syntax: one or two dashes, optionally followed by "=value".
func isGoFlag(arg string, names ...string) bool {
	if !strings.HasPrefix(arg, "-") {
		return false
	}
	opt, _, _ := strings.Cut(strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-"), "=")
	for _, name := range names {
		if opt == name {
			return true
		}
	}
	return false
}

// hasShortFlag reports whether arg is a cluster of short options (ex: "-uo") containing any of letters.
func hasShortFlag(arg string, letters string) bool {
	if len(arg) < 2 || arg[0] != '-' || arg[1] == '-' {
		return false
	}
	return strings.ContainsAny(arg[1:], letters)
}

func uniqOperands(args []string) []string {
	var operands []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(operands, args[i+1:]...)
		}
		if _, ok := uniqValueFlags[arg]; ok {
			i++
			continue
		}
		if len(arg) > 1 && arg[0] == '-' {
			continue
		}
		operands = append(operands, arg)
	}
	return operands
}

func isInscrutableCommand(argv []string) bool {
	inscrutableTokens := map[string]struct{}{
		"|":  {},
		"||": {},
		"&&": {},
		";":  {},
		"&":  {},
	}

	for _, arg := range argv {
		if arg == "" {
			continue
		}
		if _, ok := inscrutableTokens[arg]; ok {
			return true
		}
		if arg == "xargs" {
			return true
		}
		if strings.ContainsAny(arg, "|;&\n") {
			return true
		}
		if strings.Contains(arg, "$(") || strings.Contains(arg, "`") {
			return true
		}
		if strings.Contains(arg, "<(") || strings.Contains(arg, ">(") {
			return true
		}
	}
	return false
}

func isOutsideSandboxCommand(command string) bool {
	if command == "" {
		return false
	}
	if filepath.IsAbs(command) {
		return true
	}

	clean := filepath.Clean(command)
	if clean == ".." {
		return true
	}

	if strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return true
	}

	if strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "..\\") {
		return true
	}

	return false
}
