// Package commandpolicy classifies a single flat argv against blocked, dangerous, and safe command lists. It is the single-command oracle behind
// shellsafety.Evaluator.
package commandpolicy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/codalotl/autoapprove/internal/logger"
	"github.com/gobwas/glob"
)

var log = logger.New("commandpolicy")

// CheckResult captures how a command matched against the configured lists.
type CheckResult int

const (
	CheckResultNone        CheckResult = iota // CheckResultNone indicates the command did not match any configured matcher.
	CheckResultSafe                           // CheckResultSafe indicates the command matched the safe list.
	CheckResultBlocked                        // CheckResultBlocked indicates the command matched the blocked list.
	CheckResultDangerous                      // CheckResultDangerous indicates the command matched the dangerous list, or runs a program outside the workspace.
	CheckResultInscrutable                    // CheckResultInscrutable indicates the command could not be reasoned about lexically.
)

func (r CheckResult) String() string {
	switch r {
	case CheckResultNone:
		return "none"
	case CheckResultSafe:
		return "safe"
	case CheckResultBlocked:
		return "blocked"
	case CheckResultDangerous:
		return "dangerous"
	case CheckResultInscrutable:
		return "inscrutable"
	default:
		return fmt.Sprintf("CheckResult(%d)", int(r))
	}
}

var (
	// ErrMatcherNotFound is returned when attempting to remove a matcher that is not registered.
	ErrMatcherNotFound = errors.New("command matcher not found")

	// ErrInvalidMatcher is returned (wrapped) for a matcher with an empty or uncompilable Command.
	ErrInvalidMatcher = errors.New("invalid command matcher")
)

// CommandMatcher describes how to identify a command invocation.
type CommandMatcher struct {
	// Command is the executable (argv[0]) to match. It may be a glob pattern. Example: "go", "python3*".
	Command string `yaml:"command" json:"command"`

	// ArgsPrefix matches the subsequent arguments (argv[1:]) exactly up to len(ArgsPrefix). Example: []string{"test"} matches `go test ./...`, but not
	// `go help test`.
	ArgsPrefix []string `yaml:"args_prefix,omitempty" json:"args_prefix,omitempty"`

	// Flags matches any argument that equals one of the listed flags, supports "--flag=value" forms. All listed flags must be present.
	Flags []string `yaml:"flags,omitempty" json:"flags,omitempty"`
}

// String renders m as it would be typed. Ex: "npm install -g".
func (m CommandMatcher) String() string {
	parts := make([]string, 0, 1+len(m.ArgsPrefix)+len(m.Flags))
	parts = append(parts, m.Command)
	parts = append(parts, m.ArgsPrefix...)
	parts = append(parts, m.Flags...)
	return strings.Join(parts, " ")
}

// entry is a registered matcher plus its compiled Command pattern (nil when Command is a plain name).
type entry struct {
	matcher CommandMatcher
	pattern glob.Glob
}

func newEntry(m CommandMatcher) (entry, error) {
	if strings.TrimSpace(m.Command) == "" {
		return entry{}, fmt.Errorf("%w: empty command", ErrInvalidMatcher)
	}
	e := entry{matcher: cloneMatcher(m)}
	if strings.ContainsAny(m.Command, "*?[{") {
		g, err := glob.Compile(m.Command)
		if err != nil {
			return entry{}, fmt.Errorf("%w: command pattern %q: %v", ErrInvalidMatcher, m.Command, err)
		}
		e.pattern = g
	}
	return e, nil
}

// Policy keeps track of blocked, dangerous, and safe shell commands. All methods are safe for concurrent use.
type Policy struct {
	mu        sync.RWMutex
	blocked   map[string]entry
	dangerous map[string]entry
	safe      map[string]entry
}

// New constructs a Policy pre-populated with the default blocked, dangerous, and safe command matchers.
func New() *Policy {
	p := &Policy{}
	p.blocked = mustEntries(defaultBlockedMatchers)
	p.dangerous = mustEntries(defaultDangerousMatchers)
	p.safe = mustEntries(defaultSafeMatchers)
	return p
}

// NewEmpty constructs a Policy with no matchers. Every command is CheckResultNone (or dangerous/inscrutable by heuristic).
func NewEmpty() *Policy {
	return &Policy{
		blocked:   make(map[string]entry),
		dangerous: make(map[string]entry),
		safe:      make(map[string]entry),
	}
}

func mustEntries(matchers []CommandMatcher) map[string]entry {
	out := make(map[string]entry, len(matchers))
	for _, m := range matchers {
		e, err := newEntry(m)
		if err != nil {
			panic(err)
		}
		out[matcherKey(m)] = e
	}
	return out
}

var defaultBlockedMatchers = func() []CommandMatcher {
	commands := []string{
		// Network/Download tools
		"aria2c",
		"axel",
		"curl",
		"curlie",
		"http-prompt",
		"httpie",
		"links",
		"lynx",
		"nc",
		"ncat",
		"rsync",
		"scp",
		"sftp",
		"ssh",
		"telnet",
		"w3m",
		"wget",
		"xh",

		// Privilege escalation
		"doas",
		"su",
		"sudo",

		// Package managers
		"apk",
		"apt",
		"apt-cache",
		"apt-get",
		"brew",
		"dnf",
		"dpkg",
		"emerge",
		"pacman",
		"rpm",
		"yum",
		"zypper",

		// System modification
		"at",
		"crontab",
		"dd",
		"diskutil",
		"fdisk",
		"halt",
		"mkfs",
		"mount",
		"parted",
		"poweroff",
		"reboot",
		"service",
		"shutdown",
		"systemctl",
		"umount",

		// Network configuration
		"firewall-cmd",
		"ifconfig",
		"ip",
		"iptables",
		"route",
		"ufw",
	}

	seen := make(map[string]struct{}, len(commands))
	matchers := make([]CommandMatcher, 0, len(commands))
	for _, cmd := range commands {
		if _, ok := seen[cmd]; ok {
			continue
		}
		seen[cmd] = struct{}{}
		matchers = append(matchers, CommandMatcher{Command: cmd})
	}

	sort.Slice(matchers, func(i, j int) bool {
		return matchers[i].Command < matchers[j].Command
	})
	return matchers
}()

var defaultDangerousMatchers = []CommandMatcher{
	{Command: "git", ArgsPrefix: []string{"push"}},
	{Command: "git", ArgsPrefix: []string{"pull"}},
	{Command: "git", ArgsPrefix: []string{"fetch"}},
	{Command: "git", ArgsPrefix: []string{"commit"}},
	{Command: "git", ArgsPrefix: []string{"checkout"}},
	{Command: "git", ArgsPrefix: []string{"reset"}},
	{Command: "git", ArgsPrefix: []string{"clean"}},
	{Command: "git", ArgsPrefix: []string{"rm"}},
	{Command: "rm"},
	{Command: "mv"},
	{Command: "chmod"},
	{Command: "chown"},
	{Command: "docker"},
	{Command: "kubectl"},
	{Command: "cargo", ArgsPrefix: []string{"install"}},
	{Command: "gem", ArgsPrefix: []string{"install"}},
	{Command: "go", ArgsPrefix: []string{"install"}},
	{Command: "npm", ArgsPrefix: []string{"install"}, Flags: []string{"--global"}},
	{Command: "npm", ArgsPrefix: []string{"install"}, Flags: []string{"-g"}},
	{Command: "pip", ArgsPrefix: []string{"install"}},
	{Command: "pip3", ArgsPrefix: []string{"install"}},
	{Command: "pnpm", ArgsPrefix: []string{"add"}, Flags: []string{"--global"}},
	{Command: "pnpm", ArgsPrefix: []string{"add"}, Flags: []string{"-g"}},
	{Command: "yarn", ArgsPrefix: []string{"global", "add"}},
}

var defaultSafeMatchers = []CommandMatcher{
	{Command: "cargo", ArgsPrefix: []string{"check"}},
	{Command: "cat"},
	{Command: "cd"},
	{Command: "date"},
	{Command: "echo"},
	{Command: "false"},
	{Command: "file"},
	{Command: "find"},
	{Command: "git", ArgsPrefix: []string{"branch"}},
	{Command: "git", ArgsPrefix: []string{"diff"}},
	{Command: "git", ArgsPrefix: []string{"log"}},
	{Command: "git", ArgsPrefix: []string{"show"}},
	{Command: "git", ArgsPrefix: []string{"status"}},
	{Command: "go", ArgsPrefix: []string{"test"}},
	{Command: "go", ArgsPrefix: []string{"vet"}},
	{Command: "grep"},
	{Command: "head"},
	{Command: "ls"},
	{Command: "nl"},
	{Command: "pwd"},
	{Command: "rg"},
	{Command: "sort"},
	{Command: "tail"},
	{Command: "true"},
	{Command: "uniq"},
	{Command: "wc"},
	{Command: "which"},
}

// DefaultBlockedMatchers returns a copy of the built-in blocked matchers.
func DefaultBlockedMatchers() []CommandMatcher {
	return cloneMatchers(defaultBlockedMatchers)
}

// DefaultDangerousMatchers returns a copy of the built-in dangerous matchers.
func DefaultDangerousMatchers() []CommandMatcher {
	return cloneMatchers(defaultDangerousMatchers)
}

// DefaultSafeMatchers returns a copy of the built-in safe matchers.
func DefaultSafeMatchers() []CommandMatcher {
	return cloneMatchers(defaultSafeMatchers)
}

// BlockedMatchers returns the currently registered blocked matchers.
func (p *Policy) BlockedMatchers() []CommandMatcher {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return cloneAndSortMatchers(p.blocked)
}

// DangerousMatchers returns the currently registered dangerous matchers.
func (p *Policy) DangerousMatchers() []CommandMatcher {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return cloneAndSortMatchers(p.dangerous)
}

// SafeMatchers returns the currently registered safe matchers.
func (p *Policy) SafeMatchers() []CommandMatcher {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return cloneAndSortMatchers(p.safe)
}

// AddBlocked adds a matcher to the blocked set.
func (p *Policy) AddBlocked(m CommandMatcher) error {
	return p.add(&p.blocked, m)
}

// RemoveBlocked removes a matcher from the blocked set.
func (p *Policy) RemoveBlocked(m CommandMatcher) error {
	return p.remove(p.blocked, m)
}

// AddDangerous adds a matcher to the dangerous set.
func (p *Policy) AddDangerous(m CommandMatcher) error {
	return p.add(&p.dangerous, m)
}

// RemoveDangerous removes a matcher from the dangerous set.
func (p *Policy) RemoveDangerous(m CommandMatcher) error {
	return p.remove(p.dangerous, m)
}

// AddSafe adds a matcher to the safe set.
func (p *Policy) AddSafe(m CommandMatcher) error {
	return p.add(&p.safe, m)
}

// RemoveSafe removes a matcher from the safe set.
func (p *Policy) RemoveSafe(m CommandMatcher) error {
	return p.remove(p.safe, m)
}

// Replace atomically swaps all three lists with other's. other is not modified.
func (p *Policy) Replace(other *Policy) {
	if other == p {
		return
	}

	other.mu.RLock()
	blocked := copyEntries(other.blocked)
	dangerous := copyEntries(other.dangerous)
	safe := copyEntries(other.safe)
	other.mu.RUnlock()

	p.mu.Lock()
	p.blocked, p.dangerous, p.safe = blocked, dangerous, safe
	p.mu.Unlock()
}

func (p *Policy) add(set *map[string]entry, m CommandMatcher) error {
	e, err := newEntry(m)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if *set == nil {
		*set = make(map[string]entry)
	}
	key := matcherKey(m)
	if _, ok := (*set)[key]; ok {
		return nil
	}
	(*set)[key] = e
	return nil
}

func (p *Policy) remove(set map[string]entry, m CommandMatcher) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := matcherKey(m)
	if _, ok := set[key]; !ok {
		return ErrMatcherNotFound
	}
	delete(set, key)
	return nil
}

func copyEntries(m map[string]entry) map[string]entry {
	out := make(map[string]entry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAndSortMatchers(m map[string]entry) []CommandMatcher {
	if len(m) == 0 {
		return nil
	}
	matchers := make([]CommandMatcher, 0, len(m))
	for _, e := range m {
		matchers = append(matchers, cloneMatcher(e.matcher))
	}
	sort.Slice(matchers, func(i, j int) bool {
		return matcherLess(matchers[i], matchers[j])
	})
	return matchers
}

func cloneMatchers(matchers []CommandMatcher) []CommandMatcher {
	if len(matchers) == 0 {
		return nil
	}
	out := make([]CommandMatcher, len(matchers))
	for i, m := range matchers {
		out[i] = cloneMatcher(m)
	}
	return out
}

func cloneMatcher(m CommandMatcher) CommandMatcher {
	c := CommandMatcher{
		Command: m.Command,
	}
	if len(m.ArgsPrefix) > 0 {
		c.ArgsPrefix = append([]string(nil), m.ArgsPrefix...)
	}
	if len(m.Flags) > 0 {
		c.Flags = append([]string(nil), m.Flags...)
	}
	return c
}

func matcherKey(m CommandMatcher) string {
	var builder strings.Builder
	builder.WriteString(m.Command)
	builder.WriteByte('\x00')
	builder.WriteString(strings.Join(m.ArgsPrefix, "\x00"))
	builder.WriteByte('\x00')
	builder.WriteString(strings.Join(m.Flags, "\x00"))
	return builder.String()
}

func matcherLess(a, b CommandMatcher) bool {
	if a.Command != b.Command {
		return a.Command < b.Command
	}
	if c := compareStrings(a.ArgsPrefix, b.ArgsPrefix); c != 0 {
		return c < 0
	}
	return compareStrings(a.Flags, b.Flags) < 0
}

func compareStrings(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return strings.Compare(a[i], b[i])
		}
	}
	return len(a) - len(b)
}
