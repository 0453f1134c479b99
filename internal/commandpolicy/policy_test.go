package commandpolicy

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func sortedCopy(matchers []CommandMatcher) []CommandMatcher {
	out := cloneMatchers(matchers)
	sort.Slice(out, func(i, j int) bool {
		return matcherLess(out[i], out[j])
	})
	return out
}

func TestNewPopulatesDefaults(t *testing.T) {
	t.Parallel()

	p := New()

	require.Equal(t, sortedCopy(defaultBlockedMatchers), p.BlockedMatchers())
	require.Equal(t, sortedCopy(defaultDangerousMatchers), p.DangerousMatchers())
	require.Equal(t, sortedCopy(defaultSafeMatchers), p.SafeMatchers())
}

func TestNewEmpty(t *testing.T) {
	t.Parallel()

	p := NewEmpty()
	require.Empty(t, p.BlockedMatchers())
	require.Empty(t, p.DangerousMatchers())
	require.Empty(t, p.SafeMatchers())
}

func TestDefaultBlockedMatchers(t *testing.T) {
	t.Parallel()

	got := DefaultBlockedMatchers()
	require.Equal(t, cloneMatchers(defaultBlockedMatchers), got)

	// ensure callers receive an isolated copy
	original := got[0].Command
	got[0].Command = "mutated"
	require.Equal(t, original, DefaultBlockedMatchers()[0].Command)
}

func TestDefaultDangerousAndSafeMatchers(t *testing.T) {
	t.Parallel()

	require.Equal(t, cloneMatchers(defaultDangerousMatchers), DefaultDangerousMatchers())
	require.Equal(t, cloneMatchers(defaultSafeMatchers), DefaultSafeMatchers())
}

func TestAddAndRemove(t *testing.T) {
	t.Parallel()

	lists := []struct {
		name   string
		add    func(*Policy, CommandMatcher) error
		remove func(*Policy, CommandMatcher) error
		get    func(*Policy) []CommandMatcher
	}{
		{"Blocked", (*Policy).AddBlocked, (*Policy).RemoveBlocked, (*Policy).BlockedMatchers},
		{"Dangerous", (*Policy).AddDangerous, (*Policy).RemoveDangerous, (*Policy).DangerousMatchers},
		{"Safe", (*Policy).AddSafe, (*Policy).RemoveSafe, (*Policy).SafeMatchers},
	}

	for _, l := range lists {
		t.Run(l.name, func(t *testing.T) {
			t.Parallel()

			p := &Policy{}
			matcher := CommandMatcher{Command: "go", ArgsPrefix: []string{"build"}}

			require.NoError(t, l.add(p, matcher))
			require.Equal(t, []CommandMatcher{matcher}, l.get(p))

			// no-op on duplicate
			require.NoError(t, l.add(p, matcher))
			require.Equal(t, []CommandMatcher{matcher}, l.get(p))

			require.NoError(t, l.remove(p, matcher))
			require.Empty(t, l.get(p))

			require.ErrorIs(t, l.remove(p, matcher), ErrMatcherNotFound)
		})
	}
}

func TestAddRejectsInvalidMatchers(t *testing.T) {
	t.Parallel()

	p := &Policy{}
	require.ErrorIs(t, p.AddSafe(CommandMatcher{}), ErrInvalidMatcher)
	require.ErrorIs(t, p.AddSafe(CommandMatcher{Command: "  "}), ErrInvalidMatcher)
	require.ErrorIs(t, p.AddBlocked(CommandMatcher{Command: "py[thon"}), ErrInvalidMatcher)
	require.Empty(t, p.SafeMatchers())
	require.Empty(t, p.BlockedMatchers())
}

func TestMatchersAreSortedAndIsolated(t *testing.T) {
	t.Parallel()

	p := &Policy{}
	require.NoError(t, p.AddSafe(CommandMatcher{Command: "go", ArgsPrefix: []string{"vet"}}))
	require.NoError(t, p.AddSafe(CommandMatcher{Command: "go", ArgsPrefix: []string{"test"}, Flags: []string{"-v"}}))
	require.NoError(t, p.AddSafe(CommandMatcher{Command: "go", ArgsPrefix: []string{"test"}}))
	require.NoError(t, p.AddSafe(CommandMatcher{Command: "cat"}))

	got := p.SafeMatchers()
	require.Equal(t, []CommandMatcher{
		{Command: "cat"},
		{Command: "go", ArgsPrefix: []string{"test"}},
		{Command: "go", ArgsPrefix: []string{"test"}, Flags: []string{"-v"}},
		{Command: "go", ArgsPrefix: []string{"vet"}},
	}, got)

	got[1].ArgsPrefix[0] = "mutated"
	require.Equal(t, "test", p.SafeMatchers()[1].ArgsPrefix[0])
}

func TestReplace(t *testing.T) {
	t.Parallel()

	p := New()
	other := NewEmpty()
	require.NoError(t, other.AddSafe(CommandMatcher{Command: "make"}))

	p.Replace(other)
	require.Equal(t, []CommandMatcher{{Command: "make"}}, p.SafeMatchers())
	require.Empty(t, p.BlockedMatchers())

	// p's maps are independent of other's.
	require.NoError(t, other.AddSafe(CommandMatcher{Command: "ls"}))
	require.Len(t, p.SafeMatchers(), 1)

	p.Replace(p)
	require.Len(t, p.SafeMatchers(), 1)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = p.Check([]string{"ls", "-la"})
			}
		}()
		go func() {
			defer wg.Done()
			m := CommandMatcher{Command: "make"}
			for j := 0; j < 50; j++ {
				_ = p.AddSafe(m)
				_ = p.RemoveSafe(m)
			}
		}()
	}
	wg.Wait()

	result, err := p.Check([]string{"ls"})
	require.NoError(t, err)
	require.Equal(t, CheckResultSafe, result)
}

func TestMatcherString(t *testing.T) {
	t.Parallel()

	m := CommandMatcher{Command: "npm", ArgsPrefix: []string{"install"}, Flags: []string{"-g"}}
	require.Equal(t, "npm install -g", m.String())
}
