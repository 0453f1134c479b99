package review

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/codalotl/autoapprove/internal/execrequest"
	"github.com/codalotl/autoapprove/internal/shellsafety"
	"github.com/codalotl/autoapprove/internal/shelltoken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setOracle approves exactly the listed commands (space-joined).
type setOracle map[string]bool

func (o setOracle) Classify(argv []string) (shellsafety.Verdict, bool) {
	key := strings.Join(argv, " ")
	if !o[key] {
		return shellsafety.Verdict{}, false
	}
	return shellsafety.Verdict{Rule: key, Reason: "listed"}, true
}

func newTestReviewer() *Reviewer {
	e := shellsafety.NewEvaluator(setOracle{"ls": true, "pwd": true}, shelltoken.New())
	e.SetEnviron(func() map[string]string { return nil })
	r := NewReviewer(e, nil)
	r.newID = func() string { return "id-1" }
	return r
}

func TestReviewerReview(t *testing.T) {
	t.Parallel()

	r := newTestReviewer()

	t.Run("AutoApproved", func(t *testing.T) {
		t.Parallel()
		d, ok := r.Review("call_1", `{"cmd":["bash","-lc","ls && pwd"],"workdir":"/w","timeout":100}`)
		require.True(t, ok)
		assert.Equal(t, "id-1", d.ID)
		assert.Equal(t, "call_1", d.CallID)
		assert.Equal(t, []string{"bash", "-lc", "ls && pwd"}, d.Command)
		assert.Equal(t, "ls && pwd", d.DisplayText)
		require.True(t, d.AutoApproved())
		assert.Equal(t, &shellsafety.Verdict{Rule: "ls", Reason: "listed"}, d.Verdict)
		assert.Equal(t, "/w", d.Workdir)
		require.NotNil(t, d.TimeoutMS)
		assert.EqualValues(t, 100, *d.TimeoutMS)
		assert.Equal(t, "100ms", d.Timeout)
	})

	t.Run("NeedsReview", func(t *testing.T) {
		t.Parallel()
		d, ok := r.Review("call_2", `{"command":["bash","-lc","ls && rm -rf /"]}`)
		require.True(t, ok)
		assert.False(t, d.AutoApproved())
		assert.Nil(t, d.Verdict)
		assert.Equal(t, "ls && rm -rf /", d.DisplayText)
		assert.Nil(t, d.TimeoutMS)
		assert.Empty(t, d.Timeout)
	})

	t.Run("HugeTimeout", func(t *testing.T) {
		t.Parallel()
		d, ok := r.Review("call_4", `{"cmd":["ls"],"timeout":1e300}`)
		require.True(t, ok)
		assert.Equal(t, "2562047h47m16.854s", d.Timeout)
	})

	t.Run("NoRequest", func(t *testing.T) {
		t.Parallel()
		_, ok := r.Review("call_3", `{"cmd":"ls"}`)
		assert.False(t, ok)
		_, ok = r.Review("call_3", `not json`)
		assert.False(t, ok)
	})
}

func TestReviewerWithoutApprover(t *testing.T) {
	t.Parallel()

	req, err := execrequest.New([]string{"ls"})
	require.NoError(t, err)

	d := NewReviewer(nil, ShellFormatter{}).ReviewRequest("c", req)
	assert.False(t, d.AutoApproved())
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "ls", d.DisplayText)
}

func TestDetailJSON(t *testing.T) {
	t.Parallel()

	ms := int64(5)
	d := Detail{
		ID:          "id",
		Command:     []string{"ls"},
		DisplayText: "ls",
		Verdict:     &shellsafety.Verdict{Rule: "ls", Reason: "r"},
		TimeoutMS:   &ms,
	}
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id","command":["ls"],"display_text":"ls","verdict":{"rule":"ls","reason":"r"},"timeout_ms":5,"auto_approved":true}`, string(b))

	b, err = json.Marshal(Detail{ID: "id", Command: []string{"rm"}, DisplayText: "rm"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id","command":["rm"],"display_text":"rm","auto_approved":false}`, string(b))
}
