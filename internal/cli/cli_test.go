package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codalotl/autoapprove/internal/commandpolicy"
	"github.com/codalotl/autoapprove/internal/execrequest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI runs the CLI with an isolated HOME, so no user config is read.
func runCLI(t *testing.T, stdin string, args ...string) (int, string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var out, errOut bytes.Buffer
	code, err := Run(append([]string{"autoapprove"}, args...), &RunOptions{
		In:  strings.NewReader(stdin),
		Out: &out,
		Err: &errOut,
	})
	return code, out.String(), errOut.String(), err
}

func TestRun_Help(t *testing.T) {
	code, out, errOut, err := runCLI(t, "", "-h")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "check")
	assert.Contains(t, out, "serve")
	assert.Empty(t, errOut)
}

func TestRun_UnknownCommandIsUsageError(t *testing.T) {
	code, _, errOut, err := runCLI(t, "", "frobnicate")
	require.Error(t, err)
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestRun_UnknownFlagIsUsageError(t *testing.T) {
	code, _, _, err := runCLI(t, "", "check", "--nope")
	require.Error(t, err)
	assert.Equal(t, 2, code)
}

func TestRun_TooManyArgsIsUsageError(t *testing.T) {
	code, _, _, err := runCLI(t, "", "check", "{}", "{}")
	require.Error(t, err)
	assert.Equal(t, 2, code)
}

func TestRun_BadLogLevelIsUsageError(t *testing.T) {
	code, _, _, err := runCLI(t, "", "--log-level", "loud", "decode", "{}")
	require.Error(t, err)
	assert.Equal(t, 2, code)
}

func TestRun_CheckApproved(t *testing.T) {
	code, out, _, err := runCLI(t, "", "check", "--call-id", "call_9", `{"cmd":["bash","-lc","ls && git status"]}`)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, true, got["auto_approved"])
	assert.Equal(t, "call_9", got["call_id"])
	assert.Equal(t, "ls && git status", got["display_text"])
	assert.Equal(t, map[string]any{"rule": "ls", "reason": "matches safe command ls"}, got["verdict"])
}

func TestRun_CheckFromStdin(t *testing.T) {
	code, out, _, err := runCLI(t, `{"command":["rm","-rf","/"]}`+"\n", "check")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, false, got["auto_approved"])
	assert.Equal(t, "rm -rf /", got["display_text"])
}

func TestRun_CheckFailOnReview(t *testing.T) {
	code, out, _, err := runCLI(t, "", "check", "--fail-on-review", `{"cmd":["bash","-lc","ls > out.txt"]}`)
	require.ErrorIs(t, err, errNeedsReview)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, `"auto_approved": false`)

	code, _, _, err = runCLI(t, "", "check", "--fail-on-review", `{"cmd":["ls"]}`)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRun_CheckNoRequest(t *testing.T) {
	code, out, errOut, err := runCLI(t, "", "check", `{"cmd":"ls"}`)
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "do not contain a command")
}

func TestRun_CheckWithPolicyFile(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("replace_defaults: true\nsafe:\n  - command: make\n"), 0o644))
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("policy:\n  file: "+policyPath+"\n"), 0o644))

	_, out, _, err := runCLI(t, "", "--config", configPath, "check", `{"cmd":["make"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"auto_approved": true`)

	_, out, _, err = runCLI(t, "", "--config", configPath, "check", `{"cmd":["ls"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"auto_approved": false`)
}

func TestRun_CheckDisableTokenizer(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("evaluator:\n  disable_tokenizer: true\n"), 0o644))

	_, out, _, err := runCLI(t, "", "--config", configPath, "check", `{"cmd":["bash","-lc","ls && pwd"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"auto_approved": false`)
}

func TestRun_MissingConfigFile(t *testing.T) {
	code, _, _, err := runCLI(t, "", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "decode", "{}")
	require.Error(t, err)
	assert.Equal(t, 1, code)
}

func TestRun_Decode(t *testing.T) {
	code, out, _, err := runCLI(t, "", "decode", `{"output":"ok\n","metadata":{"exit_code":3,"duration_seconds":0.5}}`)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var got execrequest.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, execrequest.Outcome{Output: "ok\n", ExitCode: 3, DurationSeconds: 0.5}, got)
	assert.Contains(t, out, `"succeeded": false`)

	_, out, _, err = runCLI(t, "not json at all", "decode")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, execrequest.FailedOutcome(), got)
}

func TestRun_Policy(t *testing.T) {
	code, out, _, err := runCLI(t, "", "policy")
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	f, err := commandpolicy.Parse([]byte(out))
	require.NoError(t, err)
	assert.True(t, f.ReplaceDefaults)
	assert.Equal(t, commandpolicy.New().SafeMatchers(), f.Safe)
}
