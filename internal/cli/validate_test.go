package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dashopt/internal/compiler"
)

var (
	rangeTaskDir  = filepath.Join("..", "..", "testdata", "tasks", "range")
	sharedTaskDir = filepath.Join("..", "..", "testdata", "tasks", "shared")
	fixturePath   = filepath.Join("..", "..", "testdata", "stats", "fixture.yaml")
)

// writeTask writes a single-file task definition into a temp directory.
func writeTask(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "task.cue"), []byte(src), 0644))
	return dir
}

// execute runs cmd with args and returns what it wrote to stdout and
// stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateValidTask(t *testing.T) {
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), rangeTaskDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Task valid: 1 view(s), 1 interaction(s)")
}

func TestValidateValidTaskJSON(t *testing.T) {
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), sharedTaskDir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Views)
	assert.Equal(t, 2, resp.Data.Interactions)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, out, "no CUE files found")
}

func TestValidateSyntaxError(t *testing.T) {
	dir := writeTask(t, "package bad\n\nmemory: {server: 1,, client: 1}\n")
	_, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateCompileErrorReportsLine(t *testing.T) {
	dir := writeTask(t, `package bad

memory: {server: 1, client: 1}

view: v: {
	type: "Filter"
	input: {type: "Bogus"}
	cond: {type: "BoolConst", value: true}
}
`)
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, ErrCodeInvalidView)
	assert.Contains(t, out, `unknown plan type "Bogus"`)
	assert.Contains(t, out, "line ")
}

func TestValidateSemanticErrorsJSON(t *testing.T) {
	dir := writeTask(t, `package bad

memory: {server: -1, client: 1}

interaction: i: {choices: ["ghost"], latency: {latency: 1, switch_on: 1}}

view: v: {type: "TableSource", name: "t"}
`)
	out, _, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)

	var got []string
	for _, e := range resp.Data.Errors {
		got = append(got, e.Code)
	}
	assert.Equal(t, []string{compiler.ErrNegativeMemory, compiler.ErrUnknownChoice, compiler.ErrUndrivenView}, got)
	assert.Equal(t, compiler.ErrNegativeMemory, resp.Error.Code)
}

func TestValidateVerboseOutput(t *testing.T) {
	out, errOut, err := execute(NewValidateCommand(&RootOptions{Format: "json", Verbose: true}), rangeTaskDir)
	require.NoError(t, err)

	// Verbose logs go to stderr to avoid corrupting JSON output
	assert.Contains(t, errOut, "Found 1 CUE file(s)")
	assert.Contains(t, errOut, "Validating view: range")
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := map[string]string{
		"memory":                          ErrCodeInvalidMemory,
		"memory.client":                   ErrCodeInvalidMemory,
		"view.v.input":                    ErrCodeInvalidView,
		"interaction.i.latency.switch_on": ErrCodeInvalidInteraction,
		"values":                          ErrCodeInvalidBundle,
		"tasks":                           ErrCodeInvalidBundle,
		"cue":                             ErrCodeBuildFailed,
		"other":                           ErrCodeGeneric,
	}
	for field, want := range tests {
		assert.Equal(t, want, MapFieldToErrorCode(field), field)
	}
}
