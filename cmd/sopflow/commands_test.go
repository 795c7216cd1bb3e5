package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sopflow/internal/store"
)

const noteSOP = `
steps:
  - step_number: 1
    description: write the note
    agent_type: CRUDAgent
    execution_mode: static
    action_type: {agent: CRUDAgent, tool: create_file}
    params: {filename: note, content: hello}
  - step_number: 2
    description: remove the note
    agent_type: CRUDAgent
    execution_mode: static
    action_type: {agent: CRUDAgent, tool: delete_file}
    params: {filename: note.txt}
final_target: finished
`

// cliEnv isolates the CLI from the user's settings and returns the
// directory the file tools are confined to.
func cliEnv(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := filepath.Join(root, "files")
	require.NoError(t, os.MkdirAll(files, 0o755))

	t.Setenv("HOME", root)
	t.Setenv("SOPFLOW_DB_PATH", filepath.Join(root, "db", "sopflow.db"))
	t.Setenv("SOPFLOW_FS_ROOT", files)
	t.Setenv("SOPFLOW_HITL_TOOLS", "delete_file")
	t.Setenv("SOPFLOW_LOG_LEVEL", "error")
	return files
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

type outcome struct {
	SessionID string              `json:"session_id"`
	Status    store.SessionStatus `json:"session_status"`
}

func TestCLI_RunPauseAndReject(t *testing.T) {
	files := cliEnv(t)
	sopPath := filepath.Join(t.TempDir(), "note.yaml")
	require.NoError(t, os.WriteFile(sopPath, []byte(noteSOP), 0o644))

	out, err := execute(t, "run", sopPath, "--intent", "write then remove a note")
	require.NoError(t, err)
	var paused outcome
	require.NoError(t, json.Unmarshal([]byte(out), &paused))
	assert.Equal(t, store.SessionWaitingHITL, paused.Status)
	assert.FileExists(t, filepath.Join(files, "note.txt"))

	out, err = execute(t, "status", paused.SessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "waiting_hitl")

	out, err = execute(t, "resume", paused.SessionID, "--decision", "reject")
	require.NoError(t, err)
	var done outcome
	require.NoError(t, json.Unmarshal([]byte(out), &done))
	assert.Equal(t, paused.SessionID, done.SessionID)
	assert.Equal(t, store.SessionDone, done.Status)
	assert.FileExists(t, filepath.Join(files, "note.txt"))

	_, err = execute(t, "resume", paused.SessionID, "--decision", "approve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not waiting for a decision")
}

func TestCLI_RunPauseAndApprove(t *testing.T) {
	files := cliEnv(t)
	sopPath := filepath.Join(t.TempDir(), "note.yaml")
	require.NoError(t, os.WriteFile(sopPath, []byte(noteSOP), 0o644))

	out, err := execute(t, "run", sopPath)
	require.NoError(t, err)
	var paused outcome
	require.NoError(t, json.Unmarshal([]byte(out), &paused))

	_, err = execute(t, "resume", paused.SessionID, "--decision", "approve")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(files, "note.txt"))
}

func TestCLI_Validate(t *testing.T) {
	cliEnv(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(noteSOP), 0o644))
	_, err := execute(t, "validate", good)
	require.NoError(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`
steps:
  - step_number: 1
    agent_type: NoSuchAgent
`), 0o644))
	out, err := execute(t, "validate", bad)
	require.Error(t, err)
	assert.Contains(t, out, "AGENT_NOT_REGISTERED")
}

func TestCLI_RunMissingFile(t *testing.T) {
	cliEnv(t)
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read SOP file")
}

func TestReadDocument_Stdin(t *testing.T) {
	data, err := readDocument(strings.NewReader("steps: []"), "-")
	require.NoError(t, err)
	assert.Equal(t, "steps: []", string(data))
}

func TestOutcomeError(t *testing.T) {
	assert.NoError(t, outcomeError(store.SessionDone, ""))
	assert.NoError(t, outcomeError(store.SessionWaitingHITL, ""))
	assert.EqualError(t, outcomeError(store.SessionFailed, ""), "[EXECUTION_ERROR] run failed")
	assert.EqualError(t, outcomeError(store.SessionFailed, "boom"), "[EXECUTION_ERROR] boom")
}

func TestCLI_Diagram(t *testing.T) {
	cliEnv(t)
	t.Cleanup(func() { diagramFlags.session, diagramFlags.noStatus = "", false })
	sopPath := filepath.Join(t.TempDir(), "note.yaml")
	require.NoError(t, os.WriteFile(sopPath, []byte(noteSOP), 0o644))

	out, err := execute(t, "diagram", sopPath)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, `step_2(["2. remove the note (CRUDAgent.delete_file)"])`)
	assert.NotContains(t, out, "class step_")

	out, err = execute(t, "run", sopPath, "--intent", "note")
	require.NoError(t, err)
	var paused outcome
	require.NoError(t, json.Unmarshal([]byte(out), &paused))

	out, err = execute(t, "diagram", "--session", paused.SessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "%% note")
	assert.Contains(t, out, "class step_1 completed")
	assert.Contains(t, out, "class step_2 suspended")

	_, err = execute(t, "diagram", sopPath, "--session", paused.SessionID)
	require.Error(t, err)
}
