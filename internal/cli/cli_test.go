package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memopipe/internal/cli"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, ws string, args ...string) result {
	t.Helper()
	var out, errb bytes.Buffer
	args = append(args, "-w", ws, "--log-level", "error")
	code := cli.Run(context.Background(), args, &out, &errb)
	return result{code: code, stdout: out.String(), stderr: errb.String()}
}

func decode[T any](t *testing.T, r result) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &v), r.stdout)
	return v
}

type runJSON struct {
	RunID          string            `json:"run_id"`
	Statuses       map[string]string `json:"statuses"`
	ExecutionOrder []string          `json:"execution_order"`
	Failures       map[string]string `json:"failures"`
}

type planJSON struct {
	Task   string `json:"task"`
	Action string `json:"action"`
}

func actions(plan []planJSON) map[string]string {
	out := make(map[string]string, len(plan))
	for _, e := range plan {
		out[e.Task] = e.Action
	}
	return out
}

func initWorkspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	r := run(t, ws, "config", "init", "--example")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.FileExists(t, filepath.Join(ws, "memopipe.yml"))
	assert.FileExists(t, filepath.Join(ws, "pipeline.yml"))
	return ws
}

func TestRunThenRerunSkipsEverything(t *testing.T) {
	ws := initWorkspace(t)

	r := run(t, ws, "run", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	first := decode[runJSON](t, r)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, []string{"samples_10", "samples_100", "samples_1000", "summary", "differences", "figure"}, first.ExecutionOrder)
	for name, st := range first.Statuses {
		assert.Equal(t, "DONE", st, name)
	}

	r = run(t, ws, "run", "--json", "-j", "4")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	second := decode[runJSON](t, r)
	assert.Empty(t, second.ExecutionOrder)
	assert.Len(t, second.Statuses, 6)
	for name, st := range second.Statuses {
		assert.Equal(t, "SKIPPED", st, name)
	}

	r = run(t, ws, "run")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "samples_1000")
}

func TestInspectionCommands(t *testing.T) {
	ws := initWorkspace(t)

	r := run(t, ws, "status", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	for name, a := range actions(decode[[]planJSON](t, r)) {
		assert.Equal(t, "run", a, name)
	}

	require.Equal(t, cli.ExitSuccess, run(t, ws, "run").code)

	r = run(t, ws, "status", "--json")
	for name, a := range actions(decode[[]planJSON](t, r)) {
		assert.Equal(t, "skip", a, name)
	}

	r = run(t, ws, "graph", "--dot")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "digraph memopipe {")
	assert.Contains(t, r.stdout, `"summary" -> "differences";`)

	r = run(t, ws, "graph", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	edges := decode[[]map[string]string](t, r)
	assert.Len(t, edges, 7)

	r = run(t, ws, "manifest", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	manifest := decode[map[string]map[string]any](t, r)
	require.Contains(t, manifest, "figure")
	assert.Equal(t, "histogram@v1", manifest["figure"]["identity"])

	r = run(t, ws, "metadata", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Len(t, decode[map[string]map[string]any](t, r), 6)

	r = run(t, ws, "output", "figure")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "samples_1000 (n=1000)")

	r = run(t, ws, "output", "summary", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, `"known"`)
}

func TestInvalidateAndPrune(t *testing.T) {
	ws := initWorkspace(t)
	require.Equal(t, cli.ExitSuccess, run(t, ws, "run").code)

	r := run(t, ws, "invalidate", "summary", "--downstream")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "invalidated summary, differences")

	r = run(t, ws, "status", "--json")
	plan := actions(decode[[]planJSON](t, r))
	assert.Equal(t, "run", plan["summary"])
	assert.Equal(t, "run", plan["differences"])
	assert.Equal(t, "skip", plan["figure"])

	r = run(t, ws, "run", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Equal(t, []string{"summary", "differences"}, decode[runJSON](t, r).ExecutionOrder)

	r = run(t, ws, "prune")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "nothing to prune")

	pipeline := `tasks:
  - name: samples_10
    op: normal_samples
    params: {n: 10, mean: 10, sd: 2, seed: 1}
`
	require.NoError(t, os.WriteFile(filepath.Join(ws, "pipeline.yml"), []byte(pipeline), 0o644))

	r = run(t, ws, "prune", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	removed := decode[map[string][]string](t, r)["removed"]
	assert.ElementsMatch(t, []string{"samples_100", "samples_1000", "summary", "differences", "figure"}, removed)

	r = run(t, ws, "invalidate", "nope")
	assert.Equal(t, cli.ExitInvalidInvocation, r.code)
}

func TestHistory(t *testing.T) {
	ws := initWorkspace(t)
	require.Equal(t, cli.ExitSuccess, run(t, ws, "run").code)
	require.Equal(t, cli.ExitSuccess, run(t, ws, "run").code)

	r := run(t, ws, "history", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	runs := decode[[]map[string]any](t, r)
	require.Len(t, runs, 2)
	assert.Equal(t, "succeeded", runs[0]["status"])

	r = run(t, ws, "history", "--json", "--limit", "1")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Len(t, decode[[]map[string]any](t, r), 1)

	r = run(t, ws, "history", "--limit", "-1")
	assert.Equal(t, cli.ExitInvalidInvocation, r.code)
}

func TestFailedTasksExitOne(t *testing.T) {
	ws := t.TempDir()
	pipeline := `tasks:
  - {name: one, op: const, params: {value: 1}}
  - {name: zero, op: const, params: {value: 0}}
  - {name: ratio, op: div, inputs: [one, zero]}
  - {name: scaled, op: mul, inputs: [ratio, one]}
  - {name: total, op: add, inputs: [one, "again=one"]}
`
	require.NoError(t, os.WriteFile(filepath.Join(ws, "pipeline.yml"), []byte(pipeline), 0o644))

	r := run(t, ws, "run", "--json")
	require.Equal(t, cli.ExitTasksFailed, r.code, r.stderr)
	rep := decode[runJSON](t, r)
	assert.Equal(t, "FAILED", rep.Statuses["ratio"])
	assert.Equal(t, "FAILED", rep.Statuses["scaled"])
	assert.Equal(t, "DONE", rep.Statuses["total"])
	assert.Contains(t, rep.Failures["ratio"], "division by zero")
	assert.Contains(t, r.stderr, "task(s) failed")

	r = run(t, ws, "history", "--json")
	runs := decode[[]map[string]any](t, r)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0]["status"])
}

func TestInvocationErrors(t *testing.T) {
	ws := initWorkspace(t)

	assert.Equal(t, cli.ExitInvalidInvocation, run(t, ws, "bogus").code)
	assert.Equal(t, cli.ExitInvalidInvocation, run(t, ws, "output").code)
	assert.Equal(t, cli.ExitInvalidInvocation, run(t, ws, "invalidate").code)
	assert.Equal(t, cli.ExitInvalidInvocation, run(t, ws, "run", "--no-such-flag").code)
	assert.Equal(t, cli.ExitInvalidInvocation, run(t, ws, "output", "missing").code)
	assert.Equal(t, cli.ExitInvalidInvocation, run(t, ws, "output", "figure").code, "nothing stored yet")
	assert.Equal(t, cli.ExitInvalidInvocation, run(t, filepath.Join(ws, "nope"), "status").code)
	assert.Equal(t, cli.ExitInvalidInvocation, run(t, ws, "config", "init").code, "refuses to overwrite")
	assert.Equal(t, cli.ExitSuccess, run(t, ws, "config", "init", "--force").code)
}

func TestConfigErrors(t *testing.T) {
	ws := t.TempDir()

	r := run(t, ws, "status")
	assert.Equal(t, cli.ExitConfigError, r.code)
	assert.Contains(t, r.stderr, "pipeline.yml")

	r = run(t, ws, "status", "--backend", "tape")
	assert.Equal(t, cli.ExitConfigError, r.code)

	require.NoError(t, os.WriteFile(filepath.Join(ws, "memopipe.yml"), []byte("store: {flavour: x}\n"), 0o644))
	assert.Equal(t, cli.ExitConfigError, run(t, ws, "status").code)
}

func TestEnvironmentOverrides(t *testing.T) {
	ws := initWorkspace(t)
	t.Setenv("MEMOPIPE_STORE_BACKEND", "sqlite")
	t.Setenv("MEMOPIPE_STORE_ROOT", ".memopipe/sql")

	require.Equal(t, cli.ExitSuccess, run(t, ws, "run").code)
	assert.FileExists(t, filepath.Join(ws, ".memopipe", "sql", "results.db"))

	r := run(t, ws, "config", "show")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "backend: sqlite")
}

func TestEnvironmentOverridesKeysWithoutFlags(t *testing.T) {
	ws := initWorkspace(t)
	t.Setenv("MEMOPIPE_HISTORY_KEEP", "1")

	require.Equal(t, cli.ExitSuccess, run(t, ws, "run").code)
	require.Equal(t, cli.ExitSuccess, run(t, ws, "run").code)

	r := run(t, ws, "history", "--json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Len(t, decode[[]map[string]any](t, r), 1)
}

func TestDotEnvIsLoaded(t *testing.T) {
	ws := initWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".env"), []byte("MEMOPIPE_SERVER_JWT_SECRET=hunter2\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("MEMOPIPE_SERVER_JWT_SECRET") })

	r := run(t, ws, "config", "show")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "********")
	assert.NotContains(t, r.stdout, "hunter2")
}

func TestTraceFile(t *testing.T) {
	ws := initWorkspace(t)

	r := run(t, ws, "run", "--trace", "out/trace.json")
	require.Equal(t, cli.ExitSuccess, r.code, r.stderr)
	b, err := os.ReadFile(filepath.Join(ws, "out", "trace.json"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "TaskExecuted")
	assert.Contains(t, string(b), "summary")
}
