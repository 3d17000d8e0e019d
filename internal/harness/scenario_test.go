package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dashopt/internal/ir"
)

var (
	rangeTaskDir = filepath.Join("..", "..", "testdata", "tasks", "range")
	fixturePath  = filepath.Join("..", "..", "testdata", "stats", "fixture.yaml")
)

// writeScenario writes a scenario file into a temp directory whose task and
// stats entries point at the shared testdata.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	task, err := filepath.Abs(rangeTaskDir)
	require.NoError(t, err)
	stats, err := filepath.Abs(fixturePath)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "scenario.yaml")
	content := "task: " + task + "\nstats: " + stats + "\n" + body
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
options:
  arbitrary: true
  alpha: 1.5
  selectivity: avg
  selective_tables: ["osm_*"]
overrides:
  memory: {server: 1000, client: 2000}
  latency:
    brush: {latency: 10, switch_on: 100}
assertions:
  - type: status
    status: satisfiable
  - type: memory_ratio
    min: 1
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.True(t, scenario.Options.Arbitrary)
	assert.Equal(t, 1.5, scenario.Options.Alpha)
	assert.Equal(t, "avg", scenario.Options.Selectivity)
	assert.Equal(t, []string{"osm_*"}, scenario.Options.SelectiveTables)
	assert.Equal(t, &ir.Memory{Server: 1000, Client: 2000}, scenario.Overrides.Memory)
	assert.Equal(t, ir.Latency{Latency: 10, SwitchOn: 100}, scenario.Overrides.Latency["brush"])
	require.Len(t, scenario.Assertions, 2)
	require.NotNil(t, scenario.Assertions[1].Min)
	assert.Nil(t, scenario.Assertions[1].Max)
}

func TestLoadScenario_ResolvesRelativePaths(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("..", "..", "testdata", "scenarios", "prefix_sum.yaml"))
	require.NoError(t, err)

	assert.Equal(t, filepath.Clean(rangeTaskDir), filepath.Clean(scenario.Task))
	assert.Equal(t, filepath.Clean(fixturePath), filepath.Clean(scenario.Stats))
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "misspelled assertions"
assertion:
  - type: status
    status: failed
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingTask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: lost
description: "task directory is missing"
task: nowhere
stats: nowhere.yaml
assertions:
  - type: status
    status: failed
`), 0644))

	_, err := LoadScenario(path)
	require.Error(t, err)

	var notFound *PathNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "lost", notFound.Scenario)
	assert.Contains(t, []string{"task", "stats"}, notFound.Field)
	assert.True(t, filepath.IsAbs(notFound.ResolvedPath))
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing name",
			body: "description: d\nassertions: [{type: status, status: failed}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			body: "name: n\nassertions: [{type: status, status: failed}]\n",
			want: "description is required",
		},
		{
			name: "no assertions",
			body: "name: n\ndescription: d\n",
			want: "assertions list is required",
		},
		{
			name: "assertion without type",
			body: "name: n\ndescription: d\nassertions: [{status: failed}]\n",
			want: "assertions[0]: type is required",
		},
		{
			name: "unknown assertion type",
			body: "name: n\ndescription: d\nassertions: [{type: final_state}]\n",
			want: `unknown assertion type "final_state"`,
		},
		{
			name: "unknown status",
			body: "name: n\ndescription: d\nassertions: [{type: status, status: done}]\n",
			want: `unknown status "done"`,
		},
		{
			name: "negative count",
			body: "name: n\ndescription: d\nassertions: [{type: plan_count, count: -1}]\n",
			want: "count must be non-negative",
		},
		{
			name: "plan_keys without keys",
			body: "name: n\ndescription: d\nassertions: [{type: plan_keys}]\n",
			want: "keys list is required",
		},
		{
			name: "plan_contains without operator",
			body: "name: n\ndescription: d\nassertions: [{type: plan_contains}]\n",
			want: "operator is required",
		},
		{
			name: "ratio without bounds",
			body: "name: n\ndescription: d\nassertions: [{type: memory_ratio}]\n",
			want: "min or max is required",
		},
		{
			name: "ratio bounds reversed",
			body: "name: n\ndescription: d\nassertions: [{type: memory_ratio, min: 3, max: 2}]\n",
			want: "min 3 exceeds max 2",
		},
		{
			name: "bad selectivity",
			body: "name: n\ndescription: d\noptions: {selectivity: median}\nassertions: [{type: status, status: failed}]\n",
			want: "options.selectivity",
		},
		{
			name: "exclusive memory overrides",
			body: "name: n\ndescription: d\noverrides: {memory: {server: 1, client: 1}, memory_fraction: 0.5}\nassertions: [{type: status, status: failed}]\n",
			want: "exclusive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDiscoverScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0755))

	paths, err := DiscoverScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml")}, paths)

	_, err = DiscoverScenarios(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestLoadScenarios_DuplicateName(t *testing.T) {
	dir := t.TempDir()
	body, err := os.ReadFile(writeScenario(t, "name: same\ndescription: d\nassertions: [{type: status, status: failed}]\n"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.yaml"), body, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.yaml"), body, 0644))

	_, err = LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario name "same" already used`)
}
