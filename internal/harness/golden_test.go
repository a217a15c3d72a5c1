package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_SingleMessage(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/single-message.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestAssertGoldenIn_FreshFixture(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/gap-fill.yaml")
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)

	data, err := Snapshot(scenario, result)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, scenario.Name+".golden"), data, 0o644))
	require.NoError(t, assertGoldenIn(t, dir, scenario, result))
}

func TestSnapshot_Content(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/single-message.yaml")
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)

	data, err := Snapshot(scenario, result)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"scenario_name":"single-message"`)
	assert.Contains(t, s, `"timestamp_ms":10000`)
	assert.Contains(t, s, `"kind":"message_inserted"`)
	assert.NotContains(t, s, "\n", "canonical JSON is a single line")
}

func TestSnapshot_SortsKeys(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/delivery.yaml")
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)

	data, err := Snapshot(scenario, result)
	require.NoError(t, err)

	s := string(data)
	notifications := strings.Index(s, `"notifications"`)
	name := strings.Index(s, `"scenario_name"`)
	timeline := strings.Index(s, `"timeline"`)
	require.True(t, notifications >= 0 && name >= 0 && timeline >= 0)
	assert.Less(t, notifications, name)
	assert.Less(t, name, timeline)
	assert.Contains(t, s, `"delivery":"read"`)
}
