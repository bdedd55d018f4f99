package deploy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxflow/workflow-engine/internal/rulebase"
)

func loadSingleBinding(t *testing.T) *rulebase.BindingSet {
	t.Helper()
	bs, err := rulebase.LoadBindings([]byte(`[{"placeId":"p1","service":"ServiceA","operation":"op1","returnAttribute":"token","inputs":["a"]}]`))
	require.NoError(t, err)
	return bs
}

func TestWriteBindingsWrapsInRulebaseElement(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeBindings(filepath.Join(dir, "RuleFolder"), "v1", loadSingleBinding(t)))

	path := filepath.Join(dir, "RuleFolder.v1", "Service.ruleml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, "<Rulebase>"))
	assert.True(t, strings.HasSuffix(strings.TrimRight(content, "\n"), "</Rulebase>"))
}

func TestWriteBindingsAppendsJustBeforeClosingTag(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeBindings(filepath.Join(dir, "RuleFolder"), "v1", loadSingleBinding(t)))

	path := filepath.Join(dir, "RuleFolder.v1", "Service.ruleml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	markerIdx := strings.Index(content, bindingsMarkerBegin)
	closeIdx := strings.Index(content, rulebaseClose)
	require.NotEqual(t, -1, markerIdx)
	require.NotEqual(t, -1, closeIdx)
	assert.Less(t, markerIdx, closeIdx, "generated bindings must be appended before </Rulebase>")
}

func TestWriteBindingsIsOnceOnlyPerVersion(t *testing.T) {
	dir := t.TempDir()
	ruleFolder := filepath.Join(dir, "RuleFolder")
	require.NoError(t, writeBindings(ruleFolder, "v1", loadSingleBinding(t)))
	require.NoError(t, writeBindings(ruleFolder, "v1", loadSingleBinding(t)))

	path := filepath.Join(dir, "RuleFolder.v1", "Service.ruleml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Equal(t, 1, strings.Count(content, bindingsMarkerBegin), "re-running a deploy for the same version must not duplicate the generated bindings")
	assert.Equal(t, 1, strings.Count(content, `service="ServiceA"`))
}

func TestWriteBindingsPreservesExistingRulebaseContent(t *testing.T) {
	dir := t.TempDir()
	ruleDir := filepath.Join(dir, "RuleFolder.v1")
	require.NoError(t, os.MkdirAll(ruleDir, 0o755))
	path := filepath.Join(ruleDir, "Service.ruleml")
	require.NoError(t, os.WriteFile(path, []byte("<Rulebase>\n  <handAuthored placeId=\"existing\"/>\n</Rulebase>\n"), 0o644))

	require.NoError(t, writeBindings(filepath.Join(dir, "RuleFolder"), "v1", loadSingleBinding(t)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `placeId="existing"`, "an existing hand-authored Service.ruleml must not be clobbered")
	assert.Contains(t, content, `service="ServiceA"`)
}
