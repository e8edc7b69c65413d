package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPrompts_AllStagesPresent(t *testing.T) {
	p := DefaultPrompts()
	for name, s := range map[string]string{
		"classifier": p.Classifier, "inquire": p.Inquire, "researcher": p.Researcher,
		"researcher_single": p.ResearcherSingle, "writer": p.Writer, "related": p.Related,
	} {
		assert.NotEmpty(t, s, name)
	}
	assert.Contains(t, p.Researcher, "{{date}}")
}

func TestLoadPrompts_OverlayKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("writer: |\n  Write like a pirate.\n"), 0o644))

	p, err := LoadPrompts(path)
	require.NoError(t, err)
	assert.Equal(t, "Write like a pirate.\n", p.Writer)
	assert.Equal(t, DefaultPrompts().Classifier, p.Classifier)
}

func TestLoadPrompts_Errors(t *testing.T) {
	_, err := LoadPrompts(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("writer: [unclosed"), 0o644))
	_, err = LoadPrompts(path)
	assert.Error(t, err)
}

func TestRender_InjectsDate(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "Today: 2026-10-16 09:30:00 UTC", render("Today: {{date}}\n", now))
}
