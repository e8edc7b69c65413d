package agent

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts holds the system prompt of every turn stage.
type Prompts struct {
	Classifier       string `yaml:"classifier"`
	Inquire          string `yaml:"inquire"`
	Researcher       string `yaml:"researcher"`
	ResearcherSingle string `yaml:"researcher_single"`
	Writer           string `yaml:"writer"`
	Related          string `yaml:"related"`
}

// LoadPrompts returns the built-in prompts, overlaid with the stages defined
// in path when path is not empty.
func LoadPrompts(path string) (*Prompts, error) {
	p := &Prompts{}
	if err := yaml.Unmarshal(defaultPrompts, p); err != nil {
		return nil, fmt.Errorf("parse built-in prompts: %w", err)
	}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	// Unmarshal into the populated struct: stages missing from the file keep
	// their defaults.
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	return p, nil
}

// DefaultPrompts returns the built-in prompts. They are embedded, so a parse
// failure is a build defect.
func DefaultPrompts() *Prompts {
	p, err := LoadPrompts("")
	if err != nil {
		panic(err)
	}
	return p
}

func render(prompt string, now time.Time) string {
	return strings.TrimSpace(strings.ReplaceAll(prompt, "{{date}}", now.Format("2006-01-02 15:04:05 MST")))
}
