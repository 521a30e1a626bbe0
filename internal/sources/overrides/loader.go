package overrides

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// templateVar matches {{VAR}} placeholders.
var templateVar = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Loader handles loading and parsing of the overrides file
type Loader struct {
	filePath string
}

// NewLoader creates a new overrides loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string { return l.filePath }

// Load reads and parses the overrides file
func (l *Loader) Load() (Config, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read overrides file: %w", err)
	}

	data = expandTemplateVariables(data)

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse overrides yaml: %w", err)
	}

	return config, nil
}

// expandTemplateVariables replaces {{VAR}} with the VAR environment
// variable, empty when unset.
// Example: {{WEB_TIMEOUT}} -> 30s
func expandTemplateVariables(data []byte) []byte {
	return templateVar.ReplaceAllFunc(data, func(m []byte) []byte {
		name := templateVar.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
