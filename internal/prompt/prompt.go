// Package prompt loads the agent instructions file.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type document struct {
	Instructions string `yaml:"instructions"`
}

// Read parses the instructions from a YAML prompt file.
func Read(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("parse prompt file %s: %w", path, err)
	}
	return strings.TrimSpace(doc.Instructions), nil
}

// Load is Read that never fails: a missing or malformed file yields empty
// instructions and a logged warning.
func Load(path string, logger *zap.Logger) string {
	if logger == nil {
		logger = zap.NewNop()
	}
	instructions, err := Read(path)
	if err != nil {
		logger.Warn("prompt file unavailable, using empty instructions",
			zap.String("path", path),
			zap.Error(err),
		)
		return ""
	}
	if instructions == "" {
		logger.Warn("prompt file has no instructions", zap.String("path", path))
	}
	return instructions
}
