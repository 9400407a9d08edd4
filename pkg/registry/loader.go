package registry

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// candidateFile is the on-disk shape of the registry file.
type candidateFile struct {
	Candidates []Candidate `yaml:"candidates"`
}

// LoadCandidates reads and validates the candidate registry file at path.
// All entries are validated before any are returned; a file with one bad
// pricing entry is rejected as a whole so configuration errors surface
// once at load time rather than silently skewing routing.
func LoadCandidates(path string) ([]Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file %q: %w", path, err)
	}

	var file candidateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry file %q: %w", path, err)
	}

	if err := validateCandidates(file.Candidates); err != nil {
		return nil, fmt.Errorf("registry file %q: %w", path, err)
	}

	return file.Candidates, nil
}

// validateCandidates checks every entry and returns a combined error.
func validateCandidates(candidates []Candidate) error {
	if len(candidates) == 0 {
		return fmt.Errorf("no candidates defined")
	}

	var errs []string
	seen := make(map[string]bool, len(candidates))

	for i, c := range candidates {
		if c.Provider == "" {
			errs = append(errs, fmt.Sprintf("candidates[%d]: provider is required", i))
		}
		if c.Model == "" {
			errs = append(errs, fmt.Sprintf("candidates[%d]: model is required", i))
		}
		if seen[c.Key()] {
			errs = append(errs, fmt.Sprintf("candidates[%d]: duplicate entry %q", i, c.Key()))
		}
		seen[c.Key()] = true

		if c.Pricing.InputPer1M < 0 || c.Pricing.OutputPer1M < 0 {
			errs = append(errs, fmt.Sprintf(
				"candidates[%d] (%s): pricing must be >= 0", i, c.Key()))
		}
		if c.Capabilities.MaxContext < 0 || c.Capabilities.MaxOutputTokens < 0 {
			errs = append(errs, fmt.Sprintf(
				"candidates[%d] (%s): capability limits must be >= 0", i, c.Key()))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d invalid candidate(s):\n  - %s",
			len(errs), strings.Join(errs, "\n  - "))
	}
	return nil
}
