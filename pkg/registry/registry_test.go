package registry

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleRegistry = `
candidates:
  - provider: openai
    model: gpt-4o
    capabilities:
      vision: true
      tool_use: true
      max_context: 128000
      max_output_tokens: 16384
    pricing:
      input_per_1m: 2.50
      output_per_1m: 10.00
  - provider: anthropic
    model: claude-sonnet
    capabilities:
      vision: true
      tool_use: true
      max_context: 200000
      max_output_tokens: 8192
    pricing:
      input_per_1m: 3.00
      output_per_1m: 15.00
`

func writeRegistryFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write registry file: %v", err)
	}
	return path
}

func TestNewRegistry(t *testing.T) {
	path := writeRegistryFile(t, sampleRegistry)

	reg, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if reg.Len() != 2 {
		t.Fatalf("Expected 2 candidates, got %d", reg.Len())
	}

	// Candidates are sorted by key for deterministic iteration.
	candidates := reg.Candidates()
	if candidates[0].Provider != "anthropic" || candidates[1].Provider != "openai" {
		t.Errorf("Expected sorted order [anthropic, openai], got [%s, %s]",
			candidates[0].Provider, candidates[1].Provider)
	}

	c := reg.Lookup("openai", "gpt-4o")
	if c == nil {
		t.Fatal("Expected lookup to find openai/gpt-4o")
	}
	if !c.Capabilities.Vision {
		t.Error("Expected vision capability")
	}
	if c.Pricing.OutputPer1M != 10.00 {
		t.Errorf("Expected output pricing 10.00, got %v", c.Pricing.OutputPer1M)
	}

	if reg.Lookup("openai", "nonexistent") != nil {
		t.Error("Expected nil for unknown model")
	}
}

func TestEstimateCost(t *testing.T) {
	c := &Candidate{
		Provider: "anthropic",
		Model:    "claude-sonnet",
		Pricing:  Pricing{InputPer1M: 3.00, OutputPer1M: 15.00},
	}

	// 1000 input + 500 output tokens.
	got := c.EstimateCost(1000, 500)
	want := 1000.0/1e6*3.00 + 500.0/1e6*15.00
	if diff := got - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("EstimateCost = %v, want %v", got, want)
	}
}

func TestLoadCandidates_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", "candidates: []\n"},
		{"missing provider", "candidates:\n  - model: m1\n"},
		{"negative pricing", `
candidates:
  - provider: p1
    model: m1
    pricing:
      input_per_1m: -1.0
`},
		{"duplicate entry", `
candidates:
  - provider: p1
    model: m1
  - provider: p1
    model: m1
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRegistryFile(t, tt.content)
			if _, err := LoadCandidates(path); err == nil {
				t.Error("Expected load error")
			}
		})
	}
}

func TestReload_KeepsPreviousOnFailure(t *testing.T) {
	path := writeRegistryFile(t, sampleRegistry)

	reg, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	// Corrupt the file; reload must fail but the old generation stays.
	if err := os.WriteFile(path, []byte("candidates: []\n"), 0o644); err != nil {
		t.Fatalf("failed to corrupt file: %v", err)
	}

	if err := reg.Reload(); err == nil {
		t.Error("Expected reload error for empty candidate set")
	}
	if reg.Len() != 2 {
		t.Errorf("Expected previous generation to survive, got %d candidates", reg.Len())
	}
}

func TestStaticRegistry(t *testing.T) {
	reg, err := NewStaticRegistry([]Candidate{
		{Provider: "p1", Model: "m1"},
	})
	if err != nil {
		t.Fatalf("NewStaticRegistry failed: %v", err)
	}
	if reg.Lookup("p1", "m1") == nil {
		t.Error("Expected lookup to succeed")
	}
	if err := reg.Reload(); err == nil {
		t.Error("Expected reload of static registry to fail")
	}
}
