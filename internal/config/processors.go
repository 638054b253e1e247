package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProcessorConfig describes one payment rail connection.
type ProcessorConfig struct {
	Name          string        `yaml:"name"`
	Method        string        `yaml:"method"`
	Kind          string        `yaml:"kind"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
}

type processorsFile struct {
	Processors []ProcessorConfig `yaml:"processors"`
}

// LoadProcessors reads the processor file at path. ${VAR} references are
// expanded from the environment before parsing.
func LoadProcessors(path string) ([]ProcessorConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read processors file: %w", err)
	}
	return ParseProcessors([]byte(os.ExpandEnv(string(raw))))
}

func ParseProcessors(data []byte) ([]ProcessorConfig, error) {
	var f processorsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse processors file: %w", err)
	}

	seen := make(map[string]bool)
	for i, p := range f.Processors {
		if p.Name == "" {
			return nil, fmt.Errorf("processor #%d: name is required", i)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("processor %s: duplicate name", p.Name)
		}
		seen[p.Name] = true
		switch p.Method {
		case "card", "bank_transfer", "crypto":
		default:
			return nil, fmt.Errorf("processor %s: unknown method %q", p.Name, p.Method)
		}
		if p.Kind == "" {
			f.Processors[i].Kind = p.Method
		}
		if f.Processors[i].Kind != "sandbox" && p.BaseURL == "" {
			return nil, fmt.Errorf("processor %s: base_url is required", p.Name)
		}
	}
	return f.Processors, nil
}
