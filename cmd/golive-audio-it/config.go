package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yaml "go.yaml.in/yaml/v2"
)

// itConfig drives a scripted run of the tester. Flags override whatever
// the file sets.
type itConfig struct {
	Endpoint          string   `yaml:"endpoint" json:"endpoint"`
	Model             string   `yaml:"model" json:"model"`
	Voice             string   `yaml:"voice" json:"voice"`
	SystemInstruction string   `yaml:"system_instruction" json:"system_instruction"`
	InputPCM          string   `yaml:"input_pcm" json:"input_pcm"`
	Script            []string `yaml:"script" json:"script"`
	TurnTimeoutMS     int      `yaml:"turn_timeout_ms" json:"turn_timeout_ms"`
	MetricsAddr       string   `yaml:"metrics_addr" json:"metrics_addr"`

	EnableResumption    bool `yaml:"enable_resumption" json:"enable_resumption"`
	InputTranscription  bool `yaml:"input_transcription" json:"input_transcription"`
	OutputTranscription bool `yaml:"output_transcription" json:"output_transcription"`
}

func defaultITConfig() *itConfig {
	return &itConfig{
		Model:               "models/gemini-2.0-flash-live-001",
		TurnTimeoutMS:       30000,
		OutputTranscription: true,
	}
}

// loadITConfig loads tester configuration from a YAML or JSON file.
// If path is empty, it attempts to read GOLIVE_CONFIG; if still empty,
// defaults are returned.
func loadITConfig(path string) (*itConfig, error) {
	if path == "" {
		path = os.Getenv("GOLIVE_CONFIG")
	}
	if path == "" {
		return defaultITConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaultITConfig()
	ext := filepath.Ext(path)
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
		return cfg, nil
	}
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err == nil {
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return cfg, nil
	}

	return nil, fmt.Errorf("unsupported config format: %s", ext)
}

func (c *itConfig) turnTimeout() time.Duration {
	if c.TurnTimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TurnTimeoutMS) * time.Millisecond
}
