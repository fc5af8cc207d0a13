// Package config holds the agent profile: the candidate models, call
// parameters and per-endpoint rate limits. Profiles are YAML; any field a
// profile omits keeps its default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"support-agent/internal/gateway"
)

// Profile is the root agent configuration.
type Profile struct {
	Candidates       []gateway.Candidate `yaml:"candidates"`
	Temperature      float64             `yaml:"temperature"`
	CandidateTimeout time.Duration       `yaml:"candidate_timeout"`
	RateWindow       time.Duration       `yaml:"rate_window"`
	MaxMessageLen    int                 `yaml:"max_message_len"`
	Deflection       string              `yaml:"deflection"`
	Support          EndpointConfig      `yaml:"support"`
	Scoping          EndpointConfig      `yaml:"scoping"`
}

// EndpointConfig is the per-variant part of the profile.
type EndpointConfig struct {
	RateLimit int `yaml:"rate_limit"`
	MaxTokens int `yaml:"max_tokens"`
}

func Defaults() *Profile {
	return &Profile{
		Candidates: []gateway.Candidate{
			{Model: "moonshotai/kimi-k2-instruct"},
			{Model: "nvidia/llama-3.1-nemotron-ultra-253b-v1"},
			{Model: "meta/llama-3.1-70b-instruct"},
			{Model: "meta/llama-3.2-90b-vision-instruct", Vision: true},
		},
		Temperature:      0.7,
		CandidateTimeout: gateway.DefaultCandidateTimeout,
		RateWindow:       time.Minute,
		MaxMessageLen:    2000,
		Support: EndpointConfig{
			RateLimit: 20,
			MaxTokens: 1024,
		},
		Scoping: EndpointConfig{
			RateLimit: 10,
			MaxTokens: 1500,
		},
	}
}

// Parse decodes a YAML profile on top of Defaults and validates it.
func Parse(data []byte) (*Profile, error) {
	p := Defaults()
	if strings.TrimSpace(string(data)) != "" {
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("config: parse profile: %w", err)
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads and parses the profile at path. An empty path yields Defaults.
func Load(path string) (*Profile, error) {
	if strings.TrimSpace(path) == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile: %w", err)
	}
	return Parse(data)
}

func (p *Profile) Validate() error {
	if len(p.Candidates) == 0 {
		return errors.New("config: at least one candidate model is required")
	}
	seen := make(map[string]bool, len(p.Candidates))
	for i, c := range p.Candidates {
		model := strings.TrimSpace(c.Model)
		if model == "" {
			return fmt.Errorf("config: candidate %d has no model", i)
		}
		if seen[model] {
			return fmt.Errorf("config: duplicate candidate %q", model)
		}
		seen[model] = true
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("config: temperature %.2f out of range [0, 2]", p.Temperature)
	}
	if p.CandidateTimeout <= 0 {
		return errors.New("config: candidate_timeout must be positive")
	}
	if p.RateWindow <= 0 {
		return errors.New("config: rate_window must be positive")
	}
	if p.MaxMessageLen <= 0 {
		return errors.New("config: max_message_len must be positive")
	}
	for name, ep := range map[string]EndpointConfig{"support": p.Support, "scoping": p.Scoping} {
		if ep.RateLimit <= 0 {
			return fmt.Errorf("config: %s.rate_limit must be positive", name)
		}
		if ep.MaxTokens <= 0 {
			return fmt.Errorf("config: %s.max_tokens must be positive", name)
		}
	}
	return nil
}
