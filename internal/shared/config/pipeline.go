package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	pipelineEnvPrefix  = "RADAR_PIPELINE_"
	maxPipelineFileLen = 256 * 1024
)

// Pipeline is the immutable tuning table for the analysis worker and provider chain.
type Pipeline struct {
	MaxAttempts    int
	Concurrency    int
	RequeueBackoff []time.Duration
	LeaseTimeout   time.Duration
	HealthRetries  int
	Providers      []ProviderSpec
}

// ProviderSpec configures one entry of the provider chain, in priority order.
type ProviderSpec struct {
	Name          string
	MaxRetries    int
	Backoff       []time.Duration
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

type rawPipeline struct {
	MaxAttempts    int           `koanf:"max_attempts"`
	Concurrency    int           `koanf:"concurrency"`
	RequeueBackoff []string      `koanf:"requeue_backoff"`
	LeaseTimeout   string        `koanf:"lease_timeout"`
	HealthRetries  int           `koanf:"health_retries"`
	Providers      []rawProvider `koanf:"providers"`
}

type rawProvider struct {
	Name          string   `koanf:"name"`
	MaxRetries    int      `koanf:"max_retries"`
	Backoff       []string `koanf:"backoff"`
	Timeout       string   `koanf:"timeout"`
	RatePerSecond float64  `koanf:"rate_per_second"`
	Burst         int      `koanf:"burst"`
}

const defaultPipelineYAML = `
max_attempts: 3
concurrency: 4
requeue_backoff: [30s, 2m, 5m]
lease_timeout: 15m
health_retries: 2
providers:
  - name: openai
    max_retries: 2
    backoff: [1s, 4s]
    timeout: 60s
    rate_per_second: 5
    burst: 5
  - name: anthropic
    max_retries: 1
    backoff: [2s]
    timeout: 90s
    rate_per_second: 2
    burst: 2
`

// DefaultPipeline returns the built-in pipeline table.
func DefaultPipeline() Pipeline {
	p, err := parsePipeline([]byte(defaultPipelineYAML), nil)
	if err != nil {
		panic(fmt.Sprintf("default pipeline config: %v", err))
	}
	return p
}

// LoadPipeline reads the pipeline table. An empty path uses the built-in defaults;
// RADAR_PIPELINE_* environment variables override scalar keys either way.
func LoadPipeline(path string) (Pipeline, error) {
	content := []byte(defaultPipelineYAML)
	if strings.TrimSpace(path) != "" {
		data, err := readPipelineFile(path)
		if err != nil {
			return Pipeline{}, err
		}
		content = data
	}
	return parsePipeline(content, env.Provider(pipelineEnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, pipelineEnvPrefix))
	}))
}

func readPipelineFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline config %s: %w", path, err)
	}
	if info.Size() > maxPipelineFileLen {
		return nil, fmt.Errorf("pipeline config %s exceeds %d bytes", path, maxPipelineFileLen)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline config %s: %w", path, err)
	}
	return data, nil
}

func parsePipeline(content []byte, overrides koanf.Provider) (Pipeline, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return Pipeline{}, fmt.Errorf("parse pipeline config: %w", err)
	}
	if overrides != nil {
		if err := k.Load(overrides, nil); err != nil {
			return Pipeline{}, fmt.Errorf("load pipeline env overrides: %w", err)
		}
	}

	var raw rawPipeline
	if err := k.Unmarshal("", &raw); err != nil {
		return Pipeline{}, fmt.Errorf("decode pipeline config: %w", err)
	}
	return raw.resolve()
}

func (r rawPipeline) resolve() (Pipeline, error) {
	p := Pipeline{
		MaxAttempts:   r.MaxAttempts,
		Concurrency:   r.Concurrency,
		HealthRetries: r.HealthRetries,
	}
	var err error
	if p.RequeueBackoff, err = parseDurations("requeue_backoff", r.RequeueBackoff); err != nil {
		return Pipeline{}, err
	}
	if p.LeaseTimeout, err = parseDuration("lease_timeout", r.LeaseTimeout, 15*time.Minute); err != nil {
		return Pipeline{}, err
	}
	for i, rp := range r.Providers {
		spec := ProviderSpec{
			Name:          strings.ToLower(strings.TrimSpace(rp.Name)),
			MaxRetries:    rp.MaxRetries,
			RatePerSecond: rp.RatePerSecond,
			Burst:         rp.Burst,
		}
		if spec.Backoff, err = parseDurations(fmt.Sprintf("providers[%d].backoff", i), rp.Backoff); err != nil {
			return Pipeline{}, err
		}
		if spec.Timeout, err = parseDuration(fmt.Sprintf("providers[%d].timeout", i), rp.Timeout, 60*time.Second); err != nil {
			return Pipeline{}, err
		}
		p.Providers = append(p.Providers, spec)
	}
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// Validate checks the table for values the worker cannot run with.
func (p Pipeline) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("pipeline max_attempts must be >= 1")
	}
	if p.Concurrency < 1 {
		return errors.New("pipeline concurrency must be >= 1")
	}
	if p.HealthRetries < 0 {
		return errors.New("pipeline health_retries must be >= 0")
	}
	if len(p.Providers) == 0 {
		return errors.New("pipeline requires at least one provider")
	}
	seen := make(map[string]bool, len(p.Providers))
	for i, spec := range p.Providers {
		if spec.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[spec.Name] {
			return fmt.Errorf("providers[%d].name %q is duplicated", i, spec.Name)
		}
		seen[spec.Name] = true
		if spec.MaxRetries < 0 {
			return fmt.Errorf("providers[%d].max_retries must be >= 0", i)
		}
	}
	return nil
}

func parseDurations(field string, raw []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(raw))
	for i, s := range raw {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("%s[%d] must not be negative", field, i)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
