// Package catalog loads the provider catalog: which providers exist, how to
// authenticate against them, which API flavor they speak, and which models
// they offer. The agent resolves its current model against the catalog and
// cycles through it on request.
package catalog

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/viper"

	"github.com/banyanlabs/banyan/types"
)

// API flavors understood by the provider transports.
const (
	APIAnthropic         = "anthropic"
	APIOpenAICompletions = "openai-completions"
)

// Cost is per-million-token pricing in dollars.
type Cost struct {
	Input      float64 `mapstructure:"input"`
	Output     float64 `mapstructure:"output"`
	CacheRead  float64 `mapstructure:"cacheRead"`
	CacheWrite float64 `mapstructure:"cacheWrite"`
}

// Model describes one model offered by a provider.
type Model struct {
	ID            string `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	ContextWindow int    `mapstructure:"contextWindow"`
	MaxOutput     int    `mapstructure:"maxOutput"`
	Thinking      bool   `mapstructure:"thinking"`
	Vision        bool   `mapstructure:"vision"`
	Cost          Cost   `mapstructure:"cost"`
}

// Provider describes one configured provider.
type Provider struct {
	Name    string  `mapstructure:"name"`
	BaseURL string  `mapstructure:"baseUrl"`
	APIKey  string  `mapstructure:"apiKey"`
	API     string  `mapstructure:"api"`
	Models  []Model `mapstructure:"models"`
}

// Catalog is the full provider configuration.
type Catalog struct {
	Providers []Provider `mapstructure:"providers"`
}

// Load reads a catalog file (YAML, JSON, or TOML by extension). Environment
// variables prefixed BANYAN_ override file values.
func Load(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BANYAN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var c Catalog
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("catalog has no providers")
	}
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		switch p.API {
		case APIAnthropic, APIOpenAICompletions:
		default:
			return fmt.Errorf("provider %s: unknown api flavor %q", p.Name, p.API)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s has no models", p.Name)
		}
	}
	return nil
}

// Provider returns the named provider.
func (c *Catalog) Provider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// Model resolves a provider/model pair.
func (c *Catalog) Model(providerName, modelID string) (*Provider, *Model, bool) {
	p, ok := c.Provider(providerName)
	if !ok {
		return nil, nil, false
	}
	for i := range p.Models {
		if p.Models[i].ID == modelID {
			return p, &p.Models[i], true
		}
	}
	return nil, nil, false
}

// Next returns the model after the given one in the flattened catalog order,
// wrapping around. When the pair is unknown it returns the first model.
func (c *Catalog) Next(providerName, modelID string) (*Provider, *Model) {
	type slot struct {
		p *Provider
		m *Model
	}
	var flat []slot
	cur := -1
	for i := range c.Providers {
		p := &c.Providers[i]
		for j := range p.Models {
			if p.Name == providerName && p.Models[j].ID == modelID {
				cur = len(flat)
			}
			flat = append(flat, slot{p, &p.Models[j]})
		}
	}
	if len(flat) == 0 {
		return nil, nil
	}
	next := flat[(cur+1)%len(flat)]
	return next.p, next.m
}

// ResolveKey resolves an apiKey spec to a concrete key. The spec is one of:
// a command prefixed with "!" whose trimmed stdout is the key, the name of a
// set environment variable, or a literal key. Failing commands and empty
// results yield no key.
func ResolveKey(spec string) string {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return ""
	}
	if cmd, ok := strings.CutPrefix(spec, "!"); ok {
		out, err := exec.Command("sh", "-c", cmd).Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}
	if looksLikeEnvVar(spec) {
		if val, ok := os.LookupEnv(spec); ok {
			return strings.TrimSpace(val)
		}
	}
	return spec
}

// looksLikeEnvVar reports whether the spec is shaped like an environment
// variable name (UPPER_SNAKE). Literal keys never are.
func looksLikeEnvVar(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return s != ""
}

// CostOf prices a usage sample against the model's cost table.
func (m *Model) CostOf(u types.Usage) types.Cost {
	const mtok = 1_000_000
	cost := types.Cost{
		Input:      float64(u.Input) / mtok * m.Cost.Input,
		Output:     float64(u.Output) / mtok * m.Cost.Output,
		CacheRead:  float64(u.CacheRead) / mtok * m.Cost.CacheRead,
		CacheWrite: float64(u.CacheWrite) / mtok * m.Cost.CacheWrite,
	}
	cost.Total = cost.Input + cost.Output + cost.CacheRead + cost.CacheWrite
	return cost
}
