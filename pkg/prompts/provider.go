// Package prompts provides the system prompts for the interview agents.
// Templates are embedded in the binary; a manifest carries the per-agent
// tuning (cache TTL, sampling temperature) so prompt changes don't require
// touching engine code.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"specsmith/pkg/session"
)

//go:embed *.tpl.md manifest.yaml
var promptFS embed.FS

// Agent type identifiers. These double as cache tags.
const (
	AgentExtractor     = "extractor"
	AgentPlanner       = "planner"
	AgentAsker         = "asker"
	AgentRiskAnalyst   = "risk_analyst"
	AgentTechAdvisor   = "tech_advisor"
	AgentMVPBoundary   = "mvp_boundary"
	AgentSpecGenerator = "spec_generator"
)

// Duration wraps time.Duration so the manifest can say "30m" instead of
// nanosecond counts.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AgentSettings carries the manifest tuning for one agent.
type AgentSettings struct {
	Template    string   `yaml:"template"`
	TTL         Duration `yaml:"ttl"`
	Temperature float32  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

type manifest struct {
	Agents map[string]AgentSettings `yaml:"agents"`
}

// TemplateData is the rendering context shared by all prompt templates.
type TemplateData struct {
	Profile        map[string]any
	MissingFields  []string
	AskedQuestions []string
	Completeness   int
	MaxQuestions   int
	Stage          string
	Risk           *session.RiskSummary
	Tech           *session.TechSummary
	MVP            *session.MVPSummary
}

// Provider renders agent system prompts from the embedded templates.
type Provider struct {
	templates map[string]*template.Template
	settings  map[string]AgentSettings
}

// NewProvider parses the manifest and every template it references.
func NewProvider() (*Provider, error) {
	raw, err := promptFS.ReadFile("manifest.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse prompt manifest: %w", err)
	}
	if len(m.Agents) == 0 {
		return nil, fmt.Errorf("prompt manifest defines no agents")
	}

	p := &Provider{
		templates: make(map[string]*template.Template, len(m.Agents)),
		settings:  m.Agents,
	}
	for agentType, settings := range m.Agents {
		content, err := promptFS.ReadFile(settings.Template)
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s for agent %s: %w", settings.Template, agentType, err)
		}
		tmpl, err := template.New(settings.Template).Funcs(template.FuncMap{
			"join": strings.Join,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", settings.Template, err)
		}
		p.templates[agentType] = tmpl
	}
	return p, nil
}

// Render produces the system prompt for an agent.
func (p *Provider) Render(agentType string, data *TemplateData) (string, error) {
	tmpl, ok := p.templates[agentType]
	if !ok {
		return "", fmt.Errorf("no prompt template for agent %s", agentType)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt for agent %s: %w", agentType, err)
	}
	return buf.String(), nil
}

// Settings returns the manifest tuning for an agent.
func (p *Provider) Settings(agentType string) (AgentSettings, error) {
	settings, ok := p.settings[agentType]
	if !ok {
		return AgentSettings{}, fmt.Errorf("no settings for agent %s", agentType)
	}
	return settings, nil
}

// Agents returns the agent types the manifest defines.
func (p *Provider) Agents() []string {
	agents := make([]string, 0, len(p.settings))
	for agentType := range p.settings {
		agents = append(agents, agentType)
	}
	return agents
}
