// Package assistant serves the medical extraction endpoint: it turns a
// dictation and a form type into a structured JSON object using a chat model.
package assistant

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexiqai/clinic-gateway/internal/forms"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts holds the prompt templates and the canned demo answers.
type Prompts struct {
	System string                    `yaml:"system"`
	User   string                    `yaml:"user"`
	Forms  map[string]string         `yaml:"forms"`
	Demo   map[string]map[string]any `yaml:"demo"`
}

// LoadPrompts parses a prompts document. Empty input loads the built-in one.
func LoadPrompts(data []byte) (*Prompts, error) {
	if len(data) == 0 {
		data = defaultPrompts
	}
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if strings.TrimSpace(p.System) == "" || strings.TrimSpace(p.User) == "" {
		return nil, fmt.Errorf("parse prompts: system and user templates are required")
	}
	return &p, nil
}

// MustDefaultPrompts returns the built-in prompts.
func MustDefaultPrompts() *Prompts {
	p, err := LoadPrompts(nil)
	if err != nil {
		panic(err)
	}
	return p
}

// UserMessage renders the user turn. An unknown kind gets no form section.
func (p *Prompts) UserMessage(transcript string, kind forms.Kind) string {
	r := strings.NewReplacer(
		"{{transcript}}", transcript,
		"{{form_prompt}}", p.Forms[string(kind)],
	)
	return r.Replace(p.User)
}

// DemoResponse returns the canned answer for kind, or an empty object.
func (p *Prompts) DemoResponse(kind forms.Kind) map[string]any {
	if resp, ok := p.Demo[string(kind)]; ok {
		return resp
	}
	return map[string]any{}
}
