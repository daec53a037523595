// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package skill

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/state"
)

// PromptFile is the file name LoadPromptDir looks for in each subdirectory.
const PromptFile = "SKILL.md"

// PromptSpec describes an LLM-backed skill declared in a markdown file with
// YAML frontmatter. The body is the user prompt template.
//
//	---
//	name: analyzer
//	description: Classifies a user query.
//	model: gpt-4o-mini
//	temperature: 0.2
//	system: You are a helpful assistant.
//	---
//	Analyze this query: {{ .Input.Query }}
type PromptSpec struct {
	Name        string
	Description string
	Model       string
	Temperature *float64
	MaxTokens   int
	System      string
	Prompt      string
	Metadata    map[string]string
	Path        string
	Dir         string
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type frontmatter struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Model       string            `yaml:"model"`
	Temperature *float64          `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	System      string            `yaml:"system"`
	Metadata    map[string]string `yaml:"metadata"`
}

// LoadPromptDir scans root for subdirectories containing a SKILL.md file.
func LoadPromptDir(root string) ([]PromptSpec, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, "cannot read prompt directory", err).
			WithContext("path", root)
	}
	var out []PromptSpec
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), PromptFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		spec, err := LoadPromptFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// LoadPromptFile parses a single prompt skill file.
func LoadPromptFile(path string) (PromptSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PromptSpec{}, errors.New(errors.CodeConfiguration, "cannot read prompt file", err).
			WithContext("path", path)
	}
	spec, err := ParsePrompt(data)
	if err != nil {
		return PromptSpec{}, errors.AsError(err).WithContext("path", path)
	}
	spec.Path = path
	spec.Dir = filepath.Dir(path)
	if dirName := filepath.Base(spec.Dir); dirName != spec.Name {
		return PromptSpec{}, errors.Configurationf("prompt name %q must match directory name %q", spec.Name, dirName).
			WithContext("path", path)
	}
	return spec, nil
}

// ParsePrompt parses prompt skill content without touching the filesystem.
func ParsePrompt(content []byte) (PromptSpec, error) {
	fm, body, err := splitFrontmatter(string(content))
	if err != nil {
		return PromptSpec{}, err
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return PromptSpec{}, errors.New(errors.CodeConfiguration, "parse frontmatter", err)
	}
	spec := PromptSpec{
		Name:        strings.TrimSpace(parsed.Name),
		Description: strings.TrimSpace(parsed.Description),
		Model:       parsed.Model,
		Temperature: parsed.Temperature,
		MaxTokens:   parsed.MaxTokens,
		System:      strings.TrimSpace(parsed.System),
		Prompt:      body,
		Metadata:    parsed.Metadata,
	}
	if err := validatePrompt(spec); err != nil {
		return PromptSpec{}, err
	}
	return spec, nil
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errors.Configuration("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.Configuration("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func validatePrompt(spec PromptSpec) error {
	if spec.Name == "" {
		return errors.Configuration("name is required")
	}
	if utf8.RuneCountInString(spec.Name) > maxNameLen {
		return errors.Configurationf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(spec.Name) {
		return errors.Configurationf("name must match %s", namePattern.String())
	}
	if utf8.RuneCountInString(spec.Description) > maxDescriptionLen {
		return errors.Configurationf("description exceeds %d characters", maxDescriptionLen)
	}
	if spec.Prompt == "" {
		return errors.Configurationf("prompt %q has an empty body", spec.Name)
	}
	if spec.Temperature != nil && (*spec.Temperature < 0 || *spec.Temperature > 2) {
		return errors.Configurationf("temperature %v out of range [0, 2]", *spec.Temperature)
	}
	return nil
}

// promptData is what prompt templates are rendered against.
type promptData struct {
	Input   any
	Context map[string]any
}

// FromPrompt builds a skill that renders spec's templates with the input
// payload, asks the LLM for an Out and carries the input context forward.
func FromPrompt[In, Out any](spec PromptSpec) (Skill, error) {
	if err := validatePrompt(spec); err != nil {
		return nil, err
	}
	user, err := template.New(spec.Name).Option("missingkey=error").Parse(spec.Prompt)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, fmt.Sprintf("prompt %q has an invalid template", spec.Name), err)
	}
	var system *template.Template
	if spec.System != "" {
		system, err = template.New(spec.Name + ".system").Option("missingkey=error").Parse(spec.System)
		if err != nil {
			return nil, errors.New(errors.CodeConfiguration, fmt.Sprintf("prompt %q has an invalid system template", spec.Name), err)
		}
	}

	var opts []AskOption
	if spec.Model != "" {
		opts = append(opts, WithModel(spec.Model))
	}
	if spec.Temperature != nil {
		opts = append(opts, WithTemperature(*spec.Temperature))
	}
	if spec.MaxTokens > 0 {
		opts = append(opts, WithMaxTokens(spec.MaxTokens))
	}

	return New(spec.Name, func(ctx context.Context, env *Env, in state.State[In]) (state.State[Out], error) {
		data := promptData{Input: in.Data(), Context: in.Context()}
		prompt, err := render(user, data)
		if err != nil {
			return state.State[Out]{}, err
		}
		systemPrompt := ""
		if system != nil {
			if systemPrompt, err = render(system, data); err != nil {
				return state.State[Out]{}, err
			}
		}
		out, err := Ask[Out](ctx, env, prompt, systemPrompt, opts...)
		if err != nil {
			return state.State[Out]{}, err
		}
		return state.New(out, in.Context())
	}), nil
}

func render(t *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Validation(fmt.Sprintf("render prompt %s", t.Name()), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
