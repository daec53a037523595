// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jllopis/waspnest/pkg/agent"
	"github.com/jllopis/waspnest/pkg/config"
	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
	"github.com/jllopis/waspnest/pkg/skill"
	"github.com/jllopis/waspnest/pkg/state"
)

// Message is the payload every CLI pipeline step consumes and produces.
type Message struct {
	Text string `json:"text" validate:"required" jsonschema:"description=The text passed to the next step"`
}

type runResult struct {
	RunID string         `json:"run_id"`
	Text  string         `json:"text"`
	Steps int            `json:"steps"`
	Took  string         `json:"took"`
	Ctx   map[string]any `json:"context,omitempty"`
}

func runRun(ctx context.Context, flags globalFlags, cfg *config.Config, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	skillsDir := cmd.String("skills", "skills", "Directory containing <name>/SKILL.md prompts")
	only := cmd.String("only", "", "Comma-separated skill names, in execution order (default: all, by name)")
	watch := cmd.Bool("watch", false, "Reload --config between stdin lines when it changes")
	watchInterval := cmd.Duration("watch-interval", time.Second, "Polling interval for --watch")
	if err := cmd.Parse(args); err != nil {
		return err
	}

	skills, err := loadPipeline(*skillsDir, *only)
	if err != nil {
		return WrapRunError(err)
	}

	a, p, err := buildRun(cfg, skills, stderr)
	if err != nil {
		return err
	}
	defer func() { a.Close(context.Background()) }()

	if text := strings.TrimSpace(strings.Join(cmd.Args(), " ")); text != "" {
		res, err := p.run(ctx, text, flags.Timeout)
		if err != nil {
			return WrapRunError(err)
		}
		return printResult(stdout, res, flags.JSON)
	}

	var reloads <-chan *config.Config
	if *watch {
		w, ch, err := watchConfig(ctx, flags.ConfigArgs, *watchInterval, a.logger)
		if err != nil {
			return WrapConfigError(err)
		}
		defer w.Stop()
		reloads = ch
	}

	// One run per non-empty stdin line; a failed line does not stop the loop.
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case next := <-reloads:
			if na, np, err := buildRun(next, skills, stderr); err != nil {
				a.logger.Error("reloaded config rejected, keeping the current pipeline", slog.String("error", err.Error()))
			} else {
				a.Close(context.Background())
				a, p = na, np
				a.logger.Info("pipeline rebuilt from reloaded config")
			}
		default:
		}
		res, err := p.run(ctx, line, flags.Timeout)
		if err != nil {
			WrapRunError(err).write(stderr, flags.JSON)
			continue
		}
		if err := printResult(stdout, res, flags.JSON); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// buildRun wires an app for cfg and an agent over skills.
func buildRun(cfg *config.Config, skills []skill.Skill, logOutput io.Writer) (*app, *pipeline, error) {
	a, err := newApp(cfg, logOutput)
	if err != nil {
		return nil, nil, WrapConfigError(err)
	}
	p, err := newPipeline(a, skills)
	if err != nil {
		a.Close(context.Background())
		return nil, nil, WrapRunError(err)
	}
	return a, p, nil
}

// watchConfig starts a watcher over the --config file of args. The returned
// channel holds the latest valid reload not yet picked up.
func watchConfig(ctx context.Context, args []string, interval time.Duration, logger *slog.Logger) (*config.Watcher, <-chan *config.Config, error) {
	w, err := config.NewWatcherFromCLI(args,
		config.WithWatchInterval(interval),
		config.WithWatchLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	latest := make(chan *config.Config, 1)
	w.OnChange(func(cfg *config.Config) {
		select {
		case <-latest:
		default:
		}
		latest <- cfg
	})
	w.Start(ctx)
	return w, latest, nil
}

// loadPipeline builds Message->Message skills from the prompts under dir.
func loadPipeline(dir, only string) ([]skill.Skill, error) {
	specs, err := skill.LoadPromptDir(dir)
	if err != nil {
		return nil, err
	}
	if only != "" {
		byName := make(map[string]skill.PromptSpec, len(specs))
		for _, s := range specs {
			byName[s.Name] = s
		}
		var picked []skill.PromptSpec
		for _, name := range strings.Split(only, ",") {
			name = strings.TrimSpace(name)
			spec, ok := byName[name]
			if !ok {
				return nil, errors.Configurationf("skill %q not found in %s", name, dir).
					WithContext("skill", name)
			}
			picked = append(picked, spec)
		}
		specs = picked
	}
	if len(specs) == 0 {
		return nil, errors.Configurationf("no %s prompts found in %s", skill.PromptFile, dir).
			WithContext("path", dir)
	}

	out := make([]skill.Skill, 0, len(specs))
	for _, spec := range specs {
		s, err := skill.FromPrompt[Message, Message](spec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type pipeline struct {
	agent *agent.Agent
	runID string
}

func newPipeline(a *app, skills []skill.Skill) (*pipeline, error) {
	opts := []agent.Option{
		agent.WithName(a.cfg.Agent.Name),
		agent.WithModel(a.cfg.LLM.Model),
		agent.WithHooks(a.hooks),
		agent.WithLogger(a.logger),
	}
	if a.cfg.Agent.StepContext {
		opts = append(opts, agent.WithStepContext())
	}
	ag, err := agent.New(skills, a.provider, opts...)
	if err != nil {
		return nil, err
	}
	p := &pipeline{agent: ag}
	// Runs are sequential, so the last PreExecute names the current run.
	if err := a.hooks.On(hooks.PreExecute, func(_ context.Context, ev hooks.Event) error {
		p.runID = ev.RunID
		return nil
	}); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *pipeline) run(ctx context.Context, text string, timeout time.Duration) (runResult, error) {
	initial, err := state.New(Message{Text: text}, map[string]any{"source": "cli"})
	if err != nil {
		return runResult{}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	began := time.Now()
	out, err := agent.ExecuteAs[Message](ctx, p.agent, initial.Erase())
	if err != nil {
		return runResult{}, err
	}
	return runResult{
		RunID: p.runID,
		Text:  out.Data().Text,
		Steps: len(p.agent.Skills()),
		Took:  time.Since(began).Round(time.Millisecond).String(),
		Ctx:   out.Context(),
	}, nil
}

func printResult(w io.Writer, res runResult, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(res)
	}
	_, err := fmt.Fprintln(w, res.Text)
	return err
}
