// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/jllopis/waspnest/pkg/skill"
)

type skillInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Model       string `json:"model,omitempty"`
	Path        string `json:"path"`
}

func runSkills(args []string, stdout io.Writer, asJSON bool) error {
	cmd := flag.NewFlagSet("skills", flag.ContinueOnError)
	dir := cmd.String("dir", "skills", "Directory containing <name>/SKILL.md prompts")
	if err := cmd.Parse(args); err != nil {
		return err
	}

	// Building each skill also checks that its templates parse.
	specs, err := skill.LoadPromptDir(*dir)
	if err != nil {
		return WrapRunError(err)
	}
	infos := make([]skillInfo, 0, len(specs))
	for _, spec := range specs {
		if _, err := skill.FromPrompt[Message, Message](spec); err != nil {
			return WrapRunError(err)
		}
		infos = append(infos, skillInfo{
			Name:        spec.Name,
			Description: spec.Description,
			Model:       spec.Model,
			Path:        spec.Path,
		})
	}

	if asJSON {
		return json.NewEncoder(stdout).Encode(infos)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODEL\tDESCRIPTION")
	for _, info := range infos {
		model := info.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", info.Name, model, info.Description)
	}
	return tw.Flush()
}
