// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jllopis/waspnest/pkg/audit"
	"github.com/jllopis/waspnest/pkg/config"
	"github.com/jllopis/waspnest/pkg/errors"
	"github.com/jllopis/waspnest/pkg/hooks"
)

type auditRow struct {
	RunID     string `json:"run_id"`
	Agent     string `json:"agent"`
	Skill     string `json:"skill,omitempty"`
	Step      int    `json:"step"`
	Point     string `json:"point"`
	Status    string `json:"status"`
	StateType string `json:"state_type,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at"`
}

func runAudit(ctx context.Context, cfg *config.Config, args []string, stdout io.Writer, asJSON bool) error {
	cmd := flag.NewFlagSet("audit", flag.ContinueOnError)
	runID := cmd.String("run", "", "Only entries of this run id")
	skillName := cmd.String("skill", "", "Only entries of this skill")
	point := cmd.String("point", "", "Only entries of this hook point")
	limit := cmd.Int("limit", 100, "Maximum entries to print")
	if err := cmd.Parse(args); err != nil {
		return err
	}

	if cfg.Audit.Driver != "sqlite" || cfg.Audit.DSN == "" {
		return NewCLIError(errors.Configuration("the audit command reads the sqlite store"),
			"set audit.driver=sqlite and audit.dsn")
	}
	filter := audit.Filter{RunID: *runID, Skill: *skillName, Limit: *limit}
	if *point != "" {
		p, err := hooks.ParsePoint(*point)
		if err != nil {
			return NewCLIError(err, "valid points: pre_execute, skill_start, llm_request, skill_end, error, post_execute")
		}
		filter.Point = p
	}

	store, err := audit.OpenSQLite(cfg.Audit.DSN)
	if err != nil {
		return WrapConfigError(err)
	}
	defer store.Close()

	entries, err := store.List(ctx, filter)
	if err != nil {
		return NewCLIError(err, "check that audit.dsn points at a waspnest audit database")
	}
	return printAudit(stdout, entries, asJSON)
}

func printAudit(w io.Writer, entries []audit.Entry, asJSON bool) error {
	rows := make([]auditRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, auditRow{
			RunID:     e.RunID,
			Agent:     e.Agent,
			Skill:     e.Skill,
			Step:      e.Step,
			Point:     string(e.Point),
			Status:    string(e.Status),
			StateType: e.StateType,
			Payload:   e.Payload,
			Error:     e.Error,
			At:        e.At.Format(time.RFC3339Nano),
		})
	}
	if asJSON {
		return json.NewEncoder(w).Encode(rows)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tRUN\tPOINT\tSKILL\tSTATUS\tSTATE\tERROR")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.At, r.RunID, r.Point, r.Skill, r.Status, r.StateType, r.Error)
	}
	return tw.Flush()
}
