// Copyright 2026 © The Waspnest Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the waspnest CLI: it runs SKILL.md prompt
// pipelines through an agent and inspects the audit trail they leave.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jllopis/waspnest/pkg/config"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err, false)
	}
	if global.Help || len(args) == 0 {
		printUsage(os.Stdout)
		return
	}

	if args[0] == "help" {
		printUsage(os.Stdout)
		return
	}
	if args[0] == "version" {
		fmt.Println("waspnest", version)
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(WrapConfigError(err), global.JSON)
	}

	switch args[0] {
	case "run":
		err = runRun(ctx, global, cfg, args[1:], os.Stdin, os.Stdout, os.Stderr)
	case "skills":
		err = runSkills(args[1:], os.Stdout, global.JSON)
	case "audit":
		err = runAudit(ctx, cfg, args[1:], os.Stdout, global.JSON)
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		fatal(err, global.JSON)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{Timeout: 2 * time.Minute}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set" || arg == "--profile":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config=") || strings.HasPrefix(arg, "--set=") || strings.HasPrefix(arg, "--profile="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `waspnest - typed skill pipelines over LLMs

Usage:
  waspnest [global flags] <command> [flags] [args]

Commands:
  run      Run the SKILL.md pipeline in --skills over a prompt (or stdin lines)
  skills   List and validate the SKILL.md prompts in a directory
  audit    List recorded lifecycle events from the SQLite audit store
  version  Print the version

Global flags:
  --config <path>     YAML configuration file
  --profile <name>    Overlay config.<name>.yaml
  --set key=value     Override a configuration key (repeatable)
  --timeout <dur>     Bound a single run (default 2m)
  --json              Machine-readable output
`)
}

func fatal(err error, asJSON bool) {
	if ce, ok := err.(*CLIError); ok {
		ce.PrintError(asJSON)
	} else {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(1)
}
