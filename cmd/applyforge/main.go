package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func printUsage() {
	name := os.Args[0]
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s status                        Check daemon health
  %s providers                     Show LLM provider availability and task routes

  %s profile create --name <name> [--family <job-family>] [--summary <text>] [--default]
  %s profile list
  %s profile show <profile-id>

  %s job intake <url> --profile <profile-id>
  %s job list [--limit <n>]

  %s run start <job-url> --profile <profile-id> [--mode strict|medium|yolo] [--submit]
  %s run list
  %s run show <run-id>
  %s run advance <run-id>
  %s run approve <run-id> <event-id>
  %s run reject <run-id> <event-id>
  %s run cancel <run-id>
  %s run events <run-id> [--after <seq>] [--follow]

ENVIRONMENT VARIABLES:
  APP_URL                 Daemon base URL (default: http://localhost:8787)
`, name, name, name, name, name, name, name, name, name, name, name, name, name, name, name, name)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(dispatch(ctx, os.Args[1:]))
}

func dispatch(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "status":
		return runStatusCommand(ctx, args[1:])
	case "providers":
		return runProvidersCommand(ctx, args[1:])
	case "profile":
		return runProfileCommand(ctx, args[1:])
	case "job":
		return runJobCommand(ctx, args[1:])
	case "run":
		return runRunCommand(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		return 2
	}
}
