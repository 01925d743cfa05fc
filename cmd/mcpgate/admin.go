package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mcpgate/mcpgate/internal/adapter/backend"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/domain/execution"
	backendport "github.com/mcpgate/mcpgate/internal/port/backend"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "set-token":
		return runAdminSetToken(args[1:])
	case "clean-approvals":
		return runAdminCleanApprovals(args[1:])
	case "list-executions":
		return runAdminListExecutions(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: mcpgate admin <command> [options]

Commands:
  set-token         Store the backend API token in the config file
  clean-approvals   Purge expired tool approvals on the backend
  list-executions   List tool executions known to the backend
  help              Show this help message

Examples:
  mcpgate admin set-token
  mcpgate admin set-token --config /etc/mcpgate/mcpgate.yaml
  mcpgate admin clean-approvals
  mcpgate admin list-executions --status running
`)
}

func loadAdminClient() (*backend.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return backend.NewClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout), nil
}

func runAdminSetToken(args []string) error {
	fs := flag.NewFlagSet("set-token", flag.ContinueOnError)
	path := fs.String("config", config.DefaultConfigFile, "config file to update")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token, err := promptSecret("Backend API token: ")
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	cfg, err := config.LoadFrom(*path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Backend.Token = token

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(*path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Token stored in %s\n", *path)
	return nil
}

func runAdminCleanApprovals(args []string) error {
	fs := flag.NewFlagSet("clean-approvals", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := loadAdminClient()
	if err != nil {
		return err
	}

	count, err := client.CleanExpiredApprovals(context.Background())
	if err != nil {
		return fmt.Errorf("clean approvals: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Cleaned %d expired approval(s)\n", count)
	return nil
}

func runAdminListExecutions(args []string) error {
	fs := flag.NewFlagSet("list-executions", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status")
	serverID := fs.String("server", "", "filter by server id")
	page := fs.Int("page", 0, "page number")
	perPage := fs.Int("per-page", 0, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := backendport.ListLogsQuery{
		ServerID: *serverID,
		Page:     *page,
		PerPage:  *perPage,
	}
	if *status != "" {
		st, err := execution.ParseStatus(*status)
		if err != nil {
			return err
		}
		q.Status = st
	}

	client, err := loadAdminClient()
	if err != nil {
		return err
	}

	execs, err := client.ListExecutionLogs(context.Background(), q)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}

	if len(execs) == 0 {
		fmt.Println("No executions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTOOL\tSERVER\tSTATUS\tSTARTED\tDURATION_MS")
	for i := range execs {
		dur := "-"
		if execs[i].DurationMS != nil {
			dur = fmt.Sprintf("%d", *execs[i].DurationMS)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			execs[i].ID, execs[i].ToolName, execs[i].ServerID, execs[i].Status,
			execs[i].StartedAt.Format("2006-01-02 15:04:05"), dur)
	}
	return w.Flush()
}

// promptSecret reads a value from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
