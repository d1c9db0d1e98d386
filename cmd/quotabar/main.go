// Command quotabar is the CLI front end of quotabar-d: check usage,
// trigger refreshes, inspect the event log, manage accounts, export
// history.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quotabar/quotabar/pkg/api"
	"github.com/quotabar/quotabar/pkg/client"
	"github.com/quotabar/quotabar/pkg/mcp"
	"github.com/quotabar/quotabar/pkg/provider"
	"github.com/quotabar/quotabar/pkg/reports"
)

var (
	Version = "v1.0.0"
	Commit  = "unknown"
)

const usageText = `Usage: quotabar <command> [options]

Commands:
  status   [provider]                 show latest usage
  refresh  <provider> [-mode m]       fetch fresh usage now
  events   [-provider p] [-limit n]   show recent events
  accounts list|add|remove|usage <provider>
                                      manage stored accounts, fetch the aggregate
  export   [-provider p] [-since t] [-format csv|json]
  mcp                                 serve the Model Context Protocol on stdio
  version

The daemon endpoint defaults to ` + client.DefaultEndpoint + `
and can be overridden with QUOTABAR_ENDPOINT.`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usageText)
		os.Exit(1)
	}

	c := client.NewClient(os.Getenv("QUOTABAR_ENDPOINT"))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "status":
		err = cmdStatus(ctx, c, os.Args[2:])
	case "refresh":
		err = cmdRefresh(ctx, c, os.Args[2:])
	case "events":
		err = cmdEvents(ctx, c, os.Args[2:])
	case "accounts":
		err = cmdAccounts(ctx, c, os.Args[2:])
	case "export":
		err = cmdExport(ctx, c, os.Args[2:])
	case "mcp":
		// Serve the Model Context Protocol on stdio, proxying to the
		// daemon, so agents can check quota before spending it.
		err = mcp.NewServer(os.Getenv("QUOTABAR_ENDPOINT")).Serve()
	case "version":
		fmt.Printf("quotabar %s (%s)\n", Version, Commit)
	case "help", "-h", "--help":
		fmt.Println(usageText)
	default:
		fmt.Printf("unknown command: %s\n\n%s\n", os.Args[1], usageText)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "quotabar: %v\n", err)
		if strings.Contains(err.Error(), "daemon unreachable") {
			fmt.Fprintln(os.Stderr, "Is quotabar-d running?")
		}
		os.Exit(1)
	}
}

func cmdStatus(ctx context.Context, c *client.Client, args []string) error {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		id := provider.ID(args[0])
		if !id.Valid() {
			return fmt.Errorf("unknown provider: %s", args[0])
		}
		res, err := c.ProviderUsage(ctx, id)
		if err != nil {
			return err
		}
		printUsage(*res)
		return nil
	}

	all, err := c.Usage(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("No usage data yet.")
		return nil
	}
	for _, id := range provider.All() {
		if res, ok := all[id]; ok {
			printUsage(res)
		}
	}
	return nil
}

func printUsage(res api.UsageResponse) {
	if res.Error != "" {
		suffix := ""
		if res.Suppressed {
			suffix = " (stale data retained)"
		}
		fmt.Printf("%-8s  error: %s%s\n", res.Provider, res.Error, suffix)
		return
	}
	if res.Snapshot == nil {
		fmt.Printf("%-8s  no data\n", res.Provider)
		return
	}
	for i, w := range res.Snapshot.Windows {
		name := ""
		if i == 0 {
			name = string(res.Provider)
		}
		reset := ""
		if !w.ResetsAt.IsZero() {
			reset = "  resets " + w.ResetsAt.Local().Format("Jan 2 15:04")
		}
		fmt.Printf("%-8s  %-14s %s %5.1f%%%s\n", name, w.Label, bar(w.UsedPercent), w.UsedPercent, reset)
	}
}

// bar renders a 20-cell usage meter.
func bar(usedPercent float64) string {
	filled := int(usedPercent / 5)
	if filled < 0 {
		filled = 0
	}
	if filled > 20 {
		filled = 20
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", 20-filled) + "]"
}

func cmdRefresh(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	mode := fs.String("mode", "auto", "source mode: auto, cli, oauth, web, api")
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("refresh requires a provider")
	}
	id := provider.ID(args[0])
	if !id.Valid() {
		return fmt.Errorf("unknown provider: %s", args[0])
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	res, err := c.Refresh(ctx, id, provider.SourceMode(*mode))
	if err != nil {
		return err
	}
	printUsage(*res)
	if len(res.Attempts) > 1 || res.Error != "" {
		fmt.Println("attempts:")
		for _, a := range res.Attempts {
			outcome := "ok"
			if !a.Success {
				outcome = a.Error
			}
			fmt.Printf("  %-14s %-6s %s\n", a.Strategy, a.Duration.Round(time.Millisecond), outcome)
		}
	}
	return nil
}

func cmdEvents(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	prov := fs.String("provider", "", "filter by provider")
	limit := fs.Int("limit", 20, "number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	events, err := c.Events(ctx, provider.ID(*prov), *limit)
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Printf("%s  %-16s %-8s %s\n",
			ev.TsEvent.Local().Format("2006-01-02 15:04:05"),
			ev.Type, ev.Provider, strings.TrimSpace(string(ev.Payload)))
	}
	return nil
}

func cmdAccounts(ctx context.Context, c *client.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: quotabar accounts list|add|remove|usage <provider> ...")
	}
	action := args[0]
	id := provider.ID(args[1])
	if !id.Valid() {
		return fmt.Errorf("unknown provider: %s", args[1])
	}

	switch action {
	case "list":
		accts, err := c.Accounts(ctx, id)
		if err != nil {
			return err
		}
		if len(accts) == 0 {
			fmt.Printf("No accounts stored for %s.\n", id)
			return nil
		}
		for _, a := range accts {
			fmt.Printf("%s  %-20s added %s\n", a.ID, a.Label, a.AddedAt.Local().Format("2006-01-02"))
		}
		return nil

	case "add":
		fs := flag.NewFlagSet("accounts add", flag.ExitOnError)
		label := fs.String("label", "", "display label for the account")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		secret := os.Getenv("QUOTABAR_ACCOUNT_SECRET")
		if secret == "" {
			return fmt.Errorf("set QUOTABAR_ACCOUNT_SECRET to the account token (not passed as an argument to keep it out of shell history)")
		}
		acct, err := c.AddAccount(ctx, id, *label, secret)
		if err != nil {
			return err
		}
		fmt.Printf("Account stored: %s (%s)\n", acct.ID, acct.Label)
		return nil

	case "remove":
		if len(args) < 3 {
			return fmt.Errorf("usage: quotabar accounts remove <provider> <account-id>")
		}
		if err := c.RemoveAccount(ctx, id, args[2]); err != nil {
			return err
		}
		fmt.Println("Account removed.")
		return nil

	case "usage":
		res, err := c.AccountUsage(ctx, id)
		if err != nil {
			return err
		}
		if res.Merged != nil {
			fmt.Printf("%s (%s)\n", id, res.Merged.Identity)
			for _, w := range res.Merged.Windows {
				reset := ""
				if !w.ResetsAt.IsZero() {
					reset = "  resets " + w.ResetsAt.Local().Format("Jan 2 15:04")
				}
				fmt.Printf("  %-14s %s %5.1f%%%s\n", w.Label, bar(w.UsedPercent), w.UsedPercent, reset)
			}
		}
		for _, a := range res.Accounts {
			if a.Error != "" {
				fmt.Printf("  %-20s error: %s\n", a.Label, a.Error)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown accounts action: %s", action)
	}
}

func cmdExport(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	prov := fs.String("provider", "", "filter by provider")
	since := fs.String("since", "", "RFC 3339 start time")
	format := fs.String("format", "csv", "csv or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var sinceTime time.Time
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			return fmt.Errorf("invalid -since: %w", err)
		}
		sinceTime = t
	}

	return c.Export(ctx, provider.ID(*prov), sinceTime, reports.Format(*format), os.Stdout)
}
