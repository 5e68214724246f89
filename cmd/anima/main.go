// Command anima is the operator-facing front-end for the autonomous
// iteration engine: flag-based argument parsing per subcommand, a
// context cancelled on SIGINT/SIGTERM, and all real wiring delegated to
// a single composition-root package.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/mattn/go-runewidth"

	"github.com/anima/anima/internal/config"
	"github.com/anima/anima/internal/driver"
	"github.com/anima/anima/internal/kernel"
	"github.com/anima/anima/pkg/animaclient"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// Exit codes: 0 clean, 1 configuration/state error, 2 usage error, 130
// interrupted (128 + SIGINT).
const (
	exitOK        = 0
	exitError     = 1
	exitUsage     = 2
	exitInterrupt = 130
)

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return exitUsage
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "start":
		return cmdStart(rest, logger)
	case "status":
		return cmdStatus(rest, logger)
	case "reset":
		return cmdReset(rest, logger)
	case "log":
		return cmdLog(rest, logger)
	case "approve":
		return cmdApprove(rest, logger)
	case "shell":
		return cmdShell(rest, logger)
	case "-h", "--help", "help":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "anima: unknown command %q\n", cmd)
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `usage: anima <command> [flags]

commands:
  start    [--once] [--max N] [--dry-run] [--cooldown DURATION]   run iterations
  status   [--verbose]                                             print current state
  reset                                                           clear failure count, resume from sleep
  log      [--last N]                                             show recent iteration records
  approve                                                         clear a pending risk gate
  shell                                                            interactive status/log/approve REPL
`)
}

func loadClient(configPath string, logger *slog.Logger) (*animaclient.Client, int) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "anima: loading config: %v\n", err)
		return nil, exitError
	}
	client, err := animaclient.New(*cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "anima: %v\n", err)
		return nil, exitError
	}
	return client, exitOK
}

func cmdStart(args []string, logger *slog.Logger) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	once := fs.Bool("once", false, "run exactly one iteration and stop")
	max := fs.Int("max", 0, "stop after N iterations (0 = unbounded)")
	dryRun := fs.Bool("dry-run", false, "plan and prompt without invoking the agent")
	cooldown := fs.Duration("cooldown", 0, "override the configured inter-iteration cooldown")
	configPath := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	client, code := loadClient(*configPath, logger)
	if client == nil {
		return code
	}
	client.Driver.Config.DryRun = *dryRun
	if *cooldown > 0 {
		client.Driver.Config.IterationCooldown = *cooldown
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("anima: received interrupt, stopping after current iteration")
		cancel()
	}()

	if *once {
		outcome, err := client.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, kernel.ErrLockHeld) {
				fmt.Fprintln(os.Stderr, "anima: another instance is already running")
			} else {
				fmt.Fprintf(os.Stderr, "anima: %v\n", err)
			}
			return exitError
		}
		printOutcome(outcome)
		return exitOK
	}

	result, err := client.RunLoop(ctx, driver.LoopOptions{MaxCount: *max})
	if err != nil {
		if errors.Is(err, kernel.ErrLockHeld) {
			fmt.Fprintln(os.Stderr, "anima: another instance is already running")
			return exitError
		}
		fmt.Fprintf(os.Stderr, "anima: %v\n", err)
		return exitError
	}

	fmt.Printf("anima: stopped after %d iteration(s): %s\n", result.IterationsRun, result.StopReason)
	if result.StopReason == "interrupted" {
		return exitInterrupt
	}
	return exitOK
}

func printOutcome(o driver.Outcome) {
	if !o.Ran {
		fmt.Printf("anima: no iteration run (%s)\n", o.Reason)
		return
	}
	if o.Record == nil {
		fmt.Println("anima: iteration ran (dry run)")
		return
	}
	status := "failed"
	if o.Record.Success {
		status = "succeeded"
	}
	fmt.Printf("anima: iteration %s %s\n", o.Record.ID, status)
}

func cmdStatus(args []string, logger *slog.Logger) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	verbose := fs.Bool("verbose", false, "also print the last iteration's validation report")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	client, code := loadClient(*configPath, logger)
	if client == nil {
		return code
	}
	return printStatusVerbose(client, *verbose)
}

func printStatus(client *animaclient.Client) int {
	return printStatusVerbose(client, false)
}

// printStatusVerbose prints the standard status block, and when verbose
// is set, also the most recent iteration's validation report (lint,
// typecheck, test checks plus any issues/improvements verify recorded).
func printStatusVerbose(client *animaclient.Client, verbose bool) int {
	ctx := context.Background()
	st, err := client.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "anima: reading state: %v\n", err)
		return exitError
	}
	health := client.Health()

	printRow("status", string(st.Status))
	printRow("iteration_count", strconv.Itoa(st.IterationCount))
	printRow("consecutive_failures", strconv.Itoa(st.ConsecutiveFailures))
	printRow("current_milestone", st.CurrentMilestone)
	printRow("last_iteration_id", st.LastIterationID)
	printRow("cumulative_cost_usd", fmt.Sprintf("%.2f", st.CumulativeCostUSD))
	printRow("cumulative_tokens", strconv.Itoa(st.CumulativeTokens))
	for step, stats := range health.ModuleStats {
		printRow("health:"+step, fmt.Sprintf("calls=%d fallbacks=%d", stats.Calls, stats.Fallbacks))
	}
	if client.GatePending() {
		fmt.Println("\nanima: a risk gate is pending; run `anima approve` to proceed")
	}

	if verbose {
		printValidationReport(ctx, client)
	}
	return exitOK
}

func printValidationReport(ctx context.Context, client *animaclient.Client) {
	records, err := client.Log(ctx, 1)
	if err != nil || len(records) == 0 {
		fmt.Println("\nanima: no validation report yet")
		return
	}
	v := records[0].Verification
	fmt.Printf("\nvalidation report (%s):\n", records[0].IterationID)
	printRow("  lint", string(v.Lint.Status))
	printRow("  typecheck", string(v.Typecheck.Status))
	printRow("  tests", string(v.Tests.Status))
	for _, issue := range v.Issues {
		fmt.Println("  issue:", issue)
	}
	for _, improvement := range v.Improvements {
		fmt.Println("  improvement:", improvement)
	}
}

// printRow right-pads label to a fixed display column using runewidth so
// multi-byte labels (unlikely here, but consistent with other
// table-printing helpers in this codebase) still line up.
func printRow(label, value string) {
	const col = 24
	padded := runewidth.FillRight(label, col)
	fmt.Printf("%s %s\n", padded, value)
}

func cmdReset(args []string, logger *slog.Logger) int {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	client, code := loadClient(*configPath, logger)
	if client == nil {
		return code
	}

	st, err := client.Reset(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "anima: resetting state: %v\n", err)
		return exitError
	}
	fmt.Printf("anima: reset complete, status=%s\n", st.Status)
	return exitOK
}

func cmdLog(args []string, logger *slog.Logger) int {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	last := fs.Int("last", 10, "number of most recent records to show")
	configPath := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	client, code := loadClient(*configPath, logger)
	if client == nil {
		return code
	}

	records, err := client.Log(context.Background(), *last)
	if err != nil {
		fmt.Fprintf(os.Stderr, "anima: reading history: %v\n", err)
		return exitError
	}
	if len(records) == 0 {
		fmt.Println("anima: no iteration records yet")
		return exitOK
	}

	for _, r := range records {
		ts := r.Timestamp.Format(time.RFC3339)
		outcome := runewidth.FillRight(string(r.Outcome), 10)
		fmt.Printf("%s  %s  %s  %s\n", runewidth.FillRight(r.IterationID, 20), outcome, ts, r.GapAddressed)
	}
	return exitOK
}

func cmdApprove(args []string, logger *slog.Logger) int {
	fs := flag.NewFlagSet("approve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	client, code := loadClient(*configPath, logger)
	if client == nil {
		return code
	}

	if !client.GatePending() {
		fmt.Println("anima: no gate is pending")
		return exitOK
	}
	if err := client.Approve(); err != nil {
		fmt.Fprintf(os.Stderr, "anima: approving gate: %v\n", err)
		return exitError
	}
	fmt.Println("anima: gate cleared, next iteration may proceed")
	return exitOK
}

// cmdShell is a small read-oriented REPL over status/log/approve,
// grounded on haricheung-agentic-shell's cmd/agsh readline loop — a
// prompt, Ctrl+C/Ctrl+D handled by readline itself, and one command
// dispatched per line rather than agsh's task-streaming shape, since
// anima's shell only inspects state, it never launches work.
func cmdShell(args []string, logger *slog.Logger) int {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	client, code := loadClient(*configPath, logger)
	if client == nil {
		return code
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "anima> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "anima: readline init error: %v\n", err)
		return exitError
	}
	defer rl.Close()

	fmt.Println("anima shell — status | log [N] | approve | help | exit")
	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return exitOK
		}
		switch cmd := parseShellCommand(line); cmd.name {
		case "":
			continue
		case "exit", "quit":
			return exitOK
		case "help":
			fmt.Println("commands: status | log [N] | approve | help | exit")
		case "status":
			printStatus(client)
		case "log":
			n := 10
			if cmd.arg != "" {
				if v, err := strconv.Atoi(cmd.arg); err == nil {
					n = v
				}
			}
			records, err := client.Log(ctx, n)
			if err != nil {
				fmt.Fprintf(os.Stderr, "anima: %v\n", err)
				continue
			}
			for _, r := range records {
				fmt.Printf("%s  %s  %s\n", r.IterationID, r.Outcome, r.GapAddressed)
			}
		case "approve":
			if !client.GatePending() {
				fmt.Println("no gate is pending")
				continue
			}
			if err := client.Approve(); err != nil {
				fmt.Fprintf(os.Stderr, "anima: %v\n", err)
				continue
			}
			fmt.Println("gate cleared")
		default:
			fmt.Printf("unknown command %q (try 'help')\n", cmd.name)
		}
	}
}

type shellCommand struct {
	name string
	arg  string
}

func parseShellCommand(line string) shellCommand {
	fields := strings.Fields(line)
	switch len(fields) {
	case 0:
		return shellCommand{}
	case 1:
		return shellCommand{name: fields[0]}
	default:
		return shellCommand{name: fields[0], arg: fields[1]}
	}
}
