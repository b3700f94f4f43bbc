package main

import (
	"flag"
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/opus-domini/pulsecheck/internal/config"
)

var (
	loadConfigFn     = config.Load
	sendAlertsFn     = sendAlerts
	sendReportsFn    = sendReports
	currentVersionFn = currentVersion
)

// buildVersion is injected by release workflows via -ldflags.
var buildVersion = "dev"

const (
	cmdHelp       = "help"
	flagHelpShort = "-h"
	flagHelpLong  = "--help"
)

type commandContext struct {
	stdout io.Writer
	stderr io.Writer
}

func writef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}

func writeln(w io.Writer, args ...any) {
	_, _ = fmt.Fprintln(w, args...)
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	ctx := commandContext{stdout: stdout, stderr: stderr}

	if len(args) == 0 {
		printRootHelp(stderr)
		return 2
	}

	switch args[0] {
	case "-v", "--version", "version":
		writef(stdout, "pulsecheck version %s\n", currentVersionFn())
		return 0
	case "sendalerts":
		return runSendAlertsCommand(ctx, args[1:])
	case "sendreports":
		return runSendReportsCommand(ctx, args[1:])
	case cmdHelp, flagHelpShort, flagHelpLong:
		printRootHelp(stdout)
		return 0
	default:
		writef(stderr, "unknown command: %s\n\n", args[0])
		printRootHelp(stderr)
		return 2
	}
}

func runSendAlertsCommand(ctx commandContext, args []string) int {
	cfg := loadConfigFn()

	fs := flag.NewFlagSet("sendalerts", flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	numWorkers := fs.Int("num-workers", 0, "size of the dispatcher's bounded worker pool (0 = use config default)")
	pool := fs.Bool("pool", cfg.PoolDefault, "enable a bounded multi-connection pool instead of the default single-writer connection")
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printSendAlertsHelp(ctx.stdout)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printSendAlertsHelp(ctx.stderr)
		return 2
	}

	workers := *numWorkers
	if workers <= 0 {
		workers = cfg.NumWorkers
	}
	return sendAlertsFn(cfg, workers, *pool)
}

func runSendReportsCommand(ctx commandContext, args []string) int {
	fs := flag.NewFlagSet("sendreports", flag.ContinueOnError)
	fs.SetOutput(ctx.stderr)
	loop := fs.Bool("loop", false, "run continuously, summarizing status on an interval instead of once")
	interval := fs.Duration("interval", 0, "summary interval when --loop is set (0 = use config default)")
	help := fs.Bool("help", false, "show help")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		printSendReportsHelp(ctx.stdout)
		return 0
	}
	if fs.NArg() > 0 {
		writef(ctx.stderr, "unexpected argument(s): %s\n", strings.Join(fs.Args(), " "))
		printSendReportsHelp(ctx.stderr)
		return 2
	}

	cfg := loadConfigFn()
	iv := *interval
	if iv <= 0 {
		iv = cfg.ReportInterval
	}
	return sendReportsFn(cfg, *loop, iv)
}

func printRootHelp(w io.Writer) {
	writeln(w, "pulsecheck — cron job and heartbeat monitoring engine")
	writeln(w)
	writeln(w, "Usage:")
	writeln(w, "  pulsecheck <command> [flags]")
	writeln(w)
	writeln(w, "Commands:")
	writeln(w, "  sendalerts    run the alerting loop and dispatcher until SIGINT/SIGTERM")
	writeln(w, "  sendreports   summarize check status for email digests")
	writeln(w, "  version       print the version and exit")
	writeln(w, "  help          show this help")
}

func printSendAlertsHelp(w io.Writer) {
	writeln(w, "Usage:")
	writeln(w, "  pulsecheck sendalerts [--num-workers N] [--pool]")
	writeln(w)
	writeln(w, "Runs the alerting loop, nag sub-loop and dispatcher continuously until")
	writeln(w, "SIGINT/SIGTERM, then drains in-flight dispatches before exiting.")
}

func printSendReportsHelp(w io.Writer) {
	writeln(w, "Usage:")
	writeln(w, "  pulsecheck sendreports [--loop] [--interval DURATION]")
	writeln(w)
	writeln(w, "Summarizes check status via the shared status resolver. Without --loop,")
	writeln(w, "runs one summary and exits.")
}

func currentVersion() string {
	if value := strings.TrimSpace(buildVersion); value != "" && value != "dev" && value != "(devel)" {
		return value
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if strings.TrimSpace(bi.Main.Version) != "" && bi.Main.Version != "(devel)" {
			return bi.Main.Version
		}
	}
	return "dev"
}
