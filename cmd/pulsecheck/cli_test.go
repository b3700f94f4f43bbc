package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/opus-domini/pulsecheck/internal/config"
)

func TestRunCLINoArgsPrintsHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runCLI(nil, &out, &errOut)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "pulsecheck") {
		t.Fatalf("expected help text on stderr, got %q", errOut.String())
	}
}

func TestRunCLIVersion(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runCLI([]string{"version"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "pulsecheck version") {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}

func TestRunCLIUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runCLI([]string{"bogus"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "unknown command: bogus") {
		t.Fatalf("expected unknown-command message, got %q", errOut.String())
	}
}

func TestRunCLISendAlertsParsesFlagsAndCallsHandler(t *testing.T) {
	origLoad := loadConfigFn
	origSend := sendAlertsFn
	t.Cleanup(func() {
		loadConfigFn = origLoad
		sendAlertsFn = origSend
	})

	loadConfigFn = func() config.Config { return config.Config{NumWorkers: 4} }

	var gotWorkers int
	var gotPool bool
	sendAlertsFn = func(cfg config.Config, numWorkers int, pool bool) int {
		gotWorkers = numWorkers
		gotPool = pool
		return 0
	}

	var out, errOut bytes.Buffer
	code := runCLI([]string{"sendalerts", "--num-workers", "7", "--pool"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, errOut.String())
	}
	if gotWorkers != 7 {
		t.Fatalf("numWorkers = %d, want 7", gotWorkers)
	}
	if !gotPool {
		t.Fatal("expected pool=true to be passed through")
	}
}

func TestRunCLISendAlertsDefaultsWorkersFromConfig(t *testing.T) {
	origLoad := loadConfigFn
	origSend := sendAlertsFn
	t.Cleanup(func() {
		loadConfigFn = origLoad
		sendAlertsFn = origSend
	})

	loadConfigFn = func() config.Config { return config.Config{NumWorkers: 9} }

	var gotWorkers int
	sendAlertsFn = func(cfg config.Config, numWorkers int, pool bool) int {
		gotWorkers = numWorkers
		return 0
	}

	var out, errOut bytes.Buffer
	code := runCLI([]string{"sendalerts"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, errOut.String())
	}
	if gotWorkers != 9 {
		t.Fatalf("numWorkers = %d, want 9 (from config default)", gotWorkers)
	}
}

func TestRunCLISendAlertsHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runCLI([]string{"sendalerts", "--help"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "sendalerts") {
		t.Fatalf("expected help text, got %q", out.String())
	}
}

func TestRunCLISendAlertsRejectsExtraArgs(t *testing.T) {
	var out, errOut bytes.Buffer
	code := runCLI([]string{"sendalerts", "extra"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRunCLISendReportsParsesFlags(t *testing.T) {
	origLoad := loadConfigFn
	origReports := sendReportsFn
	t.Cleanup(func() {
		loadConfigFn = origLoad
		sendReportsFn = origReports
	})

	loadConfigFn = func() config.Config { return config.Config{ReportInterval: time.Hour} }

	var gotLoop bool
	var gotInterval time.Duration
	sendReportsFn = func(cfg config.Config, loop bool, interval time.Duration) int {
		gotLoop = loop
		gotInterval = interval
		return 0
	}

	var out, errOut bytes.Buffer
	code := runCLI([]string{"sendreports", "--loop", "--interval", "10m"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, errOut.String())
	}
	if !gotLoop {
		t.Fatal("expected loop=true to be passed through")
	}
	if gotInterval != 10*time.Minute {
		t.Fatalf("interval = %s, want 10m", gotInterval)
	}
}

func TestRunCLISendReportsDefaultsIntervalFromConfig(t *testing.T) {
	origLoad := loadConfigFn
	origReports := sendReportsFn
	t.Cleanup(func() {
		loadConfigFn = origLoad
		sendReportsFn = origReports
	})

	loadConfigFn = func() config.Config { return config.Config{ReportInterval: 45 * time.Minute} }

	var gotInterval time.Duration
	sendReportsFn = func(cfg config.Config, loop bool, interval time.Duration) int {
		gotInterval = interval
		return 0
	}

	var out, errOut bytes.Buffer
	code := runCLI([]string{"sendreports", "--loop"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0 (stderr: %s)", code, errOut.String())
	}
	if gotInterval != 45*time.Minute {
		t.Fatalf("interval = %s, want 45m", gotInterval)
	}
}

func TestCurrentVersionFallsBackToDev(t *testing.T) {
	orig := buildVersion
	buildVersion = "dev"
	t.Cleanup(func() { buildVersion = orig })

	if v := currentVersion(); v == "" {
		t.Fatal("expected a non-empty version string")
	}
}
