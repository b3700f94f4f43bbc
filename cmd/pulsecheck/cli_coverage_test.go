package main

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

// TestHelpFunctions exercises the per-subcommand print*Help functions to
// ensure they write output containing "Usage:" and do not panic.
func TestHelpFunctions(t *testing.T) {
	t.Parallel()

	type helpFunc struct {
		name string
		fn   func(io.Writer)
	}

	cases := []helpFunc{
		{"printSendAlertsHelp", printSendAlertsHelp},
		{"printSendReportsHelp", printSendReportsHelp},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			c.fn(&buf)
			got := buf.String()
			if !strings.Contains(got, "Usage:") {
				t.Fatalf("%s output missing Usage: %s", c.name, got)
			}
		})
	}
}

func TestPrintRootHelpListsAllCommands(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printRootHelp(&buf)
	got := buf.String()

	for _, fragment := range []string{"sendalerts", "sendreports", "version", "help"} {
		if !strings.Contains(got, fragment) {
			t.Fatalf("root help missing %q: %s", fragment, got)
		}
	}
}

func TestRunCLIHelpFlag(t *testing.T) {
	t.Parallel()

	for _, arg := range []string{"help", "-h", "--help"} {
		var out, errOut bytes.Buffer
		code := runCLI([]string{arg}, &out, &errOut)
		if code != 0 {
			t.Fatalf("runCLI(%q) exit code = %d, want 0", arg, code)
		}
		if !strings.Contains(out.String(), "pulsecheck") {
			t.Fatalf("runCLI(%q) missing help text: %s", arg, out.String())
		}
	}
}

func TestRunCLISendReportsHelp(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	code := runCLI([]string{"sendreports", "--help"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "sendreports") {
		t.Fatalf("expected help text, got %q", out.String())
	}
}

func TestRunCLISendReportsRejectsExtraArgs(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	code := runCLI([]string{"sendreports", "extra"}, &out, &errOut)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}
