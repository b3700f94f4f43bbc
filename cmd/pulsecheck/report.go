package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opus-domini/pulsecheck/internal/resolve"
	"github.com/opus-domini/pulsecheck/internal/schedule"
	"github.com/opus-domini/pulsecheck/internal/store"
)

// reportOnce renders one status digest via the shared resolver (spec §6
// "sendreports ... shares C2 for status rendering"). Mail composition
// and recipient management are out of scope (spec §1 Non-goals); this
// gives operators a way to inspect digest contents from the command
// line, both for logs and for an interactive TTY session.
func reportOnce(st *store.Store, eval *schedule.Evaluator) error {
	checks, err := st.ListChecks(context.Background())
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var up, down, paused, newChecks int
	var rows []outputRow
	for _, c := range checks {
		label, _, resolveErr := resolve.Resolve(eval, c, now)
		if resolveErr != nil {
			continue
		}
		switch label {
		case resolve.LabelUp, resolve.LabelStarted:
			up++
		case resolve.LabelDown:
			down++
		case resolve.LabelPaused:
			paused++
		default:
			newChecks++
		}
		rows = append(rows, outputRow{Key: c.Name, Value: fmt.Sprintf("%s (%s)", label, lastPingSummary(c.LastPing))})
	}

	slog.Info("status digest", "checks", len(checks), "up", up, "down", down, "paused", paused, "new", newChecks)

	printHeading(os.Stdout, "pulsecheck status digest")
	printRows(os.Stdout, rows)
	writeln(os.Stdout, "total: "+strconv.Itoa(len(checks))+", up: "+strconv.Itoa(up)+", down: "+strconv.Itoa(down)+
		", paused: "+strconv.Itoa(paused)+", new: "+strconv.Itoa(newChecks))
	return nil
}

func lastPingSummary(lastPing *time.Time) string {
	if lastPing == nil {
		return "never"
	}
	return humanize.Time(*lastPing)
}
