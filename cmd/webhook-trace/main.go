// Command webhook-trace prints the debug trail of webhook deliveries for an
// order or provider event, reading the NDJSON log the server appends to.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/RankForge/server/internal/eventlog"
)

func main() {
	path := flag.String("log", "logs/webhook-debug.ndjson", "webhook debug log path")
	orderID := flag.String("order", "", "show entries for this order id")
	eventID := flag.String("event", "", "show entries for this provider event id")
	state := flag.String("state", "", "only show this state (e.g. rejected, synthesized, error)")
	flag.Parse()

	var filters []eventlog.Filter
	if *orderID != "" {
		filters = append(filters, eventlog.FieldEquals("order_id", *orderID))
	}
	if *eventID != "" {
		filters = append(filters, eventlog.FieldEquals("event_id", *eventID))
	}
	if len(filters) == 0 && *state == "" {
		log.Fatal("one of -order, -event or -state is required")
	}

	var filter eventlog.Filter
	if len(filters) > 0 {
		filter = eventlog.Any(filters...)
	}
	if *state != "" {
		byState := eventlog.FieldEquals("state", *state)
		if filter == nil {
			filter = byState
		} else {
			inner := filter
			filter = func(e eventlog.Entry) bool { return inner(e) && byState(e) }
		}
	}

	entries, skipped, err := eventlog.ReadFile(*path, filter)
	if err != nil {
		log.Fatalf("read %s: %v", *path, err)
	}
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "skipped %d unreadable lines\n", skipped)
	}
	if len(entries) == 0 {
		fmt.Println("no matching entries")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATE\tPROVIDER\tEVENT\tORDER\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time().Format(time.RFC3339Nano),
			e.String("state"),
			e.String("provider"),
			e.String("event_id"),
			e.String("order_id"),
			details(e),
		)
	}
	_ = w.Flush()
}

var common = map[string]bool{
	"ts": true, "event": true, "state": true, "provider": true,
	"event_id": true, "order_id": true, "request_id": true,
}

func details(e eventlog.Entry) string {
	keys := make([]string, 0, len(e))
	for k := range e {
		if !common[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e[k]))
	}
	return strings.Join(parts, " ")
}
