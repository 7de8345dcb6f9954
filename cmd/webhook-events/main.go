// Command webhook-events inspects the postgres webhook idempotency table and
// can release claims stuck in processing so the next gateway retry is handled.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"

	"github.com/RankForge/server/internal/config"
)

func main() {
	configPath := flag.String("config", "", "config yaml with storage.postgres_url (env overrides apply)")
	status := flag.String("status", "failed", "list events in this status (processing, processed, failed)")
	limit := flag.Int("limit", 50, "maximum rows to list")
	release := flag.Duration("release-stuck", 0, "mark events processing for longer than this as failed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Storage.PostgresURL == "" {
		log.Fatal("storage.postgres_url is not configured")
	}

	db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}

	if *release > 0 {
		res, err := db.ExecContext(ctx, `
			UPDATE webhook_events
			SET status = 'failed', error = 'released by operator', updated_at = NOW()
			WHERE status = 'processing' AND updated_at < $1`,
			time.Now().Add(-*release))
		if err != nil {
			log.Fatalf("release: %v", err)
		}
		n, _ := res.RowsAffected()
		fmt.Printf("released %d stuck events\n", n)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT provider, event_id, order_id, outcome, error, attempts, updated_at
		FROM webhook_events
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2`, *status, *limit)
	if err != nil {
		log.Fatalf("query: %v", err)
	}
	defer rows.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "UPDATED\tPROVIDER\tEVENT\tORDER\tATTEMPTS\tOUTCOME\tERROR")
	for rows.Next() {
		var (
			provider, eventID, orderID, outcome, errMsg string
			attempts                                    int
			updated                                     time.Time
		)
		if err := rows.Scan(&provider, &eventID, &orderID, &outcome, &errMsg, &attempts, &updated); err != nil {
			log.Fatalf("scan: %v", err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			updated.Format(time.RFC3339), provider, eventID, orderID, attempts, outcome, errMsg)
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("rows: %v", err)
	}
	_ = w.Flush()
}
