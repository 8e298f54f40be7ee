package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/cogwire/internal/config"
)

// newStatusCommand reads the capture database directly instead of going
// through the store, so it never opens a new session row.
func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show capture database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Storage.Engine != "sqlite" {
				return fmt.Errorf("status only supports the sqlite engine; inspect postgres directly")
			}
			if _, err := os.Stat(cfg.DBPath()); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No database found. Run `cogwire init` and start a session first.")
				return nil
			}

			db, err := sql.Open("sqlite", cfg.DBPath())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			var totalEvents, totalSessions int
			var totalBytes sql.NullInt64
			if err := db.QueryRow("SELECT COUNT(*) FROM capture_events").Scan(&totalEvents); err != nil {
				return fmt.Errorf("count events: %w", err)
			}
			if err := db.QueryRow("SELECT COUNT(*) FROM capture_sessions").Scan(&totalSessions); err != nil {
				return fmt.Errorf("count sessions: %w", err)
			}
			if err := db.QueryRow("SELECT SUM(content_length) FROM capture_events").Scan(&totalBytes); err != nil {
				return fmt.Errorf("sum bytes: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "cogwire status")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "Events:   %d\n", totalEvents)
			fmt.Fprintf(out, "Sessions: %d\n", totalSessions)
			fmt.Fprintf(out, "Bytes:    %d\n\n", totalBytes.Int64)

			if err := printGroup(out, db, "Top Topics:",
				`SELECT light_topic, COUNT(*) FROM capture_events
				 WHERE light_topic IS NOT NULL
				 GROUP BY light_topic ORDER BY COUNT(*) DESC LIMIT 5`); err != nil {
				return err
			}
			return printGroup(out, db, "Gut Signals:",
				`SELECT instinct_gut_signal, COUNT(*) FROM capture_events
				 WHERE instinct_gut_signal IS NOT NULL
				 GROUP BY instinct_gut_signal ORDER BY COUNT(*) DESC`)
		},
	}
}

func printGroup(out io.Writer, db *sql.DB, title, query string) error {
	rows, err := db.Query(query)
	if err != nil {
		return fmt.Errorf("query %q: %w", title, err)
	}
	defer rows.Close()

	printed := false
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %q: %w", title, err)
		}
		if !printed {
			fmt.Fprintln(out, title)
			printed = true
		}
		fmt.Fprintf(out, "  %s: %d\n", key, n)
	}
	return rows.Err()
}
