package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/nexahaul/bidroom/go/internal/dbconfig"
	"github.com/shopspring/decimal"
)

// Prints archived auction outcomes, newest first
func main() {
	table := flag.String("table", "bid_room_outcomes", "archive table")
	roomID := flag.String("room", "", "only show this room")
	limit := flag.Int("limit", 50, "max rows")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 2) Query
	query := fmt.Sprintf(`
		SELECT room_id, winner, final_amount::text, reason, bid_count, completed_at
		FROM %s
		WHERE $1 = '' OR room_id = $1
		ORDER BY completed_at DESC
		LIMIT $2`, pq.QuoteIdentifier(*table))

	rows, err := pool.Query(ctx, query, *roomID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query outcomes: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	// 3) Print with totals
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tWINNER\tFINAL\tBIDS\tREASON\tCOMPLETED")

	var (
		count    int
		withBids int
		total    decimal.Decimal
	)
	for rows.Next() {
		var (
			room, amount, reason string
			winner               *string
			bids                 int
			completedAt          time.Time
		)
		if err := rows.Scan(&room, &winner, &amount, &reason, &bids, &completedAt); err != nil {
			fmt.Fprintf(os.Stderr, "scan outcome: %v\n", err)
			os.Exit(1)
		}

		final, err := decimal.NewFromString(amount)
		if err != nil {
			fmt.Fprintf(os.Stderr, "room %s has bad amount %q: %v\n", room, amount, err)
			continue
		}

		name := "-"
		if winner != nil {
			name = *winner
			withBids++
			total = total.Add(final)
		}
		count++
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			room, name, final.StringFixed(2), bids, reason, completedAt.Format(time.RFC3339))
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "read outcomes: %v\n", err)
		os.Exit(1)
	}
	w.Flush()

	fmt.Printf("\n%d auctions, %d awarded, %s awarded in total\n", count, withBids, total.StringFixed(2))
}
