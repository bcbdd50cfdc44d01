package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"bracketbot/internal/adapters/logger"
	"bracketbot/internal/adapters/sqlite"
	"bracketbot/internal/domain"
)

func main() {
	dbPath := flag.String("db", "./data/trades.db", "Path to the trades database")
	flag.Parse()

	appLogger := logger.NewStdLogger(logger.LevelWarn)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: *dbPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("Error opening trade database: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	trades, err := repo.FindAll(ctx)
	if err != nil {
		log.Fatalf("Error loading trades: %v", err)
	}
	if len(trades) == 0 {
		log.Println("No trades recorded yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "ID\tTicker\tSide\tStatus\tOpenTime\tOpenPrice\tClosePrice\tReason\tProfit\t")

	var wins, losses int
	for _, t := range trades {
		profit := "-"
		reason := "-"
		closePrice := "-"
		if t.Status == domain.StatusClosed {
			p := t.Profit()
			profit = fmt.Sprintf("%.2f", p)
			reason = string(t.CloseReason)
			closePrice = fmt.Sprintf("%.2f", t.ClosePrice)
			if p >= 0 {
				wins++
			} else {
				losses++
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.2f\t%s\t%s\t%s\t\n",
			t.ID, t.Ticker, t.Side, t.Status,
			t.OpenTime.Format(time.RFC3339), t.OpenPrice,
			closePrice, reason, profit)
	}
	w.Flush()

	total, err := repo.TotalProfit(ctx)
	if err != nil {
		log.Fatalf("Error calculating total profit: %v", err)
	}

	fmt.Printf("\nClosed trades: %d (wins: %d, losses: %d)\n", wins+losses, wins, losses)
	fmt.Printf("Total realized profit: %.2f\n", total)
}
