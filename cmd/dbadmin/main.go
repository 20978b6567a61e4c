package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/opencivic/eventbrite-warehouse/internal/config"
	"github.com/opencivic/eventbrite-warehouse/internal/warehouse"
)

// dbadmin exposes the destructive table operations as a one-shot tool:
//
//	dbadmin -op backup -table events
//	dbadmin -op revert -table events
//	dbadmin -op truncate -table attendees
//	dbadmin -op refresh-view -view event_aggregates
//	dbadmin -op refresh-views
func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	op := flag.String("op", "", "backup | revert | truncate | refresh-view | refresh-views")
	table := flag.String("table", "", "target table for backup/revert/truncate")
	view := flag.String("view", "", "materialized view for refresh-view")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	wh, err := warehouse.New(cfg.DBURL(), cfg.PGSchema)
	if err != nil {
		log.Fatalf("connect warehouse: %v", err)
	}
	defer wh.Close()

	switch *op {
	case "backup":
		err = tableOp(ctx, wh.BackupTable, *table)
	case "revert":
		err = tableOp(ctx, wh.RevertTable, *table)
	case "truncate":
		err = tableOp(ctx, wh.TruncateTable, *table)
	case "refresh-view":
		if *view == "" {
			err = fmt.Errorf("-view required")
		} else {
			err = wh.RefreshView(ctx, *view)
		}
	case "refresh-views":
		err = wh.RefreshViews(ctx)
	default:
		err = fmt.Errorf("unknown -op %q", *op)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", *op, err)
	}
	fmt.Printf("%s complete\n", *op)
}

func tableOp(ctx context.Context, fn func(context.Context, string) error, table string) error {
	if table == "" {
		return fmt.Errorf("-table required")
	}
	return fn(ctx, table)
}
