package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hireloop/courier/internal/db"
	"github.com/hireloop/courier/internal/models"
	"github.com/hireloop/courier/internal/queue"
)

var queueListStatus string
var queueListLimit int

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Delivery queue commands",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue item counts by status",
	RunE:  runQueueStats,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	RunE:  runQueueList,
}

func init() {
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "filter by status (pending, sending, sent, failed, skipped)")
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 20, "maximum items to list")
	queueCmd.AddCommand(queueStatsCmd, queueListCmd)
}

func openQueue() (*queue.DeliveryQueue, *db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	database, err := db.New(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	q := queue.New(database.DB, queue.Config{
		MaxAttempts:     cfg.Delivery.MaxAttempts,
		RetryBaseDelay:  cfg.Delivery.RetryBaseDelay,
		RetryMaxDelay:   cfg.Delivery.RetryMaxDelay,
		StaleClaimAfter: cfg.Delivery.StaleClaimAfter,
	})
	return q, database, nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	q, database, err := openQueue()
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := q.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Pending:  %d (due now: %d)\n", stats.Pending, stats.Due)
	fmt.Printf("Sending:  %d\n", stats.Sending)
	fmt.Printf("Sent:     %d\n", stats.Sent)
	fmt.Printf("Failed:   %d\n", stats.Failed)
	fmt.Printf("Skipped:  %d\n", stats.Skipped)
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	q, database, err := openQueue()
	if err != nil {
		return err
	}
	defer database.Close()

	items, err := q.List(context.Background(), models.QueueItemStatus(queueListStatus), queueListLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRECIPIENT\tSTATUS\tATTEMPTS\tSCHEDULED\tERROR")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			item.ID, item.Recipient, item.Status, item.Attempts,
			item.ScheduledFor.Format("2006-01-02 15:04"), item.LastError)
	}
	return w.Flush()
}
