package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hireloop/courier/internal/db"
	"github.com/hireloop/courier/internal/models"
	"github.com/hireloop/courier/internal/suppression"
)

var suppressionAddReason string
var suppressionListLimit int

var suppressionCmd = &cobra.Command{
	Use:   "suppression",
	Short: "Suppression list commands",
}

var suppressionAddCmd = &cobra.Command{
	Use:   "add <address>",
	Short: "Add an address to the suppression list",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuppressionAdd,
}

var suppressionRemoveCmd = &cobra.Command{
	Use:   "remove <address>",
	Short: "Remove an address from the suppression list",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuppressionRemove,
}

var suppressionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suppressed addresses",
	RunE:  runSuppressionList,
}

func init() {
	suppressionAddCmd.Flags().StringVar(&suppressionAddReason, "reason", models.SuppressionManual, "suppression reason")
	suppressionListCmd.Flags().IntVar(&suppressionListLimit, "limit", 50, "maximum entries to list")
	suppressionCmd.AddCommand(suppressionAddCmd, suppressionRemoveCmd, suppressionListCmd)
}

func openSuppressions() (*suppression.Store, *db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	database, err := db.New(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	return suppression.NewStore(database.DB), database, nil
}

func runSuppressionAdd(cmd *cobra.Command, args []string) error {
	store, database, err := openSuppressions()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.Add(context.Background(), args[0], suppressionAddReason, nil); err != nil {
		return err
	}

	fmt.Printf("Suppressed %s (%s)\n", args[0], suppressionAddReason)
	return nil
}

func runSuppressionRemove(cmd *cobra.Command, args []string) error {
	store, database, err := openSuppressions()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := store.Remove(context.Background(), args[0]); err != nil {
		return err
	}

	fmt.Printf("Removed %s\n", args[0])
	return nil
}

func runSuppressionList(cmd *cobra.Command, args []string) error {
	store, database, err := openSuppressions()
	if err != nil {
		return err
	}
	defer database.Close()

	entries, err := store.List(context.Background(), suppressionListLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tREASON\tEXPIRES\tADDED")
	for _, e := range entries {
		expires := "-"
		if e.ExpiresAt != nil {
			expires = e.ExpiresAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Address, e.Reason, expires, e.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
