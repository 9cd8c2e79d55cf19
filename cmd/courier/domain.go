package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hireloop/courier/internal/app"
	"github.com/hireloop/courier/internal/db"
	"github.com/hireloop/courier/internal/identity"
)

var domainAddOrg string

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Sending domain commands",
}

var domainAddCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Register a sending domain and generate its DKIM key",
	Args:  cobra.ExactArgs(1),
	RunE:  runDomainAdd,
}

var domainVerifyCmd = &cobra.Command{
	Use:   "verify <domain>",
	Short: "Check the domain's DKIM record in DNS",
	Args:  cobra.ExactArgs(1),
	RunE:  runDomainVerify,
}

var domainRecordsCmd = &cobra.Command{
	Use:   "records <domain>",
	Short: "Print the DNS records to publish for a domain",
	Args:  cobra.ExactArgs(1),
	RunE:  runDomainRecords,
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sending domains",
	RunE:  runDomainList,
}

func init() {
	domainAddCmd.Flags().StringVar(&domainAddOrg, "org", "", "owning organization id")
	domainAddCmd.MarkFlagRequired("org")
	domainCmd.AddCommand(domainAddCmd, domainVerifyCmd, domainRecordsCmd, domainListCmd)
}

func openIdentities() (*identity.Manager, *db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	database, err := db.New(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	return identity.NewManager(database.DB, app.SetupLogger(cfg.Logging)), database, nil
}

func runDomainAdd(cmd *cobra.Command, args []string) error {
	identities, database, err := openIdentities()
	if err != nil {
		return err
	}
	defer database.Close()

	ident, err := identities.Create(context.Background(), domainAddOrg, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Domain %s registered (selector %s)\n\n", ident.Domain, ident.Selector)
	fmt.Println("Publish these DNS records, then run: courier domain verify", ident.Domain)
	return printRecords(identities, ident.Domain)
}

func runDomainVerify(cmd *cobra.Command, args []string) error {
	identities, database, err := openIdentities()
	if err != nil {
		return err
	}
	defer database.Close()

	ident, err := identities.Verify(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Domain %s is now %s\n", ident.Domain, ident.Status)
	return nil
}

func runDomainRecords(cmd *cobra.Command, args []string) error {
	identities, database, err := openIdentities()
	if err != nil {
		return err
	}
	defer database.Close()

	return printRecords(identities, args[0])
}

func printRecords(identities *identity.Manager, domain string) error {
	ident, err := identities.Get(context.Background(), domain)
	if err != nil {
		return err
	}
	records, err := identities.Records(ident)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tVALUE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.Name, r.Value)
	}
	return w.Flush()
}

func runDomainList(cmd *cobra.Command, args []string) error {
	identities, database, err := openIdentities()
	if err != nil {
		return err
	}
	defer database.Close()

	idents, err := identities.List(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tORG\tSTATUS\tSELECTOR\tLAST CHECKED")
	for _, d := range idents {
		checked := "-"
		if d.LastCheckedAt != nil {
			checked = d.LastCheckedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Domain, d.OrgID, d.Status, d.Selector, checked)
	}
	return w.Flush()
}
