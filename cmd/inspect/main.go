// Command inspect reads the engine's Badger directory offline and prints its
// entries as tables. It also mints bearer tokens for local testing.
package main

import (
	"chat-engine/auth"
	"chat-engine/domain"
	"chat-engine/repositories"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/database"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	dbPath string
	limit  int
)

var rootCmd = &cobra.Command{
	Use:          "inspect",
	Short:        "Inspect the chat engine storage",
	SilenceUsage: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan [prefix]",
	Short: "Describe every entry under a raw key prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		return render(cmd.OutOrStdout(), prefix)
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <topic>",
	Short: "List the messages of a conversation:{id} or community:{id} topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, err := domain.ParseTopic(args[0])
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), fmt.Sprintf("msg:%s:", topic))
	},
}

var communitiesCmd = &cobra.Command{
	Use:   "communities",
	Short: "List every community",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return render(cmd.OutOrStdout(), "cmty:")
	},
}

var membersCmd = &cobra.Command{
	Use:   "members <community-id>",
	Short: "List the membership rows of a community",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid community id: %w", err)
		}
		return render(cmd.OutOrStdout(), fmt.Sprintf("mbr:%s:", id))
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a bearer token signed with JWT_SECRET",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		duration, _ := cmd.Flags().GetDuration("duration")
		if len(secret) < 16 {
			return fmt.Errorf("secret must hold at least 16 characters")
		}
		token, err := auth.NewTokenIssuer(secret, duration).GenerateToken(args[0], []string{"user"})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
		return err
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", database.DefaultPath, "Path to badger DB")
	rootCmd.PersistentFlags().IntVar(&limit, "limit", 100, "Maximum number of rows, 0 for all")
	tokenCmd.Flags().String("secret", os.Getenv("JWT_SECRET"), "Signing secret")
	tokenCmd.Flags().Duration("duration", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(scanCmd, messagesCmd, communitiesCmd, membersCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func render(w io.Writer, prefix string) error {
	db, err := openDB(dbPath)
	if err != nil {
		return fmt.Errorf("error while opening Badger: %w", err)
	}
	defer db.Close()

	records, err := repositories.Scan(db, prefix, limit)
	if err != nil {
		return err
	}

	table := newTable(w)
	for _, record := range records {
		at := ""
		if !record.At.IsZero() {
			at = record.At.Format(time.DateTime)
		}
		// The first 8 characters of a uuid are enough to tell rows apart
		displayID := record.ID
		if len(displayID) > 8 {
			displayID = displayID[:8]
		}
		table.Append([]string{record.Key, record.Kind, at, displayID, record.Detail})
	}
	table.Render()
	_, err = fmt.Fprintf(w, "\n%d entries under %q\n", len(records), prefix)
	return err
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "ID", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

// openDB opens read-only. A directory that needs a log truncate is opened
// once in write mode to repair it, then reopened read-only.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err == nil || !strings.Contains(err.Error(), "Log truncate required") {
		return db, err
	}
	repaired, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil).WithBypassLockGuard(true))
	if err != nil {
		return nil, fmt.Errorf("repair failed: %w", err)
	}
	_ = repaired.Close()
	return badger.Open(opts)
}
