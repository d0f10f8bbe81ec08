package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/warrenlabs/warren/internal/retrieval"
	"github.com/warrenlabs/warren/pkg/branch"
)

var flagHistoryDB string

var historyCmd = &cobra.Command{
	Use:   "history [branch-id]",
	Short: "Inspect archived execution branches",
	Long: `History lists the branches archived in the sqlite store, or with a
branch id, replays that branch's event sequence.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := flagHistoryDB
		if dbPath == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbPath = cfg.Retrieval.DBPath
		}
		if dbPath == "" {
			return fmt.Errorf("no archive database: pass --db or set retrieval.db_path")
		}

		store, err := retrieval.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 0 {
			return listBranches(store)
		}
		return showBranch(store, args[0])
	},
}

func init() {
	historyCmd.Flags().StringVar(&flagHistoryDB, "db", "", "Archive database path")
}

func listBranches(store *retrieval.Store) error {
	records, err := store.Branches()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no archived branches")
		return nil
	}

	table := newTable(os.Stdout, []string{"Branch", "Events", "Archived"})
	for _, r := range records {
		table.Append([]string{
			r.ID,
			fmt.Sprintf("%d", r.EventCount),
			r.ArchivedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	return nil
}

func showBranch(store *retrieval.Store, branchID string) error {
	events, err := store.EventsFor(branchID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no archived events for branch %q", branchID)
	}

	table := newTable(os.Stdout, []string{"#", "Time", "Type", "Detail"})
	for i, e := range events {
		var kind, detail string
		switch ev := e.(type) {
		case branch.ReasoningStep:
			kind = "reasoning " + ev.Kind
			detail = truncate(ev.StateSnapshot, 80)
		case branch.IngestEvent:
			kind = "ingest " + ev.Source
			detail = truncate(strings.Join(ev.Items, ", "), 80)
		default:
			kind = "unknown"
		}
		table.Append([]string{
			fmt.Sprintf("%d", i),
			e.OccurredAt().Local().Format("15:04:05"),
			kind,
			detail,
		})
	}
	table.Render()
	return nil
}
