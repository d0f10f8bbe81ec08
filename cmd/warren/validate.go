package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/warrenlabs/warren/internal/epicfile"
)

var validateCmd = &cobra.Command{
	Use:   "validate <epics.yaml>",
	Short: "Check a catalog file without running it",
	Long: `Validate parses the catalog and reports the problems a run would
reject: missing or duplicate ids, empty sub-task lists, and unknown
operation names in requires lists.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := epicfile.Load(args[0])
		if err != nil {
			return err
		}
		if err := catalog.Validate(); err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "invalid: %v\n", err)
			return fmt.Errorf("catalog %s is invalid", args[0])
		}

		table := newTable(os.Stdout, []string{"Epic", "Title", "Sub-tasks", "Operations"})
		for _, e := range catalog.Epics {
			ops := make([]string, 0, 4)
			for _, op := range e.Operations() {
				ops = append(ops, string(op))
			}
			table.Append([]string{
				e.ID, e.Title,
				fmt.Sprintf("%d", len(e.SubTasks)),
				strings.Join(ops, ", "),
			})
		}
		table.Render()
		color.New(color.FgGreen).Printf("%s: %d epic(s) valid\n", args[0], len(catalog.Epics))
		return nil
	},
}
