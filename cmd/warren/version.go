package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warrenlabs/warren/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the warren version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("warren %s\n", version.Get())
	},
}
