package commands

import (
	"os"
	"tradereg/lib/registry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate <subject ids...>",
	Short: "Check subject ids against the registry checksum.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		t := newTable()
		t.AppendHeader(table.Row{"Input", "Valid", "Reason"})

		invalid := 0
		for _, raw := range args {
			_, err := registry.ParseSubjectID(raw)
			if err != nil {
				invalid++
				t.AppendRow(table.Row{raw, "no", err.Error()})
				continue
			}
			t.AppendRow(table.Row{raw, "yes", ""})
		}
		t.Render()

		if invalid > 0 {
			os.Exit(1)
		}
	},
}
