package commands

import (
	"errors"
	"fmt"
	"time"
	"tradereg/lib/recordstore"
	"tradereg/lib/registry"
	"tradereg/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show <subject id>",
	Short: "Print what the record store holds for a company.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := mustLoadConfig()

		id, err := registry.ParseSubjectID(args[0])
		if err != nil {
			serviceutil.Fatal("invalid subject id", err)
		}

		store, err := recordstore.Open(ctx, cfg.Database)
		if err != nil {
			serviceutil.Fatal("open record store", err)
		}
		defer store.Close()

		rec, err := store.GetIdentity(ctx, id)
		if errors.Is(err, recordstore.ErrNotFound) {
			fmt.Printf("no identity record for %s\n", id)
		} else if err != nil {
			serviceutil.Fatal("read identity", err)
		} else {
			renderIdentity(rec)
		}

		grades, err := store.ListGrades(ctx, id)
		if err != nil {
			serviceutil.Fatal("read grades", err)
		}
		renderGrades(grades)

		entries, err := store.ListErrors(ctx, id)
		if err != nil {
			serviceutil.Fatal("read errors", err)
		}
		renderErrors(entries)
	},
}

func renderIdentity(rec registry.IdentityRecord) {
	t := newTable()
	t.SetTitle(fmt.Sprintf("Identity %s", rec.SubjectID))
	rows := []table.Row{
		{"Status", rec.Status},
		{"Fetched", rec.FetchedAt.Format(time.DateTime)},
		{"Issue date", rec.IssueDate},
		{"Registration date", rec.RegistrationDate},
		{"Name", rec.NameZh},
		{"Name (en)", rec.NameEn},
		{"Address", rec.AddressZh},
		{"Address (en)", rec.AddressEn},
		{"Representative", rec.Representative},
		{"Tel", rec.Tel1},
		{"Tel 2", rec.Tel2},
		{"Fax", rec.Fax},
		{"Old name", rec.OldNameZh},
		{"Old name (en)", rec.OldNameEn},
		{"Website", rec.Website},
		{"Email", rec.Email},
		{"Import qualification", rec.ImportQualification},
		{"Export qualification", rec.ExportQualification},
		{"Import items", rec.ImportItemsZh},
		{"Import items (en)", rec.ImportItemsEn},
		{"Export items", rec.ExportItemsZh},
		{"Export items (en)", rec.ExportItemsEn},
	}
	t.AppendRows(rows)
	t.Render()
}

func renderGrades(grades []registry.GradeRecord) {
	t := newTable()
	t.SetTitle("Grades")
	t.AppendHeader(table.Row{"Period", "Local Year", "Foreign Year", "Import", "Export"})
	for _, g := range grades {
		t.AppendRow(table.Row{g.Period, g.LocalYear, g.ForeignYear, g.ImportGrade, g.ExportGrade})
	}
	t.Render()
}

func renderErrors(entries []registry.ErrorEntry) {
	if len(entries) == 0 {
		return
	}
	t := newTable()
	t.SetTitle("Errors")
	t.AppendHeader(table.Row{"At", "Message"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.At.Format(time.DateTime), e.Message})
	}
	t.Render()
}
