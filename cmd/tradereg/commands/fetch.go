package commands

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"tradereg/internal/components/chrono"
	reporting "tradereg/internal/components/telemetry"
	"tradereg/lib/archive"
	"tradereg/lib/browser"
	"tradereg/lib/captcha"
	"tradereg/lib/ocr"
	"tradereg/lib/platforms/tradeportal"
	"tradereg/lib/serviceutil"
	"tradereg/services/fetcher"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	fetchOutput string
	fetchNoDb   bool
	fetchBatch  bool
	fetchLimit  int
)

func init() {
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "The directory PDF archives are written to, overrides archive.dir.")
	fetchCmd.Flags().BoolVar(&fetchNoDb, "no-db", false, "Do not persist anything to the record store.")
	fetchCmd.Flags().BoolVarP(&fetchBatch, "batch", "b", false, "Fetch the configured batch of subjects instead of the arguments.")
	fetchCmd.Flags().IntVarP(&fetchLimit, "limit", "l", 0, "Fetch at most this many subjects of the batch, 0 for all.")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [subject ids...]",
	Short: "Fetch the identity and grade records of companies.",
	Long:  "Fetch the identity and grade records of the given companies. With no ids, or with --batch, the configured batch is fetched.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		if fetchOutput != "" {
			cfg.Archive.Dir = fetchOutput
		}

		ids := args
		if fetchBatch || len(ids) == 0 {
			ids = cfg.Batch.Subjects
		}
		if fetchLimit > 0 && fetchLimit < len(ids) {
			ids = ids[:fetchLimit]
		}
		if len(ids) == 0 {
			serviceutil.Fatal("nothing to fetch", fmt.Errorf("no subject ids given and the batch is empty"))
		}

		service := newFetchService(cfg, !fetchNoDb)
		slog.Info("starting fetch", "subjects", len(ids), "persist", !fetchNoDb)
		summary := service.Batch(cmd.Context(), ids)
		renderSummary(summary)
	},
}

func newFetchService(cfg Config, persist bool) fetcher.Service {
	clock, err := chrono.NewStandardImpl()
	if err != nil {
		serviceutil.Fatal("load timezone", err)
	}
	tel := reporting.SlogAPI{}

	recognizer, err := ocr.NewHTTPRecognizer(cfg.Ocr, tel)
	if err != nil {
		serviceutil.Fatal("create ocr client", err)
	}
	solver := captcha.NewSolver(recognizer, cfg.Captcha.MinLength, cfg.Captcha.MaxLength)
	launcher := browser.NewChromeLauncher(cfg.Chrome)

	writer := archive.NewWriter(cfg.Archive.Dir, clock.Now)
	writer.Stamp = !cfg.Archive.SkipStamp

	var opener fetcher.StoreOpener
	if persist {
		opener = fetcher.OpenRecordStore(cfg.Database)
	}

	return fetcher.NewService(fetcher.ServiceOptions{
		Basic:     tradeportal.NewBasicFetcher(launcher, solver, writer, cfg.Portal, tel),
		Grades:    tradeportal.NewGradeFetcher(launcher, solver, writer, cfg.Portal, tel),
		OpenStore: opener,
		Telemetry: tel,
		Clock:     clock,
		Pacing:    cfg.Pacing,
	})
}

func renderSummary(summary fetcher.Summary) {
	t := newTable()
	t.SetTitle("Fetch Summary")
	t.AppendHeader(table.Row{"Subject", "Status", "Fields", "Grades", "Saved", "Time", "Errors"})
	for _, report := range summary.Reports {
		saved := "no"
		if report.Persisted {
			saved = "yes"
		}
		t.AppendRow(table.Row{
			report.Subject,
			report.Status,
			report.Fields,
			report.Grades,
			saved,
			report.Duration.Round(100 * time.Millisecond).String(),
			strings.Join(report.Errors, "\n"),
		})
	}
	for _, raw := range summary.Invalid {
		t.AppendRow(table.Row{raw, "skipped", "", "", "", "", "invalid subject id"})
	}
	t.AppendFooter(table.Row{
		"Total", summary.Total(),
		fmt.Sprintf("success %d", summary.Success),
		fmt.Sprintf("partial %d", summary.Partial),
		fmt.Sprintf("error %d", summary.Error),
		fmt.Sprintf("skipped %d", summary.Skipped),
		fmt.Sprintf("pauses %d", summary.Pauses),
	})
	t.Render()
}
