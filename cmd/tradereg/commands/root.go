package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
	"tradereg/lib/ocr"
	"tradereg/lib/restyutil"
	"tradereg/lib/serviceutil"
	"tradereg/lib/telemetry"

	"github.com/spf13/cobra"
)

var (
	configName string
	verbose    bool
	otel       telemetry.Telemetry
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configName, "config", "tradereg.json5", "The config file, searched for from the working directory up.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging and dump OCR requests to .dev/resty/ocr.")
}

var rootCmd = &cobra.Command{
	Use:   "tradereg",
	Short: "tradereg fetches company records from the trade registry portal.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
		if verbose {
			slog.Debug("verbose logging enabled")
			output, err := restyutil.NewFilesystemOutput(".dev/resty/ocr")
			if err != nil {
				serviceutil.Fatal("create resty output dir", err)
			}
			ocr.SetRestyInstrumentOutput(output)
		}

		var err error
		otel, err = telemetry.SetupFromEnv(cmd.Context(), "tradereg")
		if err != nil {
			serviceutil.Fatal("setup telemetry", err)
		}
		telemetry.InstrumentPerfStats(cmd.Context())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		err := otel.Shutdown(ctx)
		if err != nil {
			slog.Warn("failed to flush telemetry", "err", err)
		}
	},
}

func mustLoadConfig() Config {
	cfg, err := LoadConfig(configName)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
