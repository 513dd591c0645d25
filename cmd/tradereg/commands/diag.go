package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
	"tradereg/lib/browser"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"
)

var driverPaths = []string{
	"/usr/local/bin/chromedriver",
	"/usr/bin/chromedriver",
}

var diagEnvKeys = []string{
	"POSTGRES_HOST",
	"POSTGRES_PORT",
	"POSTGRES_DB",
	"POSTGRES_USER",
	"DISPLAY",
}

func init() {
	rootCmd.AddCommand(diagCmd)
}

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Print what the fetcher can see of its environment.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		t := newTable()
		t.SetTitle("Environment")
		t.AppendRow(table.Row{"Go", runtime.Version()})
		cwd, err := os.Getwd()
		if err != nil {
			cwd = err.Error()
		}
		t.AppendRow(table.Row{"Working directory", cwd})
		for _, key := range diagEnvKeys {
			value, ok := os.LookupEnv(key)
			if !ok {
				value = "(unset)"
			}
			t.AppendRow(table.Row{key, value})
		}
		t.AppendSeparator()

		chrome := browser.FindChrome()
		if chrome == "" {
			t.AppendRow(table.Row{"Chrome", "not found"})
		} else {
			t.AppendRow(table.Row{"Chrome", chrome})
			t.AppendRow(table.Row{"Chrome version", chromeVersion(ctx, chrome)})
		}
		for _, p := range driverPaths {
			t.AppendRow(table.Row{"Driver " + p, fileStatus(p)})
		}
		t.AppendRow(table.Row{"Xvfb", xvfbStatus(ctx)})
		t.AppendSeparator()

		appendHostRows(ctx, t)
		t.Render()
	},
}

func chromeVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return strings.TrimSpace(string(out))
}

func fileStatus(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	if info.Mode()&0o111 == 0 {
		return "not executable"
	}
	return "present"
}

func xvfbStatus(ctx context.Context) string {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !strings.HasPrefix(name, "Xvfb") {
			continue
		}
		cmdline, _ := p.CmdlineWithContext(ctx)
		if cmdline == "" {
			cmdline = name
		}
		return fmt.Sprintf("running (pid %d): %s", p.Pid, cmdline)
	}
	return "not running"
}

func appendHostRows(ctx context.Context, t table.Writer) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		t.AppendRow(table.Row{"Host", fmt.Sprintf("error: %v", err)})
	} else {
		t.AppendRow(table.Row{"Host", info.Hostname})
		t.AppendRow(table.Row{"Platform", fmt.Sprintf("%s %s (%s)", info.Platform, info.PlatformVersion, info.KernelVersion)})
		t.AppendRow(table.Row{"Uptime", (time.Duration(info.Uptime) * time.Second).String()})
	}

	cores, err := cpu.CountsWithContext(ctx, true)
	if err == nil {
		t.AppendRow(table.Row{"CPUs", cores})
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil {
		t.AppendRow(table.Row{"Memory", fmt.Sprintf("%d MiB used of %d MiB", vm.Used>>20, vm.Total>>20)})
	}
}
