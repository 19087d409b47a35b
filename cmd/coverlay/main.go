package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coverlay/coverlay/pkg/cache"
	"github.com/coverlay/coverlay/pkg/config"
	"github.com/coverlay/coverlay/pkg/diag"
	"github.com/coverlay/coverlay/pkg/report"
	"github.com/coverlay/coverlay/pkg/ui"
	"github.com/coverlay/coverlay/pkg/version"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	cpuProfile := flag.String("cpu-profile", "", "Write CPU profile to file")
	help := flag.Bool("help", false, "Show help")
	versionFlag := flag.Bool("version", false, "Show version")
	robotFlag := flag.Bool("robot", false, "Run one reload cycle and print the snapshot as JSON (no TUI)")
	rootsFlag := flag.String("roots", "", "Comma-separated report roots (overrides config)")
	patternsFlag := flag.String("patterns", "", "Comma-separated report glob patterns (overrides config)")
	logFileFlag := flag.String("log-file", "", "Write diagnostic log to file")
	flag.Parse()

	// CPU profiling support
	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	if *help {
		fmt.Println("Usage: coverlay [options]")
		fmt.Println("\nA live code coverage overlay for your terminal.")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *versionFlag {
		fmt.Printf("coverlay %s\n", version.Version)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load config, using defaults: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if *rootsFlag != "" {
		cfg.Reports.Roots = splitFlagList(*rootsFlag)
	}
	if *patternsFlag != "" {
		cfg.Reports.Patterns = splitFlagList(*patternsFlag)
	}
	if *logFileFlag != "" {
		cfg.LogFile = *logFileFlag
	}

	if *robotFlag {
		if err := runRobot(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app, err := ui.NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing coverlay: %v\n", err)
		os.Exit(1)
	}
	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error watching reports: %v\n", err)
		os.Exit(1)
	}
	defer app.Stop()

	if err := runTUIProgram(app.Model()); err != nil {
		fmt.Printf("Error running coverlay: %v\n", err)
		os.Exit(1)
	}
}

// runRobot performs a single discover/load/parse cycle and prints the
// resulting snapshot to stdout, for scripting and CI use.
func runRobot(cfg config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ReloadTimeout())
	defer cancel()

	// Headless runs log to stderr so pipelines can capture diagnostics;
	// stdout carries only the JSON snapshot.
	sink := diag.Sink(diag.NewConsoleSink(nil))
	if cfg.LogFile != "" {
		fs := diag.NewFileSink(cfg.LogFile)
		defer fs.Close()
		sink = fs
	}

	cov := cache.NewCache(cache.CacheConfig{
		Roots:    cfg.Reports.Roots,
		Patterns: cfg.Reports.Patterns,
		Diag:     sink,
	})
	if _, err := cov.Reload(ctx); err != nil {
		return err
	}

	data, err := report.MarshalSnapshot(cov.Snapshot())
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runTUIProgram(m ui.Model) error {
	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	)

	runDone := make(chan struct{})
	defer close(runDone)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-runDone:
			return
		case <-sigCh:
		}

		p.Quit()

		select {
		case <-runDone:
			return
		case <-sigCh:
		case <-time.After(5 * time.Second):
		}

		p.Kill()
	}()

	// Optional auto-quit for automated tests: set COVERLAY_TUI_AUTOCLOSE_MS.
	if v := os.Getenv("COVERLAY_TUI_AUTOCLOSE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			go func() {
				timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
				defer timer.Stop()

				select {
				case <-runDone:
					return
				case <-timer.C:
				}

				p.Quit()

				select {
				case <-runDone:
					return
				case <-time.After(2 * time.Second):
				}

				p.Kill()
			}()
		}
	}

	_, err := p.Run()
	if err != nil && (errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, tea.ErrInterrupted)) {
		return nil
	}
	return err
}

func splitFlagList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
