package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unitwatch/unitwatch/internal/catalog"
	"github.com/unitwatch/unitwatch/internal/config"
	"github.com/unitwatch/unitwatch/internal/discovery"
	"github.com/unitwatch/unitwatch/internal/history"
	"github.com/unitwatch/unitwatch/internal/logger"
	"github.com/unitwatch/unitwatch/internal/orchestrator"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

var (
	flagRoot   string
	flagConfig string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "unitwatch",
		Short: "Discover, run, and watch a Python test suite",
		Long: `unitwatch scans a Python/Django project for unittest-style tests, runs
them through the project's own entry point, and tracks per-test status,
duration, and flakiness across runs.

Examples:
  unitwatch list                            # discover and print the test tree
  unitwatch run                             # run everything
  unitwatch run users.tests.TestUserViews   # run one class
  unitwatch watch                           # re-run affected tests on save
  unitwatch history flaky --top 10          # flakiest tests on record`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to .unitwatch.yaml")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(newRunCmd(), newListCmd(), newWatchCmd(), newHistoryCmd(), newClearCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads settings and constructs the orchestrator. The returned cleanup
// closes the logger and history database.
func setup() (*orchestrator.Orchestrator, *config.Settings, func(), error) {
	settings, err := config.Load(flagRoot, flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}
	fileLogger, err := logger.NewFileLoggerAt(settings.ProjectRoot)
	if err != nil {
		return nil, nil, nil, err
	}
	orch, err := orchestrator.New(settings, fileLogger)
	if err != nil {
		_ = fileLogger.Close()
		return nil, nil, nil, err
	}
	cleanup := func() {
		_ = orch.Close()
		_ = fileLogger.Close()
	}
	return orch, settings, cleanup, nil
}

func newRunCmd() *cobra.Command {
	var profile string
	var bail, debug bool

	cmd := &cobra.Command{
		Use:   "run [target]",
		Short: "Run the whole suite or one target identifier",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			target := ""
			if len(args) == 1 {
				target = args[0]
			}

			// First interrupt cancels the run; a second one exits.
			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "cancelling...")
				orch.Cancel()
				<-sigCh
				os.Exit(130)
			}()

			summary, err := orch.Run(target, orchestrator.RunOptions{
				Profile: profile,
				Bail:    bail,
				Debug:   debug,
			})
			if err != nil {
				return err
			}
			printSummary(summary)
			printSlowestOfRun(orch)
			if summary.Counts[catalog.StatusFailed] > 0 || summary.ExitCode != 0 {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profile, "profile", "", "argument profile to use")
	cmd.Flags().BoolVar(&bail, "bail", false, "stop at the first failing test")
	cmd.Flags().BoolVar(&debug, "debug", false, "strip flags incompatible with a debugger attach")
	return cmd
}

func printSummary(s *orchestrator.RunSummary) {
	status := "OK"
	if s.Cancelled {
		status = "CANCELLED"
	} else if s.Counts[catalog.StatusFailed] > 0 || s.ExitCode != 0 {
		status = "FAILED"
	}
	fmt.Printf("\n%s in %s  passed=%d failed=%d skipped=%d unknown=%d\n",
		status,
		s.Duration.Round(time.Millisecond),
		s.Counts[catalog.StatusPassed],
		s.Counts[catalog.StatusFailed],
		s.Counts[catalog.StatusSkipped],
		s.Counts[catalog.StatusUnknown])
}

// printSlowestOfRun lists the slowest measured cases of the session that
// just ended.
func printSlowestOfRun(orch *orchestrator.Orchestrator) {
	sessions := orch.History().Sessions()
	if len(sessions) == 0 {
		return
	}
	records := append([]history.TestRunRecord(nil), sessions[len(sessions)-1].Records...)
	sort.Slice(records, func(i, j int) bool { return records[i].DurationMs > records[j].DurationMs })

	shown := 0
	for _, rec := range records {
		if rec.DurationMs <= 0 {
			break
		}
		if shown == 0 {
			fmt.Println("Slowest:")
		}
		fmt.Printf("  %6dms  %s\n", rec.DurationMs, rec.CanonicalID)
		shown++
		if shown == 3 {
			break
		}
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [target]",
		Short: "Discover and print the test hierarchy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			root, err := orch.Discover()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				sub := root.Find(args[0])
				if sub == nil {
					return fmt.Errorf("unknown target %q", args[0])
				}
				printEntity(sub, 1, orch)
				return nil
			}
			if len(root.Children) == 0 {
				fmt.Println("No test files found.")
				return nil
			}
			printEntity(root, 0, orch)
			return nil
		},
	}
}

func printEntity(e *discovery.Entity, depth int, orch *orchestrator.Orchestrator) {
	if depth > 0 {
		line := strings.Repeat("  ", depth-1) + e.Name
		if !e.Kind.Structural() {
			if rec, ok := orch.Store().Get(e.CanonicalID); ok {
				line += "  [" + string(rec.Status) + "]"
			}
		}
		fmt.Println(line)
	}
	for _, c := range e.Children {
		printEntity(c, depth+1, orch)
	}
}

func newWatchCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run affected tests whenever files change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, settings, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			if all {
				off := false
				settings.RunAffectedOnly = &off
			}
			if _, err := orch.Discover(); err != nil {
				return err
			}

			engine := orch.WatchEngine()
			if err := engine.Enable(); err != nil {
				return err
			}
			defer engine.Disable()

			fmt.Printf("Watching %s for changes (Ctrl-C to stop)\n", settings.ProjectRoot)
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run the whole suite on every change batch")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded run sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			sessions := orch.History().Sessions()
			if len(sessions) == 0 {
				fmt.Println("No sessions recorded.")
				return nil
			}
			for _, s := range sessions {
				target := s.Target
				if target == "" {
					target = "(all)"
				}
				fmt.Printf("%s  %s  %s  passed=%d failed=%d skipped=%d total=%d\n",
					s.StartTime.Format("2006-01-02 15:04:05"), s.ID, target,
					s.Passed, s.Failed, s.Skipped, s.Total)
			}
			return nil
		},
	}

	var top int
	flaky := &cobra.Command{
		Use:   "flaky",
		Short: "Tests with the highest pass/fail transition rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()
			for _, row := range orch.History().Flakiest(top) {
				fmt.Printf("%.2f  %s  (%d runs)\n", row.Score, row.CanonicalID, row.Runs)
			}
			return nil
		},
	}
	slowest := &cobra.Command{
		Use:   "slowest",
		Short: "Tests with the highest mean duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()
			for _, row := range orch.History().Slowest(top) {
				fmt.Printf("%8.1fms  %s  (%d runs)\n", row.MeanMs, row.CanonicalID, row.Runs)
			}
			return nil
		},
	}
	failing := &cobra.Command{
		Use:   "failing",
		Short: "Tests with the highest failure rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()
			for _, row := range orch.History().MostFailing(top) {
				fmt.Printf("%.0f%%  %s  (%d of %d runs)\n", row.FailureRate*100, row.CanonicalID, row.Failures, row.Runs)
			}
			return nil
		},
	}
	for _, c := range []*cobra.Command{flaky, slowest, failing} {
		c.Flags().IntVar(&top, "top", 10, "number of rows to report")
	}

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export recorded sessions as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return orch.History().ExportJSON(w)
		},
	}
	export.Flags().StringVar(&out, "out", "", "write to file instead of stdout")

	cmd.AddCommand(flaky, slowest, failing, export)
	return cmd
}

func newClearCmd() *cobra.Command {
	var clearHistory bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear catalog state and, with --history, recorded sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			orch.Store().Clear()
			if clearHistory {
				if err := orch.History().Clear(); err != nil {
					return err
				}
				fmt.Println("History cleared.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearHistory, "history", false, "also clear recorded sessions")
	return cmd
}
