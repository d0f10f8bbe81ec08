package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/warrenlabs/warren/internal/agents"
	"github.com/warrenlabs/warren/internal/config"
	"github.com/warrenlabs/warren/internal/epic"
	"github.com/warrenlabs/warren/internal/epicfile"
	"github.com/warrenlabs/warren/internal/metrics"
	"github.com/warrenlabs/warren/internal/retrieval"
	"github.com/warrenlabs/warren/internal/runner"
	"github.com/warrenlabs/warren/internal/tui"
	"github.com/warrenlabs/warren/pkg/models"
)

var (
	flagConcurrency int
	flagDryRun      bool
	flagWatch       bool
	flagTUI         bool
	flagMetricsAddr string
	flagDBPath      string
	flagModel       string
)

var runCmd = &cobra.Command{
	Use:   "run <epics.yaml>",
	Short: "Execute the epics in a catalog file",
	Long: `Run registers every epic in the catalog, assigns each sub-task a pool
agent and an execution branch, and executes the sub-tasks concurrently under
the configured parallelism bound. Failed sub-tasks never abort their
siblings; the run exits non-zero if any sub-task failed.

With --watch the catalog is re-executed whenever the file changes. With
--dry-run sub-tasks complete against a simulated work function instead of
calling the model.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEpics(cmd.Context(), args[0])
	},
}

func init() {
	runCmd.Flags().IntVar(&flagConcurrency, "concurrency", 0, "Max sub-tasks in flight (0 = config value)")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Complete sub-tasks with simulated work, no model calls")
	runCmd.Flags().BoolVar(&flagWatch, "watch", false, "Re-run when the catalog file changes")
	runCmd.Flags().BoolVar(&flagTUI, "tui", false, "Show a live dashboard during the run")
	runCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().StringVar(&flagDBPath, "db", "", "Archive branches to this sqlite file")
	runCmd.Flags().StringVar(&flagModel, "model", "", "Claude model for work calls")
}

func runEpics(ctx context.Context, catalogPath string) error {
	if flagWatch && flagTUI {
		return fmt.Errorf("--watch and --tui cannot be combined")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if flagConcurrency > 0 {
		cfg.Orchestration.MaxConcurrentSubTasks = flagConcurrency
	}
	if flagModel != "" {
		cfg.Anthropic.Model = flagModel
	}
	if flagMetricsAddr != "" {
		cfg.Metrics.Addr = flagMetricsAddr
	}
	if flagDBPath != "" {
		cfg.Retrieval.DBPath = flagDBPath
	}

	logger, err := openDebugLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	epic.SetPackageLogger(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				fmt.Fprintf(os.Stderr, "metrics endpoint: %v\n", err)
			}
		}()
	}

	var store *retrieval.Store
	if cfg.Retrieval.DBPath != "" {
		store, err = retrieval.Open(cfg.Retrieval.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	work, err := buildWork(ctx, cfg)
	if err != nil {
		return err
	}

	r := &epicRun{cfg: cfg, logger: logger, metrics: m, store: store, work: work}

	if flagWatch {
		return r.watch(ctx, catalogPath)
	}

	failed, err := r.once(ctx, catalogPath)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d sub-task(s) failed", failed)
	}
	return nil
}

// buildWork selects the work function for the run: simulated for dry runs,
// Claude-backed otherwise.
func buildWork(ctx context.Context, cfg *config.Config) (func(e epicfile.EpicSpec) epic.Work, error) {
	if flagDryRun {
		return func(epicfile.EpicSpec) epic.Work {
			return runner.SimulatedWork(200 * time.Millisecond)
		}, nil
	}

	client, err := runner.NewClient(ctx, runner.ClientConfig{
		APIKey:     cfg.Anthropic.APIKey,
		UseBedrock: cfg.Bedrock.Enabled,
		AWSRegion:  cfg.Bedrock.Region,
		AWSProfile: cfg.Bedrock.Profile,
	})
	if err != nil {
		return nil, err
	}
	model := runner.ResolveModel(anthropic.Model(cfg.Anthropic.Model), cfg.Bedrock.Enabled)
	rn := runner.New(&client.Messages,
		runner.WithModel(model),
		runner.WithMaxAttempts(cfg.Anthropic.MaxAttempts),
	)
	return func(e epicfile.EpicSpec) epic.Work {
		return withSpecDetails(rn.Work(e.Operations()), e)
	}, nil
}

// withSpecDetails fills each assignment's title and description from the
// catalog before the work function sees it.
func withSpecDetails(work epic.Work, e epicfile.EpicSpec) epic.Work {
	byID := make(map[string]epicfile.SubTaskSpec, len(e.SubTasks))
	for _, st := range e.SubTasks {
		byID[st.ID] = st
	}
	inner := work.Fn
	work.Fn = func(ctx context.Context, a models.SubIssueAssignment) (models.SubIssueAssignment, error) {
		if st, ok := byID[a.SubTaskID]; ok {
			a.Title = st.Title
			a.Description = st.Description
		}
		return inner(ctx, a)
	}
	return work
}

// epicRun holds everything one catalog execution needs. Watch mode builds a
// fresh coordinator per invocation so re-runs start from clean state.
type epicRun struct {
	cfg     *config.Config
	logger  *epic.DebugLogger
	metrics *metrics.Metrics
	store   *retrieval.Store
	work    func(e epicfile.EpicSpec) epic.Work
}

// once executes the catalog and returns how many sub-tasks failed.
func (r *epicRun) once(ctx context.Context, catalogPath string) (int, error) {
	catalog, err := epicfile.Load(catalogPath)
	if err != nil {
		return 0, err
	}
	if err := catalog.Validate(); err != nil {
		return 0, fmt.Errorf("invalid catalog: %w", err)
	}

	runID := uuid.NewString()[:8]
	r.logger.Log("run %s: %d epic(s) from %s", runID, len(catalog.Epics), catalogPath)

	registry := agents.NewRegistry()
	opts := []epic.CoordinatorOption{
		epic.WithLogger(r.logger),
		epic.WithMetrics(r.metrics),
	}

	var emitter *epic.Emitter
	if flagTUI {
		emitter = epic.NewEmitter(64)
		opts = append(opts, epic.WithEmitter(emitter))
	}

	coord, err := epic.New(registry, r.cfg.EpicConfig(), opts...)
	if err != nil {
		return 0, err
	}

	execute := func() ([]epicResult, error) {
		var all []epicResult
		for _, e := range catalog.Epics {
			if _, err := coord.RegisterEpic(e.ID, e.Title, e.Description, e.SubTaskIDs()); err != nil {
				return all, err
			}
			results := coord.ExecuteManyConcurrently(ctx, e.ID, e.SubTaskIDs(), r.work(e))
			all = append(all, epicResult{spec: e, results: results})
		}
		return all, nil
	}

	var all []epicResult
	if emitter != nil {
		done := make(chan error, 1)
		go func() {
			var execErr error
			all, execErr = execute()
			emitter.Close()
			done <- execErr
		}()
		if err := tui.Run(emitter.Events()); err != nil {
			return 0, err
		}
		if err := <-done; err != nil {
			return 0, err
		}
	} else {
		if all, err = execute(); err != nil {
			return 0, err
		}
	}

	failed := r.report(os.Stdout, runID, all)

	if r.store != nil {
		for _, er := range all {
			for _, res := range er.results {
				if res.Assignment.Branch == nil {
					continue
				}
				if err := r.store.Archive(*res.Assignment.Branch); err != nil {
					fmt.Fprintf(os.Stderr, "archive %s: %v\n", res.Assignment.BranchName, err)
				}
			}
		}
	}
	return failed, nil
}

// watch executes the catalog, then re-executes on every file change until the
// context is cancelled.
func (r *epicRun) watch(ctx context.Context, catalogPath string) error {
	runOnce := func() {
		if _, err := r.once(ctx, catalogPath); err != nil {
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		}
	}
	runOnce()

	reload := make(chan struct{}, 1)
	w, err := epicfile.NewWatcher(catalogPath, 500*time.Millisecond, func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Printf("watching %s for changes (ctrl-c to stop)\n", catalogPath)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reload:
			fmt.Printf("\n%s changed, re-running\n", catalogPath)
			runOnce()
		}
	}
}

type epicResult struct {
	spec    epicfile.EpicSpec
	results []epic.ExecResult
}

// report prints the run summary table and returns the failure count.
func (r *epicRun) report(out *os.File, runID string, all []epicResult) int {
	table := newTable(out, []string{"Epic", "Sub-task", "Status", "Agent", "Branch", "Error"})

	var completed, failed, total int
	for _, er := range all {
		for _, res := range er.results {
			a := res.Assignment
			total++
			switch a.Status {
			case models.StatusCompleted:
				completed++
			case models.StatusFailed:
				failed++
			}
			table.Append([]string{
				er.spec.ID, res.SubTaskID, string(a.Status),
				a.AssignedAgentID, a.BranchName, truncate(a.ErrorMessage, 60),
			})
		}
	}

	fmt.Fprintf(out, "\nrun %s\n", runID)
	table.Render()
	fmt.Fprintln(out)
	if failed > 0 {
		color.New(color.FgRed).Fprintf(out, "%d/%d completed, %d failed\n", completed, total, failed)
	} else {
		color.New(color.FgGreen).Fprintf(out, "%d/%d completed\n", completed, total)
	}
	return failed
}

// openDebugLogger creates the debug logger when --debug or a configured log
// path asks for one.
func openDebugLogger(cfg *config.Config) (*epic.DebugLogger, error) {
	path := cfg.Debug.LogPath
	if flagDebug && path == "" {
		path = config.DefaultDebugLogPath()
	}
	if !flagDebug && cfg.Debug.LogPath == "" {
		return epic.NopLogger(), nil
	}
	return epic.NewDebugLogger(path)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
