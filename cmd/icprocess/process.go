package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mhuen/ic3-processing/internal/discover"
	"github.com/mhuen/ic3-processing/internal/log"
	"github.com/mhuen/ic3-processing/internal/metrics"
	"github.com/mhuen/ic3-processing/internal/model"
	"github.com/mhuen/ic3-processing/internal/resume"
	"github.com/mhuen/ic3-processing/internal/runner"
	"github.com/mhuen/ic3-processing/internal/status"
)

var (
	flagJobs           int
	flagPattern        string
	flagLogDir         string
	flagNoRerun        bool
	flagOutputTemplate string
	flagStatusAddr     string
	flagRetry          bool
)

func init() {
	for _, cmd := range []*cobra.Command{runCmd, resumeCmd} {
		cmd.Flags().IntVarP(&flagJobs, "jobs", "j", 0, "Number of parallel jobs")
		cmd.Flags().StringVarP(&flagLogDir, "log-dir", "l", "", "Directory for per-job output logs and the resume log")
		cmd.Flags().StringVar(&flagStatusAddr, "status-addr", "", "Serve /healthz, /metrics and /api/v1/status on this address")
	}
	runCmd.Flags().StringVarP(&flagPattern, "pattern", "p", "", "Glob pattern of the job scripts")
	runCmd.Flags().BoolVar(&flagNoRerun, "no-rerun", false, "Skip jobs whose expected output already exists")
	runCmd.Flags().StringVar(&flagOutputTemplate, "output-template", "", "Expected output path of a job, {name} is the job's base name")
	resumeCmd.Flags().BoolVar(&flagRetry, "retry", false, "Select failed jobs instead of unfinished ones (prompted when not given)")
}

// applyFlags lays explicitly given flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, cfg *model.Config) {
	if cmd.Flags().Changed("jobs") {
		cfg.Workers = flagJobs
	}
	if cmd.Flags().Changed("pattern") {
		cfg.Pattern = flagPattern
	}
	if cmd.Flags().Changed("log-dir") {
		cfg.LogDir = flagLogDir
	}
	if cmd.Flags().Changed("status-addr") {
		cfg.StatusAddr = flagStatusAddr
	}
	if cmd.Flags().Changed("no-rerun") {
		rerun := !flagNoRerun
		cfg.Rerun = &rerun
	}
	if cmd.Flags().Changed("output-template") {
		cfg.OutputTemplate = flagOutputTemplate
	}
}

func doRun(cmd *cobra.Command, args []string) error {
	cfg := config
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	jobs, err := discover.Jobs(args[0], cfg.Pattern)
	if err != nil {
		return err
	}

	if !cfg.DoRerun() {
		if cfg.OutputTemplate == "" {
			return fmt.Errorf("--no-rerun requires an output template")
		}
		checker, err := discover.TemplateChecker(cfg.OutputTemplate)
		if err != nil {
			return err
		}
		jobs, err = discover.FilterFresh(cmd.Context(), jobs, checker, cfg.Workers)
		if err != nil {
			return err
		}
	}

	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to do!")
		return nil
	}
	return processJobs(cmd.Context(), cfg, jobs)
}

func doResume(cmd *cobra.Command, args []string) error {
	cfg := config
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	entries, err := resume.ParseFile(args[0])
	if err != nil {
		return err
	}

	retry := flagRetry
	if !cmd.Flags().Changed("retry") {
		retry = runner.StdinConfirm("Retry failed jobs?")
	}

	jobs := resume.Select(entries, retry)
	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to do!")
		return nil
	}
	slog.Info("resuming batch", "resume_file", args[0], "retry", retry, "jobs", len(jobs))
	return processJobs(cmd.Context(), cfg, jobs)
}

// processJobs drives one supervised run over the given job executables,
// optionally next to a status HTTP server.
func processJobs(ctx context.Context, cfg model.Config, jobs []string) error {
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	collector := metrics.NewCollector()
	r := runner.New(cfg.Workers).
		WithLogDir(cfg.LogDir).
		WithMetrics(collector)

	ctx = log.ContextAttrs(ctx,
		slog.String("run_id", r.RunID()),
		slog.Int("pid", os.Getpid()),
	)

	var srvWait func() error
	var stopSrv context.CancelFunc
	if cfg.StatusAddr != "" {
		srv := status.New(cfg.StatusAddr, r, collector.Handler())
		var srvCtx context.Context
		srvCtx, stopSrv = context.WithCancel(ctx)
		var g errgroup.Group
		g.Go(func() error {
			return srv.Serve(srvCtx)
		})
		srvWait = g.Wait
	}

	entries, err := r.Process(ctx, jobs)
	if stopSrv != nil {
		stopSrv()
		if serr := srvWait(); serr != nil {
			slog.WarnContext(ctx, "status server failed", "error", serr)
		}
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, e := range entries {
		if e.Outcome.Failed() {
			failed++
		}
	}
	if failed > 0 {
		slog.WarnContext(ctx, "batch finished with failures", "failed", failed, "total", len(entries))
	} else {
		slog.InfoContext(ctx, "batch finished", "total", len(entries))
	}
	return nil
}
