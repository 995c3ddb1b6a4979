// Package discover yields the ordered sequence of candidate job
// executables for a run and filters out jobs whose output already exists.
package discover

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Jobs lists files in dir matching the glob pattern, as absolute paths in
// deterministic (lexical) order.
func Jobs(dir, pattern string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	matches, err := filepath.Glob(filepath.Join(abs, pattern))
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// JobName is the job's base name without the file extension. Per-job log
// files and output templates are named after it.
func JobName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// OutputChecker reports whether the declared output of a job already
// exists. What "output" means is up to the caller, the supervisor never
// inspects job content.
type OutputChecker func(ctx context.Context, jobPath string) (bool, error)

// TemplateChecker builds an OutputChecker from a path template in which
// {name} is replaced by the job's base name.
func TemplateChecker(template string) (OutputChecker, error) {
	if !strings.Contains(template, "{name}") {
		return nil, fmt.Errorf("output template %q has no {name} placeholder", template)
	}
	return func(_ context.Context, jobPath string) (bool, error) {
		out := strings.ReplaceAll(template, "{name}", JobName(jobPath))
		info, err := os.Stat(out)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		return info.Mode().IsRegular(), nil
	}, nil
}

// FilterFresh drops jobs whose output already exists, preserving order.
// Checks run in parallel, at most limit at a time. A failing check keeps
// the job in the run, reprocessing is cheaper than silently skipping.
func FilterFresh(ctx context.Context, jobs []string, done OutputChecker, limit int) ([]string, error) {
	if done == nil {
		return jobs, nil
	}
	if limit < 1 {
		limit = 1
	}

	has := make([]bool, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			ok, err := done(gctx, job)
			if err != nil {
				slog.WarnContext(gctx, "output check failed, keeping job", "job", job, "error", err)
				return nil
			}
			has[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fresh := make([]string, 0, len(jobs))
	for i, job := range jobs {
		if has[i] {
			slog.DebugContext(ctx, "output exists, skipping job", "job", job)
			continue
		}
		fresh = append(fresh, job)
	}
	return fresh, nil
}
