package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/poma-prs/poma-static-project/pkg/config"
	"github.com/poma-prs/poma-static-project/pkg/storage"
)

// HelperBinary provides the cross-platform rm, mv and mkdir implementations used by task commands
var HelperBinary = "poma"

// RunOptions controls a single invocation of RunTasks
type RunOptions struct {
	ProjectRoot string
	Config      *config.Config
	// Store is optional; without it, only modification times decide whether a task is up to date
	Store  *storage.Store
	DryRun bool
	Force  bool
	// Jobs limits how many independent tasks run at the same time
	Jobs   int
	Stdout io.Writer
	Stderr io.Writer
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		opts        RunOptions
		projectRoot string
		tasks       TaskList
		lock        sync.Mutex
		runs        map[string]*taskRun
	}
	taskRun struct {
		done chan struct{}
		err  error
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func getTaskEnv(task *Task) expand.Environ {
	envVars := os.Environ()

	for name, value := range task.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			args = append([]string{HelperBinary}, args...)
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func expandPatterns(projectRoot, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	pctx := &parserCtx{
		filepath:    filepath.Join(base, "invalid"),
		projectRoot: projectRoot,
	}

	for _, item := range patterns {
		item = normalizePath(pctx, item)
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if !strings.Contains(match, "*") {
				result = append(result, filepath.FromSlash(match))
			}
		}
	}
	return result, nil
}

func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	return expandPatterns(getRuntimeCtx(ctx).projectRoot, base, patterns)
}

// Glob resolves patterns (supporting ** and {a,b}) relative to base and returns the matching files
// sorted and without duplicates. Patterns starting with // are relative to projectRoot.
func Glob(projectRoot, base string, patterns ...string) ([]string, error) {
	matches, err := expandPatterns(projectRoot, base, patterns)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(matches))
	result := make([]string, 0, len(matches))
	for _, match := range matches {
		if seen[match] {
			continue
		}
		seen[match] = true

		info, err := os.Stat(match)
		if err == nil && info.Mode().IsRegular() {
			result = append(result, match)
		}
	}

	sort.Strings(result)
	return result, nil
}

// RunTasks executes the named tasks and everything they depend on
func RunTasks(ctx context.Context, opts RunOptions, tasks TaskList, names ...string) error {
	projectRoot, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return eris.Wrap(err, "failed to resolve project root")
	}

	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	rctx := &runtimeCtx{
		opts:        opts,
		projectRoot: projectRoot,
		tasks:       tasks,
		runs:        make(map[string]*taskRun),
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, rctx)
	return rctx.runPlan(ctx, names, nil)
}

func (rctx *runtimeCtx) runPlan(ctx context.Context, names []string, chain []string) error {
	levels, err := Plan(rctx.tasks, names...)
	if err != nil {
		return err
	}

	if chain == nil {
		planned := make([]*Task, 0)
		for _, level := range levels {
			planned = append(planned, level...)
		}

		err = checkCalls(rctx.tasks, planned)
		if err != nil {
			return err
		}
	}

	for _, level := range levels {
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(rctx.opts.Jobs)

		for _, task := range level {
			task := task
			group.Go(func() error {
				return rctx.runOnce(groupCtx, task, chain)
			})
		}

		if err := group.Wait(); err != nil {
			return err
		}
	}

	return nil
}

// runOnce executes task unless it already ran (or is running) during this invocation
func (rctx *runtimeCtx) runOnce(ctx context.Context, task *Task, chain []string) error {
	for _, name := range chain {
		if name == task.Short {
			return eris.Errorf("Task %s was called recursively", task.Short)
		}
	}

	rctx.lock.Lock()
	run, found := rctx.runs[task.Short]
	if found {
		rctx.lock.Unlock()
		Log(ctx).Debug().Msgf("Task %s already run", task.Short)

		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	run = &taskRun{done: make(chan struct{})}
	rctx.runs[task.Short] = run
	rctx.lock.Unlock()

	run.err = rctx.runTask(ctx, task, append(chain[:len(chain):len(chain)], task.Short))
	if run.err != nil && !eris.Is(run.err, context.Canceled) {
		run.err = eris.Wrapf(run.err, "Task %s failed", task.Short)
	}
	close(run.done)

	return run.err
}

func (rctx *runtimeCtx) isUpToDate(ctx context.Context, task *Task) (bool, string, error) {
	logger := Log(ctx)
	skipList, err := resolvePatternLists(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, "", eris.Wrapf(err, "failed to resolve skipIfExists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, "", eris.Wrapf(err, "Failed to check %s", item)
		}
	}

	if found > 0 && found == len(skipList) {
		logger.Info().
			Str("task", task.Short).
			Msg("skipped because all skip files exist")
		return true, "", nil
	}

	inputList, err := resolvePatternLists(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, "", eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatternLists(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, "", eris.Wrap(err, "failed to resolve output list")
	}

	var newestInput time.Time
	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, "", eris.Wrapf(err, "Failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() || len(outputList) == 0 {
		return false, "", nil
	}

	stamp := ""
	if rctx.opts.Store != nil {
		stamp, err = storage.Fingerprint(inputList)
		if err != nil {
			return false, "", err
		}
	}

	var newestOutput time.Time
	oldestOutput := time.Now()
	missing := 0

	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil {
			if !eris.Is(err, os.ErrNotExist) {
				return false, "", eris.Wrapf(err, "Failed to check output %s", item)
			}
			missing++
			continue
		}

		mt := info.ModTime()
		if mt.After(newestOutput) {
			newestOutput = mt
		}

		if mt.Before(oldestOutput) {
			oldestOutput = mt
		}
	}

	if missing > 0 {
		return false, stamp, nil
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		logger.Warn().
			Str("task", task.Short).
			Msgf("oldest output is %f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if stamp != "" {
		previous, err := rctx.opts.Store.GetStamp(ctx, task.Short)
		if err != nil {
			return false, "", eris.Wrapf(err, "failed to read the stamp of %s", task.Short)
		}

		if previous == stamp {
			logger.Info().
				Str("task", task.Short).
				Msg("nothing to do (inputs unchanged)")
			return true, stamp, nil
		}

		return false, stamp, nil
	}

	if newestOutput.After(newestInput) {
		logger.Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %f seconds newer)", newestOutput.Sub(newestInput).Seconds())
		return true, "", nil
	}

	return false, "", nil
}

func (rctx *runtimeCtx) runTask(ctx context.Context, task *Task, chain []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger := Log(ctx)
	stamp := ""
	if !rctx.opts.Force {
		skip, taskStamp, err := rctx.isUpToDate(ctx, task)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}
		stamp = taskStamp
	}

	logger.Info().Str("task", task.Short).Msg("starting")
	start := time.Now()

	// With the skip and input/output checks done, we can finally start executing
	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(getTaskEnv(task)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, rctx.opts.Stdout, rctx.opts.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}

	for _, item := range task.Cmds {
		if step := item.ToStep(); step != nil {
			err = rctx.runStep(ctx, task, step)
			if err != nil {
				return err
			}
			continue
		}

		stmts, err := item.ToShellStmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}

		if stmts != nil {
			for _, stm := range stmts {
				strBuffer.Reset()
				err = printer.Print(&strBuffer, stm)
				if err != nil {
					return eris.Wrap(err, "failed to print shell command")
				}

				logger.Info().
					Str("task", task.Short).
					Bool("command", true).
					Msg(strBuffer.String())

				if !rctx.opts.DryRun {
					err = runner.Run(ctx, stm)
					if err != nil {
						return err
					}

					if runner.Exited() {
						return nil
					}
				}
			}
		} else {
			subTask, err := item.ToTask()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve task ref")
			}

			if subTask == nil {
				return eris.Errorf("unexpected task command %+v", item)
			}

			if len(subTask.Deps) > 0 {
				err = rctx.runPlan(ctx, subTask.Deps, chain)
				if err != nil {
					return err
				}
			}

			err = rctx.runOnce(ctx, subTask, chain)
			if err != nil {
				return err
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	if stamp != "" && rctx.opts.Store != nil && !rctx.opts.DryRun {
		err = rctx.opts.Store.PutStamp(ctx, task.Short, stamp)
		if err != nil {
			return eris.Wrapf(err, "failed to record the stamp of %s", task.Short)
		}
	}

	logger.Info().
		Str("task", task.Short).
		Dur("took", time.Since(start)).
		Msg("finished")
	return nil
}

func (rctx *runtimeCtx) runStep(ctx context.Context, task *Task, call *TaskCmdStep) error {
	info, err := LookupStep(call.Name)
	if err != nil {
		return err
	}

	Log(ctx).Info().
		Str("task", task.Short).
		Bool("command", true).
		Msg(call.String())

	if rctx.opts.DryRun {
		return nil
	}

	env := &StepEnv{
		ProjectRoot: rctx.projectRoot,
		Config:      rctx.opts.Config,
		Store:       rctx.opts.Store,
		Task:        task,
		Stdout:      rctx.opts.Stdout,
		Stderr:      rctx.opts.Stderr,
	}

	err = info.Run(ctx, env, call.Args)
	if err != nil {
		return eris.Wrapf(err, "step %s failed", call.Name)
	}
	return nil
}

// RunCommand runs command (a shell snippet such as "npx sass") followed by args, which are passed
// verbatim. The command runs in dir with the same helpers available to task commands.
func RunCommand(ctx context.Context, dir string, stdout, stderr io.Writer, command string, args ...string) error {
	parser := syntax.NewParser()

	words := make([]*syntax.Word, 0, len(args)+1)
	err := parser.Words(strings.NewReader(command), func(w *syntax.Word) bool {
		words = append(words, w)
		return true
	})
	if err != nil {
		return eris.Wrapf(err, "failed to parse command %s", command)
	}

	if len(words) == 0 {
		return eris.New("empty command")
	}

	for _, arg := range args {
		words = append(words, &syntax.Word{Parts: []syntax.WordPart{&syntax.SglQuoted{Value: arg}}})
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, stderr),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	return runner.Run(ctx, &syntax.Stmt{Cmd: &syntax.CallExpr{Args: words}})
}
