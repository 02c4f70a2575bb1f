package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
	"github.com/poma-prs/poma-static-project/pkg/storage"
)

type runFlags struct {
	dry   bool
	force bool
	jobs  int
}

func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().BoolVarP(&flags.dry, "dry", "n", false, "dry run; only print the commands, don't execute anything")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "force build; always execute the passed tasks even if they don't have to run")
	cmd.Flags().IntVarP(&flags.jobs, "jobs", "j", 0, "maximum number of tasks running at the same time (defaults to the jobs setting)")
}

// splitArgs separates key=value script options from task names
func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0, len(args))
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

func printTasks(out io.Writer, tasks buildsys.TaskList) {
	fmt.Fprintln(out, "Available tasks:")

	maxNameLen := 0
	names := make([]string, 0, len(tasks))
	for _, name := range tasks.Names() {
		if tasks[name].Hidden {
			continue
		}

		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
		names = append(names, name)
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		fmt.Fprintf(out, lineFmt, name+":", tasks[name].Desc)
	}
}

// runTasks is shared by the root command and "run"
func runTasks(cmd *cobra.Command, args []string, flags *runFlags) error {
	p, err := openProject(cmd)
	if err != nil {
		return err
	}

	taskArgs, options := splitArgs(args)
	tasks, err := p.loadTasks(options)
	if err != nil {
		return err
	}

	if len(taskArgs) == 0 {
		printTasks(cmd.OutOrStdout(), tasks)
		return nil
	}

	store, err := storage.Open(p.cfg.StatePath())
	if err != nil {
		return err
	}
	defer store.Close()

	// forced runs start from a clean slate so tasks outside this run are checked again next time
	if flags.force && !flags.dry {
		err = store.ClearStamps(p.ctx)
		if err != nil {
			return eris.Wrap(err, "failed to reset recorded fingerprints")
		}
	}

	jobs := flags.jobs
	if jobs < 1 {
		jobs = p.cfg.Jobs
	}

	err = buildsys.RunTasks(p.ctx, buildsys.RunOptions{
		ProjectRoot: p.cfg.Root,
		Config:      p.cfg,
		Store:       store,
		DryRun:      flags.dry,
		Force:       flags.force,
		Jobs:        jobs,
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
	}, tasks, taskArgs...)
	if err != nil {
		p.logger.Error().Err(err).Msgf("Failed to run %s", strings.Join(taskArgs, ", "))
		return errSilent
	}

	return nil
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [tasks...] [key=value...]",
		Short: "Run the given tasks (lists all tasks if none are given)",
		Long: `This command parses the project's tasks.star (or the built-in pipeline if there is none)
and executes the given tasks together with their dependencies.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, args, flags)
		},
	}
	addRunFlags(cmd, flags)

	return cmd
}
