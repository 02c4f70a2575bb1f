package buildsys

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrUnknownTask is returned when a requested task or a dependency doesn't exist
	ErrUnknownTask = eris.New("unknown task")
	// ErrCycle is returned when task dependencies form a cycle
	ErrCycle = eris.New("dependency cycle")
)

// Validate checks that every dependency in tasks exists and that neither deps nor task references
// in cmds form a cycle.
func Validate(tasks TaskList) error {
	_, err := Plan(tasks, tasks.Names()...)
	if err != nil {
		return err
	}

	roots := make([]*Task, 0, len(tasks))
	for _, name := range tasks.Names() {
		roots = append(roots, tasks[name])
	}
	return checkCalls(tasks, roots)
}

// checkCalls looks for cycles in the graph formed by deps together with task references in cmds.
// Plan only sees deps.
func checkCalls(tasks TaskList, roots []*Task) error {
	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[*Task]int)
	stack := make([]string, 0)

	var visit func(task *Task) error
	visit = func(task *Task) error {
		switch state[task] {
		case visited:
			return nil
		case visiting:
			start := 0
			for idx, item := range stack {
				if item == task.Short {
					start = idx
					break
				}
			}
			cycle := append(append([]string{}, stack[start:]...), task.Short)
			return eris.Wrapf(ErrCycle, "%s", strings.Join(cycle, " -> "))
		}

		state[task] = visiting
		stack = append(stack, task.Short)

		for _, dep := range task.Deps {
			// missing deps are reported by Plan
			if depTask, ok := tasks[dep]; ok {
				if err := visit(depTask); err != nil {
					return err
				}
			}
		}

		for _, item := range task.Cmds {
			ref, ok := item.(TaskCmdTaskRef)
			if !ok || ref.Task == nil {
				continue
			}

			if err := visit(ref.Task); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		state[task] = visited
		return nil
	}

	for _, task := range roots {
		if err := visit(task); err != nil {
			return err
		}
	}
	return nil
}

// Plan returns the tasks needed to run targets grouped into levels. Every task appears once and
// only after all of its dependencies; tasks in the same level don't depend on each other.
// Levels are sorted by name.
func Plan(tasks TaskList, targets ...string) ([][]*Task, error) {
	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[string]int)
	depth := make(map[string]int)
	stack := make([]string, 0)

	var visit func(name, parent string) error
	visit = func(name, parent string) error {
		task, ok := tasks[name]
		if !ok {
			if parent == "" {
				return eris.Wrapf(ErrUnknownTask, "task %s not found", name)
			}
			return eris.Wrapf(ErrUnknownTask, "task %s depends on %s which doesn't exist", parent, name)
		}

		switch state[name] {
		case visited:
			return nil
		case visiting:
			start := 0
			for idx, item := range stack {
				if item == name {
					start = idx
					break
				}
			}
			cycle := append(append([]string{}, stack[start:]...), name)
			return eris.Wrapf(ErrCycle, "%s", strings.Join(cycle, " -> "))
		}

		state[name] = visiting
		stack = append(stack, name)

		level := 0
		for _, dep := range task.Deps {
			if err := visit(dep, name); err != nil {
				return err
			}

			if depth[dep]+1 > level {
				level = depth[dep] + 1
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = visited
		depth[name] = level
		return nil
	}

	for _, name := range targets {
		if err := visit(name, ""); err != nil {
			return nil, err
		}
	}

	maxLevel := -1
	for _, level := range depth {
		if level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]*Task, maxLevel+1)
	for name, level := range depth {
		levels[level] = append(levels[level], tasks[name])
	}

	for _, level := range levels {
		sort.Slice(level, func(i, j int) bool {
			return level[i].Short < level[j].Short
		})
	}

	return levels, nil
}
