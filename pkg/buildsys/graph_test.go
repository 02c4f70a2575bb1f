package buildsys

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTasks(deps map[string][]string) TaskList {
	tasks := TaskList{}
	for name, taskDeps := range deps {
		tasks[name] = &Task{Short: name, Deps: taskDeps}
	}
	return tasks
}

func levelNames(levels [][]*Task) [][]string {
	result := make([][]string, len(levels))
	for idx, level := range levels {
		for _, task := range level {
			result[idx] = append(result[idx], task.Short)
		}
	}
	return result
}

func TestPlanLevels(t *testing.T) {
	tasks := testTasks(map[string][]string{
		"build:clean":   nil,
		"build:copy":    {"build:clean"},
		"build:fonts":   {"build:clean"},
		"build:sass":    {"build:clean"},
		"build:babeljs": {"build:clean"},
		"build:inject":  {"build:sass", "build:babeljs"},
		"build:assets":  {"build:inject", "build:fonts", "build:copy"},
		"build":         {"build:assets"},
		"unrelated":     nil,
	})

	levels, err := Plan(tasks, "build")
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"build:clean"},
		{"build:babeljs", "build:copy", "build:fonts", "build:sass"},
		{"build:inject"},
		{"build:assets"},
		{"build"},
	}, levelNames(levels))
}

func TestPlanSharedDependencyOnce(t *testing.T) {
	tasks := testTasks(map[string][]string{
		"a": {"c"},
		"b": {"c"},
		"c": nil,
	})

	levels, err := Plan(tasks, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"c"}, {"a", "b"}}, levelNames(levels))
}

func TestPlanUnknownTask(t *testing.T) {
	tasks := testTasks(map[string][]string{"a": {"missing"}})

	_, err := Plan(tasks, "nope")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownTask))
	assert.Contains(t, err.Error(), "task nope not found")

	_, err = Plan(tasks, "a")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownTask))
	assert.Contains(t, err.Error(), "task a depends on missing which doesn't exist")
}

func TestPlanCycle(t *testing.T) {
	tasks := testTasks(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	})

	_, err := Plan(tasks, "a")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrCycle))
	assert.Contains(t, err.Error(), "a -> b -> c -> a")

	assert.Error(t, Validate(tasks))
}

func TestValidateAcceptsDisconnectedGraphs(t *testing.T) {
	tasks := testTasks(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": nil,
	})

	assert.NoError(t, Validate(tasks))
}

func TestValidateCycleThroughCmds(t *testing.T) {
	a := &Task{Short: "a"}
	b := &Task{Short: "b"}
	a.Cmds = []TaskCmd{TaskCmdTaskRef{Task: b}}
	b.Cmds = []TaskCmd{TaskCmdTaskRef{Task: a}}
	tasks := TaskList{"a": a, "b": b}

	// deps alone are fine
	_, err := Plan(tasks, "a", "b")
	require.NoError(t, err)

	err = Validate(tasks)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrCycle))
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestValidateCycleThroughHiddenTask(t *testing.T) {
	helper := &Task{Short: "auto#1", Hidden: true, Deps: []string{"build"}}
	tasks := TaskList{
		"build": {Short: "build", Cmds: []TaskCmd{TaskCmdTaskRef{Task: helper}}},
	}

	err := Validate(tasks)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrCycle))
	assert.Contains(t, err.Error(), "build -> auto#1 -> build")

	// sharing a task between callers is not a cycle
	shared := &Task{Short: "auto#2", Hidden: true}
	tasks = TaskList{
		"a": {Short: "a", Cmds: []TaskCmd{TaskCmdTaskRef{Task: shared}}},
		"b": {Short: "b", Deps: []string{"a"}, Cmds: []TaskCmd{TaskCmdTaskRef{Task: shared}}},
	}
	require.NoError(t, Validate(tasks))
}
