package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poma-prs/poma-static-project/pkg/config"
)

func parseTestScript(t *testing.T, ctx context.Context, root, script string) (TaskList, error) {
	t.Helper()

	if ctx == nil {
		ctx = context.Background()
	}
	return ParseSource(ctx, filepath.Join(root, "tasks.star"), []byte(script), root, nil)
}

func TestParseTasks(t *testing.T) {
	root := t.TempDir()

	tasks, err := parseTestScript(t, nil, root, `
def configure():
    clean = task("build:clean", desc="Remove output", cmds=["rm -rf dist"])
    task(
        "build:copy",
        desc="Copy files",
        deps=["build:clean"],
        inputs=["src/**/*.txt"],
        outputs=["dist/**/*.txt"],
        env={"MODE": "copy"},
        cmds=[step("test:record", name="copy", fast=True), ("echo", "hello world")],
    )
`)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	clean := tasks["build:clean"]
	require.NotNil(t, clean)
	assert.Equal(t, "Remove output", clean.Desc)
	assert.Equal(t, root, clean.Base)
	require.Len(t, clean.Cmds, 1)
	assert.Equal(t, TaskCmdScript{TaskName: "build:clean", Content: "rm -rf dist"}, clean.Cmds[0])

	cp := tasks["build:copy"]
	require.NotNil(t, cp)
	assert.Equal(t, []string{"build:clean"}, cp.Deps)
	assert.Equal(t, []string{"src/**/*.txt"}, cp.Inputs)
	assert.Equal(t, "copy", cp.Env["MODE"])
	require.Len(t, cp.Cmds, 2)

	stepCmd := cp.Cmds[0].ToStep()
	require.NotNil(t, stepCmd)
	assert.Equal(t, "test:record", stepCmd.Name)
	assert.Equal(t, map[string]string{"name": "copy", "fast": "True"}, stepCmd.Args)

	script, ok := cp.Cmds[1].(TaskCmdScript)
	require.True(t, ok)
	assert.Equal(t, "echo 'hello world'", script.Content)
}

func TestParseUnknownStep(t *testing.T) {
	_, err := parseTestScript(t, nil, t.TempDir(), `
def configure():
    task("build", cmds=[step("does-not-exist")])
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does-not-exist")
}

func TestParseUnknownDependency(t *testing.T) {
	_, err := parseTestScript(t, nil, t.TempDir(), `
def configure():
    task("build", deps=["build:missing"])
`)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrUnknownTask))
}

func TestParseDuplicateTask(t *testing.T) {
	_, err := parseTestScript(t, nil, t.TempDir(), `
def configure():
    task("build")
    task("build")
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared twice")
}

func TestParseMissingConfigure(t *testing.T) {
	_, err := parseTestScript(t, nil, t.TempDir(), `x = 1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configure")
}

func TestParseConfigBuiltin(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default(root)
	cfg.Folder.Fonts = "typefaces"

	ctx := WithConfig(context.Background(), cfg)
	tasks, err := parseTestScript(t, ctx, root, `
def configure():
    task("build:fonts", inputs=[config("src") + "/" + config("folder.fonts") + "/*"], outputs=[config("dist") + "/fonts/*"])
    if config("abs_paths"):
        error("abs_paths should default to false")
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/typefaces/*"}, tasks["build:fonts"].Inputs)

	_, err = parseTestScript(t, ctx, root, `
def configure():
    config("folder.nope")
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "folder.nope")

	_, err = parseTestScript(t, nil, root, `
def configure():
    config("src")
`)
	require.Error(t, err)
}

func TestParseReadYaml(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "site.yml"), []byte("site:\n  name: Poma\n  pages: [index, about]\n"), 0o644))

	tasks, err := parseTestScript(t, nil, root, `
def configure():
    name = read_yaml("site.yml", "site.name")
    second = read_yaml("site.yml", "site.pages.1")
    missing = read_yaml("site.yml", "site.author", "nobody")
    task("build:" + name, desc=second + "/" + missing)
`)
	require.NoError(t, err)
	require.Contains(t, tasks, "build:Poma")
	assert.Equal(t, "about/nobody", tasks["build:Poma"].Desc)
}

func TestParseOptions(t *testing.T) {
	root := t.TempDir()
	script := []byte(`
mode = option("mode", "dev", help="Build mode")

def configure():
    task("build:" + mode)
`)

	tasks, options, err := RunSource(context.Background(), filepath.Join(root, "tasks.star"), script, root, nil, true)
	require.NoError(t, err)
	assert.Contains(t, tasks, "build:dev")
	assert.Equal(t, "Build mode", options["mode"].Help)
	assert.Equal(t, "dev", options["mode"].Default())

	tasks, _, err = RunSource(context.Background(), filepath.Join(root, "tasks.star"), script, root, map[string]string{"mode": "prod"}, true)
	require.NoError(t, err)
	assert.Contains(t, tasks, "build:prod")
}

func TestParseHiddenTasks(t *testing.T) {
	tasks, err := parseTestScript(t, nil, t.TempDir(), `
def configure():
    helper = task(cmds=["echo helper"])
    task("build", cmds=[helper])
`)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	ref, err := tasks["build"].Cmds[0].ToTask()
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.True(t, ref.Hidden)
	assert.Contains(t, ref.Short, "auto#")
}

func TestParseEnvBuiltins(t *testing.T) {
	root := t.TempDir()
	t.Setenv("POMA_OUTER", "outer")

	tasks, err := parseTestScript(t, nil, root, `
setenv("POMA_STAGE", "parse")
prepend_path("tools/bin")

def configure():
    task("build", desc=getenv("POMA_STAGE") + "/" + getenv("POMA_OUTER"), env={"POMA_STAGE": "task"})
    task("other")
`)
	require.NoError(t, err)

	assert.Equal(t, "parse/outer", tasks["build"].Desc)
	assert.Equal(t, "task", tasks["build"].Env["POMA_STAGE"])
	assert.Equal(t, "parse", tasks["other"].Env["POMA_STAGE"])

	prefix := filepath.Join(root, "tools", "bin") + string(os.PathListSeparator)
	assert.True(t, strings.HasPrefix(tasks["other"].Env["PATH"], prefix), tasks["other"].Env["PATH"])
	assert.Equal(t, tasks["other"].Env["PATH"], tasks["build"].Env["PATH"])
}

func TestParseExecuteBuiltin(t *testing.T) {
	root := t.TempDir()

	tasks, err := parseTestScript(t, nil, root, `
setenv("POMA_NAME", "poma")

def configure():
    text = execute("echo hello $POMA_NAME").strip()
    data = execute("echo '{\"name\": \"site\", \"tags\": [\"a\", \"b\"]}'", format="json")
    if execute("exit 2") != False:
        error("failed commands should return False")
    task("build", desc=text + "/" + data["name"] + "/" + data["tags"][1])
`)
	require.NoError(t, err)
	assert.Equal(t, "hello poma/site/b", tasks["build"].Desc)

	_, err = parseTestScript(t, nil, root, `
def configure():
    execute("echo not json", format="json")
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse command output")

	_, err = parseTestScript(t, nil, root, `
def configure():
    execute("echo hi", format="xml")
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}

func TestParseFileBuiltins(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "bower_components"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "index.html"), []byte("<html></html>"), 0o644))

	tasks, err := parseTestScript(t, nil, root, `
def configure():
    checks = [
        isdir("src/bower_components"),
        isdir("//src"),
        not isdir("src/index.html"),
        isfile("src/index.html"),
        not isfile("src"),
        not isfile("src/missing.html"),
    ]
    info("checked %d paths" % len(checks))
    for idx, ok in enumerate(checks):
        if not ok:
            error("check %d failed" % idx)
    task("build")
`)
	require.NoError(t, err)
	assert.Contains(t, tasks, "build")

	_, err = parseTestScript(t, nil, root, `
def configure():
    error("stop here")
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop here")
}
