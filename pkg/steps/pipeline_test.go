package steps

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
	"github.com/poma-prs/poma-static-project/pkg/config"
)

func parseDefaultScript(t *testing.T, cfg *config.Config) (context.Context, buildsys.TaskList) {
	t.Helper()

	ctx := buildsys.WithConfig(context.Background(), cfg)
	tasks, err := buildsys.ParseSource(ctx, filepath.Join(cfg.Root, "tasks.star"), DefaultScript, cfg.Root, nil)
	require.NoError(t, err)
	return ctx, tasks
}

func TestDefaultScriptTasks(t *testing.T) {
	cfg := config.Default(t.TempDir())
	_, tasks := parseDefaultScript(t, cfg)

	assert.Equal(t, []string{
		"build", "build:assets", "build:babeljs", "build:clean", "build:copy", "build:fonts",
		"build:images", "build:inject", "build:sass", "build:wiredep",
	}, tasks.Names())

	assert.Equal(t, []string{"build:clean", "build:sass", "build:babeljs", "build:wiredep"}, tasks["build:inject"].Deps)
	assert.Equal(t, []string{"build:clean", "build:copy", "build:fonts", "build:images", "build:assets"}, tasks["build"].Deps)
	require.Len(t, tasks["build"].Cmds, 1)
	assert.Empty(t, tasks["build:wiredep"].Cmds)

	require.NoError(t, os.MkdirAll(cfg.SrcPath(cfg.Folder.Vendors, "jquery"), 0o755))
	_, tasks = parseDefaultScript(t, cfg)
	require.Len(t, tasks["build:wiredep"].Cmds, 1)
	assert.Equal(t, "wiredep", tasks["build:wiredep"].Cmds[0].ToStep().Name)

	cfg.Compress = true
	_, tasks = parseDefaultScript(t, cfg)
	require.Len(t, tasks["build"].Cmds, 2)
	assert.Equal(t, "compress", tasks["build"].Cmds[1].ToStep().Name)
}

func TestDefaultPipeline(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.Config
	cfg.Compress = true

	writeTestFile(t, env, "src/index.html", `<!DOCTYPE html>
<html>
<head>
  <!-- build:css css/style.css -->
  <link rel="stylesheet" href="css/site.css">
  <!-- inject:css -->
  <!-- endinject -->
  <!-- endbuild -->
</head>
<body>
  <!--removeIf(build)--><p>dev only</p><!--endRemoveIf(build)-->
  <!-- build:js scripts/app.js -->
  <!-- inject:js -->
  <!-- endinject -->
  <!-- endbuild -->
</body>
</html>
`)
	writeTestFile(t, env, "src/css/site.css", "body { margin: 0px; }")
	writeTestFile(t, env, "src/js/main.js", `document.title = "pipeline-ok";`)
	writeTestFile(t, env, "src/fonts/icons.woff", "font")
	writeTestFile(t, env, "dist/stale.txt", "left over from an older build")

	ctx, tasks := parseDefaultScript(t, cfg)
	err := buildsys.RunTasks(ctx, buildsys.RunOptions{
		ProjectRoot: env.ProjectRoot,
		Config:      cfg,
		Jobs:        4,
		Stdout:      io.Discard,
		Stderr:      io.Discard,
	}, tasks, "build")
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(env.ProjectRoot, "dist", "stale.txt"))
	assert.FileExists(t, filepath.Join(env.ProjectRoot, "dist", "fonts", "icons.woff"))

	// the temp bundle was injected into the source document
	assert.Contains(t, readTestFile(t, env, "src/index.html"), `<script src="bundle.js"></script>`)

	assert.Contains(t, readTestFile(t, env, "dist/scripts/app.js"), "pipeline-ok")
	assert.Contains(t, readTestFile(t, env, "dist/css/style.css"), "margin:0")

	html := readTestFile(t, env, "dist/index.html")
	assert.Contains(t, html, "scripts/app.js")
	assert.Contains(t, html, "css/style.css")
	assert.NotContains(t, html, "dev only")
	assert.NotContains(t, html, "build:js")

	assert.FileExists(t, filepath.Join(env.ProjectRoot, "dist", "index.html.br"))
	assert.FileExists(t, filepath.Join(env.ProjectRoot, "dist", "scripts", "app.js.br"))
	assert.FileExists(t, filepath.Join(env.ProjectRoot, "dist", "scripts", "app.js.gz"))
}
