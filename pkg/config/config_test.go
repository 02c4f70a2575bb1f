package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poma-prs/poma-static-project/pkg/config"
	"github.com/poma-prs/poma-static-project/pkg/relpath"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default("/project")

	assert.Equal(t, "src", cfg.Src)
	assert.Equal(t, "dist", cfg.Dist)
	assert.Equal(t, ".tmp", cfg.Tmp)
	assert.Equal(t, []string{"index.html"}, cfg.Inject.Targets)
	assert.Equal(t, 4, cfg.Jobs)
	assert.True(t, cfg.Serve.LiveReload)
	assert.Equal(t, 0, cfg.Images.JPEGQuality)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join("/project", "src", ".tmp", "style.css"), cfg.TmpPath("style.css"))
	assert.Equal(t, filepath.Join("/project", "dist", "css"), cfg.DistPath("css"))
	assert.Equal(t, []string{"icons", "images", "pictures"}, cfg.ImageFolders())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(`
src = "app"
dist = "public"
rev = true
copy_files = ["robots.txt", "favicon.ico"]

[inject]
depth = "exact"

[log]
level = "debug"
`), 0o600)
	require.NoError(t, err)

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "app", cfg.Src)
	assert.Equal(t, "public", cfg.Dist)
	assert.True(t, cfg.Rev)
	assert.Equal(t, []string{"robots.txt", "favicon.ico"}, cfg.CopyFiles)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, dir, cfg.Root)
	assert.Equal(t, relpath.DepthExact, cfg.Relativizer().Depth)
}

func TestLoadWithoutFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "src", cfg.Src)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(cfg *config.Config){
		"log level":     func(cfg *config.Config) { cfg.Log.Level = "loud" },
		"depth":         func(cfg *config.Config) { cfg.Inject.Depth = "deep" },
		"empty dist":    func(cfg *config.Config) { cfg.Dist = " " },
		"tmp outside":   func(cfg *config.Config) { cfg.Tmp = "../tmp" },
		"same dirs":     func(cfg *config.Config) { cfg.Dist = "./src" },
		"jobs":          func(cfg *config.Config) { cfg.Jobs = 0 },
		"jpeg quality":  func(cfg *config.Config) { cfg.Images.JPEGQuality = 101 },
		"jpeg negative": func(cfg *config.Config) { cfg.Images.JPEGQuality = -1 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default("/project")
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRelativizer(t *testing.T) {
	cfg := config.Default("/project")
	r := cfg.Relativizer()

	got, err := r.Relativize("/src/.tmp/css/style.css", "/project/src/pages/about.html")
	require.NoError(t, err)
	assert.Equal(t, "../css/style.css", got)
}
