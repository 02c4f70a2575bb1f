package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
	"github.com/poma-prs/poma-static-project/pkg/config"
	"github.com/poma-prs/poma-static-project/pkg/steps"
)

// cacheFile is stored next to the state database
const cacheFile = "tasks.cache"

// configHashOption is the cache key entry holding the hash of the loaded config
const configHashOption = "config:sha256"

// project bundles everything a command needs to work on one project
type project struct {
	cfg    *config.Config
	logger *zerolog.Logger
	ctx    context.Context

	root    string
	base    context.Context
	verbose bool
	out     io.Writer
}

// findProjectRoot searches dir and its parents for poma.toml. If there is none, dir itself is the root.
func findProjectRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", eris.Wrap(err, "failed to resolve the working directory")
	}

	path := dir
	for {
		_, err := os.Stat(filepath.Join(path, config.FileName))
		if err == nil {
			return path, nil
		}

		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", filepath.Join(path, config.FileName))
		}

		parent := filepath.Dir(path)
		if parent == path {
			return dir, nil
		}
		path = parent
	}
}

func newLogger(cfg *config.Config, out io.Writer) *zerolog.Logger {
	var writer io.Writer = out
	if !cfg.Log.JSON {
		color := false
		if file, ok := out.(*os.File); ok {
			color = isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
		}
		writer = NewConsoleWriter(out, color)
	}

	logger := zerolog.New(writer).Level(cfg.LogLevel()).With().Timestamp().Logger()
	return &logger
}

// openProject loads the configuration for the project containing the --dir directory
func openProject(cmd *cobra.Command) (*project, error) {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return nil, err
	}

	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return nil, eris.Wrap(err, "failed to retrieve the current working directory")
		}
	}

	root, err := findProjectRoot(dir)
	if err != nil {
		return nil, err
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p := &project{root: root, base: ctx, verbose: verbose, out: cmd.ErrOrStderr()}
	err = p.reload()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// reload reads poma.toml and the environment again. The previous config stays active if the new one is invalid.
func (p *project) reload() error {
	cfg, err := config.Load(p.root)
	if err != nil {
		return err
	}

	if p.verbose {
		cfg.Log.Level = "debug"
	}

	p.cfg = cfg
	p.logger = newLogger(cfg, p.out)
	p.ctx = buildsys.WithConfig(buildsys.WithLogger(p.base, p.logger), cfg)
	return nil
}

// cacheKey extends the script's key with a hash of the loaded config since config() values
// end up in the parsed tasks
func (p *project) cacheKey(script string, options map[string]string) (buildsys.CacheKey, error) {
	key, err := buildsys.ScriptCacheKey(script, options)
	if err != nil {
		return key, err
	}

	extended := make(map[string]string, len(key.Options)+1)
	for name, value := range key.Options {
		extended[name] = value
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%#v", *p.cfg)))
	extended[configHashOption] = hex.EncodeToString(sum[:])

	key.Options = extended
	return key, nil
}

// loadTasks parses the project's task script, falling back to the built-in pipeline.
// Parsed project scripts are cached until the script, the loaded config or the options change.
func (p *project) loadTasks(options map[string]string) (buildsys.TaskList, error) {
	script := p.cfg.ScriptPath()
	_, err := os.Stat(script)
	if err != nil {
		if !eris.Is(err, os.ErrNotExist) {
			return nil, eris.Wrapf(err, "failed to check %s", script)
		}

		p.logger.Debug().Msgf("%s not found, using the built-in pipeline", p.cfg.Script)
		return buildsys.ParseSource(p.ctx, script, steps.DefaultScript, p.cfg.Root, options)
	}

	key, err := p.cacheKey(script, options)
	if err != nil {
		return nil, err
	}

	cachePath := filepath.Join(filepath.Dir(p.cfg.StatePath()), cacheFile)
	tasks, err := buildsys.ReadCache(cachePath, key)
	if err == nil {
		return tasks, nil
	}
	if !eris.Is(err, os.ErrNotExist) && !eris.Is(err, buildsys.ErrStaleCache) {
		p.logger.Debug().Err(err).Msg("Ignoring unreadable task cache")
	}

	tasks, err = buildsys.Parse(p.ctx, script, p.cfg.Root, options)
	if err != nil {
		return nil, err
	}

	err = os.MkdirAll(filepath.Dir(cachePath), 0o770)
	if err == nil {
		err = buildsys.WriteCache(cachePath, key, tasks)
	}
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to write the task cache")
	}

	return tasks, nil
}
