package devserver

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cortesi/moddwatch"
	"github.com/rotisserie/eris"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
	"github.com/poma-prs/poma-static-project/pkg/config"
)

// lull is how long the watcher waits for more changes before triggering a rebuild
const lull = 300 * time.Millisecond

// RebuildFunc runs the build. Errors are logged and don't stop the watcher.
type RebuildFunc func(ctx context.Context) error

// WatchPatterns returns the include and exclude patterns (relative to the project root) for cfg.
// Output folders are excluded so that a rebuild doesn't trigger the next one. Documents rewritten by
// the inject steps are only written when their content changes.
func WatchPatterns(cfg *config.Config) (includes, excludes []string) {
	src := filepath.ToSlash(filepath.Clean(cfg.Src))
	includes = []string{src + "/**", config.FileName}
	if cfg.Script != "" {
		includes = append(includes, filepath.ToSlash(filepath.Clean(cfg.Script)))
	}

	excludes = []string{
		src + "/" + filepath.ToSlash(filepath.Clean(cfg.Tmp)) + "/**",
		filepath.ToSlash(filepath.Clean(cfg.Dist)) + "/**",
		"**/*~",
		"**/.#*",
	}

	return includes, excludes
}

// Watch calls rebuild whenever a watched file changes and then reloads the server's clients.
// It blocks until ctx is cancelled.
func Watch(ctx context.Context, cfg *config.Config, server *Server, rebuild RebuildFunc) error {
	includes, excludes := WatchPatterns(cfg)

	changes := make(chan *moddwatch.Mod, 1)
	watcher, err := moddwatch.Watch(cfg.Root, includes, excludes, lull, changes)
	if err != nil {
		return eris.Wrap(err, "failed to start file watcher")
	}
	defer watcher.Stop()

	logger := buildsys.Log(ctx)
	logger.Info().Msg("Watching for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case mod, ok := <-changes:
			if !ok {
				return nil
			}

			if mod == nil || mod.Empty() {
				continue
			}

			logger.Info().Strs("files", mod.All()).Msg("Change detected, rebuilding")
			err = rebuild(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				logger.Error().Err(err).Msg("Rebuild failed")
				continue
			}

			if server != nil {
				server.Reload()
			}
		}
	}
}
