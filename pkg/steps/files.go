package steps

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
)

var fontPatterns = []string{"**/*.{eot,svg,ttf,woff,woff2}"}

func cleanStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	cfg := env.Config
	for _, dir := range []string{cfg.DistPath(), cfg.TmpPath()} {
		if dir == env.ProjectRoot || dir == cfg.SrcPath() || !excluded(dir, env.ProjectRoot) {
			return eris.Errorf("refusing to remove %s", dir)
		}

		buildsys.Log(ctx).Debug().Str("task", env.Task.Short).Msgf("removing %s", projectRel(env, dir))
		err := os.RemoveAll(dir)
		if err != nil {
			return eris.Wrapf(err, "failed to remove %s", dir)
		}
	}

	// revisioned names recorded for the removed dist are gone too
	if env.Store != nil {
		err := env.Store.ClearManifest(ctx)
		if err != nil {
			return eris.Wrap(err, "failed to reset the asset manifest")
		}
	}

	return nil
}

func copyStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	cfg := env.Config
	if len(cfg.CopyFiles) == 0 {
		return nil
	}

	files, err := buildsys.Glob(env.ProjectRoot, cfg.SrcPath(), cfg.CopyFiles...)
	if err != nil {
		return err
	}

	dist := cfg.DistPath()
	written := make([]string, 0, len(files))
	for _, item := range files {
		// strip the leading directory (usually src) from the project relative path
		rel := projectRel(env, item)
		if idx := strings.Index(rel, "/"); idx != -1 {
			rel = rel[idx+1:]
		}

		target := filepath.Join(dist, filepath.FromSlash(rel))
		err = copyFile(item, target)
		if err != nil {
			return err
		}
		written = append(written, target)
	}

	reportSize(ctx, env, "copy", written)
	return nil
}

func fontsStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	folder := stringArg(args, "folder", env.Config.Folder.Fonts)
	if folder == "" {
		return nil
	}

	base := env.Config.SrcPath(folder)
	if !isDir(base) {
		buildsys.Log(ctx).Debug().Str("task", env.Task.Short).Msgf("%s doesn't exist, skipping", projectRel(env, base))
		return nil
	}

	files, err := buildsys.Glob(env.ProjectRoot, base, fontPatterns...)
	if err != nil {
		return err
	}

	written, err := copyTree(base, env.Config.DistPath(folder), files)
	if err != nil {
		return err
	}

	reportSize(ctx, env, "fonts", written)
	return nil
}
