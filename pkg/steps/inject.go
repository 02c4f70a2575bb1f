package steps

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
	"github.com/poma-prs/poma-static-project/pkg/inject"
)

// injectStep references the compiled styles and scripts from the temp folder in every target document.
// References are written relative to the document so that they work without a server.
func injectStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	cfg := env.Config
	relativizer := cfg.Relativizer()

	transform := func(filePath string, contents []byte, index, length int, target string) (string, error) {
		ref, err := relativizer.Relativize(filePath, target)
		if err != nil {
			return "", err
		}
		return inject.DefaultTransform(ref, contents, index, length, target)
	}

	total := 0
	for _, name := range cfg.Inject.Targets {
		target := cfg.SrcPath(name)
		content, err := os.ReadFile(target)
		if err != nil {
			if os.IsNotExist(err) {
				buildsys.Log(ctx).Warn().Str("task", env.Task.Short).Msgf("%s doesn't exist", projectRel(env, target))
				continue
			}
			return eris.Wrapf(err, "failed to read %s", target)
		}

		html := string(content)
		for _, ext := range []string{"css", "js"} {
			files, err := buildsys.Glob(env.ProjectRoot, cfg.TmpPath(), "**/*."+ext)
			if err != nil {
				return err
			}

			assets := make([]inject.Asset, len(files))
			for idx, item := range files {
				// paths are passed the way the file would be requested from the project root
				assets[idx] = inject.Asset{Path: "/" + projectRel(env, item)}
			}

			result, err := inject.Inject(html, target, ext, assets, inject.InjectMarkers, transform)
			if err != nil {
				return err
			}

			html = result.Content
			total += result.Injected
		}

		if html != string(content) {
			err = writeFile(target, []byte(html))
			if err != nil {
				return err
			}
		}
	}

	buildsys.Log(ctx).Info().Str("task", env.Task.Short).Msgf("injected %d references", total)
	return nil
}
