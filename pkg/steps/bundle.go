package steps

import (
	"context"
	"os"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rotisserie/eris"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
)

// bundleStep concatenates every script in src (except vendor packages and build output) and lowers the
// syntax to the configured target. The result is written to the temp folder.
func bundleStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	cfg := env.Config
	name := stringArg(args, "name", cfg.Bundle.Name)

	target, err := parseTarget(stringArg(args, "target", cfg.Bundle.Target))
	if err != nil {
		return err
	}

	files, err := buildsys.Glob(env.ProjectRoot, cfg.SrcPath(), "**/*.js")
	if err != nil {
		return err
	}

	var vendorDir string
	if cfg.Folder.Vendors != "" {
		vendorDir = cfg.SrcPath(cfg.Folder.Vendors)
	}

	var buffer strings.Builder
	count := 0
	for _, item := range files {
		if excluded(item, vendorDir, cfg.TmpPath(), cfg.DistPath()) {
			continue
		}

		content, err := os.ReadFile(item)
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", item)
		}

		buffer.Write(content)
		if len(content) > 0 && content[len(content)-1] != '\n' {
			buffer.WriteByte('\n')
		}
		count++
	}

	if count == 0 {
		buildsys.Log(ctx).Debug().Str("task", env.Task.Short).Msg("no scripts found, skipping")
		return nil
	}

	result := api.Transform(buffer.String(), api.TransformOptions{
		Loader:     api.LoaderJS,
		Sourcefile: name,
		Target:     target,
	})
	if err := transformErrors(name, result.Errors); err != nil {
		return eris.Wrap(err, "failed to transpile scripts")
	}

	output := cfg.TmpPath(name)
	err = writeFile(output, result.Code)
	if err != nil {
		return err
	}

	reportSize(ctx, env, "bundle", []string{output})
	return nil
}
