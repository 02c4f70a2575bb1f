package steps

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
)

// sassStep compiles the sass entry with the configured compiler. The compiler is expected to behave like
// dart-sass: it receives the entry as its last argument and prints the CSS to stdout.
func sassStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	cfg := env.Config
	entry := cfg.SrcPath(stringArg(args, "entry", cfg.Sass.Entry))
	if !isFile(entry) {
		buildsys.Log(ctx).Debug().Str("task", env.Task.Short).Msgf("%s doesn't exist, skipping", projectRel(env, entry))
		return nil
	}

	output := cfg.TmpPath(strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry)) + ".css")
	command := stringArg(args, "command", cfg.Sass.Command)

	var stdout bytes.Buffer
	err := buildsys.RunCommand(ctx, filepath.Dir(entry), &stdout, env.Stderr, command,
		"--style="+stringArg(args, "style", cfg.Sass.Style), "--no-source-map", entry)
	if err != nil {
		return eris.Wrapf(err, "failed to compile %s", projectRel(env, entry))
	}

	err = writeFile(output, stdout.Bytes())
	if err != nil {
		return err
	}

	reportSize(ctx, env, "sass", []string{output})
	return nil
}
