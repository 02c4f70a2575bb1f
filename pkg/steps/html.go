package steps

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
	"github.com/poma-prs/poma-static-project/pkg/inject"
)

// RevManifestName is written to dist when assets were revisioned
const RevManifestName = "rev-manifest.json"

var removeBuildPattern = regexp.MustCompile(`(?s)<!--\s*removeIf\(build\)\s*-->.*?<!--\s*endRemoveIf\(build\)\s*-->`)

func newHTMLMinifier() *minify.M {
	m := minify.New()
	m.Add("text/html", &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFunc("text/css", css.Minify)
	m.AddFuncRegexp(regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`), js.Minify)
	return m
}

// removeBuildCode drops everything between <!--removeIf(build)--> and <!--endRemoveIf(build)-->
func removeBuildCode(document string) string {
	return removeBuildPattern.ReplaceAllString(document, "")
}

// rewriteDistPaths turns references from a source document into dist (like ../dist/css/app.css)
// into references relative to the dist root or, with absPaths, absolute ones.
func rewriteDistPaths(document, distPrefix string, absPaths bool) string {
	replacement := ""
	if absPaths {
		replacement = "/"
	}
	return strings.ReplaceAll(document, distPrefix, replacement)
}

func distAssets(env *buildsys.StepEnv, srcDoc, folder, ext string) ([]inject.Asset, error) {
	cfg := env.Config
	if folder == "" {
		return nil, nil
	}

	files, err := buildsys.Glob(env.ProjectRoot, cfg.DistPath(folder), "**/*."+ext)
	if err != nil {
		return nil, err
	}

	assets := make([]inject.Asset, len(files))
	for idx, item := range files {
		rel, err := filepath.Rel(filepath.Dir(srcDoc), item)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to relativize %s", item)
		}
		assets[idx] = inject.Asset{Path: filepath.ToSlash(rel)}
	}
	return assets, nil
}

func htmlStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	cfg := env.Config
	doMinify, err := boolArg(args, "minify", true)
	if err != nil {
		return err
	}

	absPaths, err := boolArg(args, "abs_paths", cfg.AbsPaths)
	if err != nil {
		return err
	}

	m := newHTMLMinifier()
	written := make([]string, 0, len(cfg.Inject.Targets))

	for _, name := range cfg.Inject.Targets {
		srcDoc := cfg.SrcPath(name)
		distDoc := cfg.DistPath(name)

		// prefer the document produced by the assets step
		input := distDoc
		if !isFile(input) {
			input = srcDoc
		}

		content, err := os.ReadFile(input)
		if err != nil {
			if os.IsNotExist(err) {
				buildsys.Log(ctx).Warn().Str("task", env.Task.Short).Msgf("%s doesn't exist", projectRel(env, srcDoc))
				continue
			}
			return eris.Wrapf(err, "failed to read %s", input)
		}

		document := string(content)
		for _, item := range []struct{ folder, ext string }{
			{cfg.Folder.Styles, "css"},
			{cfg.Folder.Scripts, "js"},
		} {
			if !inject.HasBlock(document, item.ext, inject.InjectMarkers) {
				continue
			}

			assets, err := distAssets(env, srcDoc, item.folder, item.ext)
			if err != nil {
				return err
			}

			result, err := inject.Inject(document, srcDoc, item.ext, assets, inject.InjectMarkers, nil)
			if err != nil {
				return err
			}
			document = result.Content
		}

		document = removeBuildCode(document)

		distPrefix, err := filepath.Rel(filepath.Dir(srcDoc), cfg.DistPath())
		if err != nil {
			return eris.Wrapf(err, "failed to relativize %s", cfg.DistPath())
		}
		document = rewriteDistPaths(document, filepath.ToSlash(distPrefix)+"/", absPaths)

		if doMinify {
			document, err = m.String("text/html", document)
			if err != nil {
				return eris.Wrapf(err, "failed to minify %s", projectRel(env, srcDoc))
			}
		}

		err = writeFile(distDoc, []byte(document))
		if err != nil {
			return err
		}
		written = append(written, distDoc)
	}

	manifestFile, err := writeRevManifest(ctx, env)
	if err != nil {
		return err
	}
	if manifestFile != "" {
		written = append(written, manifestFile)
	}

	reportSize(ctx, env, "html", written)
	buildsys.Log(ctx).Info().Str("task", env.Task.Short).Msg("Build is ready")
	return nil
}

// writeRevManifest maps dist relative asset names to their revisioned names for servers and deploy scripts.
// Entries whose revisioned file is gone are skipped.
func writeRevManifest(ctx context.Context, env *buildsys.StepEnv) (string, error) {
	if env.Store == nil {
		return "", nil
	}

	var recorded map[string]string
	err := env.Store.BatchRead(ctx, func(ctx context.Context) error {
		var err error
		recorded, err = env.Store.Manifest(ctx)
		return err
	})
	if err != nil {
		return "", eris.Wrap(err, "failed to read the asset manifest")
	}

	dist := env.Config.DistPath()
	manifest := make(map[string]string, len(recorded))
	for original, revisioned := range recorded {
		revFile := filepath.Join(env.ProjectRoot, filepath.FromSlash(revisioned))
		if !isFile(revFile) {
			continue
		}

		from, err := filepath.Rel(dist, filepath.Join(env.ProjectRoot, filepath.FromSlash(original)))
		if err != nil {
			continue
		}
		to, err := filepath.Rel(dist, revFile)
		if err != nil {
			continue
		}
		manifest[filepath.ToSlash(from)] = filepath.ToSlash(to)
	}

	if len(manifest) == 0 {
		return "", nil
	}

	content, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "failed to encode the asset manifest")
	}

	target := filepath.Join(dist, RevManifestName)
	err = writeFile(target, append(content, '\n'))
	if err != nil {
		return "", err
	}

	buildsys.Log(ctx).Debug().Str("task", env.Task.Short).Msgf("recorded %d revisioned assets", len(manifest))
	return target, nil
}
