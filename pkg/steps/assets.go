package steps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rotisserie/eris"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
)

var (
	buildBlockPattern = regexp.MustCompile(`(?s)([ \t]*)<!--\s*build:(\w+)(?:\s+(\S+))?\s*-->(.*?)<!--\s*endbuild\s*-->`)
	assetRefPatterns  = map[string]*regexp.Regexp{
		"css": regexp.MustCompile(`(?is)<link\b[^>]*?\bhref\s*=\s*["']([^"']+)["']`),
		"js":  regexp.MustCompile(`(?is)<script\b[^>]*?\bsrc\s*=\s*["']([^"']+)["']`),
	}
)

// buildBlock is a <!-- build:type path --> ... <!-- endbuild --> section of a document
type buildBlock struct {
	Kind   string
	Output string
	Refs   []string
}

func parseBuildBlock(match []string) (buildBlock, error) {
	block := buildBlock{Kind: strings.ToLower(match[2]), Output: match[3]}
	if block.Kind == "remove" {
		return block, nil
	}

	pattern, ok := assetRefPatterns[block.Kind]
	if !ok {
		return block, eris.Errorf("unsupported build block type %s", block.Kind)
	}

	if block.Output == "" {
		return block, eris.Errorf("build:%s block without an output path", block.Kind)
	}

	for _, ref := range pattern.FindAllStringSubmatch(match[4], -1) {
		block.Refs = append(block.Refs, ref[1])
	}
	return block, nil
}

func isExternalRef(ref string) bool {
	return strings.HasPrefix(ref, "//") || strings.Contains(ref, "://") || strings.HasPrefix(ref, "data:")
}

// resolveRef finds the file a document reference points to. Both the source folder and the
// temp folder are searched, in that order.
func resolveRef(env *buildsys.StepEnv, docDir, ref string) (string, error) {
	if idx := strings.IndexAny(ref, "?#"); idx != -1 {
		ref = ref[:idx]
	}

	cfg := env.Config
	srcRoot := cfg.SrcPath()

	var candidate string
	if strings.HasPrefix(ref, "/") {
		candidate = filepath.Join(srcRoot, filepath.FromSlash(ref))
	} else {
		candidate = filepath.Join(docDir, filepath.FromSlash(ref))
	}

	rel, err := filepath.Rel(srcRoot, candidate)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", eris.Errorf("%s points outside of %s", ref, cfg.Src)
	}

	for _, base := range []string{srcRoot, cfg.TmpPath()} {
		file := filepath.Join(base, rel)
		if isFile(file) {
			return file, nil
		}
	}

	return "", eris.Errorf("could not find %s in %s or %s", ref, cfg.Src, filepath.Join(cfg.Src, cfg.Tmp))
}

// revName appends the first 8 hex digits of the content hash to the file name
func revName(name string, content []byte) string {
	hash := sha256.Sum256(content)
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + hex.EncodeToString(hash[:])[:8] + ext
}

func assetTag(kind, ref string) string {
	if kind == "css" {
		return `<link rel="stylesheet" href="` + ref + `">`
	}
	return `<script src="` + ref + `"></script>`
}

type assetBuilder struct {
	env     *buildsys.StepEnv
	engines []api.Engine
	rev     bool
	written []string

	// original dist name -> revisioned dist name, both project relative
	manifest map[string]string
}

// build concatenates and minifies the files referenced by block and returns the reference replacing the block
func (b *assetBuilder) build(ctx context.Context, doc string, block buildBlock) (string, error) {
	cfg := b.env.Config
	docDir := filepath.Dir(doc)

	var buffer strings.Builder
	for _, ref := range block.Refs {
		if isExternalRef(ref) {
			buildsys.Log(ctx).Warn().Str("task", b.env.Task.Short).Msgf("ignoring external reference %s in build block", ref)
			continue
		}

		file, err := resolveRef(b.env, docDir, ref)
		if err != nil {
			return "", err
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return "", eris.Wrapf(err, "failed to read %s", file)
		}

		buffer.Write(content)
		buffer.WriteByte('\n')
	}

	output := block.Output
	result, err := minifyAsset(path.Base(output), block.Kind, buffer.String(), b.engines)
	if err != nil {
		return "", err
	}

	if b.rev {
		output = revName(output, result.Code)
	}

	var distFile string
	if strings.HasPrefix(output, "/") {
		distFile = cfg.DistPath(filepath.FromSlash(output))
	} else {
		docRel, err := filepath.Rel(cfg.SrcPath(), docDir)
		if err != nil {
			return "", eris.Wrapf(err, "failed to relativize %s", docDir)
		}
		distFile = cfg.DistPath(docRel, filepath.FromSlash(output))
	}

	mapName := path.Base(output) + ".map"
	code := append(result.Code, []byte(sourceMapComment(block.Kind, mapName))...)

	err = writeFile(distFile, code)
	if err != nil {
		return "", err
	}

	err = writeFile(distFile+".map", result.Map)
	if err != nil {
		return "", err
	}
	b.written = append(b.written, distFile, distFile+".map")

	if b.rev {
		original := filepath.Join(filepath.Dir(distFile), path.Base(block.Output))
		b.manifest[projectRel(b.env, original)] = projectRel(b.env, distFile)
	}

	return assetTag(block.Kind, output), nil
}

// assetsStep processes the build blocks of every target document and writes the result to dist
func assetsStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	cfg := env.Config
	engines, err := parseEngines(cfg.Browsers)
	if err != nil {
		return err
	}

	rev, err := boolArg(args, "rev", cfg.Rev)
	if err != nil {
		return err
	}

	builder := &assetBuilder{env: env, engines: engines, rev: rev, manifest: map[string]string{}}
	for _, name := range cfg.Inject.Targets {
		doc := cfg.SrcPath(name)
		content, err := os.ReadFile(doc)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return eris.Wrapf(err, "failed to read %s", doc)
		}

		var blockErr error
		html := buildBlockPattern.ReplaceAllStringFunc(string(content), func(raw string) string {
			if blockErr != nil {
				return raw
			}

			match := buildBlockPattern.FindStringSubmatch(raw)
			block, err := parseBuildBlock(match)
			if err != nil {
				blockErr = eris.Wrapf(err, "in %s", projectRel(env, doc))
				return raw
			}

			if block.Kind == "remove" {
				return ""
			}

			tag, err := builder.build(ctx, doc, block)
			if err != nil {
				blockErr = eris.Wrapf(err, "failed to build %s for %s", block.Output, projectRel(env, doc))
				return raw
			}
			return match[1] + tag
		})
		if blockErr != nil {
			return blockErr
		}

		distDoc := cfg.DistPath(name)
		err = writeFile(distDoc, []byte(html))
		if err != nil {
			return err
		}
		builder.written = append(builder.written, distDoc)
	}

	err = builder.saveManifest(ctx)
	if err != nil {
		return err
	}

	reportSize(ctx, env, "assets", builder.written)
	return nil
}

func (b *assetBuilder) saveManifest(ctx context.Context) error {
	if b.env.Store == nil || len(b.manifest) == 0 {
		return nil
	}

	err := b.env.Store.BatchUpdate(ctx, func(ctx context.Context) error {
		for original, revisioned := range b.manifest {
			err := b.env.Store.PutManifest(ctx, original, revisioned)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return eris.Wrap(err, "failed to record revisioned assets")
}
