package steps

import (
	"bytes"
	"context"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
)

var imagePatterns = []string{"**/*.{jpg,jpeg,png,gif,svg}"}

// optimizeImage returns a smaller encoding of content or content itself if re-encoding didn't help.
// JPEGs are copied unchanged unless jpegQuality is between 1 and 100.
func optimizeImage(path string, content []byte, jpegQuality int) ([]byte, error) {
	var buffer bytes.Buffer

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		img, err := png.Decode(bytes.NewReader(content))
		if err != nil {
			return nil, eris.Wrapf(err, "failed to decode %s", path)
		}

		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		err = encoder.Encode(&buffer, img)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to encode %s", path)
		}
	case ".jpg", ".jpeg":
		// re-encoding is lossy, so it only happens when a quality is configured
		if jpegQuality == 0 {
			return content, nil
		}

		img, err := jpeg.Decode(bytes.NewReader(content))
		if err != nil {
			return nil, eris.Wrapf(err, "failed to decode %s", path)
		}

		err = jpeg.Encode(&buffer, img, &jpeg.Options{Quality: jpegQuality})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to encode %s", path)
		}
	case ".gif":
		img, err := gif.DecodeAll(bytes.NewReader(content))
		if err != nil {
			return nil, eris.Wrapf(err, "failed to decode %s", path)
		}

		err = gif.EncodeAll(&buffer, img)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to encode %s", path)
		}
	case ".svg":
		m := minify.New()
		m.Add("image/svg+xml", &svg.Minifier{})

		err := m.Minify("image/svg+xml", &buffer, bytes.NewReader(content))
		if err != nil {
			return nil, eris.Wrapf(err, "failed to minify %s", path)
		}
	default:
		return content, nil
	}

	if buffer.Len() >= len(content) {
		return content, nil
	}
	return buffer.Bytes(), nil
}

func imagesStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	cfg := env.Config
	logger := buildsys.Log(ctx)

	type job struct {
		src, dest string
	}
	jobs := make([]job, 0)

	for _, folder := range cfg.ImageFolders() {
		base := cfg.SrcPath(folder)
		if !isDir(base) {
			continue
		}

		files, err := buildsys.Glob(env.ProjectRoot, base, imagePatterns...)
		if err != nil {
			return err
		}

		for _, item := range files {
			rel, err := filepath.Rel(base, item)
			if err != nil {
				return eris.Wrapf(err, "failed to relativize %s", item)
			}

			jobs = append(jobs, job{src: item, dest: cfg.DistPath(folder, rel)})
		}
	}

	if len(jobs) == 0 {
		return nil
	}

	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetWriter(env.Stderr),
		progressbar.OptionSetDescription("Optimizing images"),
		progressbar.OptionClearOnFinish(),
	)

	var saved int64
	written := make([]string, 0, len(jobs))
	for _, item := range jobs {
		content, err := os.ReadFile(item.src)
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", item.src)
		}

		optimized, err := optimizeImage(item.src, content, cfg.Images.JPEGQuality)
		if err != nil {
			// broken images are copied as they are
			logger.Warn().Str("task", env.Task.Short).Err(err).Msg("image optimization failed")
			optimized = content
		}

		err = writeFile(item.dest, optimized)
		if err != nil {
			return err
		}

		saved += int64(len(content) - len(optimized))
		written = append(written, item.dest)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	logger.Info().Str("task", env.Task.Short).Msgf("saved %s", formatSize(saved))
	reportSize(ctx, env, "images", written)
	return nil
}
