package steps

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
)

var compressibleExts = map[string]bool{
	".css":  true,
	".html": true,
	".js":   true,
	".json": true,
	".map":  true,
	".svg":  true,
	".txt":  true,
	".xml":  true,
}

// compressors maps a file suffix to its encoder
var compressors = map[string]func(io.Writer) (io.WriteCloser, error){
	"br": func(w io.Writer) (io.WriteCloser, error) {
		return brotli.NewWriterLevel(w, brotli.BestCompression), nil
	},
	"gz": func(w io.Writer) (io.WriteCloser, error) {
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	},
}

func parseFormats(value string) ([]string, error) {
	formats := make([]string, 0, len(compressors))
	for _, format := range strings.Split(value, ",") {
		format = strings.ToLower(strings.TrimSpace(format))
		if format == "" {
			continue
		}

		if _, ok := compressors[format]; !ok {
			return nil, eris.Errorf("unsupported compression format %s", format)
		}
		formats = append(formats, format)
	}

	return formats, nil
}

func compressFile(path, format string) (string, error) {
	inHandle, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "failed to open %s", path)
	}
	defer inHandle.Close()

	target := path + "." + format
	outHandle, err := os.Create(target)
	if err != nil {
		return "", eris.Wrapf(err, "failed to create %s", target)
	}

	err = compressStream(outHandle, inHandle, format)
	if err != nil {
		return "", eris.Wrapf(err, "failed to compress %s", path)
	}

	return target, nil
}

// compressStream encodes in into out and closes out. A failed close fails the whole write.
func compressStream(out io.WriteCloser, in io.Reader, format string) error {
	writer, err := compressors[format](out)
	if err != nil {
		out.Close()
		return eris.Wrapf(err, "failed to initialize %s encoder", format)
	}

	_, err = io.Copy(writer, in)
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		out.Close()
		return err
	}

	return eris.Wrap(out.Close(), "failed to close the output")
}

// compressStep writes pre-compressed copies (.br and .gz by default) next to every text asset in dist
func compressStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	formats, err := parseFormats(stringArg(args, "formats", "br,gz"))
	if err != nil {
		return err
	}

	dist := env.Config.DistPath()
	if !isDir(dist) {
		return nil
	}

	files, err := buildsys.Glob(env.ProjectRoot, dist, "**/*")
	if err != nil {
		return err
	}

	written := make([]string, 0)
	for _, item := range files {
		if !compressibleExts[strings.ToLower(filepath.Ext(item))] {
			continue
		}

		for _, format := range formats {
			target, err := compressFile(item, format)
			if err != nil {
				return err
			}
			written = append(written, target)
		}
	}

	reportSize(ctx, env, "compress", written)
	return nil
}
