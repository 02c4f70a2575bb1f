// Package steps implements the built-in pipeline stages that task scripts call through step().
//
// Importing the package registers every step with buildsys.
package steps

import (
	"context"
	_ "embed"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
)

// DefaultScript is the task script used for projects without their own tasks.star
//
//go:embed default.star
var DefaultScript []byte

func init() {
	for _, info := range []buildsys.StepInfo{
		{Name: "clean", Desc: "Remove the dist and temp folders", Run: cleanStep},
		{Name: "copy", Desc: "Copy copy_files into dist", Run: copyStep},
		{Name: "fonts", Desc: "Copy fonts into dist", Run: fontsStep},
		{Name: "images", Desc: "Optimize images into dist", Run: imagesStep},
		{Name: "sass", Desc: "Compile the sass entry into the temp folder", Run: sassStep},
		{Name: "wiredep", Desc: "Reference vendor packages in source documents", Run: wiredepStep},
		{Name: "bundle", Desc: "Concatenate and transpile scripts into the temp folder", Run: bundleStep},
		{Name: "inject", Desc: "Reference compiled styles and scripts in source documents", Run: injectStep},
		{Name: "assets", Desc: "Concatenate, minify and revision build blocks into dist", Run: assetsStep},
		{Name: "html", Desc: "Finalize and minify documents in dist", Run: htmlStep},
		{Name: "compress", Desc: "Write brotli compressed copies of text assets", Run: compressStep},
	} {
		buildsys.RegisterStep(info)
	}
}

func stringArg(args map[string]string, key, fallback string) string {
	if value, ok := args[key]; ok && value != "" {
		return value
	}
	return fallback
}

func boolArg(args map[string]string, key string, fallback bool) (bool, error) {
	value, ok := args[key]
	if !ok || value == "" {
		return fallback, nil
	}

	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, eris.Wrapf(err, "invalid value for %s", key)
	}
	return result, nil
}

// projectRel returns path relative to the project root using forward slashes
func projectRel(env *buildsys.StepEnv, path string) string {
	rel, err := filepath.Rel(env.ProjectRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func writeFile(path string, content []byte) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}

	err = os.WriteFile(path, content, 0o644)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func copyFile(src, dest string) error {
	err := os.MkdirAll(filepath.Dir(dest), 0o755)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}

	inHandle, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer inHandle.Close()

	outHandle, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}

	_, err = io.Copy(outHandle, inHandle)
	if err != nil {
		outHandle.Close()
		return eris.Wrapf(err, "failed to copy %s to %s", src, dest)
	}

	return eris.Wrapf(outHandle.Close(), "failed to close %s", dest)
}

// copyTree copies every file in files (which must be inside base) to the same relative location below dest
func copyTree(base, dest string, files []string) ([]string, error) {
	written := make([]string, 0, len(files))
	for _, item := range files {
		rel, err := filepath.Rel(base, item)
		if err != nil {
			return written, eris.Wrapf(err, "failed to relativize %s", item)
		}

		target := filepath.Join(dest, rel)
		err = copyFile(item, target)
		if err != nil {
			return written, err
		}
		written = append(written, target)
	}

	return written, nil
}

// reportSize logs the combined size of files the way gulp-size did
func reportSize(ctx context.Context, env *buildsys.StepEnv, step string, files []string) {
	var total int64
	for _, item := range files {
		info, err := os.Stat(item)
		if err == nil {
			total += info.Size()
		}
	}

	buildsys.Log(ctx).Info().
		Str("task", env.Task.Short).
		Str("step", step).
		Int("files", len(files)).
		Str("size", formatSize(total)).
		Msg("done")
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return strconv.FormatInt(size, 10) + " B"
	}

	value := float64(size)
	suffixes := []string{"kB", "MB", "GB"}
	idx := -1
	for value >= unit && idx < len(suffixes)-1 {
		value /= unit
		idx++
	}
	return strconv.FormatFloat(value, 'f', 2, 64) + " " + suffixes[idx]
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// excluded reports whether path is inside any of dirs
func excluded(path string, dirs ...string) bool {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
