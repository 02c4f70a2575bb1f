// Package inject writes references to generated assets into HTML documents between
// marker comments such as <!-- inject:css --> and <!-- endinject -->.
package inject

import (
	"path"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// TransformFunc turns one asset into the text inserted for it.
// index and length describe the asset's position among all assets injected into target.
type TransformFunc func(filePath string, contents []byte, index, length int, target string) (string, error)

// Asset is a file that should be referenced from a document
type Asset struct {
	Path     string
	Contents []byte
}

// Markers describes the comment pair delimiting an injection block.
// Start is a format with a single %s for the asset extension ("css", "js").
type Markers struct {
	Start string
	End   string
}

var (
	// InjectMarkers are the markers used for assets built by the pipeline
	InjectMarkers = Markers{Start: "<!-- inject:%s -->", End: "<!-- endinject -->"}
	// BowerMarkers are the markers used for vendor packages
	BowerMarkers = Markers{Start: "<!-- bower:%s -->", End: "<!-- endbower -->"}
)

// DefaultTransform produces the tag for an asset based on its extension
func DefaultTransform(filePath string, _ []byte, _, _ int, _ string) (string, error) {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".css":
		return `<link rel="stylesheet" href="` + filePath + `">`, nil
	case ".js":
		return `<script src="` + filePath + `"></script>`, nil
	case ".html":
		return `<link rel="import" href="` + filePath + `">`, nil
	}

	return "", eris.Errorf("don't know how to reference %s", filePath)
}

// Result reports what Inject changed
type Result struct {
	Content  string
	Injected int
	Blocks   int
}

// Inject replaces the content of every ext block in document with the transformed assets.
// Blocks keep the indentation of their start marker. Documents without a block are returned unchanged.
func Inject(document, target, ext string, assets []Asset, markers Markers, transform TransformFunc) (Result, error) {
	if transform == nil {
		transform = DefaultTransform
	}

	start := strings.Replace(markers.Start, "%s", ext, 1)
	pattern := regexp.MustCompile(`(?s)([ \t]*)` + regexp.QuoteMeta(start) + `(.*?)` + regexp.QuoteMeta(markers.End))

	lines := make([]string, 0, len(assets))
	for idx, asset := range assets {
		line, err := transform(asset.Path, asset.Contents, idx, len(assets), target)
		if err != nil {
			return Result{Content: document}, eris.Wrapf(err, "failed to transform %s for %s", asset.Path, target)
		}

		if line != "" {
			lines = append(lines, line)
		}
	}

	result := Result{}
	result.Content = pattern.ReplaceAllStringFunc(document, func(block string) string {
		result.Blocks++
		indent := pattern.FindStringSubmatch(block)[1]

		var buffer strings.Builder
		buffer.WriteString(indent + start + "\n")
		for _, line := range lines {
			buffer.WriteString(indent + line + "\n")
		}
		buffer.WriteString(indent + markers.End)
		return buffer.String()
	})
	result.Injected = len(lines) * result.Blocks

	return result, nil
}

// HasBlock reports whether document contains an ext block
func HasBlock(document, ext string, markers Markers) bool {
	start := strings.Replace(markers.Start, "%s", ext, 1)
	idx := strings.Index(document, start)
	return idx != -1 && strings.Contains(document[idx:], markers.End)
}
