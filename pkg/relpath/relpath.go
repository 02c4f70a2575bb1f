// Package relpath computes the reference string written into an HTML document
// for a generated asset so that it resolves from the document's directory.
package relpath

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrOutsideRoot is returned when the target document does not live below the source root.
	ErrOutsideRoot = eris.New("path is not under the source root")
	// ErrNoAssetPath is returned when nothing is left of the asset path after the temp directory was stripped.
	ErrNoAssetPath = eris.New("asset path has nothing below the temp directory")
)

// Depth selects how many parent escapes are prepended for nested documents.
type Depth int

const (
	// DepthSingle prepends exactly one "../" for any nested document, no matter how deep.
	DepthSingle Depth = iota
	// DepthExact prepends one "../" per directory level of the document.
	DepthExact
)

// ParseDepth converts a config value ("single" or "exact") to a Depth.
func ParseDepth(value string) (Depth, error) {
	switch strings.ToLower(value) {
	case "", "single":
		return DepthSingle, nil
	case "exact":
		return DepthExact, nil
	}

	return DepthSingle, eris.Errorf("unknown depth mode %q (must be single or exact)", value)
}

func (d Depth) String() string {
	if d == DepthExact {
		return "exact"
	}
	return "single"
}

// Relativizer holds the configuration shared by every call for one pipeline run.
type Relativizer struct {
	// SourceRoot is stripped from target documents.
	SourceRoot string
	// TempDir names the build-temp directory segment stripped from asset paths.
	// If empty, the first dot-prefixed segment is used, or the first segment if there is none.
	TempDir string
	Depth   Depth
}

// Relativize computes the reference for assetPath inside targetPath using the observed
// single-level correction.
func Relativize(assetPath, targetPath, sourceRoot string) (string, error) {
	return Relativizer{SourceRoot: sourceRoot}.Relativize(assetPath, targetPath)
}

// Relativize computes the reference for assetPath inside the document at targetPath.
func (r Relativizer) Relativize(assetPath, targetPath string) (string, error) {
	targetRel, err := r.TargetRelative(targetPath)
	if err != nil {
		return "", err
	}

	assetRel, err := r.AssetRelative(assetPath)
	if err != nil {
		return "", err
	}

	levels := strings.Count(targetRel, "/")
	if levels == 0 {
		return assetRel, nil
	}

	if r.Depth == DepthExact {
		return strings.Repeat("../", levels) + assetRel, nil
	}
	return "../" + assetRel, nil
}

// TargetRelative strips the source root from targetPath. The result always uses forward slashes.
func (r Relativizer) TargetRelative(targetPath string) (string, error) {
	target := filepath.ToSlash(targetPath)
	root := strings.TrimPrefix(filepath.ToSlash(r.SourceRoot), "./")
	if root == "" || root == "." {
		return strings.TrimPrefix(target, "./"), nil
	}

	if !strings.HasSuffix(root, "/") {
		root += "/"
	}

	idx := -1
	if strings.HasPrefix(target, root) {
		idx = 0
	} else if !strings.HasPrefix(root, "/") {
		// relative roots must start at a segment boundary
		if pos := strings.Index(target, "/"+root); pos != -1 {
			idx = pos + 1
		}
	}

	if idx == -1 {
		return "", eris.Wrapf(ErrOutsideRoot, "%s is not below %s", targetPath, r.SourceRoot)
	}

	rel := target[idx+len(root):]
	if rel == "" {
		return "", eris.Wrapf(ErrOutsideRoot, "%s is the source root itself", targetPath)
	}
	return rel, nil
}

// tempSearchDepth is the number of leading segments searched for a dot-prefixed temp directory
const tempSearchDepth = 2

// AssetRelative strips everything up to and including the temp directory segment from assetPath.
func (r Relativizer) AssetRelative(assetPath string) (string, error) {
	segments := strings.Split(strings.Trim(filepath.ToSlash(assetPath), "/"), "/")

	cut := -1
	if r.TempDir != "" {
		tmp := strings.Trim(filepath.ToSlash(r.TempDir), "/")
		tmpParts := strings.Split(tmp, "/")
		for idx := 0; idx+len(tmpParts) <= len(segments); idx++ {
			if equalSegments(segments[idx:idx+len(tmpParts)], tmpParts) {
				cut = idx + len(tmpParts)
				break
			}
		}
	} else {
		for idx, seg := range segments {
			if idx >= tempSearchDepth {
				break
			}
			if len(seg) > 1 && seg[0] == '.' && seg != ".." {
				cut = idx + 1
				break
			}
		}
	}

	if cut == -1 {
		cut = 1
	}

	if cut >= len(segments) {
		return "", eris.Wrapf(ErrNoAssetPath, "asset %s", assetPath)
	}
	return strings.Join(segments[cut:], "/"), nil
}

func equalSegments(a, b []string) bool {
	for idx := range a {
		if a[idx] != b[idx] {
			return false
		}
	}
	return true
}
