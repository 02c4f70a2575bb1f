package relpath_test

import (
	"path"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poma-prs/poma-static-project/pkg/relpath"
)

func TestRelativizeScenarios(t *testing.T) {
	tests := map[string]struct {
		asset, target, root string
		want                string
	}{
		"document at root": {
			asset:  "/tmp/.build/css/style.css",
			target: "/project/src/index.html",
			root:   "/project/src/",
			want:   "css/style.css",
		},
		"document one level deep": {
			asset:  "/tmp/.build/js/bundle.js",
			target: "/project/src/pages/about.html",
			root:   "/project/src/",
			want:   "../js/bundle.js",
		},
		"root without trailing slash": {
			asset:  "/tmp/.build/js/bundle.js",
			target: "/project/src/pages/about.html",
			root:   "/project/src",
			want:   "../js/bundle.js",
		},
		"relative root as configured": {
			asset:  "/src/.tmp/style.css",
			target: "/home/me/site/src/index.html",
			root:   "./src/",
			want:   "style.css",
		},
		"no hidden directory strips one segment": {
			asset:  "/build/css/style.css",
			target: "/project/src/index.html",
			root:   "/project/src/",
			want:   "css/style.css",
		},
		"deep hidden directory is kept": {
			asset:  "/build/css/.hidden/x.css",
			target: "/project/src/index.html",
			root:   "/project/src/",
			want:   "css/.hidden/x.css",
		},
		"hidden directory as first segment": {
			asset:  ".tmp/js/bundle.js",
			target: "/project/src/pages/about.html",
			root:   "/project/src/",
			want:   "../js/bundle.js",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := relpath.Relativize(tc.asset, tc.target, tc.root)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRelativizeRoundTrip(t *testing.T) {
	r := relpath.Relativizer{SourceRoot: "/project/src/"}
	assets := []string{"/tmp/.build/css/style.css", "/tmp/.build/js/vendor/lib.js", "/x/.tmp/a.css"}
	targets := []string{"/project/src/index.html", "/project/src/pages/about.html", "/project/src/blog/post.html"}

	for _, asset := range assets {
		for _, target := range targets {
			got, err := r.Relativize(asset, target)
			require.NoError(t, err)

			assetRel, err := r.AssetRelative(asset)
			require.NoError(t, err)
			targetRel, err := r.TargetRelative(target)
			require.NoError(t, err)

			assert.Equal(t, assetRel, path.Join(path.Dir(targetRel), got), "asset %s in %s", asset, target)
		}
	}
}

func TestRelativizeTwoLevelsKeepsSingleEscape(t *testing.T) {
	// Only one level of nesting is corrected for; this reference does not resolve.
	got, err := relpath.Relativize("/tmp/.build/js/bundle.js", "/project/src/pages/sub/about.html", "/project/src/")
	require.NoError(t, err)
	assert.Equal(t, "../js/bundle.js", got)
	assert.NotEqual(t, "js/bundle.js", path.Join("pages/sub", got))
}

func TestRelativizeExactDepth(t *testing.T) {
	r := relpath.Relativizer{SourceRoot: "/project/src/", Depth: relpath.DepthExact}

	got, err := r.Relativize("/tmp/.build/js/bundle.js", "/project/src/pages/sub/about.html")
	require.NoError(t, err)
	assert.Equal(t, "../../js/bundle.js", got)
	assert.Equal(t, "js/bundle.js", path.Join("pages/sub", got))

	got, err = r.Relativize("/tmp/.build/js/bundle.js", "/project/src/index.html")
	require.NoError(t, err)
	assert.Equal(t, "js/bundle.js", got)
}

func TestRelativizeConfiguredTempDir(t *testing.T) {
	r := relpath.Relativizer{SourceRoot: "/project/src/", TempDir: ".tmp"}

	got, err := r.Relativize("/project/src/.tmp/css/style.css", "/project/src/pages/about.html")
	require.NoError(t, err)
	assert.Equal(t, "../css/style.css", got)

	r.TempDir = "build/out"
	got, err = r.Relativize("/project/build/out/app.js", "/project/src/index.html")
	require.NoError(t, err)
	assert.Equal(t, "app.js", got)
}

func TestRelativizeErrors(t *testing.T) {
	_, err := relpath.Relativize("/tmp/.build/a.css", "/elsewhere/index.html", "/project/src/")
	assert.True(t, eris.Is(err, relpath.ErrOutsideRoot))

	_, err = relpath.Relativize("/tmp/.build/a.css", "/project/src/", "/project/src/")
	assert.True(t, eris.Is(err, relpath.ErrOutsideRoot))

	_, err = relpath.Relativize("/tmp/.build", "/project/src/index.html", "/project/src/")
	assert.True(t, eris.Is(err, relpath.ErrNoAssetPath))

	// segment boundaries are respected for relative roots
	_, err = relpath.Relativize("/tmp/.build/a.css", "/home/resources/index.html", "src/")
	assert.True(t, eris.Is(err, relpath.ErrOutsideRoot))
}

func TestParseDepth(t *testing.T) {
	d, err := relpath.ParseDepth("exact")
	require.NoError(t, err)
	assert.Equal(t, relpath.DepthExact, d)

	d, err = relpath.ParseDepth("")
	require.NoError(t, err)
	assert.Equal(t, relpath.DepthSingle, d)

	_, err = relpath.ParseDepth("deep")
	assert.Error(t, err)
}
