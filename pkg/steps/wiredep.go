package steps

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
	"github.com/poma-prs/poma-static-project/pkg/inject"
)

var vendorManifests = []string{"bower.json", ".bower.json", "package.json"}

type vendorPackage struct {
	Name string
	Dir  string
	Main []string
	Deps []string
}

func readVendorPackage(dir string) (*vendorPackage, error) {
	for _, name := range vendorManifests {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, eris.Wrapf(err, "failed to read %s", name)
		}

		if !gjson.ValidBytes(content) {
			return nil, eris.Errorf("%s contains invalid JSON", filepath.Join(dir, name))
		}

		manifest := gjson.ParseBytes(content)
		pkg := &vendorPackage{
			Name: manifest.Get("name").String(),
			Dir:  dir,
		}
		if pkg.Name == "" {
			pkg.Name = filepath.Base(dir)
		}

		main := manifest.Get("main")
		if main.IsArray() {
			for _, item := range main.Array() {
				pkg.Main = append(pkg.Main, item.String())
			}
		} else if main.Exists() {
			pkg.Main = []string{main.String()}
		}

		manifest.Get("dependencies").ForEach(func(key, _ gjson.Result) bool {
			pkg.Deps = append(pkg.Deps, key.String())
			return true
		})
		sort.Strings(pkg.Deps)

		return pkg, nil
	}

	return nil, nil
}

// vendorPackages returns the installed packages with their dependencies ordered first
func vendorPackages(vendorDir string) ([]*vendorPackage, error) {
	entries, err := os.ReadDir(vendorDir)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list %s", vendorDir)
	}

	packages := make(map[string]*vendorPackage)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pkg, err := readVendorPackage(filepath.Join(vendorDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if pkg == nil {
			continue
		}

		packages[entry.Name()] = pkg
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	result := make([]*vendorPackage, 0, len(packages))
	visited := make(map[string]bool)

	var visit func(name string)
	visit = func(name string) {
		pkg, ok := packages[name]
		if !ok || visited[name] {
			return
		}
		visited[name] = true

		for _, dep := range pkg.Deps {
			visit(dep)
		}
		result = append(result, pkg)
	}

	for _, name := range names {
		visit(name)
	}

	return result, nil
}

// vendorFiles returns the main files of packages with the given extension
func vendorFiles(packages []*vendorPackage, ext string) []string {
	result := make([]string, 0)
	for _, pkg := range packages {
		for _, main := range pkg.Main {
			if strings.EqualFold(filepath.Ext(main), ext) {
				path := filepath.Join(pkg.Dir, filepath.FromSlash(main))
				if isFile(path) {
					result = append(result, path)
				}
			}
		}
	}
	return result
}

// sourceDocuments lists the HTML files in src, ignoring the vendor and temp folders
func sourceDocuments(env *buildsys.StepEnv) ([]string, error) {
	cfg := env.Config
	files, err := buildsys.Glob(env.ProjectRoot, cfg.SrcPath(), "**/*.html")
	if err != nil {
		return nil, err
	}

	var vendorDir string
	if cfg.Folder.Vendors != "" {
		vendorDir = cfg.SrcPath(cfg.Folder.Vendors)
	}

	result := make([]string, 0, len(files))
	for _, item := range files {
		if !excluded(item, vendorDir, cfg.TmpPath(), cfg.DistPath()) {
			result = append(result, item)
		}
	}
	return result, nil
}

func wiredepStep(ctx context.Context, env *buildsys.StepEnv, args map[string]string) error {
	cfg := env.Config
	if cfg.Folder.Vendors == "" {
		return nil
	}

	vendorDir := cfg.SrcPath(cfg.Folder.Vendors)
	if !isDir(vendorDir) {
		buildsys.Log(ctx).Debug().Str("task", env.Task.Short).Msgf("%s doesn't exist, skipping", projectRel(env, vendorDir))
		return nil
	}

	packages, err := vendorPackages(vendorDir)
	if err != nil {
		return err
	}

	documents, err := sourceDocuments(env)
	if err != nil {
		return err
	}

	changed := make([]string, 0)
	for _, doc := range documents {
		content, err := os.ReadFile(doc)
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", doc)
		}

		html := string(content)
		for _, ext := range []string{"css", "js"} {
			if !inject.HasBlock(html, ext, inject.BowerMarkers) {
				continue
			}

			files := vendorFiles(packages, "."+ext)
			assets := make([]inject.Asset, len(files))
			for idx, item := range files {
				rel, err := filepath.Rel(filepath.Dir(doc), item)
				if err != nil {
					return eris.Wrapf(err, "failed to relativize %s", item)
				}
				assets[idx] = inject.Asset{Path: filepath.ToSlash(rel)}
			}

			result, err := inject.Inject(html, doc, ext, assets, inject.BowerMarkers, nil)
			if err != nil {
				return err
			}
			html = result.Content
		}

		if html != string(content) {
			err = writeFile(doc, []byte(html))
			if err != nil {
				return err
			}
			changed = append(changed, doc)
		}
	}

	buildsys.Log(ctx).Info().
		Str("task", env.Task.Short).
		Int("packages", len(packages)).
		Msgf("wired %d documents", len(changed))
	return nil
}
