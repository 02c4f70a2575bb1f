package steps

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rotisserie/eris"
)

var esTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ios":     api.EngineIOS,
	"node":    api.EngineNode,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

var browserPattern = regexp.MustCompile(`^([a-z]+)\s*([0-9][0-9.]*)$`)

func parseTarget(value string) (api.Target, error) {
	target, ok := esTargets[strings.ToLower(value)]
	if !ok {
		return api.DefaultTarget, eris.Errorf("unsupported script target %s", value)
	}
	return target, nil
}

// parseEngines converts browser targets such as "chrome58" or "safari 11" to esbuild engines
func parseEngines(browsers []string) ([]api.Engine, error) {
	result := make([]api.Engine, 0, len(browsers))
	for _, browser := range browsers {
		browser = strings.ToLower(strings.TrimSpace(browser))
		if browser == "" {
			continue
		}

		match := browserPattern.FindStringSubmatch(browser)
		if match == nil {
			return nil, eris.Errorf("invalid browser target %q", browser)
		}

		name, ok := engineNames[match[1]]
		if !ok {
			return nil, eris.Errorf("unsupported browser %q", match[1])
		}

		result = append(result, api.Engine{Name: name, Version: match[2]})
	}
	return result, nil
}

func transformErrors(file string, messages []api.Message) error {
	if len(messages) == 0 {
		return nil
	}

	lines := make([]string, len(messages))
	for idx, msg := range messages {
		if msg.Location != nil {
			lines[idx] = fmt.Sprintf("%s:%d:%d: %s", file, msg.Location.Line, msg.Location.Column, msg.Text)
		} else {
			lines[idx] = file + ": " + msg.Text
		}
	}
	return eris.New(strings.Join(lines, "\n"))
}

type minified struct {
	Code []byte
	Map  []byte
}

// minifyAsset minifies a concatenated style sheet or script and produces an external source map
func minifyAsset(name, kind, code string, engines []api.Engine) (minified, error) {
	loader := api.LoaderJS
	if kind == "css" {
		loader = api.LoaderCSS
	}

	result := api.Transform(code, api.TransformOptions{
		Loader:            loader,
		Sourcefile:        name,
		Sourcemap:         api.SourceMapExternal,
		Engines:           engines,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		LegalComments:     api.LegalCommentsNone,
	})
	if err := transformErrors(name, result.Errors); err != nil {
		return minified{}, err
	}

	return minified{Code: result.Code, Map: result.Map}, nil
}

func sourceMapComment(kind, mapName string) string {
	if kind == "css" {
		return "/*# sourceMappingURL=" + mapName + " */\n"
	}
	return "//# sourceMappingURL=" + mapName + "\n"
}
