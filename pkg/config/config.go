package config

import (
	"path/filepath"
	"strings"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/poma-prs/poma-static-project/pkg/relpath"
)

// FileName is the name of the project config file searched in the project root
const FileName = "poma.toml"

// Config describes all configuration options
type Config struct {
	Src  string `toml:"src" default:"src" usage:"Project source directory"`
	Dist string `toml:"dist" default:"dist" usage:"Output directory for the finished build"`
	Tmp  string `toml:"tmp" default:".tmp" usage:"Temp directory (inside src) for compiled styles and scripts"`

	Folder struct {
		Fonts    string `toml:"fonts" default:"fonts"`
		Icons    string `toml:"icons" default:"icons"`
		Images   string `toml:"images" default:"images"`
		Pictures string `toml:"pictures" default:"pictures"`
		Vendors  string `toml:"vendors" default:"bower_components" usage:"Vendor package directory (inside src)"`
		Styles   string `toml:"styles" default:"css" usage:"Dist folder for built style sheets"`
		Scripts  string `toml:"scripts" default:"scripts" usage:"Dist folder for built scripts"`
	} `toml:"folder"`

	CopyFiles []string `toml:"copy_files" usage:"Files (relative to src) copied verbatim into dist"`
	Browsers  []string `toml:"browsers" default:"chrome58,firefox57,safari11,edge16" usage:"Browser targets for CSS prefixing and JS syntax lowering"`
	Rev       bool     `toml:"rev" default:"false" usage:"Append a content hash to built asset names"`
	AbsPaths  bool     `toml:"abs_paths" default:"false" usage:"Rewrite dist references as absolute paths"`
	Compress  bool     `toml:"compress" default:"false" usage:"Write brotli compressed copies next to text assets"`

	Inject struct {
		Targets []string `toml:"targets" default:"index.html" usage:"HTML documents (relative to src) receiving injected references"`
		Depth   string   `toml:"depth" default:"single" usage:"Parent escapes for nested documents (single or exact)"`
	} `toml:"inject"`

	Sass struct {
		Entry   string `toml:"entry" default:"style.scss"`
		Command string `toml:"command" default:"sass" usage:"Sass compiler executable"`
		Style   string `toml:"style" default:"compressed"`
	} `toml:"sass"`

	Bundle struct {
		Name   string `toml:"name" default:"bundle.js"`
		Target string `toml:"target" default:"es2015" usage:"JavaScript language target for the bundle"`
	} `toml:"bundle"`

	Images struct {
		JPEGQuality int `toml:"jpeg_quality" default:"0" usage:"Re-encode JPEGs at this quality (1-100); 0 copies them unchanged"`
	} `toml:"images"`

	Serve struct {
		Address    string `toml:"address" default:"127.0.0.1:3000" usage:"Address for the development server"`
		Index      string `toml:"index" default:"index.html"`
		StartPath  string `toml:"start_path" default:"/"`
		LiveReload bool   `toml:"live_reload" default:"true"`
	} `toml:"serve"`

	Log struct {
		Level string `toml:"level" default:"info"`
		JSON  bool   `toml:"json" default:"false" usage:"Output JSON lines instead of pretty console messages"`
	} `toml:"log"`

	State  string `toml:"state" default:".poma/state.db" usage:"Build state database"`
	Script string `toml:"script" default:"tasks.star" usage:"Task script; the built-in pipeline is used if it doesn't exist"`
	Jobs   int    `toml:"jobs" default:"4" usage:"Maximum number of tasks running at the same time"`
	Root   string `toml:"root" usage:"Project root used to resolve relative paths (defaults to the directory of poma.toml)"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object.
// Values are read from poma.toml in projectRoot and POMA_* environment variables.
func Loader(projectRoot string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POMA",
		SkipFlags: true,
		Files:     []string{filepath.Join(projectRoot, FileName)},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Default returns a config populated with the default values for projectRoot
func Default(projectRoot string) *Config {
	cfg := Config{}
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFiles: true,
		SkipEnv:   true,
		SkipFlags: true,
	})
	if err := loader.Load(); err != nil {
		panic("invalid config defaults: " + err.Error())
	}

	cfg.Root = projectRoot
	return &cfg
}

// Load reads and validates the configuration for the given project
func Load(projectRoot string) (*Config, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve project root")
	}

	cfg, loader := Loader(projectRoot)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrapf(err, "failed to load %s", FileName)
	}

	if cfg.Root == "" {
		cfg.Root = projectRoot
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	if _, ok := logLevels[strings.ToLower(cfg.Log.Level)]; !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if _, err := relpath.ParseDepth(cfg.Inject.Depth); err != nil {
		return eris.Wrap(err, "Invalid value for inject.depth")
	}

	for field, value := range map[string]string{"src": cfg.Src, "dist": cfg.Dist, "tmp": cfg.Tmp} {
		if strings.TrimSpace(value) == "" {
			return eris.Errorf(`Invalid value for %s: must not be empty`, field)
		}
	}

	if filepath.IsAbs(cfg.Tmp) || strings.HasPrefix(filepath.Clean(cfg.Tmp), "..") {
		return eris.Errorf(`Invalid value for tmp: %s must be a directory inside src`, cfg.Tmp)
	}

	if filepath.Clean(cfg.Src) == filepath.Clean(cfg.Dist) {
		return eris.Errorf(`Invalid value for dist: must differ from src (%s)`, cfg.Src)
	}

	if cfg.Jobs < 1 {
		return eris.Errorf(`Invalid value for jobs: %d`, cfg.Jobs)
	}

	if cfg.Images.JPEGQuality < 0 || cfg.Images.JPEGQuality > 100 {
		return eris.Errorf(`Invalid value for images.jpeg_quality: %d (must be 0 or between 1 and 100)`, cfg.Images.JPEGQuality)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[strings.ToLower(cfg.Log.Level)]
}

func (cfg *Config) abs(parts ...string) string {
	path := filepath.Join(parts...)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.Root, path)
}

// SrcPath returns the absolute path of the source directory joined with parts
func (cfg *Config) SrcPath(parts ...string) string {
	return cfg.abs(append([]string{cfg.Src}, parts...)...)
}

// DistPath returns the absolute path of the dist directory joined with parts
func (cfg *Config) DistPath(parts ...string) string {
	return cfg.abs(append([]string{cfg.Dist}, parts...)...)
}

// TmpPath returns the absolute path of the temp directory (inside src) joined with parts
func (cfg *Config) TmpPath(parts ...string) string {
	return cfg.SrcPath(append([]string{cfg.Tmp}, parts...)...)
}

// StatePath returns the absolute path of the build state database
func (cfg *Config) StatePath() string {
	return cfg.abs(cfg.State)
}

// ScriptPath returns the absolute path of the task script
func (cfg *Config) ScriptPath() string {
	return cfg.abs(cfg.Script)
}

// Relativizer returns the path relativizer for references injected into source documents
func (cfg *Config) Relativizer() relpath.Relativizer {
	depth, _ := relpath.ParseDepth(cfg.Inject.Depth)
	return relpath.Relativizer{
		SourceRoot: cfg.SrcPath() + string(filepath.Separator),
		TempDir:    cfg.Tmp,
		Depth:      depth,
	}
}

// ImageFolders returns the configured image folders in processing order
func (cfg *Config) ImageFolders() []string {
	result := make([]string, 0, 3)
	for _, folder := range []string{cfg.Folder.Icons, cfg.Folder.Images, cfg.Folder.Pictures} {
		if folder != "" {
			result = append(result, folder)
		}
	}
	return result
}
