// Package config loads the polyql TOML configuration.
//
// The file is decoded with BurntSushi/toml and unified with an embedded
// CUE schema that supplies defaults and rejects unknown keys, bad enum
// values and out-of-range numbers. Durations accept the composite forms
// str2duration understands ("1m30s", "2d"); sizes accept "512KiB" or
// "1MB".
package config

import (
	_ "embed"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"github.com/alecthomas/units"
	"github.com/pkg/errors"
	"github.com/xhit/go-str2duration/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/roach88/polyql/internal/queryir"
)

//go:embed schema.cue
var schemaSource string

// Config is the resolved configuration.
type Config struct {
	Server    Server
	Log       Log
	Translate Translate
	Detector  Detector
	History   History
}

// Server configures the HTTP API.
type Server struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxQuerySize bounds request bodies and query parameters, in bytes.
	MaxQuerySize int64
}

// Log configures logging.
type Log struct {
	Level  string
	Format string
}

// Translate configures translation defaults.
type Translate struct {
	// DefaultTarget is used when a request names no target. Empty means
	// the target is required.
	DefaultTarget queryir.Dialect
	// CacheSize is the number of translated outputs the server keeps.
	// Zero disables the cache.
	CacheSize int
}

// Detector configures dialect detection.
type Detector struct {
	RulesFile string
}

// History configures the translation history store. An empty path
// disables it.
type History struct {
	Path string
}

// file mirrors the schema; CUE decodes into it through the json tags.
type file struct {
	Server struct {
		Listen       string `json:"listen"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		MaxQuerySize string `json:"max_query_size"`
	} `json:"server"`
	Log struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
	Translate struct {
		DefaultTarget string `json:"default_target"`
		CacheSize     int    `json:"cache_size"`
	} `json:"translate"`
	Detector struct {
		RulesFile string `json:"rules_file"`
	} `json:"detector"`
	History struct {
		Path string `json:"path"`
	} `json:"history"`
}

// Default returns the configuration an empty file produces.
func Default() Config {
	c, err := Parse(nil)
	if err != nil {
		panic(errors.Wrap(err, "embedded config schema"))
	}
	return c
}

// Load reads the file at path. An empty path gives Default. Relative
// rules_file and history paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	c, err := Parse(content)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	dir := filepath.Dir(path)
	c.Detector.RulesFile = resolve(dir, c.Detector.RulesFile)
	c.History.Path = resolve(dir, c.History.Path)
	return c, nil
}

func resolve(dir, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// Parse decodes TOML content, applies the schema and resolves durations,
// sizes and dialect names.
func Parse(content []byte) (Config, error) {
	dec := unicode.BOMOverride(transform.Nop)
	content, _, err := transform.Bytes(dec, content)
	if err != nil {
		return Config{}, errors.Wrap(err, "decode config text")
	}
	raw := map[string]any{}
	if _, err := toml.Decode(string(content), &raw); err != nil {
		return Config{}, errors.Wrap(err, "parse toml")
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, errors.Wrap(err, "compile config schema")
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	var f file
	if err := v.Decode(&f); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	return f.resolve()
}

func (f file) resolve() (Config, error) {
	c := Config{
		Log:      Log{Level: f.Log.Level, Format: f.Log.Format},
		Detector: Detector{RulesFile: f.Detector.RulesFile},
		History:  History{Path: f.History.Path},
	}

	var err error
	c.Server.Listen = f.Server.Listen
	if c.Server.ReadTimeout, err = duration("server.read_timeout", f.Server.ReadTimeout); err != nil {
		return Config{}, err
	}
	if c.Server.WriteTimeout, err = duration("server.write_timeout", f.Server.WriteTimeout); err != nil {
		return Config{}, err
	}
	size, err := units.ParseStrictBytes(f.Server.MaxQuerySize)
	if err != nil {
		return Config{}, errors.Wrapf(err, "server.max_query_size %q", f.Server.MaxQuerySize)
	}
	if size <= 0 {
		return Config{}, errors.Errorf("server.max_query_size must be positive, got %q", f.Server.MaxQuerySize)
	}
	c.Server.MaxQuerySize = size

	if f.Translate.DefaultTarget != "" {
		d, err := queryir.ParseDialect(f.Translate.DefaultTarget)
		if err != nil {
			return Config{}, errors.Wrap(err, "translate.default_target")
		}
		c.Translate.DefaultTarget = d
	}
	c.Translate.CacheSize = f.Translate.CacheSize
	return c, nil
}

func duration(key, s string) (time.Duration, error) {
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "%s %q", key, s)
	}
	if d < 0 {
		return 0, errors.Errorf("%s must not be negative, got %q", key, s)
	}
	return d, nil
}
